package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/medcal/calendar/pkg/interval"
)

// Dataset is reference data loaded by the seed command.
type Dataset struct {
	Doctors      []Doctor
	Shifts       []WorkShift
	Exceptions   []ShiftException
	Appointments []Appointment
}

// SeedReport counts what Seed wrote.
type SeedReport struct {
	Doctors      int
	Shifts       int
	Exceptions   int
	Appointments int
}

// Seed upserts doctors, shifts and exceptions. Appointments are only loaded
// into an empty appointments table so reseeding never duplicates bookings.
func Seed(ctx context.Context, store Store, ds Dataset) (SeedReport, error) {
	var rep SeedReport
	err := store.InTx(ctx, func(ctx context.Context) error {
		for _, d := range ds.Doctors {
			if err := store.UpsertDoctor(ctx, d); err != nil {
				return fmt.Errorf("seed doctor %s: %w", d.ID, err)
			}
			rep.Doctors++
		}
		for _, s := range ds.Shifts {
			if err := store.UpsertShift(ctx, s); err != nil {
				return fmt.Errorf("seed shift %s/%d/%s: %w", s.DoctorID, s.Weekday, s.Kind, err)
			}
			rep.Shifts++
		}
		for _, e := range ds.Exceptions {
			if err := store.UpsertException(ctx, e); err != nil {
				return fmt.Errorf("seed exception %s/%s: %w", e.DoctorID, e.Date, err)
			}
			rep.Exceptions++
		}

		_, total, err := store.ListAppointments(ctx, AppointmentFilter{}, 1, 0)
		if err != nil {
			return fmt.Errorf("count appointments: %w", err)
		}
		if total > 0 {
			return nil
		}
		for i := range ds.Appointments {
			a := ds.Appointments[i]
			if err := store.InsertAppointment(ctx, &a); err != nil {
				return fmt.Errorf("seed appointment for %s on %s: %w", a.DoctorID, a.Date, err)
			}
			rep.Appointments++
		}
		return nil
	})
	return rep, err
}

const (
	morning   = "morning"
	afternoon = "afternoon"
)

// DemoClinic is the four-doctor clinic the booking agents were built against.
// Each doctor has one day off a week.
func DemoClinic() Dataset {
	morningHours := interval.Interval{Start: interval.At(6, 0, 0), End: interval.At(11, 30, 0)}
	afternoonHours := interval.Interval{Start: interval.At(13, 0, 0), End: interval.At(18, 0, 0)}

	ds := Dataset{
		Doctors: []Doctor{
			{ID: "10001", Name: "Nguyễn Văn A", Room: "C101"},
			{ID: "10002", Name: "Nguyễn Văn B", Room: "C102"},
			{ID: "10003", Name: "Nguyễn Thanh C", Room: "C103"},
			{ID: "10004", Name: "Soobin Hoàng D", Room: "C104"},
		},
	}

	// weekday -> kinds worked, per doctor
	templates := map[string]map[int][]string{
		"10001": {0: {morning, afternoon}, 1: {morning}, 2: {morning, afternoon}, 3: {morning}, 4: {afternoon}, 5: {morning}},
		"10002": {1: {morning, afternoon}, 2: {morning}, 3: {afternoon}, 4: {morning}, 5: {afternoon}, 6: {morning}},
		"10003": {0: {morning, afternoon}, 1: {morning}, 3: {afternoon}, 4: {morning}, 5: {morning, afternoon}, 6: {morning}},
		"10004": {0: {morning}, 1: {afternoon}, 2: {morning}, 3: {morning, afternoon}, 5: {morning}, 6: {afternoon}},
	}
	for _, d := range ds.Doctors {
		for weekday := 0; weekday < 7; weekday++ {
			for _, kind := range templates[d.ID][weekday] {
				hours := morningHours
				if kind == afternoon {
					hours = afternoonHours
				}
				ds.Shifts = append(ds.Shifts, WorkShift{
					DoctorID: d.ID, Kind: kind, Weekday: weekday, Start: hours.Start, End: hours.End,
				})
			}
		}
	}

	closedAllDay := MustParseDate("2025-09-28")
	closedMorning := MustParseDate("2025-10-04")
	for _, d := range ds.Doctors {
		ds.Exceptions = append(ds.Exceptions,
			ShiftException{DoctorID: d.ID, Date: closedAllDay, Start: interval.Midnight, End: interval.At(23, 59, 59)},
			ShiftException{DoctorID: d.ID, Date: closedMorning, Start: morningHours.Start, End: morningHours.End},
		)
	}
	ds.Exceptions = append(ds.Exceptions,
		ShiftException{DoctorID: "10001", Date: MustParseDate("2025-09-27"), Start: interval.At(18, 0, 0), End: interval.At(20, 0, 0), IsAvailable: true},
		ShiftException{DoctorID: "10002", Date: MustParseDate("2025-09-30"), Start: interval.At(17, 0, 0), End: interval.At(19, 0, 0), IsAvailable: true},
		ShiftException{DoctorID: "10003", Date: MustParseDate("2025-10-02"), Start: interval.At(6, 0, 0), End: interval.At(9, 0, 0), IsAvailable: true},
		ShiftException{DoctorID: "10004", Date: MustParseDate("2025-10-01"), Start: interval.At(14, 0, 0), End: interval.At(15, 0, 0)},
	)

	appt := func(doctorID, patient, date string, hour, minute int, status AppointmentStatus) Appointment {
		start := interval.At(hour, minute, 0)
		return Appointment{
			DoctorID: doctorID, PatientName: patient, Date: MustParseDate(date),
			Start: start, End: start.Add(30 * time.Minute), Status: status,
		}
	}
	ds.Appointments = []Appointment{
		appt("10001", "Thịnh", "2025-09-25", 10, 0, StatusBooked),
		appt("10002", "Minh", "2025-09-25", 10, 0, StatusBooked),
		appt("10003", "An", "2025-09-25", 10, 0, StatusBooked),
		appt("10004", "Hòa", "2025-09-25", 10, 0, StatusBooked),
		appt("10001", "Hải", "2025-09-26", 15, 0, StatusBooked),
		appt("10002", "Lan", "2025-09-29", 9, 0, StatusCanceled),
		appt("10003", "Phúc", "2025-10-03", 16, 0, StatusBooked),
		appt("10004", "Quân", "2025-10-07", 8, 0, StatusCanceled),
	}
	return ds
}
