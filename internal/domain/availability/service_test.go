package availability

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/medcal/calendar/internal/domain/calendar"
	"github.com/medcal/calendar/internal/platform/lock"
	"github.com/medcal/calendar/internal/platform/metrics"
	"github.com/medcal/calendar/pkg/interval"
)

func newTestService(t *testing.T, opts Options) (*Service, *calendar.MemoryStore) {
	t.Helper()
	store := calendar.NewMemoryStore()
	if _, err := calendar.Seed(context.Background(), store, calendar.DemoClinic()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return NewService(store, lock.NewLocalLocker(), metrics.New(), zerolog.Nop(), opts), store
}

func tod(s string) interval.TimeOfDay { return interval.MustParse(s) }

func iv(start, end string) interval.Interval {
	return interval.Interval{Start: tod(start), End: tod(end)}
}

// -- Resolver --

func TestResolve_ClosureThenExtraShift(t *testing.T) {
	shifts := []calendar.WorkShift{
		{DoctorID: "1", Kind: "morning", Start: tod("06:00"), End: tod("11:30")},
		{DoctorID: "1", Kind: "afternoon", Start: tod("13:00"), End: tod("18:00")},
	}
	closure := calendar.ShiftException{Start: tod("09:00"), End: tod("14:00")}
	extra := calendar.ShiftException{Start: tod("10:00"), End: tod("11:00"), IsAvailable: true}

	want := []interval.Interval{iv("06:00", "09:00"), iv("14:00", "18:00"), iv("10:00", "11:00")}
	for _, order := range [][]calendar.ShiftException{{closure, extra}, {extra, closure}} {
		got := resolve(shifts, order)
		if len(got) != len(want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("interval %d: expected %v, got %v", i, want[i], got[i])
			}
		}
	}
}

func TestResolve_ExtraShiftIdenticalToTemplate(t *testing.T) {
	shifts := []calendar.WorkShift{{Start: tod("06:00"), End: tod("11:30")}}
	extra := calendar.ShiftException{Start: tod("06:00"), End: tod("11:30"), IsAvailable: true}

	got := resolve(shifts, []calendar.ShiftException{extra})
	if len(got) != 1 {
		t.Fatalf("expected the identical interval once, got %v", got)
	}
}

func TestResolveDay_WholeDayClosure(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	for _, id := range []string{"10001", "10002", "10003", "10004"} {
		got, err := svc.ResolveDay(ctx, id, calendar.MustParseDate("2025-09-28"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("doctor %s: expected no working time on 2025-09-28, got %v", id, got)
		}
	}
}

func TestResolveDay_ExtraEveningShift(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	// 2025-09-27 is a Saturday: 10001 works mornings plus an 18:00-20:00 extra.
	got, err := svc.ResolveDay(context.Background(), "10001", calendar.MustParseDate("2025-09-27"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []interval.Interval{iv("06:00", "11:30"), iv("18:00", "20:00")}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestResolveDay_Validation(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	_, err := svc.ResolveDay(context.Background(), "", calendar.MustParseDate("2025-09-22"))
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	_, err = svc.ResolveDay(context.Background(), "10001", calendar.Date{})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

// -- Engine --

func TestFreeSlots_MondayFullDay(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	slots, err := svc.FreeSlots(context.Background(), "10001", calendar.MustParseDate("2025-09-22"), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 06:00-11:30 gives 11 slots, 13:00-18:00 gives 10.
	if len(slots) != 21 {
		t.Fatalf("expected 21 slots, got %d", len(slots))
	}
	if slots[0] != iv("06:00", "06:30") || slots[20] != iv("17:30", "18:00") {
		t.Errorf("unexpected bounds %v .. %v", slots[0], slots[20])
	}
	for i := 1; i < len(slots); i++ {
		if slots[i].Start < slots[i-1].Start {
			t.Fatalf("slots not sorted at %d", i)
		}
	}
}

func TestFreeSlots_ExcludesBookedAppointments(t *testing.T) {
	svc, store := newTestService(t, Options{})
	ctx := context.Background()
	date := calendar.MustParseDate("2025-09-25")

	slots, err := svc.FreeSlots(ctx, "10004", date, 15*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	booked, _ := store.AppointmentsForDay(ctx, "10004", date, calendar.StatusBooked)
	for _, s := range slots {
		for i := range booked {
			if s.Overlaps(booked[i].Interval()) {
				t.Errorf("slot %v overlaps booking %v", s, booked[i].Interval())
			}
		}
	}
	if len(slots) == 0 {
		t.Error("expected some free slots")
	}
}

func TestFreeSlots_UnknownDoctorIsEmpty(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	slots, err := svc.FreeSlots(context.Background(), "99999", calendar.MustParseDate("2025-09-22"), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slots == nil || len(slots) != 0 {
		t.Errorf("expected empty non-nil slots, got %v", slots)
	}
}

func TestFreeSlots_InvalidGranularity(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	_, err := svc.FreeSlots(context.Background(), "10001", calendar.MustParseDate("2025-09-22"), 90*time.Second)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "granularity" {
		t.Errorf("expected granularity validation error, got %v", err)
	}
}

func TestIsAvailable(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	monday := calendar.MustParseDate("2025-09-22")

	tests := []struct {
		name     string
		start    string
		duration time.Duration
		want     bool
	}{
		{"first slot", "06:00", 30 * time.Minute, true},
		{"two slots", "10:30", time.Hour, true},
		{"crosses lunch break", "11:00", time.Hour, false},
		{"unaligned start", "06:15", 30 * time.Minute, false},
		{"outside hours", "19:00", 30 * time.Minute, false},
		{"zero means one slot", "13:00", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.IsAvailable(ctx, "10001", monday, tod(tt.start), tt.duration)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestIsAvailable_RejectsOddDuration(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	_, err := svc.IsAvailable(context.Background(), "10001", calendar.MustParseDate("2025-09-22"), tod("06:00"), 45*time.Minute)
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestAvailableDoctors_AllBookedAtTen(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	got, err := svc.AvailableDoctors(context.Background(), calendar.MustParseDate("2025-09-25"), tod("10:00"), 30*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no doctors, got %v", got)
	}
}

func TestAvailableDoctors_SortedByID(t *testing.T) {
	svc, _ := newTestService(t, Options{Concurrency: 2})

	got, err := svc.AvailableDoctors(context.Background(), calendar.MustParseDate("2025-09-22"), tod("10:00"), 30*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"10001", "10003", "10004"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i].ID)
		}
	}
}

type failingStore struct {
	*calendar.MemoryStore
}

func (f failingStore) AppointmentsForDay(context.Context, string, calendar.Date, calendar.AppointmentStatus) ([]calendar.Appointment, error) {
	return nil, errors.New("connection reset")
}

func TestAvailableDoctors_StoreErrorPropagates(t *testing.T) {
	_, mem := newTestService(t, Options{})
	svc := NewService(failingStore{mem}, lock.NewLocalLocker(), nil, zerolog.Nop(), Options{})

	_, err := svc.AvailableDoctors(context.Background(), calendar.MustParseDate("2025-09-22"), tod("10:00"), 0)
	if err == nil {
		t.Fatal("expected store error")
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrConflict) {
		t.Errorf("store error misclassified: %v", err)
	}
}

// -- Earliest search --

func TestFindEarliest_LowestID(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	m, err := svc.FindEarliest(context.Background(), EarliestQuery{From: calendar.MustParseDate("2025-09-22")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m == nil {
		t.Fatal("expected a match")
	}
	if m.ShiftKind != "morning" || m.Doctor.ID != "10001" || m.Candidates != 3 {
		t.Errorf("unexpected match %+v", m)
	}
	if m.Start != tod("06:00") || m.End != tod("11:30") || m.Doctor.Room != "C101" {
		t.Errorf("unexpected window or doctor %+v", m)
	}
}

func TestFindEarliest_RandomTieBreak(t *testing.T) {
	svc, _ := newTestService(t, Options{TieBreak: TieBreakRandom})
	svc.pick = func(n int) int { return n - 1 }

	m, err := svc.FindEarliest(context.Background(), EarliestQuery{From: calendar.MustParseDate("2025-09-22")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m == nil || m.Doctor.ID != "10004" {
		t.Errorf("expected 10004 from the injected pick, got %+v", m)
	}
}

func TestFindEarliest_BookingsSkipOverlappingShift(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	// Thursday 2025-09-25: both morning doctors are booked at 10:00.
	m, err := svc.FindEarliest(context.Background(), EarliestQuery{From: calendar.MustParseDate("2025-09-25")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m == nil || m.ShiftKind != "afternoon" || m.Doctor.ID != "10002" {
		t.Errorf("expected afternoon with 10002, got %+v", m)
	}
}

func TestFindEarliest_PriorityOverride(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	m, err := svc.FindEarliest(context.Background(), EarliestQuery{
		From:          calendar.MustParseDate("2025-09-22"),
		ShiftPriority: []string{"afternoon", "morning"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m == nil || m.ShiftKind != "afternoon" {
		t.Errorf("expected afternoon first, got %+v", m)
	}
}

func TestFindEarliest_DoctorFilter(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	m, err := svc.FindEarliest(context.Background(), EarliestQuery{
		From:      calendar.MustParseDate("2025-09-23"),
		DoctorIDs: []string{"10004"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 10004 works Tuesday afternoons only.
	if m == nil || m.Doctor.ID != "10004" || m.ShiftKind != "afternoon" {
		t.Errorf("unexpected match %+v", m)
	}
}

func TestFindEarliest_NotFound(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	d := calendar.MustParseDate("2025-09-28")

	m, err := svc.FindEarliest(context.Background(), EarliestQuery{From: d, To: d})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != nil {
		t.Errorf("expected no match on a closed day, got %+v", m)
	}
	if got := testutil.ToFloat64(svc.metrics.EarliestSearch.WithLabelValues(metrics.OutcomeNoMatch)); got != 1 {
		t.Errorf("expected one no_match search, got %v", got)
	}
}

func TestFindEarliest_SkipsClosedDay(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	m, err := svc.FindEarliest(context.Background(), EarliestQuery{
		From: calendar.MustParseDate("2025-09-28"),
		To:   calendar.MustParseDate("2025-10-05"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m == nil || m.Date.String() != "2025-09-29" {
		t.Errorf("expected a match on 2025-09-29, got %+v", m)
	}
}

func TestFindEarliest_Validation(t *testing.T) {
	svc, _ := newTestService(t, Options{MaxSearchDays: 7})

	tests := []struct {
		name string
		q    EarliestQuery
	}{
		{"missing from", EarliestQuery{}},
		{"to before from", EarliestQuery{From: calendar.MustParseDate("2025-09-22"), To: calendar.MustParseDate("2025-09-21")}},
		{"range too long", EarliestQuery{From: calendar.MustParseDate("2025-09-01"), To: calendar.MustParseDate("2025-09-30")}},
		{"bad tie break", EarliestQuery{From: calendar.MustParseDate("2025-09-22"), TieBreak: "coin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.FindEarliest(context.Background(), tt.q)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestFindEarliest_ContextCanceled(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m, err := svc.FindEarliest(ctx, EarliestQuery{From: calendar.MustParseDate("2025-09-22")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if m != nil {
		t.Errorf("expected no match, got %+v", m)
	}
}

func TestOrderShiftKinds_UnknownLastStable(t *testing.T) {
	got := orderShiftKinds([]string{"zeta", "afternoon", "alpha", "early"}, CanonicalShiftOrder())
	want := []string{"early", "afternoon", "zeta", "alpha"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestParseTieBreak(t *testing.T) {
	if tb, err := ParseTieBreak(" Random "); err != nil || tb != TieBreakRandom {
		t.Errorf("expected random, got %q, %v", tb, err)
	}
	if tb, err := ParseTieBreak(""); err != nil || tb != TieBreakLowestID {
		t.Errorf("expected lowest-id default, got %q, %v", tb, err)
	}
	if _, err := ParseTieBreak("first"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

// -- Booking --

func bookMonday(doctorID, start string) BookRequest {
	return BookRequest{
		DoctorID: doctorID,
		Date:     calendar.MustParseDate("2025-09-22"),
		Start:    tod(start),
		Duration: 30 * time.Minute,
		Patient:  PatientInfo{Name: "Trang", Email: "trang@example.com"},
	}
}

func TestBook_MondayTenOClock(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	monday := calendar.MustParseDate("2025-09-22")

	appt, err := svc.Book(ctx, bookMonday("10001", "10:00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if appt.ID != "00009" {
		t.Errorf("expected id 00009 after the eight seeded rows, got %s", appt.ID)
	}
	if appt.Status != calendar.StatusBooked || appt.End != tod("10:30") {
		t.Errorf("unexpected appointment %+v", appt)
	}
	if appt.PatientEmail == nil || *appt.PatientEmail != "trang@example.com" || appt.PatientPhone != nil {
		t.Errorf("unexpected patient contact %+v", appt)
	}

	ok, err := svc.IsAvailable(ctx, "10001", monday, tod("10:00"), 30*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected 10:00 to be taken")
	}

	slots, _ := svc.FreeSlots(ctx, "10001", monday, 0)
	if len(slots) != 20 {
		t.Errorf("expected 20 free slots after booking, got %d", len(slots))
	}

	doctors, _ := svc.AvailableDoctors(ctx, monday, tod("10:00"), 30*time.Minute)
	for _, d := range doctors {
		if d.ID == "10001" {
			t.Error("10001 should no longer be available at 10:00")
		}
	}
	if got := testutil.ToFloat64(svc.metrics.Bookings.WithLabelValues(metrics.OutcomeBooked)); got != 1 {
		t.Errorf("expected one booked outcome, got %v", got)
	}
}

func TestBook_SecondAttemptConflicts(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	if _, err := svc.Book(ctx, bookMonday("10001", "10:00")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := svc.Book(ctx, bookMonday("10001", "10:00"))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// A longer request overlapping the booked slot also conflicts.
	req := bookMonday("10001", "09:30")
	req.Duration = time.Hour
	if _, err := svc.Book(ctx, req); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for overlapping request, got %v", err)
	}
}

func TestBook_Concurrent(t *testing.T) {
	svc, store := newTestService(t, Options{})
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Book(ctx, bookMonday("10003", "14:00"))
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != n-1 {
		t.Errorf("expected 1 booking and %d conflicts, got %d and %d", n-1, ok, conflicts)
	}

	booked, _ := store.AppointmentsForDay(ctx, "10003", calendar.MustParseDate("2025-09-22"), calendar.StatusBooked)
	if len(booked) != 1 {
		t.Errorf("expected exactly one stored appointment, got %d", len(booked))
	}
}

func TestBook_Validation(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	tests := []struct {
		name  string
		field string
		edit  func(r *BookRequest)
	}{
		{"missing doctor", "doctor_id", func(r *BookRequest) { r.DoctorID = "" }},
		{"missing date", "date", func(r *BookRequest) { r.Date = calendar.Date{} }},
		{"missing patient", "patient_name", func(r *BookRequest) { r.Patient.Name = "  " }},
		{"bad email", "patient_email", func(r *BookRequest) { r.Patient.Email = "not-an-email" }},
		{"odd duration", "duration", func(r *BookRequest) { r.Duration = 20 * time.Minute }},
		{"past midnight", "duration", func(r *BookRequest) { r.Start = tod("23:30"); r.Duration = time.Hour }},
		{"longer than a day", "duration", func(r *BookRequest) { r.Duration = 71582790 * time.Minute }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := bookMonday("10001", "10:00")
			tt.edit(&req)
			_, err := svc.Book(context.Background(), req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, verr.Field)
			}
		})
	}
}

func TestBook_UnknownDoctor(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	_, err := svc.Book(context.Background(), bookMonday("99999", "10:00"))
	if !errors.Is(err, calendar.ErrDoctorNotFound) {
		t.Errorf("expected ErrDoctorNotFound, got %v", err)
	}
}

func TestBook_OutsideWorkingHours(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	_, err := svc.Book(context.Background(), bookMonday("10004", "14:00"))
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for a time the doctor does not work, got %v", err)
	}
}

func TestBook_BookingWindow(t *testing.T) {
	svc, _ := newTestService(t, Options{BookingWindowDays: 7})
	svc.now = func() time.Time { return time.Date(2025, 9, 20, 9, 0, 0, 0, time.UTC) }

	if _, err := svc.Book(context.Background(), bookMonday("10001", "10:00")); err != nil {
		t.Fatalf("expected 2025-09-22 inside the window, got %v", err)
	}

	req := bookMonday("10001", "10:00")
	req.Date = calendar.MustParseDate("2025-09-29")
	if _, err := svc.Book(context.Background(), req); !errors.Is(err, ErrValidation) {
		t.Errorf("expected 2025-09-29 outside the window, got %v", err)
	}
	req.Date = calendar.MustParseDate("2025-09-20")
	if _, err := svc.Book(context.Background(), req); !errors.Is(err, ErrValidation) {
		t.Errorf("expected today to be rejected, got %v", err)
	}
}

type busyLocker struct{}

func (busyLocker) Lock(context.Context, string) (lock.Unlock, error) {
	return nil, lock.ErrNotAcquired
}

func TestBook_LockUnavailable(t *testing.T) {
	_, mem := newTestService(t, Options{})
	svc := NewService(mem, busyLocker{}, nil, zerolog.Nop(), Options{})

	_, err := svc.Book(context.Background(), bookMonday("10001", "10:00"))
	if !errors.Is(err, lock.ErrNotAcquired) {
		t.Errorf("expected ErrNotAcquired, got %v", err)
	}
}

// -- Cancel --

func TestCancel_Outcomes(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	appt, err := svc.Book(ctx, bookMonday("10001", "10:00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := svc.Cancel(ctx, appt.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != CancelApplied || res.Appointment.Status != calendar.StatusCanceled || res.Appointment.CanceledAt == nil {
		t.Errorf("unexpected result %+v", res)
	}

	res, err = svc.Cancel(ctx, appt.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != CancelNoop {
		t.Errorf("expected no-op on second cancel, got %s", res.Outcome)
	}

	res, err = svc.Cancel(ctx, "77777")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != CancelNotFound || res.Appointment != nil {
		t.Errorf("expected not_found, got %+v", res)
	}
}

func TestCancel_LogsToRequestLogger(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	appt, err := svc.Book(context.Background(), bookMonday("10001", "10:00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var buf bytes.Buffer
	reqLogger := zerolog.New(&buf)
	ctx := reqLogger.WithContext(context.Background())

	if _, err := svc.Cancel(ctx, appt.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Cancel(ctx, appt.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	for _, msg := range []string{"appointment canceled", "appointment already canceled", `"appointment_id":"` + appt.ID + `"`} {
		if !strings.Contains(out, msg) {
			t.Errorf("expected log output to contain %s, got %s", msg, out)
		}
	}
}

func TestCancel_WaitsForDayLock(t *testing.T) {
	_, mem := newTestService(t, Options{})
	locker := lock.NewLocalLocker()
	svc := NewService(mem, locker, nil, zerolog.Nop(), Options{LockWait: 50 * time.Millisecond})
	ctx := context.Background()

	appt, err := svc.Book(ctx, bookMonday("10001", "10:00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	unlock, err := locker.Lock(ctx, calendar.DayLockKey("10001", calendar.MustParseDate("2025-09-22")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = svc.Cancel(ctx, appt.ID)
	if !errors.Is(err, lock.ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired while the day is locked, got %v", err)
	}
	got, err := mem.GetAppointment(ctx, appt.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != calendar.StatusBooked {
		t.Errorf("expected appointment to stay booked, got %s", got.Status)
	}

	if err := unlock(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := svc.Cancel(ctx, appt.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != CancelApplied {
		t.Errorf("expected canceled after release, got %s", res.Outcome)
	}
}

func TestCancel_LockUnavailable(t *testing.T) {
	svc, mem := newTestService(t, Options{})
	appt, err := svc.Book(context.Background(), bookMonday("10001", "10:00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	busy := NewService(mem, busyLocker{}, nil, zerolog.Nop(), Options{})
	if _, err := busy.Cancel(context.Background(), appt.ID); !errors.Is(err, lock.ErrNotAcquired) {
		t.Errorf("expected ErrNotAcquired, got %v", err)
	}
}

func TestCancel_FreesSlotForRebooking(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	first, err := svc.Book(ctx, bookMonday("10001", "10:00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Cancel(ctx, first.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.Book(ctx, bookMonday("10001", "10:00"))
	if err != nil {
		t.Fatalf("expected rebooking to succeed, got %v", err)
	}
	if second.ID == first.ID {
		t.Error("expected a new appointment id")
	}
}

func TestWorkingDay_Merged(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	// 10003 has an extra 06:00-09:00 on Thursday 2025-10-02 but no morning shift.
	got, err := svc.WorkingDay(context.Background(), "10003", calendar.MustParseDate("2025-10-02"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []interval.Interval{iv("06:00", "09:00"), iv("13:00", "18:00")}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected %v, got %v", want, got)
	}
}
