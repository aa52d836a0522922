package calendar

import (
	"errors"
	"fmt"
	"time"

	"github.com/medcal/calendar/pkg/interval"
)

var (
	ErrInvalidDate         = errors.New("invalid date")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrDuplicateBooking    = errors.New("slot already booked")
	ErrNoTransaction       = errors.New("operation requires a transaction")
)

const dateLayout = "2006-01-02"

// Date is a calendar day without time-of-day or zone, held as UTC midnight.
type Date struct {
	time.Time
}

// ParseDate accepts ISO YYYY-MM-DD only.
func ParseDate(s string) (Date, error) {
	if len(s) != len(dateLayout) {
		return Date{}, fmt.Errorf("%w: %q: expected YYYY-MM-DD", ErrInvalidDate, s)
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q: expected YYYY-MM-DD", ErrInvalidDate, s)
	}
	return Date{t}, nil
}

func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// Weekday numbers days Monday=0 through Sunday=6.
func (d Date) Weekday() int {
	return (int(d.Time.Weekday()) + 6) % 7
}

func (d Date) AddDays(n int) Date {
	return Date{d.Time.AddDate(0, 0, n)}
}

func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }
func (d Date) After(o Date) bool  { return d.Time.After(o.Time) }
func (d Date) Equal(o Date) bool  { return d.Time.Equal(o.Time) }

func (d Date) String() string { return d.Time.Format(dateLayout) }

func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Date) UnmarshalText(b []byte) error {
	v, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// MarshalJSON overrides the embedded time.Time encoding.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("%w: %s", ErrInvalidDate, string(b))
	}
	return d.UnmarshalText(b[1 : len(b)-1])
}

type Doctor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Room string `json:"room"`
}

// WorkShift is one entry of a doctor's recurring weekly template.
type WorkShift struct {
	DoctorID string             `json:"doctor_id"`
	Kind     string             `json:"shift_kind"`
	Weekday  int                `json:"weekday"`
	Start    interval.TimeOfDay `json:"start_time"`
	End      interval.TimeOfDay `json:"end_time"`
}

func (s WorkShift) Interval() interval.Interval {
	return interval.Interval{Start: s.Start, End: s.End}
}

func (s WorkShift) Validate() error {
	if s.DoctorID == "" {
		return fmt.Errorf("doctor_id is required")
	}
	if s.Kind == "" {
		return fmt.Errorf("shift_kind is required")
	}
	if s.Weekday < 0 || s.Weekday > 6 {
		return fmt.Errorf("weekday must be between 0 and 6, got %d", s.Weekday)
	}
	return s.Interval().Validate()
}

// ShiftException overrides the template on one date. IsAvailable=false removes
// the interval from the day, IsAvailable=true adds it.
type ShiftException struct {
	DoctorID    string             `json:"doctor_id"`
	Date        Date               `json:"date"`
	Start       interval.TimeOfDay `json:"start_time"`
	End         interval.TimeOfDay `json:"end_time"`
	IsAvailable bool               `json:"is_available"`
}

func (e ShiftException) Interval() interval.Interval {
	return interval.Interval{Start: e.Start, End: e.End}
}

func (e ShiftException) Validate() error {
	if e.DoctorID == "" {
		return fmt.Errorf("doctor_id is required")
	}
	if e.Date.IsZero() {
		return fmt.Errorf("date is required")
	}
	return e.Interval().Validate()
}

type AppointmentStatus string

const (
	StatusBooked   AppointmentStatus = "booked"
	StatusCanceled AppointmentStatus = "canceled"
)

type Appointment struct {
	ID           string             `json:"id"`
	DoctorID     string             `json:"doctor_id"`
	PatientName  string             `json:"patient_name"`
	PatientEmail *string            `json:"patient_email,omitempty"`
	PatientPhone *string            `json:"patient_phone,omitempty"`
	Date         Date               `json:"date"`
	Start        interval.TimeOfDay `json:"start_time"`
	End          interval.TimeOfDay `json:"end_time"`
	Status       AppointmentStatus  `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
	CanceledAt   *time.Time         `json:"canceled_at,omitempty"`
}

func (a *Appointment) Interval() interval.Interval {
	return interval.Interval{Start: a.Start, End: a.End}
}

// AppointmentFilter narrows ListAppointments. Zero fields do not filter.
type AppointmentFilter struct {
	DoctorID string
	From     Date
	To       Date
	Status   AppointmentStatus
}

// FormatAppointmentID renders the sequential booking code, e.g. 1 -> "00001".
func FormatAppointmentID(n int64) string {
	return fmt.Sprintf("%05d", n)
}
