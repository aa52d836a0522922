package calendar

import "context"

type DoctorRepository interface {
	ListDoctors(ctx context.Context) ([]Doctor, error)
	GetDoctor(ctx context.Context, id string) (*Doctor, error)
	UpsertDoctor(ctx context.Context, d Doctor) error
}

type ShiftRepository interface {
	// ShiftsForDay returns the template rows of one doctor on one weekday.
	ShiftsForDay(ctx context.Context, doctorID string, weekday int) ([]WorkShift, error)
	// ShiftsByWeekday returns every doctor's template rows on a weekday.
	ShiftsByWeekday(ctx context.Context, weekday int) ([]WorkShift, error)
	// ShiftsByKind returns template rows of a shift kind on any weekday.
	ShiftsByKind(ctx context.Context, kind string) ([]WorkShift, error)
	// ShiftKinds lists the distinct shift kinds in the template, sorted by name.
	ShiftKinds(ctx context.Context) ([]string, error)
	UpsertShift(ctx context.Context, s WorkShift) error

	ExceptionsForDay(ctx context.Context, doctorID string, date Date) ([]ShiftException, error)
	ExceptionsOnDate(ctx context.Context, date Date) ([]ShiftException, error)
	UpsertException(ctx context.Context, e ShiftException) error
}

type AppointmentRepository interface {
	AppointmentsForDay(ctx context.Context, doctorID string, date Date, status AppointmentStatus) ([]Appointment, error)
	AppointmentsOnDate(ctx context.Context, date Date, status AppointmentStatus) ([]Appointment, error)
	// ListAppointments returns one page and the total match count. limit <= 0
	// means no limit.
	ListAppointments(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error)
	GetAppointment(ctx context.Context, id string) (*Appointment, error)
	// InsertAppointment assigns ID and CreatedAt. A second booked appointment
	// with the same (doctor, date, start) fails with ErrDuplicateBooking.
	InsertAppointment(ctx context.Context, a *Appointment) error
	// UpdateAppointmentStatus moves id from one status to another and reports
	// whether the row was in the from status.
	UpdateAppointmentStatus(ctx context.Context, id string, from, to AppointmentStatus) (bool, error)
}

// Store is the calendar persistence boundary used by the availability engine.
type Store interface {
	DoctorRepository
	ShiftRepository
	AppointmentRepository

	// InTx runs fn in a single store transaction. Calls made with the context
	// passed to fn join it; nested InTx calls reuse the outer transaction.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	// LockDay serializes writers of one doctor's day until the surrounding
	// transaction ends.
	LockDay(ctx context.Context, doctorID string, date Date) error
}
