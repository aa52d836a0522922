package calendar

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memTxKey struct{}

// MemoryStore is an in-memory Store. It backs tests and the server when no
// database is configured. Writers inside InTx are serialized store-wide.
type MemoryStore struct {
	txMu sync.Mutex

	mu           sync.RWMutex
	doctors      map[string]Doctor
	shifts       map[shiftKey]WorkShift
	exceptions   map[exceptionKey]ShiftException
	appointments map[string]*Appointment
	bookedSlots  map[bookingKey]string // (doctor, date, start) -> appointment ID
	seq          int64
	now          func() time.Time
}

type shiftKey struct {
	doctorID string
	weekday  int
	kind     string
}

type exceptionKey struct {
	doctorID   string
	date       string
	start, end int32
}

type bookingKey struct {
	doctorID string
	date     string
	start    int32
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		doctors:      make(map[string]Doctor),
		shifts:       make(map[shiftKey]WorkShift),
		exceptions:   make(map[exceptionKey]ShiftException),
		appointments: make(map[string]*Appointment),
		bookedSlots:  make(map[bookingKey]string),
		now:          time.Now,
	}
}

// -- Doctors --

func (m *MemoryStore) ListDoctors(_ context.Context) ([]Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Doctor, 0, len(m.doctors))
	for _, d := range m.doctors {
		out = append(out, d)
	}
	SortDoctors(out)
	return out, nil
}

func (m *MemoryStore) GetDoctor(_ context.Context, id string) (*Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (m *MemoryStore) UpsertDoctor(_ context.Context, d Doctor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doctors[d.ID] = d
	return nil
}

// -- Shifts and exceptions --

func (m *MemoryStore) ShiftsForDay(_ context.Context, doctorID string, weekday int) ([]WorkShift, error) {
	return m.filterShifts(func(s WorkShift) bool {
		return s.DoctorID == doctorID && s.Weekday == weekday
	}), nil
}

func (m *MemoryStore) ShiftsByWeekday(_ context.Context, weekday int) ([]WorkShift, error) {
	return m.filterShifts(func(s WorkShift) bool { return s.Weekday == weekday }), nil
}

func (m *MemoryStore) ShiftsByKind(_ context.Context, kind string) ([]WorkShift, error) {
	return m.filterShifts(func(s WorkShift) bool { return s.Kind == kind }), nil
}

func (m *MemoryStore) ShiftKinds(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var kinds []string
	for _, s := range m.shifts {
		if !seen[s.Kind] {
			seen[s.Kind] = true
			kinds = append(kinds, s.Kind)
		}
	}
	sort.Strings(kinds)
	return kinds, nil
}

func (m *MemoryStore) filterShifts(keep func(WorkShift) bool) []WorkShift {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []WorkShift
	for _, s := range m.shifts {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DoctorID != out[j].DoctorID {
			return LessDoctorID(out[i].DoctorID, out[j].DoctorID)
		}
		if out[i].Weekday != out[j].Weekday {
			return out[i].Weekday < out[j].Weekday
		}
		return out[i].Start < out[j].Start
	})
	return out
}

func (m *MemoryStore) UpsertShift(_ context.Context, s WorkShift) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shifts[shiftKey{s.DoctorID, s.Weekday, s.Kind}] = s
	return nil
}

func (m *MemoryStore) ExceptionsForDay(_ context.Context, doctorID string, date Date) ([]ShiftException, error) {
	return m.filterExceptions(func(e ShiftException) bool {
		return e.DoctorID == doctorID && e.Date.Equal(date)
	}), nil
}

func (m *MemoryStore) ExceptionsOnDate(_ context.Context, date Date) ([]ShiftException, error) {
	return m.filterExceptions(func(e ShiftException) bool { return e.Date.Equal(date) }), nil
}

func (m *MemoryStore) filterExceptions(keep func(ShiftException) bool) []ShiftException {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ShiftException
	for _, e := range m.exceptions {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DoctorID != out[j].DoctorID {
			return LessDoctorID(out[i].DoctorID, out[j].DoctorID)
		}
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].End < out[j].End
	})
	return out
}

func (m *MemoryStore) UpsertException(_ context.Context, e ShiftException) error {
	if err := e.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exceptions[exceptionKey{e.DoctorID, e.Date.String(), int32(e.Start), int32(e.End)}] = e
	return nil
}

// -- Appointments --

func (m *MemoryStore) AppointmentsForDay(_ context.Context, doctorID string, date Date, status AppointmentStatus) ([]Appointment, error) {
	return m.filterAppointments(func(a *Appointment) bool {
		return a.DoctorID == doctorID && a.Date.Equal(date) && (status == "" || a.Status == status)
	}), nil
}

func (m *MemoryStore) AppointmentsOnDate(_ context.Context, date Date, status AppointmentStatus) ([]Appointment, error) {
	return m.filterAppointments(func(a *Appointment) bool {
		return a.Date.Equal(date) && (status == "" || a.Status == status)
	}), nil
}

func (m *MemoryStore) filterAppointments(keep func(*Appointment) bool) []Appointment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Appointment
	for _, a := range m.appointments {
		if keep(a) {
			out = append(out, *a)
		}
	}
	sortAppointments(out)
	return out
}

func (m *MemoryStore) ListAppointments(_ context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	matched := m.filterAppointments(func(a *Appointment) bool {
		if f.DoctorID != "" && a.DoctorID != f.DoctorID {
			return false
		}
		if !f.From.IsZero() && a.Date.Before(f.From) {
			return false
		}
		if !f.To.IsZero() && a.Date.After(f.To) {
			return false
		}
		return f.Status == "" || a.Status == f.Status
	})

	total := len(matched)
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	items := make([]*Appointment, 0, end-offset)
	for i := offset; i < end; i++ {
		a := matched[i]
		items = append(items, &a)
	}
	return items, total, nil
}

func (m *MemoryStore) GetAppointment(_ context.Context, id string) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) InsertAppointment(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.Status == "" {
		a.Status = StatusBooked
	}
	key := bookingKey{a.DoctorID, a.Date.String(), int32(a.Start)}
	if a.Status == StatusBooked {
		if _, taken := m.bookedSlots[key]; taken {
			return ErrDuplicateBooking
		}
	}

	m.seq++
	a.ID = FormatAppointmentID(m.seq)
	a.CreatedAt = m.now()
	cp := *a
	m.appointments[a.ID] = &cp
	if a.Status == StatusBooked {
		m.bookedSlots[key] = a.ID
	}
	return nil
}

func (m *MemoryStore) UpdateAppointmentStatus(_ context.Context, id string, from, to AppointmentStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok {
		return false, ErrAppointmentNotFound
	}
	if a.Status != from {
		return false, nil
	}

	key := bookingKey{a.DoctorID, a.Date.String(), int32(a.Start)}
	if to == StatusBooked {
		if _, taken := m.bookedSlots[key]; taken {
			return false, ErrDuplicateBooking
		}
		m.bookedSlots[key] = a.ID
	}
	if from == StatusBooked {
		delete(m.bookedSlots, key)
	}

	a.Status = to
	if to == StatusCanceled {
		at := m.now()
		a.CanceledAt = &at
	}
	return true, nil
}

// -- Transactions --

// InTx serializes fn against every other InTx caller. The memory store has
// no rollback; fn must not leave partial writes on error.
func (m *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(context.WithValue(ctx, memTxKey{}, true))
}

// LockDay is covered by the store-wide InTx lock.
func (m *MemoryStore) LockDay(ctx context.Context, _ string, _ Date) error {
	if ctx.Value(memTxKey{}) == nil {
		return ErrNoTransaction
	}
	return nil
}

func sortAppointments(as []Appointment) {
	sort.Slice(as, func(i, j int) bool {
		if !as[i].Date.Equal(as[j].Date) {
			return as[i].Date.Before(as[j].Date)
		}
		if as[i].Start != as[j].Start {
			return as[i].Start < as[j].Start
		}
		return as[i].ID < as[j].ID
	})
}
