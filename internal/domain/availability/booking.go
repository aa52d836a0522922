package availability

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/medcal/calendar/internal/domain/calendar"
	"github.com/medcal/calendar/internal/platform/lock"
	"github.com/medcal/calendar/internal/platform/metrics"
	"github.com/medcal/calendar/pkg/interval"
)

type PatientInfo struct {
	Name  string
	Email string
	Phone string
}

type BookRequest struct {
	DoctorID string
	Date     calendar.Date
	Start    interval.TimeOfDay
	// Duration must be a positive multiple of the slot granularity. Zero
	// books a single slot.
	Duration time.Duration
	Patient  PatientInfo
}

// Book commits an appointment if the requested time is still free. Two
// callers racing for one slot get one appointment and one ErrConflict.
func (s *Service) Book(ctx context.Context, req BookRequest) (*calendar.Appointment, error) {
	want, err := s.validateBooking(req)
	if err != nil {
		s.metrics.Bookings.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return nil, err
	}

	doctor, err := s.store.GetDoctor(ctx, req.DoctorID)
	if errors.Is(err, calendar.ErrDoctorNotFound) {
		s.metrics.Bookings.WithLabelValues(metrics.OutcomeNotFound).Inc()
		return nil, fmt.Errorf("doctor %s: %w", req.DoctorID, err)
	}
	if err != nil {
		s.metrics.Bookings.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	unlock, err := s.acquire(ctx, calendar.DayLockKey(doctor.ID, req.Date))
	if err != nil {
		s.metrics.Bookings.WithLabelValues(metrics.OutcomeUnavailable).Inc()
		return nil, err
	}
	// The commit is not abandoned half way when the caller goes away.
	txCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := unlock(txCtx); err != nil {
			s.logger.Warn().Err(err).Str("doctor_id", doctor.ID).Msg("release booking lock")
		}
	}()

	appt := &calendar.Appointment{
		DoctorID:     doctor.ID,
		PatientName:  strings.TrimSpace(req.Patient.Name),
		PatientEmail: optional(req.Patient.Email),
		PatientPhone: optional(req.Patient.Phone),
		Date:         req.Date,
		Start:        want.Start,
		End:          want.End,
		Status:       calendar.StatusBooked,
	}
	err = s.store.InTx(txCtx, func(ctx context.Context) error {
		if err := s.store.LockDay(ctx, doctor.ID, req.Date); err != nil {
			return fmt.Errorf("lock day: %w", err)
		}
		ok, err := s.isAvailable(ctx, doctor.ID, req.Date, want)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}
		if err := s.store.InsertAppointment(ctx, appt); err != nil {
			if errors.Is(err, calendar.ErrDuplicateBooking) {
				return fmt.Errorf("%w: %w", ErrConflict, err)
			}
			return fmt.Errorf("insert appointment: %w", err)
		}
		return nil
	})

	log := s.loggerFrom(ctx).With().
		Str("doctor_id", doctor.ID).
		Str("date", req.Date.String()).
		Str("start", want.Start.String()).
		Str("end", want.End.String()).
		Logger()
	switch {
	case errors.Is(err, ErrConflict):
		s.metrics.Bookings.WithLabelValues(metrics.OutcomeConflict).Inc()
		log.Warn().Msg("booking conflict")
		return nil, err
	case err != nil:
		s.metrics.Bookings.WithLabelValues(metrics.OutcomeError).Inc()
		log.Error().Err(err).Msg("booking failed")
		return nil, err
	}
	s.metrics.Bookings.WithLabelValues(metrics.OutcomeBooked).Inc()
	log.Info().Str("appointment_id", appt.ID).Msg("appointment booked")
	return appt, nil
}

func (s *Service) validateBooking(req BookRequest) (interval.Interval, error) {
	if strings.TrimSpace(req.DoctorID) == "" {
		return interval.Interval{}, invalidf("doctor_id", "is required")
	}
	if req.Date.IsZero() {
		return interval.Interval{}, invalidf("date", "is required")
	}
	if strings.TrimSpace(req.Patient.Name) == "" {
		return interval.Interval{}, invalidf("patient_name", "is required")
	}
	if e := strings.TrimSpace(req.Patient.Email); e != "" {
		if _, err := mail.ParseAddress(e); err != nil {
			return interval.Interval{}, invalid("patient_email", err)
		}
	}
	if n := s.opts.BookingWindowDays; n > 0 {
		today := calendar.DateOf(s.now())
		if !req.Date.After(today) || req.Date.After(today.AddDays(n)) {
			return interval.Interval{}, invalidf("date", "must be between %s and %s", today.AddDays(1), today.AddDays(n))
		}
	}
	return s.requestedSlot(req.Start, req.Duration)
}

// acquire takes the booking lock for key, waiting at most LockWait.
func (s *Service) acquire(ctx context.Context, key string) (lock.Unlock, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.opts.LockWait)
	defer cancel()

	started := time.Now()
	unlock, err := s.locker.Lock(waitCtx, key)
	s.metrics.LockWait.Observe(time.Since(started).Seconds())
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("booking lock not acquired")
		return nil, err
	}
	return unlock, nil
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

type CancelOutcome string

const (
	CancelApplied  CancelOutcome = "canceled"
	CancelNoop     CancelOutcome = "already_canceled"
	CancelNotFound CancelOutcome = "not_found"
)

// CancelResult reports what Cancel did. Appointment is the row after the
// call and is nil for CancelNotFound.
type CancelResult struct {
	Outcome     CancelOutcome         `json:"result"`
	Appointment *calendar.Appointment `json:"appointment,omitempty"`
}

// Cancel moves a booked appointment to canceled. Canceling twice or
// canceling an unknown id is reported in the result, not as an error. It
// takes the same doctor-day lock as Book.
func (s *Service) Cancel(ctx context.Context, id string) (CancelResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		s.metrics.Cancellations.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return CancelResult{}, invalidf("id", "is required")
	}

	current, err := s.store.GetAppointment(ctx, id)
	if errors.Is(err, calendar.ErrAppointmentNotFound) {
		s.metrics.Cancellations.WithLabelValues(metrics.OutcomeNotFound).Inc()
		return CancelResult{Outcome: CancelNotFound}, nil
	}
	if err != nil {
		s.metrics.Cancellations.WithLabelValues(metrics.OutcomeError).Inc()
		return CancelResult{}, fmt.Errorf("load appointment %s: %w", id, err)
	}

	unlock, err := s.acquire(ctx, calendar.DayLockKey(current.DoctorID, current.Date))
	if err != nil {
		s.metrics.Cancellations.WithLabelValues(metrics.OutcomeUnavailable).Inc()
		return CancelResult{}, err
	}
	txCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := unlock(txCtx); err != nil {
			s.logger.Warn().Err(err).Str("doctor_id", current.DoctorID).Msg("release booking lock")
		}
	}()

	var changed bool
	err = s.store.InTx(txCtx, func(ctx context.Context) error {
		if err := s.store.LockDay(ctx, current.DoctorID, current.Date); err != nil {
			return fmt.Errorf("lock day: %w", err)
		}
		var err error
		changed, err = s.store.UpdateAppointmentStatus(ctx, id, calendar.StatusBooked, calendar.StatusCanceled)
		return err
	})
	if errors.Is(err, calendar.ErrAppointmentNotFound) {
		s.metrics.Cancellations.WithLabelValues(metrics.OutcomeNotFound).Inc()
		return CancelResult{Outcome: CancelNotFound}, nil
	}
	if err != nil {
		s.metrics.Cancellations.WithLabelValues(metrics.OutcomeError).Inc()
		return CancelResult{}, fmt.Errorf("cancel appointment %s: %w", id, err)
	}

	appt, err := s.store.GetAppointment(txCtx, id)
	if err != nil {
		return CancelResult{}, fmt.Errorf("reload appointment %s: %w", id, err)
	}
	log := s.loggerFrom(ctx).With().
		Str("appointment_id", id).
		Str("doctor_id", appt.DoctorID).
		Logger()
	if !changed {
		s.metrics.Cancellations.WithLabelValues(metrics.OutcomeNoop).Inc()
		log.Info().Msg("appointment already canceled")
		return CancelResult{Outcome: CancelNoop, Appointment: appt}, nil
	}
	s.metrics.Cancellations.WithLabelValues(metrics.OutcomeCanceled).Inc()
	log.Info().Msg("appointment canceled")
	return CancelResult{Outcome: CancelApplied, Appointment: appt}, nil
}

// WorkingDay merges the resolved intervals of a day into disjoint working
// hours, for display.
func (s *Service) WorkingDay(ctx context.Context, doctorID string, date calendar.Date) ([]interval.Interval, error) {
	resolved, err := s.ResolveDay(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	return interval.Union(resolved), nil
}
