// Package availability resolves doctors' working time into bookable slots,
// searches for the earliest open shift and commits bookings without double
// booking.
package availability

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/medcal/calendar/internal/domain/calendar"
	"github.com/medcal/calendar/internal/platform/lock"
	"github.com/medcal/calendar/internal/platform/metrics"
)

// Options configures the service. Zero fields take DefaultOptions values.
type Options struct {
	Granularity time.Duration
	// ShiftPriority orders shift kinds in FindEarliest when the query gives none.
	ShiftPriority []string
	TieBreak      TieBreak
	// BookingWindowDays > 0 limits Book to dates after today and at most
	// this many days ahead.
	BookingWindowDays int
	MaxSearchDays     int
	Concurrency       int
	LockWait          time.Duration
}

func DefaultOptions() Options {
	return Options{
		Granularity:   30 * time.Minute,
		ShiftPriority: CanonicalShiftOrder(),
		TieBreak:      TieBreakLowestID,
		MaxSearchDays: 31,
		Concurrency:   8,
		LockWait:      5 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Granularity <= 0 {
		o.Granularity = d.Granularity
	}
	if len(o.ShiftPriority) == 0 {
		o.ShiftPriority = d.ShiftPriority
	}
	if o.TieBreak == "" {
		o.TieBreak = d.TieBreak
	}
	if o.MaxSearchDays <= 0 {
		o.MaxSearchDays = d.MaxSearchDays
	}
	if o.Concurrency <= 0 {
		o.Concurrency = d.Concurrency
	}
	if o.LockWait <= 0 {
		o.LockWait = d.LockWait
	}
	return o
}

type Service struct {
	store   calendar.Store
	locker  lock.Locker
	metrics *metrics.Metrics
	logger  zerolog.Logger
	opts    Options

	now  func() time.Time
	pick func(n int) int
}

// NewService wires the engine to its store and booking lock. A nil metrics
// value gets a private, unexposed registry.
func NewService(store calendar.Store, locker lock.Locker, m *metrics.Metrics, logger zerolog.Logger, opts Options) *Service {
	if m == nil {
		m = metrics.New()
	}
	return &Service{
		store:   store,
		locker:  locker,
		metrics: m,
		logger:  logger.With().Str("component", "availability").Logger(),
		opts:    opts.withDefaults(),
		now:     time.Now,
		pick:    rand.IntN,
	}
}

func (s *Service) Options() Options { return s.opts }

// loggerFrom prefers the request-scoped logger carried by ctx.
func (s *Service) loggerFrom(ctx context.Context) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l.With().Str("component", "availability").Logger()
	}
	return s.logger
}

// -- Reference data --

func (s *Service) ListDoctors(ctx context.Context) ([]calendar.Doctor, error) {
	return s.store.ListDoctors(ctx)
}

func (s *Service) GetAppointment(ctx context.Context, id string) (*calendar.Appointment, error) {
	return s.store.GetAppointment(ctx, id)
}

func (s *Service) ListAppointments(ctx context.Context, f calendar.AppointmentFilter, limit, offset int) ([]*calendar.Appointment, int, error) {
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, 0, invalidf("to", "must not be before from")
	}
	return s.store.ListAppointments(ctx, f, limit, offset)
}
