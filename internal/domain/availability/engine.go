package availability

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/medcal/calendar/internal/domain/calendar"
	"github.com/medcal/calendar/pkg/interval"
)

// FreeSlot is a granularity-long interval with no booked appointment.
type FreeSlot = interval.Interval

// FreeSlots lists the doctor's free slots on date, sorted by start. A
// granularity of zero uses the configured default. An unknown doctor has no
// slots.
func (s *Service) FreeSlots(ctx context.Context, doctorID string, date calendar.Date, granularity time.Duration) ([]FreeSlot, error) {
	g, err := s.granularity(granularity)
	if err != nil {
		return nil, err
	}
	return s.freeSlots(ctx, doctorID, date, g)
}

func (s *Service) freeSlots(ctx context.Context, doctorID string, date calendar.Date, g time.Duration) ([]FreeSlot, error) {
	resolved, err := s.ResolveDay(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	if len(resolved) == 0 {
		return []FreeSlot{}, nil
	}
	booked, err := s.store.AppointmentsForDay(ctx, doctorID, date, calendar.StatusBooked)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}
	return sliceFree(resolved, booked, g), nil
}

// sliceFree subtracts booked appointments from each working interval and
// cuts the remainder into slots. Duplicates from overlapping extra shifts
// are dropped.
func sliceFree(resolved []interval.Interval, booked []calendar.Appointment, g time.Duration) []FreeSlot {
	slots := make([]FreeSlot, 0)
	seen := make(map[FreeSlot]bool)
	for _, iv := range resolved {
		pieces := []interval.Interval{iv}
		for i := range booked {
			if a := booked[i].Interval(); a.Overlaps(iv) {
				pieces = interval.Subtract(pieces, a)
			}
		}
		for _, p := range pieces {
			seq := interval.Slice(p, g)
			for slot, ok := seq.Next(); ok; slot, ok = seq.Next() {
				if !seen[slot] {
					seen[slot] = true
					slots = append(slots, slot)
				}
			}
		}
	}
	interval.Sort(slots)
	return slots
}

// IsAvailable reports whether [start, start+duration) is made of free slots
// at the configured granularity. Only granularity-aligned slot boundaries
// count: a start in the middle of a free slot is not available.
func (s *Service) IsAvailable(ctx context.Context, doctorID string, date calendar.Date, start interval.TimeOfDay, duration time.Duration) (bool, error) {
	want, err := s.requestedSlot(start, duration)
	if err != nil {
		return false, err
	}
	return s.isAvailable(ctx, doctorID, date, want)
}

func (s *Service) isAvailable(ctx context.Context, doctorID string, date calendar.Date, want interval.Interval) (bool, error) {
	free, err := s.freeSlots(ctx, doctorID, date, s.opts.Granularity)
	if err != nil {
		return false, err
	}
	return covers(free, want, s.opts.Granularity), nil
}

// covers checks that every granularity step of want is itself a free slot.
func covers(free []FreeSlot, want interval.Interval, g time.Duration) bool {
	index := make(map[FreeSlot]bool, len(free))
	for _, f := range free {
		index[f] = true
	}
	seq := interval.Slice(want, g)
	n := 0
	for step, ok := seq.Next(); ok; step, ok = seq.Next() {
		if !index[step] {
			return false
		}
		n++
	}
	return n > 0
}

// AvailableDoctors returns, sorted by id, the doctors free for the whole of
// [start, start+duration) on date. Doctors are checked concurrently.
func (s *Service) AvailableDoctors(ctx context.Context, date calendar.Date, start interval.TimeOfDay, duration time.Duration) ([]calendar.Doctor, error) {
	want, err := s.requestedSlot(start, duration)
	if err != nil {
		return nil, err
	}
	if date.IsZero() {
		return nil, invalidf("date", "is required")
	}

	doctors, err := s.store.ListDoctors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}

	free := make([]bool, len(doctors))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, d := range doctors {
		g.Go(func() error {
			ok, err := s.isAvailable(gctx, d.ID, date, want)
			if err != nil {
				return fmt.Errorf("doctor %s: %w", d.ID, err)
			}
			free[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]calendar.Doctor, 0, len(doctors))
	for i, d := range doctors {
		if free[i] {
			out = append(out, d)
		}
	}
	calendar.SortDoctors(out)
	return out, nil
}

func (s *Service) granularity(g time.Duration) (time.Duration, error) {
	if g == 0 {
		return s.opts.Granularity, nil
	}
	if g < time.Minute || g > 24*time.Hour || g%time.Minute != 0 {
		return 0, invalidf("granularity", "must be a whole number of minutes between 1 and 1440, got %s", g)
	}
	return g, nil
}

// requestedSlot validates a booking-shaped request against the configured
// granularity. A zero duration means one slot.
// maxDuration bounds requests to one day so TimeOfDay arithmetic cannot wrap.
const maxDuration = 24 * time.Hour

func (s *Service) requestedSlot(start interval.TimeOfDay, duration time.Duration) (interval.Interval, error) {
	g := s.opts.Granularity
	if duration == 0 {
		duration = g
	}
	if duration < 0 || duration%g != 0 {
		return interval.Interval{}, invalidf("duration", "must be a positive multiple of %s, got %s", g, duration)
	}
	if duration > maxDuration {
		return interval.Interval{}, invalidf("duration", "must not exceed %s, got %s", maxDuration, duration)
	}
	if !start.Valid() || start == interval.EndOfDay {
		return interval.Interval{}, invalidf("start", "must be a time of day before 24:00")
	}
	iv, err := interval.New(start, start.Add(duration))
	if err != nil {
		return interval.Interval{}, invalid("duration", err)
	}
	return iv, nil
}
