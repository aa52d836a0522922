package availability

import (
	"context"
	"fmt"

	"github.com/medcal/calendar/internal/domain/calendar"
	"github.com/medcal/calendar/pkg/interval"
)

// ResolveDay returns the doctor's effective working intervals on date: the
// weekday template minus closures plus extra shifts. Intervals added by
// extra shifts may overlap each other and are not merged.
func (s *Service) ResolveDay(ctx context.Context, doctorID string, date calendar.Date) ([]interval.Interval, error) {
	if doctorID == "" {
		return nil, invalidf("doctor_id", "is required")
	}
	if date.IsZero() {
		return nil, invalidf("date", "is required")
	}

	shifts, err := s.store.ShiftsForDay(ctx, doctorID, date.Weekday())
	if err != nil {
		return nil, fmt.Errorf("load shifts: %w", err)
	}
	exceptions, err := s.store.ExceptionsForDay(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("load exceptions: %w", err)
	}
	return resolve(shifts, exceptions), nil
}

// resolve applies every closure before any extra shift, so the result does
// not depend on the order exceptions are stored in.
func resolve(shifts []calendar.WorkShift, exceptions []calendar.ShiftException) []interval.Interval {
	out := make([]interval.Interval, 0, len(shifts))
	for _, sh := range shifts {
		if iv := sh.Interval(); iv.Validate() == nil {
			out = append(out, iv)
		}
	}

	for _, ex := range exceptions {
		if !ex.IsAvailable {
			out = interval.Subtract(out, ex.Interval())
		}
	}

	for _, ex := range exceptions {
		if !ex.IsAvailable {
			continue
		}
		iv := ex.Interval()
		if iv.Validate() != nil || containsInterval(out, iv) {
			continue
		}
		out = append(out, iv)
	}
	return out
}

func containsInterval(ivs []interval.Interval, iv interval.Interval) bool {
	for _, x := range ivs {
		if x == iv {
			return true
		}
	}
	return false
}
