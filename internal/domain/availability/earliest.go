package availability

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/medcal/calendar/internal/domain/calendar"
	"github.com/medcal/calendar/internal/platform/metrics"
	"github.com/medcal/calendar/pkg/interval"
)

// TieBreak chooses among doctors equally qualified for the earliest shift.
type TieBreak string

const (
	TieBreakLowestID TieBreak = "lowest-id"
	TieBreakRandom   TieBreak = "random"
)

func ParseTieBreak(s string) (TieBreak, error) {
	switch tb := TieBreak(strings.ToLower(strings.TrimSpace(s))); tb {
	case TieBreakLowestID, TieBreakRandom:
		return tb, nil
	case "":
		return TieBreakLowestID, nil
	default:
		return "", invalidf("tie_break", "must be %q or %q, got %q", TieBreakLowestID, TieBreakRandom, s)
	}
}

// CanonicalShiftOrder is the default priority of shift kinds, earliest first.
func CanonicalShiftOrder() []string {
	return []string{"early", "morning", "noon", "afternoon", "evening", "night", "late"}
}

// EarliestQuery searches dates From..To inclusive. Empty ShiftPriority uses
// the service default; empty DoctorIDs allows every doctor.
type EarliestQuery struct {
	From          calendar.Date
	To            calendar.Date
	ShiftPriority []string
	DoctorIDs     []string
	TieBreak      TieBreak
}

// Match is the first (date, shift, doctor) with a free doctor.
type Match struct {
	Date       calendar.Date      `json:"date"`
	ShiftKind  string             `json:"shift"`
	Start      interval.TimeOfDay `json:"shift_start"`
	End        interval.TimeOfDay `json:"shift_end"`
	Doctor     calendar.Doctor    `json:"doctor"`
	Candidates int                `json:"candidates"`
}

// FindEarliest walks dates in order and, within a date, shift kinds by
// priority. It returns nil without error when nothing in the range has a
// free doctor. Cancelling ctx stops the walk between shift checks.
func (s *Service) FindEarliest(ctx context.Context, q EarliestQuery) (*Match, error) {
	q, err := s.normalizeQuery(q)
	if err != nil {
		s.metrics.EarliestSearch.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return nil, err
	}

	m, err := s.findEarliest(ctx, q)
	switch {
	case err != nil && ctx.Err() != nil:
		s.metrics.EarliestSearch.WithLabelValues(metrics.OutcomeAborted).Inc()
	case err != nil:
		s.metrics.EarliestSearch.WithLabelValues(metrics.OutcomeError).Inc()
	case m == nil:
		s.metrics.EarliestSearch.WithLabelValues(metrics.OutcomeNoMatch).Inc()
	default:
		s.metrics.EarliestSearch.WithLabelValues(metrics.OutcomeFound).Inc()
	}
	return m, err
}

func (s *Service) normalizeQuery(q EarliestQuery) (EarliestQuery, error) {
	if q.From.IsZero() {
		return q, invalidf("from", "is required")
	}
	if q.To.IsZero() {
		q.To = q.From
	}
	if q.To.Before(q.From) {
		return q, invalidf("to", "must not be before from")
	}
	if days := int(q.To.Sub(q.From.Time).Hours()/24) + 1; days > s.opts.MaxSearchDays {
		return q, invalidf("to", "range of %d days exceeds the limit of %d", days, s.opts.MaxSearchDays)
	}
	if len(q.ShiftPriority) == 0 {
		q.ShiftPriority = s.opts.ShiftPriority
	}
	if q.TieBreak == "" {
		q.TieBreak = s.opts.TieBreak
	}
	if _, err := ParseTieBreak(string(q.TieBreak)); err != nil {
		return q, err
	}
	return q, nil
}

func (s *Service) findEarliest(ctx context.Context, q EarliestQuery) (*Match, error) {
	kinds, err := s.store.ShiftKinds(ctx)
	if err != nil {
		return nil, fmt.Errorf("load shift kinds: %w", err)
	}
	kinds = orderShiftKinds(kinds, q.ShiftPriority)
	if len(kinds) == 0 {
		return nil, nil
	}

	doctors, err := s.store.ListDoctors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	byID := make(map[string]calendar.Doctor, len(doctors))
	for _, d := range doctors {
		byID[d.ID] = d
	}
	allowed := func(id string) bool {
		if _, ok := byID[id]; !ok {
			return false
		}
		if len(q.DoctorIDs) == 0 {
			return true
		}
		for _, want := range q.DoctorIDs {
			if want == id {
				return true
			}
		}
		return false
	}

	fallback := make(map[string]*interval.Interval)
	for date := q.From; !date.After(q.To); date = date.AddDays(1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		day, err := s.loadSearchDay(ctx, date)
		if err != nil {
			return nil, err
		}

		for _, kind := range kinds {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			window, ok := day.window(kind)
			if !ok {
				if _, cached := fallback[kind]; !cached {
					fallback[kind], err = s.anyWindow(ctx, kind)
					if err != nil {
						return nil, err
					}
				}
				if fallback[kind] == nil {
					continue
				}
				window = *fallback[kind]
			}

			candidates := day.candidates(kind, window, allowed)
			if len(candidates) == 0 {
				continue
			}
			chosen := s.breakTie(candidates, q.TieBreak)
			return &Match{
				Date:       date,
				ShiftKind:  kind,
				Start:      window.Start,
				End:        window.End,
				Doctor:     byID[chosen],
				Candidates: len(candidates),
			}, nil
		}
	}
	return nil, nil
}

// searchDay holds one date's template rows, exceptions and bookings.
type searchDay struct {
	shifts     []calendar.WorkShift
	exceptions []calendar.ShiftException
	booked     []calendar.Appointment
}

func (s *Service) loadSearchDay(ctx context.Context, date calendar.Date) (*searchDay, error) {
	shifts, err := s.store.ShiftsByWeekday(ctx, date.Weekday())
	if err != nil {
		return nil, fmt.Errorf("load shifts for %s: %w", date, err)
	}
	exceptions, err := s.store.ExceptionsOnDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("load exceptions for %s: %w", date, err)
	}
	booked, err := s.store.AppointmentsOnDate(ctx, date, calendar.StatusBooked)
	if err != nil {
		return nil, fmt.Errorf("load appointments for %s: %w", date, err)
	}
	return &searchDay{shifts: shifts, exceptions: exceptions, booked: booked}, nil
}

// window is the nominal hours of kind on this weekday, taken from the first
// template row of that kind.
func (d *searchDay) window(kind string) (interval.Interval, bool) {
	for _, sh := range d.shifts {
		if sh.Kind == kind {
			return sh.Interval(), true
		}
	}
	return interval.Interval{}, false
}

func (s *Service) anyWindow(ctx context.Context, kind string) (*interval.Interval, error) {
	rows, err := s.store.ShiftsByKind(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("load %s shifts: %w", kind, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	iv := rows[0].Interval()
	return &iv, nil
}

// candidates applies, in order: the doctors scheduled for kind, closures
// overlapping the window, extra shifts overlapping the window, then drops
// anyone with an overlapping booking.
func (d *searchDay) candidates(kind string, window interval.Interval, allowed func(string) bool) []string {
	set := make(map[string]bool)
	for _, sh := range d.shifts {
		if sh.Kind == kind && allowed(sh.DoctorID) {
			set[sh.DoctorID] = true
		}
	}
	for _, ex := range d.exceptions {
		if !ex.IsAvailable && ex.Interval().Overlaps(window) {
			delete(set, ex.DoctorID)
		}
	}
	for _, ex := range d.exceptions {
		if ex.IsAvailable && ex.Interval().Overlaps(window) && allowed(ex.DoctorID) {
			set[ex.DoctorID] = true
		}
	}
	for i := range d.booked {
		if d.booked[i].Interval().Overlaps(window) {
			delete(set, d.booked[i].DoctorID)
		}
	}

	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return calendar.LessDoctorID(out[i], out[j]) })
	return out
}

func (s *Service) breakTie(sortedIDs []string, tb TieBreak) string {
	if tb == TieBreakRandom && len(sortedIDs) > 1 {
		return sortedIDs[s.pick(len(sortedIDs))]
	}
	return sortedIDs[0]
}

// orderShiftKinds sorts kinds by their position in priority. Kinds missing
// from priority go last, keeping their incoming order.
func orderShiftKinds(kinds, priority []string) []string {
	rank := make(map[string]int, len(priority))
	for i, k := range priority {
		k = strings.ToLower(k)
		if _, dup := rank[k]; !dup {
			rank[k] = i
		}
	}
	rankOf := func(k string) int {
		if r, ok := rank[strings.ToLower(k)]; ok {
			return r
		}
		return len(priority)
	}

	out := make([]string, len(kinds))
	copy(out, kinds)
	sort.SliceStable(out, func(i, j int) bool { return rankOf(out[i]) < rankOf(out[j]) })
	return out
}
