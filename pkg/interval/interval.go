package interval

import (
	"fmt"
	"sort"
	"time"
)

// Interval is a half-open [Start, End) range within one day.
type Interval struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// New returns the interval [start, end) or ErrInvalidInterval when start >= end.
func New(start, end TimeOfDay) (Interval, error) {
	iv := Interval{Start: start, End: end}
	if err := iv.Validate(); err != nil {
		return Interval{}, err
	}
	return iv, nil
}

// Parse builds an interval from two textual times.
func Parse(start, end string) (Interval, error) {
	s, err := ParseTimeOfDay(start)
	if err != nil {
		return Interval{}, err
	}
	e, err := ParseTimeOfDay(end)
	if err != nil {
		return Interval{}, err
	}
	return New(s, e)
}

func (iv Interval) Validate() error {
	if !iv.Start.Valid() || !iv.End.Valid() {
		return fmt.Errorf("%w: %s-%s outside the day", ErrInvalidInterval, iv.Start, iv.End)
	}
	if iv.Start >= iv.End {
		return fmt.Errorf("%w: start %s is not before end %s", ErrInvalidInterval, iv.Start, iv.End)
	}
	return nil
}

func (iv Interval) Duration() time.Duration { return iv.End.Sub(iv.Start) }

func (iv Interval) Overlaps(other Interval) bool {
	return Overlaps(iv.Start, iv.End, other.Start, other.End)
}

// Contains reports whether other lies entirely inside iv.
func (iv Interval) Contains(other Interval) bool {
	return iv.Start <= other.Start && other.End <= iv.End
}

func (iv Interval) String() string {
	return iv.Start.String() + "-" + iv.End.String()
}

// Overlaps reports whether [aStart,aEnd) and [bStart,bEnd) share any instant.
// Adjacent ranges do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd TimeOfDay) bool {
	return aStart < bEnd && bStart < aEnd
}

// Subtract removes remove from every interval, splitting an interval in two
// when remove lies strictly inside it. Empty remainders are dropped. The
// input slice is not modified.
func Subtract(intervals []Interval, remove Interval) []Interval {
	out := make([]Interval, 0, len(intervals)+1)
	for _, iv := range intervals {
		if !iv.Overlaps(remove) {
			if iv.Start < iv.End {
				out = append(out, iv)
			}
			continue
		}
		if iv.Start < remove.Start {
			out = append(out, Interval{Start: iv.Start, End: remove.Start})
		}
		if remove.End < iv.End {
			out = append(out, Interval{Start: remove.End, End: iv.End})
		}
	}
	return out
}

// SubtractAll applies Subtract for each interval in remove.
func SubtractAll(intervals []Interval, remove []Interval) []Interval {
	out := intervals
	for _, r := range remove {
		out = Subtract(out, r)
	}
	return out
}

// Union returns the sorted minimal cover of intervals, merging ranges that
// overlap or touch.
func Union(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return []Interval{}
	}
	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	Sort(sorted)

	out := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		if iv.Start <= last.End {
			if iv.End > last.End {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// Sort orders intervals by start, then end.
func Sort(intervals []Interval) {
	sort.Slice(intervals, func(i, j int) bool {
		if intervals[i].Start != intervals[j].Start {
			return intervals[i].Start < intervals[j].Start
		}
		return intervals[i].End < intervals[j].End
	})
}
