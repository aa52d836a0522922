package interval

import "time"

// Slots is a lazy sequence of fixed-length sub-intervals produced by Slice.
// It holds no state beyond a cursor, so Reset restarts it from the beginning.
type Slots struct {
	within Interval
	step   TimeOfDay
	cursor TimeOfDay
}

// Slice yields consecutive step-long intervals starting at iv.Start. A
// trailing remainder shorter than step is not produced. A non-positive step
// yields an empty sequence.
func Slice(iv Interval, step time.Duration) *Slots {
	return &Slots{within: iv, step: TimeOfDay(step / time.Second), cursor: iv.Start}
}

// Next returns the next slot, or false once the sequence is exhausted.
func (s *Slots) Next() (Interval, bool) {
	if s.step <= 0 || s.cursor+s.step > s.within.End {
		return Interval{}, false
	}
	slot := Interval{Start: s.cursor, End: s.cursor + s.step}
	s.cursor += s.step
	return slot, true
}

func (s *Slots) Reset() { s.cursor = s.within.Start }

// Len is the total number of slots in the sequence.
func (s *Slots) Len() int {
	if s.step <= 0 || s.within.End <= s.within.Start {
		return 0
	}
	return int((s.within.End - s.within.Start) / s.step)
}

// All drains a fresh pass over the sequence into a slice.
func (s *Slots) All() []Interval {
	s.Reset()
	out := make([]Interval, 0, s.Len())
	for slot, ok := s.Next(); ok; slot, ok = s.Next() {
		out = append(out, slot)
	}
	s.Reset()
	return out
}
