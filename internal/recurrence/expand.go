package recurrence

import (
	"iter"
	"time"

	"calendar-service/internal/domain"
)

// DefaultMaxOccurrences caps expansion of open-ended series.
const DefaultMaxOccurrences = 999

// Occurrence is one concrete interval of a series. Position is the 1-based
// ordinal within the whole series.
type Occurrence struct {
	Position int
	Start    time.Time
	End      time.Time
}

// Series is the expansion input: a pattern and its first occurrence.
type Series struct {
	Pattern *domain.Pattern
	Start   time.Time
	End     time.Time
	FullDay bool
	Loc     *time.Location
}

// SeriesOf returns the expansion input for a series master.
func SeriesOf(a *domain.Appointment) Series {
	return Series{
		Pattern: a.Pattern,
		Start:   a.Start,
		End:     a.End,
		FullDay: a.FullDay,
		Loc:     a.Loc(),
	}
}

// Expander turns patterns into occurrences. It holds no mutable state and is
// safe for concurrent use.
type Expander struct {
	max int
}

func NewExpander(maxOccurrences int) *Expander {
	if maxOccurrences <= 0 {
		maxOccurrences = DefaultMaxOccurrences
	}
	return &Expander{max: maxOccurrences}
}

func (e *Expander) Max() int { return e.max }

// Expand yields the occurrences of s intersecting [from, to) in order. Zero
// bounds are open. The sequence is restartable and stops after Max
// occurrences counted from the series start.
func (e *Expander) Expand(s Series, from, to time.Time) iter.Seq[Occurrence] {
	return e.expand(s, from, to, e.max)
}

func (e *Expander) expand(s Series, from, to time.Time, limit int) iter.Seq[Occurrence] {
	return func(yield func(Occurrence) bool) {
		if s.Pattern.IsZero() {
			return
		}
		loc := s.Loc
		if loc == nil {
			loc = time.UTC
		}
		start := s.Start.In(loc)
		if s.FullDay {
			start = midnight(start, loc)
		}
		r, err := rule(s.Pattern, start)
		if err != nil {
			return
		}
		days := DurationDays(s.Start, s.End, loc)
		length := s.End.Sub(s.Start)
		next := r.Iterator()
		for pos := 1; pos <= limit; pos++ {
			t, ok := next()
			if !ok {
				return
			}
			o := Occurrence{Position: pos}
			if s.FullDay {
				o.Start = midnight(t, loc)
				o.End = o.Start.AddDate(0, 0, max(days, 1))
			} else {
				o.Start = t
				o.End = t.Add(length)
			}
			if !to.IsZero() && !o.Start.Before(to) {
				return
			}
			if !from.IsZero() && !o.End.After(from) && !(o.Start.Equal(o.End) && !o.Start.Before(from)) {
				continue
			}
			if !yield(o) {
				return
			}
		}
	}
}

// All returns every occurrence of s up to the cap.
func (e *Expander) All(s Series) []Occurrence {
	var out []Occurrence
	for o := range e.Expand(s, time.Time{}, time.Time{}) {
		out = append(out, o)
	}
	return out
}

// Count returns the number of occurrences of s. bounded is false when the
// pattern is open-ended or runs past the cap, and the count is only the cap.
func (e *Expander) Count(s Series) (n int, bounded bool) {
	for range e.Expand(s, time.Time{}, time.Time{}) {
		n++
	}
	return n, !s.Pattern.Unbounded() && !e.Truncated(s)
}

// Truncated reports whether s has more occurrences than the cap.
func (e *Expander) Truncated(s Series) bool {
	n := 0
	for range e.expand(s, time.Time{}, time.Time{}, e.max+1) {
		n++
	}
	return n > e.max
}

// At returns the occurrence with the given 1-based position.
func (e *Expander) At(s Series, position int) (Occurrence, bool) {
	if position < 1 {
		return Occurrence{}, false
	}
	for o := range e.Expand(s, time.Time{}, time.Time{}) {
		if o.Position == position {
			return o, true
		}
	}
	return Occurrence{}, false
}

// Find returns the occurrence whose original start equals date.
func (e *Expander) Find(s Series, date time.Time) (Occurrence, bool) {
	for o := range e.Expand(s, time.Time{}, date.Add(time.Second)) {
		if o.Start.Equal(date) {
			return o, true
		}
	}
	return Occurrence{}, false
}

// Next returns the first occurrence starting at or after t and not listed in
// skip.
func (e *Expander) Next(s Series, t time.Time, skip []time.Time) (Occurrence, bool) {
	for o := range e.Expand(s, t, time.Time{}) {
		if o.Start.Before(t) || domain.HasDate(skip, o.Start) {
			continue
		}
		return o, true
	}
	return Occurrence{}, false
}

// Last returns the final occurrence of a bounded series. A series running
// past the cap has no last occurrence.
func (e *Expander) Last(s Series) (Occurrence, bool) {
	if s.Pattern.Unbounded() || e.Truncated(s) {
		return Occurrence{}, false
	}
	var last Occurrence
	found := false
	for o := range e.Expand(s, time.Time{}, time.Time{}) {
		last, found = o, true
	}
	return last, found
}

// DurationDays is the number of calendar days an occurrence spans beyond its
// start day.
func DurationDays(start, end time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	s := midnight(start.In(loc), loc)
	e := midnight(end.In(loc), loc)
	days := 0
	for s.Before(e) {
		s = s.AddDate(0, 0, 1)
		days++
	}
	return days
}

func midnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
