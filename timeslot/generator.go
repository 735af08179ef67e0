/*
generator.go - Evenly spaced timestamps over a half-open interval

PURPOSE:
  Produces the timestamps used to seed the store. A Range describes
  [Start, End) with a fixed Interval; a Generator walks it once.

SEQUENCE RULES:
  - The first value is Start + Interval. Start itself is never yielded.
  - Each following value adds Interval to the previous one.
  - Generation stops at the first candidate >= End (End is exclusive).
  - Start + Interval >= End gives an empty sequence.
  - Interval <= 0 is rejected with ErrInvalidInterval.

  Example (Interval = 6m):
    [07:00, 07:24)  ->  07:06, 07:12, 07:18

RESTART:
  A Generator is consumed once. The sequence is a pure function of the
  Range, so building a new Generator from the same Range restarts it.
  Range.Slots does exactly that on every call.

TIMEZONES:
  Values carry Start's location. A Start parsed from "+11:00" yields
  values formatted with "+11:00".

SEE ALSO:
  - time.go: Format/Parse for the wire representation
  - store/sqlite/sqlite.go: Seed consumes Range.Slots
*/
package timeslot

import (
	"fmt"
	"iter"
	"time"
)

// =============================================================================
// RANGE - [Start, End) stepped by Interval
// =============================================================================

// Range is a half-open interval of evenly spaced slots.
type Range struct {
	Start    time.Time
	End      time.Time
	Interval time.Duration
}

// NewRange builds a validated Range.
func NewRange(start, end time.Time, interval time.Duration) (Range, error) {
	r := Range{Start: start, End: end, Interval: interval}
	if err := r.Validate(); err != nil {
		return Range{}, err
	}
	return r, nil
}

// Validate checks the step. Inverted bounds are valid and simply empty.
func (r Range) Validate() error {
	if r.Interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, r.Interval)
	}
	return nil
}

// Generator returns a fresh, single-use walk over the range.
func (r Range) Generator() (*Generator, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &Generator{current: r.Start, end: r.End, interval: r.Interval}, nil
}

// Slots returns the range as a lazy sequence. Each iteration starts over.
// It panics on an invalid range; call Validate first.
func (r Range) Slots() iter.Seq[time.Time] {
	if err := r.Validate(); err != nil {
		panic(err)
	}
	return func(yield func(time.Time) bool) {
		g, _ := r.Generator()
		for {
			t, ok := g.Next()
			if !ok || !yield(t) {
				return
			}
		}
	}
}

// Count is the number of values Slots yields.
func (r Range) Count() int {
	if r.Validate() != nil || !r.Start.Add(r.Interval).Before(r.End) {
		return 0
	}
	span := r.End.Sub(r.Start)
	n := int(span / r.Interval)
	if span%r.Interval == 0 {
		n--
	}
	return n
}

// String returns a string representation of the range.
func (r Range) String() string {
	return "[" + Format(r.Start) + ", " + Format(r.End) + ") every " + r.Interval.String()
}

// =============================================================================
// GENERATOR - single pass over a Range
// =============================================================================

// Generator yields the slots of a Range one at a time.
type Generator struct {
	current  time.Time
	end      time.Time
	interval time.Duration
	done     bool
}

// Next advances by one interval and returns the new slot. It reports false
// once the candidate reaches End, and keeps reporting false afterwards.
func (g *Generator) Next() (time.Time, bool) {
	if g.done {
		return time.Time{}, false
	}
	next := g.current.Add(g.interval)
	if !next.Before(g.end) {
		g.done = true
		return time.Time{}, false
	}
	g.current = next
	return next, true
}
