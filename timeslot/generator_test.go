package timeslot_test

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/timeslots/timeslot"
)

var sydney = time.FixedZone("", 11*60*60)

func at(hour, minute int) time.Time {
	return time.Date(2016, time.January, 1, hour, minute, 0, 0, sydney)
}

func collect(t *testing.T, r timeslot.Range) []time.Time {
	t.Helper()
	require.NoError(t, r.Validate())
	return slices.Collect(r.Slots())
}

// =============================================================================
// BOUNDARY TESTS
// =============================================================================

func TestRange_TwoIntervals_YieldsOneSlot(t *testing.T) {
	// GIVEN: [T, T+2I) with step I
	// THEN: only T+I is produced, T+2I is excluded by the open bound
	start := at(7, 0)
	r := timeslot.Range{Start: start, End: start.Add(12 * time.Minute), Interval: 6 * time.Minute}

	got := collect(t, r)

	require.Len(t, got, 1)
	assert.True(t, got[0].Equal(start.Add(6*time.Minute)))
	assert.Equal(t, 1, r.Count())
}

func TestRange_SingleInterval_IsEmpty(t *testing.T) {
	start := at(7, 0)
	r := timeslot.Range{Start: start, End: start.Add(6 * time.Minute), Interval: 6 * time.Minute}

	assert.Empty(t, collect(t, r))
	assert.Equal(t, 0, r.Count())
}

func TestRange_EndBeforeStart_IsEmpty(t *testing.T) {
	r := timeslot.Range{Start: at(8, 0), End: at(7, 0), Interval: time.Minute}

	assert.Empty(t, collect(t, r))
	assert.Equal(t, 0, r.Count())
}

func TestRange_SeedRange_SkipsStartAndEnd(t *testing.T) {
	r := timeslot.Range{Start: at(7, 0), End: at(7, 24), Interval: 6 * time.Minute}

	got := collect(t, r)

	want := []string{
		"2016-01-01T07:06:00+11:00",
		"2016-01-01T07:12:00+11:00",
		"2016-01-01T07:18:00+11:00",
	}
	require.Len(t, got, len(want))
	for i, ts := range got {
		assert.Equal(t, want[i], timeslot.Format(ts))
	}
	assert.Equal(t, len(want), r.Count())
}

func TestRange_UnevenSpan_LastSlotBeforeEnd(t *testing.T) {
	// GIVEN: a span that is not a multiple of the interval
	start := at(7, 0)
	end := start.Add(20 * time.Minute)
	r := timeslot.Range{Start: start, End: end, Interval: 6 * time.Minute}

	got := collect(t, r)

	require.Len(t, got, 3)
	assert.True(t, got[0].Equal(start.Add(6*time.Minute)))
	assert.True(t, got[len(got)-1].Before(end))
	assert.Equal(t, 3, r.Count())
}

func TestRange_StrictlyIncreasing(t *testing.T) {
	r := timeslot.Range{Start: at(0, 0), End: at(23, 59), Interval: 7 * time.Minute}

	got := collect(t, r)

	require.NotEmpty(t, got)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i].After(got[i-1]), "slot %d not after slot %d", i, i-1)
		assert.Equal(t, 7*time.Minute, got[i].Sub(got[i-1]))
	}
	assert.Equal(t, len(got), r.Count())
}

// =============================================================================
// PRECONDITION TESTS
// =============================================================================

func TestRange_NonPositiveInterval_Rejected(t *testing.T) {
	for _, interval := range []time.Duration{0, -time.Minute} {
		r := timeslot.Range{Start: at(7, 0), End: at(8, 0), Interval: interval}

		assert.ErrorIs(t, r.Validate(), timeslot.ErrInvalidInterval)

		_, err := r.Generator()
		assert.ErrorIs(t, err, timeslot.ErrInvalidInterval)

		_, err = timeslot.NewRange(r.Start, r.End, r.Interval)
		assert.ErrorIs(t, err, timeslot.ErrInvalidInterval)

		assert.Panics(t, func() { r.Slots() })
		assert.Equal(t, 0, r.Count())
	}
}

// =============================================================================
// GENERATOR TESTS
// =============================================================================

func TestGenerator_ConsumedOnce(t *testing.T) {
	r := timeslot.Range{Start: at(7, 0), End: at(7, 24), Interval: 6 * time.Minute}
	g, err := r.Generator()
	require.NoError(t, err)

	var n int
	for _, ok := g.Next(); ok; _, ok = g.Next() {
		n++
	}
	assert.Equal(t, 3, n)

	// Exhausted generators stay exhausted.
	_, ok := g.Next()
	assert.False(t, ok)
}

func TestRange_Slots_RestartsOnEveryCall(t *testing.T) {
	r := timeslot.Range{Start: at(7, 0), End: at(7, 24), Interval: 6 * time.Minute}
	seq := r.Slots()

	first := slices.Collect(seq)
	second := slices.Collect(seq)

	assert.Equal(t, first, second)
}

func TestRange_Slots_EarlyBreak(t *testing.T) {
	r := timeslot.Range{Start: at(7, 0), End: at(9, 0), Interval: time.Minute}

	var got []time.Time
	for ts := range r.Slots() {
		got = append(got, ts)
		if len(got) == 2 {
			break
		}
	}
	assert.Len(t, got, 2)
}

// =============================================================================
// FORMAT TESTS
// =============================================================================

func TestFormat_KeepsOffset(t *testing.T) {
	ts, err := timeslot.Parse("2016-01-01T07:06:00+11:00")
	require.NoError(t, err)

	assert.Equal(t, "2016-01-01T07:06:00+11:00", timeslot.Format(ts))
	assert.Equal(t, "2016-01-01T07:06:00+11:00", timeslot.Format(ts.Add(0)))
}

func TestFormat_UTCUsesNumericOffset(t *testing.T) {
	ts := time.Date(2016, time.January, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "2016-01-01T00:00:00+00:00", timeslot.Format(ts))
}

func TestFormat_FractionalSecondsOnlyWhenPresent(t *testing.T) {
	ts := time.Date(2016, time.January, 1, 0, 0, 0, 500_000_000, sydney)

	assert.Equal(t, "2016-01-01T00:00:00.5+11:00", timeslot.Format(ts))
}

func TestParse_Invalid(t *testing.T) {
	_, err := timeslot.Parse("2016-01-01 07:06")
	assert.ErrorIs(t, err, timeslot.ErrInvalidTime)

	_, err = timeslot.Parse("2016-01-01T07:06:00")
	assert.ErrorIs(t, err, timeslot.ErrInvalidTime)
}
