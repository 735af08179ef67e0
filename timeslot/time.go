package timeslot

import (
	"fmt"
	"time"
)

// =============================================================================
// WIRE FORMAT - RFC3339 with an explicit numeric offset
// =============================================================================

// Layout renders RFC3339 with a numeric offset even for UTC ("+00:00", never
// "Z"). Fractional seconds appear only when non-zero.
const Layout = "2006-01-02T15:04:05.999999999-07:00"

// Format renders t in its own offset. The offset is never normalized.
func Format(t time.Time) string {
	return t.Format(Layout)
}

// Parse reads an RFC3339 timestamp and keeps the offset it was written with.
func Parse(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	return t, nil
}
