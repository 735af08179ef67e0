package timeslot

import "errors"

var (
	// ErrInvalidInterval is returned when a range has a zero or negative step.
	ErrInvalidInterval = errors.New("invalid interval: must be positive")

	// ErrInvalidTime is returned when a timestamp cannot be parsed.
	ErrInvalidTime = errors.New("invalid time: expected RFC3339 with offset")
)
