package stream

import "errors"

var (
	// ErrWrite is the single error an Adapter reports for any failed write.
	// The transport's own error is not carried across.
	ErrWrite = errors.New("stream: write failed")

	// ErrNotStarted is returned when body bytes are written before Start.
	ErrNotStarted = errors.New("stream: response not started")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("stream: response already started")
)
