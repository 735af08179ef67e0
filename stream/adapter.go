/*
Package stream writes JSON documents into byte-oriented sinks fragment by
fragment.

PURPOSE:
  The encoder produces text fragments; HTTP response bodies, files and
  stdout accept bytes. Adapter bridges the two, and Response makes the
  "headers go out before the first body byte" rule explicit.

PIPELINE:
  Encoder --WriteString--> Adapter --Write--> Response --> http.ResponseWriter

ERRORS:
  Adapter collapses every transport failure into ErrWrite. Callers learn
  that the write failed, not why. Bytes already sent stay sent.

SEE ALSO:
  - encoder.go: Streaming JSON encoder
  - response.go: Two-state HTTP response
  - api/handlers.go: Uses the full pipeline
*/
package stream

import "io"

// TextSink accepts UTF-8 string fragments.
type TextSink interface {
	WriteString(s string) error
}

// Adapter exposes a byte writer as a TextSink.
type Adapter struct {
	w io.Writer
}

// NewAdapter wraps w. The adapter should be the only writer of w.
func NewAdapter(w io.Writer) *Adapter {
	return &Adapter{w: w}
}

// WriteString writes the fragment's bytes. Empty fragments never reach the
// underlying writer.
func (a *Adapter) WriteString(s string) error {
	if len(s) == 0 {
		return nil
	}
	n, err := a.w.Write([]byte(s))
	if err != nil || n != len(s) {
		return ErrWrite
	}
	return nil
}
