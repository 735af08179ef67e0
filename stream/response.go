package stream

import (
	"net/http"
)

// ContentTypeJSON is the only body representation the service produces.
const ContentTypeJSON = "application/json"

// Response is an http.ResponseWriter with an explicit start.
//
// A Response begins NotStarted: headers may still be changed and nothing has
// been sent. Start sends the status line and headers exactly once and moves
// it to Streaming; only then does Write accept body bytes.
type Response struct {
	w           http.ResponseWriter
	contentType string
	status      int
	started     bool
}

// NewResponse wraps w for a single request.
func NewResponse(w http.ResponseWriter) *Response {
	return &Response{w: w, contentType: ContentTypeJSON}
}

// SetContentType overrides the Content-Type sent by Start. It has no effect
// once the response has started.
func (r *Response) SetContentType(ct string) {
	if !r.started {
		r.contentType = ct
	}
}

// Start sends the status and headers.
func (r *Response) Start(status int) error {
	if r.started {
		return ErrAlreadyStarted
	}
	r.started = true
	r.status = status
	r.w.Header().Set("Content-Type", r.contentType)
	r.w.WriteHeader(status)
	return nil
}

// Started reports whether headers have been sent.
func (r *Response) Started() bool { return r.started }

// Status is the code sent by Start, or zero before it.
func (r *Response) Status() int { return r.status }

// Write sends body bytes. It fails with ErrNotStarted before Start.
func (r *Response) Write(p []byte) (int, error) {
	if !r.started {
		return 0, ErrNotStarted
	}
	return r.w.Write(p)
}
