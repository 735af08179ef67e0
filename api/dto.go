/*
dto.go - JSON shapes for API requests and responses

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

FIELD ORDER:
  Responses are streamed in declared field order, so the order here is
  the order on the wire.

SEE ALSO:
  - handlers.go: Uses these types
  - stream/encoder.go: Writes them
*/
package api

import (
	"time"

	"github.com/warp/timeslots/timeslot"
)

// TimeDTO is one stored instant, RFC3339 in its recorded offset.
type TimeDTO struct {
	Time string `json:"time"`
}

func toTimeDTO(t time.Time) TimeDTO {
	return TimeDTO{Time: timeslot.Format(t)}
}

// CreateTimeRequest is the body of POST /times.
type CreateTimeRequest struct {
	Time string `json:"time"`
}

// HealthDTO is the body of GET /healthz.
type HealthDTO struct {
	Status  string `json:"status"`
	Records int    `json:"records"`
}

// ErrorResponse is returned for failures detected before a body is streamed.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
