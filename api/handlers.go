/*
handlers.go - HTTP handlers for the timeslots service

ENDPOINTS:
  GET    /          Plain-text greeting
  GET    /times     All stored instants as a JSON array
  POST   /times     Record one instant
  GET    /healthz   Liveness plus record count
  GET    /metrics   Prometheus text exposition

REQUEST FLOW (GET /times):
  1. Take the store connection (EachTime holds the lock)
  2. Map every row to a TimeDTO while still holding it
  3. Release the lock; the slice is complete
  4. Start the response, stream the slice through the encoder

ERROR HANDLING:
  Failures before the response starts are returned as JSON:
  - 400: Invalid body or timestamp
  - 409: Instant already recorded
  - 500: Store errors
  Once the response has started nothing else is sent; a failed write
  leaves a truncated body and is logged.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - stream/: Response, Adapter and Encoder
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/warp/timeslots/store/sqlite"
	"github.com/warp/timeslots/stream"
	"github.com/warp/timeslots/timeslot"
)

// Greeting is the body of GET /.
const Greeting = "Hälló, wørld\n"

const maxRequestBody = 1 << 10

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   *sqlite.Store
	Log     *zap.Logger
	Metrics *Metrics
}

// NewHandler creates a new handler with the given store.
func NewHandler(store *sqlite.Store, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Store:   store,
		Log:     log,
		Metrics: NewMetrics(),
	}
}

// =============================================================================
// TIME HANDLERS
// =============================================================================

// ListTimes returns every stored instant in store order.
func (h *Handler) ListTimes(w http.ResponseWriter, r *http.Request) {
	dtos := make([]TimeDTO, 0)
	err := h.Store.EachTime(r.Context(), func(t time.Time) error {
		dtos = append(dtos, toTimeDTO(t))
		return nil
	})
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "Failed to list times", err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, dtos)
}

// CreateTime records one instant.
func (h *Handler) CreateTime(w http.ResponseWriter, r *http.Request) {
	var req CreateTimeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	t, err := timeslot.Parse(req.Time)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "Invalid time format (use RFC3339 with offset)", err)
		return
	}

	if err := h.Store.Insert(r.Context(), t); err != nil {
		if errors.Is(err, sqlite.ErrDuplicateTime) {
			h.writeError(w, r, http.StatusConflict, "Time already recorded", err)
			return
		}
		h.writeError(w, r, http.StatusInternalServerError, "Failed to record time", err)
		return
	}

	h.writeJSON(w, r, http.StatusCreated, toTimeDTO(t))
}

// =============================================================================
// SERVICE HANDLERS
// =============================================================================

// Hello writes the plain-text greeting.
func (h *Handler) Hello(w http.ResponseWriter, r *http.Request) {
	res := stream.NewResponse(w)
	res.SetContentType("text/plain; charset=utf-8")
	if err := res.Start(http.StatusOK); err != nil {
		h.Log.Error("start response", zap.Error(err))
		return
	}
	if err := stream.NewAdapter(res).WriteString(Greeting); err != nil {
		h.writeFailed(r, res, err)
	}
}

// Health reports liveness and the number of stored instants.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	n, err := h.Store.Count(r.Context())
	if err != nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "Store unavailable", err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, HealthDTO{Status: "ok", Records: n})
}

// =============================================================================
// HELPERS
// =============================================================================

// writeJSON starts the response and streams data into it.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	res := stream.NewResponse(w)
	if err := res.Start(status); err != nil {
		h.Log.Error("start response", zap.Error(err))
		return
	}
	if err := stream.NewEncoder(stream.NewAdapter(res)).Encode(data); err != nil {
		h.writeFailed(r, res, err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
		fields := []zap.Field{zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err)}
		if status >= http.StatusInternalServerError {
			h.Log.Error(message, fields...)
		} else {
			h.Log.Debug(message, fields...)
		}
	}
	h.writeJSON(w, r, status, resp)
}

// writeFailed records a body that could not be completed.
func (h *Handler) writeFailed(r *http.Request, res *stream.Response, err error) {
	h.Metrics.WriteFailed()
	h.Log.Warn("response truncated",
		zap.String("path", r.URL.Path),
		zap.Int("status", res.Status()),
		zap.Error(err),
	)
}
