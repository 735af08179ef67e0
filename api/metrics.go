package api

import (
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/warp/timeslots/store/sqlite"
	"github.com/warp/timeslots/stream"
)

// =============================================================================
// METRICS - counters rendered in the Prometheus text format
// =============================================================================

const unmatchedRoute = "unmatched"

// Metrics counts requests and failed response writes.
type Metrics struct {
	mu       sync.Mutex
	requests map[string]uint64

	writeFailures atomic.Uint64
}

// NewMetrics returns zeroed counters.
func NewMetrics() *Metrics {
	return &Metrics{requests: make(map[string]uint64)}
}

// Middleware counts each request under the route it matched.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)

		route := unmatchedRoute
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.mu.Lock()
		m.requests[route]++
		m.mu.Unlock()
	})
}

// WriteFailed counts a response body that could not be completed.
func (m *Metrics) WriteFailed() { m.writeFailures.Add(1) }

// Requests returns the request count for a route pattern.
func (m *Metrics) Requests(route string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[route]
}

// WriteFailures returns the number of truncated responses.
func (m *Metrics) WriteFailures() uint64 { return m.writeFailures.Load() }

// Families renders the counters together with store lock statistics.
func (m *Metrics) Families(stats sqlite.Stats, records int) []*dto.MetricFamily {
	m.mu.Lock()
	routes := make([]string, 0, len(m.requests))
	for route := range m.requests {
		routes = append(routes, route)
	}
	sort.Strings(routes)
	requests := &dto.MetricFamily{
		Name: proto.String("timeslots_http_requests_total"),
		Help: proto.String("HTTP requests served, by route."),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	for _, route := range routes {
		requests.Metric = append(requests.Metric, &dto.Metric{
			Label:   []*dto.LabelPair{{Name: proto.String("path"), Value: proto.String(route)}},
			Counter: &dto.Counter{Value: proto.Float64(float64(m.requests[route]))},
		})
	}
	m.mu.Unlock()

	families := []*dto.MetricFamily{
		counter("timeslots_response_write_failures_total", "Responses truncated by a failed write.",
			float64(m.writeFailures.Load())),
		counter("timeslots_store_acquisitions_total", "Times the store connection was acquired.",
			float64(stats.Acquisitions)),
		counter("timeslots_store_failures_total", "Store critical sections that returned an error.",
			float64(stats.Failures)),
		counter("timeslots_store_wait_seconds_total", "Time spent waiting for the store connection.",
			stats.Wait.Seconds()),
		counter("timeslots_store_hold_seconds_total", "Time the store connection was held.",
			stats.Hold.Seconds()),
		{
			Name:   proto.String("timeslots_records"),
			Help:   proto.String("Instants currently stored."),
			Type:   dto.MetricType_GAUGE.Enum(),
			Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: proto.Float64(float64(records))}}},
		},
	}
	// The text format rejects families without samples.
	if len(requests.Metric) > 0 {
		families = append([]*dto.MetricFamily{requests}, families...)
	}
	return families
}

func counter(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(name),
		Help:   proto.String(help),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: proto.Float64(v)}}},
	}
}

// MetricsHandler writes the text exposition.
func (h *Handler) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.Count(r.Context())
	if err != nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "Store unavailable", err)
		return
	}

	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	res := stream.NewResponse(w)
	res.SetContentType(string(format))
	if err := res.Start(http.StatusOK); err != nil {
		h.Log.Error("start response", zap.Error(err))
		return
	}

	enc := expfmt.NewEncoder(res, format)
	for _, mf := range h.Metrics.Families(h.Store.Stats(), records) {
		if err := enc.Encode(mf); err != nil {
			h.writeFailed(r, res, err)
			return
		}
	}
}
