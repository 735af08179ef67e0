/*
server.go - HTTP router and middleware configuration

ROUTER: chi
  Routes are literal paths; there are no URL parameters. Anything else
  falls through to chi's 404.

MIDDLEWARE STACK:
  1. RequestID:      Unique ID per request for tracing
  2. RequestLogger:  zap access log
  3. Recoverer:      Panic recovery (500 instead of crash)
  4. Metrics:        Per-route request counters
  5. CORS:           Only when allowed origins are configured

SECURITY NOTE:
  No authentication. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions tunes NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(h.Metrics.Middleware)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))
	}

	r.Get("/", h.Hello)
	r.Get("/times", h.ListTimes)
	r.Post("/times", h.CreateTime)
	r.Get("/healthz", h.Health)
	r.Get("/metrics", h.MetricsHandler)

	return r
}
