/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, included in request logs
  2. RealIP:     Client address from X-Forwarded-For / X-Real-IP
  3. Logger:     zap request logging (Warn for 4xx, Error for 5xx)
  4. Tracing:    W3C trace context propagation
  5. Metrics:    Request durations by route pattern
  6. Recoverer:  Panic recovery (500 instead of crash)
  7. CORS:       Cross-origin requests for the console frontend

ROUTE GROUPS:
  /healthz              Liveness, plus a store ping when the store supports it
  /metrics              Prometheus metrics
  /api/schedules/*      Stateless schedule preview
  /api/drafts/*         Edit sessions
  /api/policies/*       Policy list, deletion and persisted installments
  /api/installments/*   Payments

SECURITY NOTE:
  No authentication middleware. The console is expected to sit behind the
  operator's gateway; the Policy API credentials never leave this process.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/policy-installments/observability"
	"go.uber.org/zap"
)

// DefaultCORSOrigins are the console dev servers.
var DefaultCORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// RouterOptions configures NewRouter. Metrics and Logger are optional.
type RouterOptions struct {
	CORSOrigins []string
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

// pinger is implemented by stores that can check their connection.
type pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = DefaultCORSOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	if opts.Metrics != nil {
		r.Use(observability.MetricsMiddleware(opts.Metrics))
	}
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)
	if opts.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Post("/schedules/preview", h.PreviewSchedule)

		// Draft routes
		r.Route("/drafts", func(r chi.Router) {
			r.Get("/", h.ListDrafts)
			r.Post("/", h.CreateDraft)
			r.Get("/{id}", h.GetDraft)
			r.Delete("/{id}", h.DeleteDraft)
			r.Post("/{id}/generate", h.GenerateDraft)
			r.Post("/{id}/reset", h.ResetDraft)
			r.Delete("/{id}/installments/{localID}", h.RemoveInstallment)
			r.Patch("/{id}/installments/{localID}", h.EditInstallment)
			r.Post("/{id}/submit", h.SubmitDraft)
		})

		// Policy routes
		r.Get("/policies", h.ListPolicies)
		r.Delete("/policies/{id}", h.DeletePolicy)
		r.Get("/policies/{id}/installments", h.GetPolicyInstallments)
		r.Post("/installments/{id}/pay", h.PayInstallment)
	})

	return r
}

// Health reports liveness. Stores that can be pinged are checked too.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.drafts.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Draft store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
