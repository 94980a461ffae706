// Package httptransport assembles the public HTTP surface: shared
// middleware, operational endpoints and the authenticated module routes.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	platformmetrics "auditflow/internal/platform/metrics"
	"auditflow/pkg/platform/httputil"
	authmw "auditflow/pkg/platform/middleware/auth"
	request "auditflow/pkg/platform/middleware/request"
	"auditflow/pkg/platform/middleware/requesttime"
)

const healthTimeout = 2 * time.Second

// Registrar mounts a module's routes.
type Registrar interface {
	Register(r chi.Router)
}

// Deps are the pieces the router is built from.
type Deps struct {
	Approvals Registrar
	SLA       Registrar
	Validator authmw.JWTValidator
	Metrics   *platformmetrics.Metrics
	Gatherer  prometheus.Gatherer
	Health    func(ctx context.Context) error
	Logger    *slog.Logger
}

// NewRouter wires all public endpoints. /health and /metrics are open;
// module routes require a bearer token.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(logger))
	r.Use(request.Logger(logger))
	r.Use(requesttime.Middleware)
	r.Use(deps.Metrics.Middleware)

	r.Get("/health", handleHealth(deps.Health, logger))
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(deps.Validator, logger))
		if deps.Approvals != nil {
			deps.Approvals.Register(r)
		}
		if deps.SLA != nil {
			deps.SLA.Register(r)
		}
	})
	return r
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func handleHealth(check func(ctx context.Context) error, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check == nil {
			httputil.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := check(ctx); err != nil {
			logger.WarnContext(ctx, "health check failed", "error", err)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: err.Error()})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}
