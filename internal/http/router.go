// Package httpapi assembles the full HTTP surface: middleware chain, domain
// handlers, and the operational endpoints.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cardvault/internal/platform/metrics"
	"cardvault/internal/platform/middleware"
	"cardvault/pkg/platform/httputil"
)

// Registrar mounts a handler's routes on a router.
type Registrar interface {
	Register(r chi.Router)
}

// HealthCheck reports one dependency's availability.
type HealthCheck func(ctx context.Context) error

// Deps carries everything the router needs. Handlers are Registrars so this
// package stays free of domain imports.
type Deps struct {
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	TokenValidator middleware.TokenValidator

	// Public mounts skip authentication (token issuance, read-only probes).
	// They sit behind a per-IP rate limit since nothing else guards them.
	Public []Registrar
	// Authenticated mounts sit behind RequireAuth.
	Authenticated []Registrar

	// HealthChecks gate readiness; an empty map is always ready.
	HealthChecks map[string]HealthCheck

	RequestTimeout time.Duration
}

// Unauthenticated endpoints get a flat per-IP budget. 30/min is generous for
// the challenge-sign-redeem flow and still starves brute-force attempts.
const (
	publicRateLimit  = 30
	publicRateWindow = time.Minute
)

// NewRouter builds the chi router with the standard middleware chain.
func NewRouter(deps Deps) http.Handler {
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.Logger(deps.Logger))
	if deps.Metrics != nil {
		r.Use(middleware.Latency(deps.Metrics))
	}
	r.Use(middleware.Timeout(timeout))
	r.Use(middleware.ContentTypeJSON)

	r.Get("/healthz", handleLiveness)
	r.Get("/readyz", handleReadiness(deps.HealthChecks))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(middleware.NewLimiter(publicRateLimit, publicRateWindow)))
		for _, registrar := range deps.Public {
			registrar.Register(r)
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(deps.TokenValidator, deps.Logger))
		for _, registrar := range deps.Authenticated {
			registrar.Register(r)
		}
	})

	return r
}

func handleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleReadiness(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}
		httputil.WriteJSON(w, status, results)
	}
}
