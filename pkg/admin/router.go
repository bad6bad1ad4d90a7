// Package admin serves the operator HTTP API: health probes, Prometheus
// metrics, and authenticated status and lifecycle control.
package admin

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the chi router.
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe (200 only in START)
//   - GET /metrics - Prometheus scrape endpoint, when reg is not nil
//   - POST /api/v1/auth/login - Token issue
//   - GET /api/v1/status - Lifecycle status, sessions and queue depth
//   - POST /api/v1/lifecycle/start - Write START
//   - POST /api/v1/lifecycle/stop - Request a drain
func NewRouter(ctrl Controller, creds Credentials, jwtService *JWTService, reg *prometheus.Registry) http.Handler {
	h := &handler{
		ctrl:      ctrl,
		creds:     creds,
		jwt:       jwtService,
		startTime: time.Now(),
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.Liveness)
		r.Get("/ready", h.Readiness)
	})

	if reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(JWTAuth(jwtService))

			r.Get("/status", h.Status)
			r.Post("/lifecycle/start", h.Start)
			r.Post("/lifecycle/stop", h.Stop)
		})
	})

	return r
}
