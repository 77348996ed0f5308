package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-pool/internal/bridges/pool"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Get("/metrics", s.handleMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/circuits", func(r chi.Router) {
			r.Get("/", s.handleListCircuits)
			r.Post("/refresh", s.handleRefresh)

			r.Route("/{number}", func(r chi.Router) {
				r.Get("/", s.handleGetCircuit)
				r.Put("/state", s.handleSetState)
				r.Put("/setpoint", s.handleSetSetpoint)
				r.Put("/heat-mode", s.handleSetHeatMode)
				r.Get("/history", s.handleGetHistory)
			})
		})
	})

	return r
}

// handleHealth returns the bridge health, or a minimal status when the
// server runs without a bridge.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.bridge == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"version":    s.version,
			"controller": s.controller.Address(),
			"circuits":   len(s.controller.Entities()),
		})
		return
	}

	health := s.bridge.Health()
	status := http.StatusOK
	if health.Status != pool.HealthHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// handleMetrics serves the Prometheus exposition.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeNotFound(w, "metrics disabled")
		return
	}
	s.metrics.ServeHTTP(w, r)
}
