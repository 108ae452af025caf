package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system/metrics", s.handleSystemMetrics)

		if s.webhook != nil {
			r.Post("/webhook/mqtt/{deviceId}", s.handleWebhook)
		}

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Get("/stats", s.handleDeviceStats)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/sensors", s.handleListSensors)
			})
		})

		r.Route("/ingest", func(r chi.Router) {
			r.Get("/connections", s.handleListConnections)
			r.Post("/resync", s.handleResync)
		})
	})

	if s.wsCfg.Path != "" {
		r.Get(s.wsCfg.Path, s.handleWebSocket)
	}

	if s.metricsCfg.Enabled && s.gatherer != nil {
		r.Handle(s.metricsCfg.Path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"version":     s.version,
		"connections": len(s.pool.Snapshot()),
	})
}
