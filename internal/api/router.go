package api

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
)

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/scan", s.handleLastScan)
		r.Get("/audit", s.handleListAudit)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/properties/{key}", s.handleGetProperty)
			})
		})

		r.Get("/ws", s.handleWebSocket)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})

	return r
}

type componentHealth struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleHealth reports "ok", or "degraded" with 503 when any check fails.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status, code := "ok", http.StatusOK
	components := make([]componentHealth, 0, len(names))
	for _, name := range names {
		c := componentHealth{Name: name, Status: "ok"}
		if err := s.checks[name].HealthCheck(r.Context()); err != nil {
			c.Status, c.Error = "error", err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
		}
		components = append(components, c)
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"devices":    s.registry.DeviceCount(),
		"ws_clients": s.hub.ClientCount(),
		"components": components,
	})
}

func (s *Server) handleLastScan(w http.ResponseWriter, _ *http.Request) {
	report := s.lastScanReport()
	if report == nil {
		writeNotFound(w, "no scan has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
