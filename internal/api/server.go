// SPDX-License-Identifier: MIT

// Package api exposes the daemon's HTTP control surface: starting,
// inspecting and cancelling transfer sessions, plus health and metrics.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vidpipe/vidpipe/internal/pipeline/manager"
)

// Server wires the session manager into HTTP handlers.
type Server struct {
	mgr *manager.Manager
}

// New creates the API server around a session manager.
func New(mgr *manager.Manager) *Server {
	return &Server{mgr: mgr}
}

// Router builds the daemon's route table.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(requestID)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/convert", s.handleConvert)
		r.Get("/sessions", s.handleListSessions)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleCancelSession)
			r.Get("/events", s.handleSessionEvents)
		})
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
