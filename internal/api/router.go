package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Unauthenticated monitoring
		r.Get("/health", s.handleHealth)
		if s.metrics != nil {
			r.Handle("/metrics", s.metrics)
		}

		// WebSocket authenticates with a ticket in the handler
		r.Get(s.wsPath(), s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/node", func(r chi.Router) {
				r.Get("/status", s.handleNodeStatus)
				r.Get("/options", s.handleGetOptions)
				r.Get("/logs", s.handleNodeLogs)
				r.Get("/events", s.handleNodeEvents)

				r.Group(func(r chi.Router) {
					r.Use(s.requireOperator)

					r.Post("/spawn", s.handleSpawn)
					r.Post("/kill", s.handleKill)
					r.Patch("/options", s.handlePatchOptions)
					r.Post("/options/reset", s.handleResetOptions)
					r.Delete("/storage", s.handleRemoveStorage)
				})
			})
		})
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"node":    s.node.Name(),
	})
}
