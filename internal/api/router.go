package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.withRequestID)
	r.Use(s.withAccessLog)
	r.Use(s.withRecovery)
	r.Use(s.withBodyLimit)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/session", s.handleSessionStatus)

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", s.handleListSubscriptions)
			r.Post("/", s.handleSubscribe)
			r.Delete("/", s.handleUnsubscribe)
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports the broker connection state and every registered
// component. It answers 503 when any of them fails its check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.session.Status()

	checks := make(map[string]string, len(s.components)+1)
	healthy := true
	record := func(name string, err error) {
		if err != nil {
			checks[name] = err.Error()
			healthy = false
			return
		}
		checks[name] = "ok"
	}

	record("mqtt", s.session.HealthCheck(r.Context()))
	for name, c := range s.components {
		record(name, c.HealthCheck(r.Context()))
	}

	code, overall := http.StatusOK, "ok"
	if !healthy {
		code, overall = http.StatusServiceUnavailable, "degraded"
	}
	writeJSON(w, code, map[string]any{
		"status":     overall,
		"version":    s.version,
		"mqtt":       status.State,
		"components": checks,
	})
}
