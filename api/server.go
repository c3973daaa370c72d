/*
server.go - HTTP router configuration

PURPOSE:
  Wires URLs to handlers with chi. This surface is the boundary the
  dialogue/bot layer calls; it introduces no business logic of its own.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for local tooling

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/limitd/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/limits", h.CreateLimit)
		r.Post("/expenses", h.RecordExpense)
		r.Get("/periods", h.ListPeriods)

		r.Route("/users/{userID}/limits", func(r chi.Router) {
			r.Get("/", h.ListLimits)
			r.Get("/summary", h.ListSummaries)
			r.Delete("/{title}", h.DeleteLimit)
		})
	})

	return r
}
