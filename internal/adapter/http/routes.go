package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Todos (reference aggregate)
		r.Get("/todos", h.ListTodos)
		r.Post("/todos", h.CreateTodo)
		r.Get("/todos/{id}", h.GetTodo)
		r.Post("/todos/{id}/rename", h.RenameTodo)
		r.Post("/todos/{id}/complete", h.CompleteTodo)
		r.Post("/todos/{id}/reopen", h.ReopenTodo)
		r.Post("/todos/{id}/archive", h.ArchiveTodo)

		// Event feed
		r.Get("/events", h.ListEvents)
		r.Get("/events/stream", h.StreamEvents)
	})
}
