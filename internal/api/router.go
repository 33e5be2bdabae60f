package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/obiverse/nine-s/internal/ns"
)

// NewRouter creates a chi router with all gateway routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(target ns.Namespace, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(target)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Scroll operations.
	r.Get("/scrolls", h.ListScrolls)
	r.Get("/scrolls/*", h.GetScroll)
	r.Put("/scrolls/*", h.PutScroll)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
