package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced; the peer
// endpoints sit behind the same middleware, so replicas authenticate with
// the same token remote transports send.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(h *Handler, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Annotation operations.
	r.Get("/namespaces/{namespace}/notes/{target}", h.GetHead)
	r.Get("/namespaces/{namespace}/notes/{target}/history", h.GetHistory)
	r.Post("/namespaces/{namespace}/notes/{target}", h.SetNote)
	r.Post("/namespaces/{namespace}/notes/{target}/import", h.ImportComments)

	// Caller-initiated synchronization.
	r.Post("/sync/{remote}/{namespace}/fetch", h.Fetch)
	r.Post("/sync/{remote}/{namespace}/push", h.Push)

	// Peer endpoints other replicas sync against.
	r.Get("/peer/{namespace}/heads", h.peer.Heads)
	r.Get("/peer/entries/{id}", h.peer.Entry)
	r.Get("/peer/payloads/{id}", h.peer.Payload)
	r.Put("/peer/{namespace}/heads/{target}", h.peer.UpdateHead)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
