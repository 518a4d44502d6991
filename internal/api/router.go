package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Route("/blocks/{id}", func(r chi.Router) {
		r.Get("/", h.GetBlock)
		r.Put("/", h.PutBlock)
		r.Post("/preview", h.PreviewBlock)
		r.Post("/generate", h.GenerateBlock)
	})
	r.Get("/aliases/{name}", h.GetAlias)

	r.Post("/preview", h.Preview)
	r.Post("/generate", h.Generate)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
