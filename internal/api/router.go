package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/DylanDDeng/notely-sub000/internal/noteservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sync, if nil, makes the /sync routes answer 503.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *noteservice.Service, sync SyncEngine, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc, sync)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Notes CRUD.
	r.Get("/notes", h.ListNotes)
	r.Post("/notes", h.CreateNote)
	r.Get("/notes/*", h.GetNote)
	r.Put("/notes/*", h.UpdateNote)
	r.Delete("/notes/*", h.DeleteNote)

	// Search.
	r.Get("/search", h.Search)
	r.Get("/backlinks", h.Backlinks)

	// Version history.
	r.Route("/history", func(r chi.Router) {
		r.Get("/", h.ListHistory)
		r.Get("/{id}", h.GetVersion)
		r.Patch("/{id}", h.UpdateVersion)
		r.Post("/{id}/restore", h.RestoreVersion)
	})

	// Git sync.
	r.Route("/sync", func(r chi.Router) {
		r.Get("/config", h.SyncConfig)
		r.Post("/connect", h.SyncConnect)
		r.Post("/run", h.SyncRun)
		r.Patch("/settings", h.SyncSettings)
		r.Delete("/credential", h.SyncClearCredential)
	})

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
