// Package api wires the HTTP surface: routing, middleware and handlers.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/mcastelli/vidmatch/internal/api/middleware"
	"github.com/mcastelli/vidmatch/internal/api/response"
)

// Dependencies holds all handler dependencies for the router.
type Dependencies struct {
	HealthHandler http.HandlerFunc

	SearchHandler http.HandlerFunc

	ListVideosHandler  http.HandlerFunc
	GetVideoHandler    http.HandlerFunc
	DeleteVideoHandler http.HandlerFunc

	ListTasksHandler http.HandlerFunc
	GetTaskHandler   http.HandlerFunc

	UploadLinkHandler http.HandlerFunc
}

// NewRouter builds the Chi router with the middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Post("/api/v1/search", orNotImplemented(deps.SearchHandler))

	r.Get("/api/v1/videos", orNotImplemented(deps.ListVideosHandler))
	r.Get("/api/v1/videos/lookup", orNotImplemented(deps.GetVideoHandler))
	r.Delete("/api/v1/videos", orNotImplemented(deps.DeleteVideoHandler))

	r.Get("/api/v1/tasks", orNotImplemented(deps.ListTasksHandler))
	r.Get("/api/v1/tasks/{taskID}", orNotImplemented(deps.GetTaskHandler))

	r.Post("/api/v1/uploads", orNotImplemented(deps.UploadLinkHandler))

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
