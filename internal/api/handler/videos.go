package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/mcastelli/vidmatch/internal/api/response"
	"github.com/mcastelli/vidmatch/internal/store"
	"github.com/mcastelli/vidmatch/pkg/models"
)

// VideoStore defines the video operations the handlers depend on.
type VideoStore interface {
	ListVideos(ctx context.Context, page, limit int) ([]*models.Video, int, error)
	GetVideoByObject(ctx context.Context, ref models.ObjectRef) (*models.Video, error)
	DeleteVideoByObject(ctx context.Context, ref models.ObjectRef) (bool, error)
}

// ObjectRemover deletes the underlying file from object storage.
type ObjectRemover interface {
	Remove(ctx context.Context, ref models.ObjectRef) error
}

// NewListVideosHandler returns an http.HandlerFunc for GET /api/v1/videos.
func NewListVideosHandler(st VideoStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, limit := pagination(r)

		videos, total, err := st.ListVideos(r.Context(), page, limit)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not list videos", nil)
			return
		}
		if videos == nil {
			videos = []*models.Video{}
		}

		response.Collection(w, videos, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}

// NewGetVideoHandler returns an http.HandlerFunc for GET /api/v1/videos/lookup.
// The video is addressed by its storage location via query parameters.
func NewGetVideoHandler(st VideoStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, ok := objectRefFromQuery(w, r)
		if !ok {
			return
		}

		video, err := st.GetVideoByObject(r.Context(), ref)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Video not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not fetch video", nil)
			return
		}
		response.JSON(w, video)
	}
}

// NewDeleteVideoHandler returns an http.HandlerFunc for DELETE /api/v1/videos.
// Deleting a video cascades to its segments and removes the stored file; a
// storage removal failure leaves an orphaned object, not a dangling row.
func NewDeleteVideoHandler(st VideoStore, objects ObjectRemover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, ok := objectRefFromQuery(w, r)
		if !ok {
			return
		}

		deleted, err := st.DeleteVideoByObject(r.Context(), ref)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not delete video", nil)
			return
		}
		if !deleted {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Video not found", nil)
			return
		}

		if err := objects.Remove(r.Context(), ref); err != nil {
			slog.Warn("removing video object", "object", ref.String(), "error", err)
		}
		response.NoContent(w)
	}
}

func objectRefFromQuery(w http.ResponseWriter, r *http.Request) (models.ObjectRef, bool) {
	ref, err := models.NewObjectRef(r.URL.Query().Get("bucket"), r.URL.Query().Get("key"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"bucket and key query parameters are required", nil)
		return models.ObjectRef{}, false
	}
	return ref, true
}

func pagination(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}
