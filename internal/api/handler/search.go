package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcastelli/vidmatch/internal/api/response"
	"github.com/mcastelli/vidmatch/internal/embed"
	"github.com/mcastelli/vidmatch/internal/search"
	"github.com/mcastelli/vidmatch/pkg/models"
)

// Searcher defines the search operations the handler depends on.
type Searcher interface {
	Text(ctx context.Context, req search.Request) ([]search.Result, error)
	Image(ctx context.Context, req search.Request) ([]search.Result, error)
	Video(ctx context.Context, req search.Request) ([]search.Result, error)
}

// NewSearchHandler returns an http.HandlerFunc for POST /api/v1/search.
// The query_type field selects the query modality.
func NewSearchHandler(svc Searcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			QueryType     string              `json:"query_type"`
			QueryText     string              `json:"query_text"`
			MediaURL      string              `json:"media_url"`
			Modalities    []string            `json:"modalities"`
			Filter        models.SearchFilter `json:"filter"`
			PageLimit     int                 `json:"page_limit"`
			MinSimilarity float64             `json:"min_similarity"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if req.PageLimit < 0 || req.MinSimilarity < 0 || req.MinSimilarity >= 1 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"page_limit must be non-negative and min_similarity in [0, 1)", nil)
			return
		}

		searchReq := search.Request{
			QueryText:     req.QueryText,
			MediaURL:      req.MediaURL,
			Modalities:    req.Modalities,
			Filter:        req.Filter,
			PageLimit:     req.PageLimit,
			MinSimilarity: req.MinSimilarity,
		}

		var (
			results []search.Result
			err     error
		)
		switch req.QueryType {
		case "text":
			results, err = svc.Text(r.Context(), searchReq)
		case "image":
			results, err = svc.Image(r.Context(), searchReq)
		case "video":
			results, err = svc.Video(r.Context(), searchReq)
		case "audio":
			response.Error(w, http.StatusBadRequest, "UNSUPPORTED_QUERY_TYPE",
				"Audio search is not yet implemented", nil)
			return
		default:
			response.Error(w, http.StatusBadRequest, "UNSUPPORTED_QUERY_TYPE",
				"query_type must be one of text, image, video", nil)
			return
		}

		if err != nil {
			switch {
			case errors.Is(err, search.ErrInvalidRequest), errors.Is(err, embed.ErrEmptyQuery):
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			case errors.Is(err, search.ErrQueryEmbedding):
				response.Error(w, http.StatusUnprocessableEntity, "QUERY_EMBEDDING_FAILED",
					"The query media could not be embedded", nil)
			default:
				response.Error(w, http.StatusBadGateway, "SEARCH_FAILED",
					"Search could not be completed", nil)
			}
			return
		}

		if results == nil {
			results = []search.Result{}
		}
		response.JSON(w, results)
	}
}
