// Package search orchestrates similarity search: it turns text, image or
// video queries into embeddings and runs them against the segment index.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mcastelli/vidmatch/internal/config"
	"github.com/mcastelli/vidmatch/internal/embed"
	"github.com/mcastelli/vidmatch/internal/objectstore"
	"github.com/mcastelli/vidmatch/internal/store"
	"github.com/mcastelli/vidmatch/pkg/models"
)

var (
	// ErrInvalidRequest means the query is missing its text or media input.
	ErrInvalidRequest = errors.New("invalid search request")
	// ErrQueryEmbedding means the query video produced no usable embeddings.
	ErrQueryEmbedding = errors.New("no query embeddings extracted")
)

// videoPollInterval is how often a blocking video query polls the provider.
const videoPollInterval = 3 * time.Second

// Request holds one similarity query. PageLimit and MinSimilarity fall back
// to the configured defaults when zero.
type Request struct {
	QueryText     string
	MediaURL      string
	Filter        models.SearchFilter
	Modalities    []string
	PageLimit     int
	MinSimilarity float64
}

// Result is a segment match enriched with a presigned playback URL.
type Result struct {
	models.SegmentMatch
	URL string `json:"url,omitempty"`
}

// Service runs similarity searches.
type Service struct {
	embedder *embed.Service
	searcher store.Searcher
	objects  objectstore.ObjectStore
	cfg      config.SearchConfig
	signTTL  time.Duration
}

// NewService creates a search Service.
func NewService(embedder *embed.Service, searcher store.Searcher, objects objectstore.ObjectStore, cfg config.SearchConfig, signTTL time.Duration) *Service {
	return &Service{
		embedder: embedder,
		searcher: searcher,
		objects:  objects,
		cfg:      cfg,
		signTTL:  signTTL,
	}
}

// Text searches by natural-language query.
func (s *Service) Text(ctx context.Context, req Request) ([]Result, error) {
	if req.QueryText == "" {
		return nil, fmt.Errorf("%w: query_text is required", ErrInvalidRequest)
	}

	embedding, err := s.embedder.TextEmbedding(ctx, req.QueryText)
	if err != nil {
		return nil, fmt.Errorf("embedding text query: %w", err)
	}
	return s.single(ctx, embedding, req)
}

// Image searches by image URL.
func (s *Service) Image(ctx context.Context, req Request) ([]Result, error) {
	if req.MediaURL == "" {
		return nil, fmt.Errorf("%w: media_url is required", ErrInvalidRequest)
	}

	embedding, err := s.embedder.ImageEmbedding(ctx, req.MediaURL)
	if err != nil {
		return nil, fmt.Errorf("embedding image query: %w", err)
	}
	return s.single(ctx, embedding, req)
}

// Video searches by example video. The query video is embedded synchronously:
// the provider job is polled until it finishes, bounded by ctx. Video-scope
// segments of the requested modalities become the query vectors; multiple
// vectors share one result page ranked globally.
func (s *Service) Video(ctx context.Context, req Request) ([]Result, error) {
	if req.MediaURL == "" {
		return nil, fmt.Errorf("%w: media_url is required", ErrInvalidRequest)
	}

	modalities := req.Modalities
	if len(modalities) == 0 {
		modalities = []string{models.ModalityVisualText}
	}

	embeddings, err := s.videoQueryEmbeddings(ctx, req.MediaURL, modalities)
	if err != nil {
		return nil, err
	}

	if len(embeddings) == 1 {
		return s.single(ctx, embeddings[0], req)
	}

	limit, minSim := s.defaults(req)
	matches, err := s.searcher.FindSimilarBatch(ctx, embeddings, req.Filter, limit, minSim)
	if err != nil {
		return nil, fmt.Errorf("batch similarity search: %w", err)
	}
	return s.withURLs(ctx, matches), nil
}

func (s *Service) single(ctx context.Context, embedding []float32, req Request) ([]Result, error) {
	limit, minSim := s.defaults(req)
	matches, err := s.searcher.FindSimilar(ctx, embedding, req.Filter, limit, minSim)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	return s.withURLs(ctx, matches), nil
}

func (s *Service) defaults(req Request) (int, float64) {
	limit := req.PageLimit
	if limit <= 0 {
		limit = s.cfg.PageLimit
	}
	minSim := req.MinSimilarity
	if minSim <= 0 {
		minSim = s.cfg.MinSimilarity
	}
	return limit, minSim
}

// videoQueryEmbeddings runs one blocking embedding job for the query video
// and returns its video-scope vectors for the requested modalities.
func (s *Service) videoQueryEmbeddings(ctx context.Context, mediaURL string, modalities []string) ([][]float32, error) {
	provider := s.embedder.Provider()

	jobID, err := provider.CreateVideoJob(ctx, mediaURL, s.embedder.VideoOptions())
	if err != nil {
		return nil, fmt.Errorf("creating query embedding job: %w", err)
	}
	slog.Info("query video embedding job created", "job_id", jobID)

	if err := s.waitForJob(ctx, jobID); err != nil {
		return nil, err
	}

	result, err := provider.RetrieveVideoResult(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("retrieving query embeddings: %w", err)
	}

	wanted := make(map[string]bool, len(modalities))
	for _, m := range modalities {
		wanted[m] = true
	}

	var embeddings [][]float32
	for _, seg := range result.Segments {
		if seg.Scope == models.ScopeVideo && wanted[seg.Modality] {
			embeddings = append(embeddings, seg.Embedding)
		}
	}
	if len(embeddings) == 0 {
		return nil, ErrQueryEmbedding
	}
	return embeddings, nil
}

func (s *Service) waitForJob(ctx context.Context, jobID string) error {
	ticker := time.NewTicker(videoPollInterval)
	defer ticker.Stop()

	for {
		status, err := s.embedder.Provider().JobStatus(ctx, jobID)
		if err != nil {
			return fmt.Errorf("polling query embedding job: %w", err)
		}
		switch status {
		case models.EmbedJobReady:
			return nil
		case models.EmbedJobFailed:
			return fmt.Errorf("%w: provider reported job failed", ErrQueryEmbedding)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("waiting for query embedding: %w", ctx.Err())
		}
	}
}

// withURLs attaches a presigned playback URL to every match. A signing
// failure degrades the result, it does not drop it.
func (s *Service) withURLs(ctx context.Context, matches []models.SegmentMatch) []Result {
	results := make([]Result, 0, len(matches))
	for _, match := range matches {
		url, err := s.objects.PresignedGetURL(ctx, match.Video.ObjectRef, s.signTTL)
		if err != nil {
			slog.Warn("presigning result url", "object", match.Video.ObjectRef.String(), "error", err)
		}
		results = append(results, Result{SegmentMatch: match, URL: url})
	}
	return results
}
