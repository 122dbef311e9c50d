package embed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mcastelli/vidmatch/internal/cache"
	"github.com/mcastelli/vidmatch/internal/config"
	"github.com/mcastelli/vidmatch/pkg/models"
)

// ErrEmptyQuery is returned when a query embedding is requested for empty input.
var ErrEmptyQuery = errors.New("empty query")

// Service computes query embeddings through the provider, fronted by the
// content-addressable cache so repeated queries skip the provider entirely.
type Service struct {
	provider models.EmbedProvider
	cache    cache.Cache
	cfg      config.EmbedConfig
}

// NewService creates a cache-backed embedding service.
func NewService(provider models.EmbedProvider, ca cache.Cache, cfg config.EmbedConfig) *Service {
	return &Service{provider: provider, cache: ca, cfg: cfg}
}

// Provider exposes the underlying provider for callers that manage
// asynchronous video jobs themselves.
func (s *Service) Provider() models.EmbedProvider { return s.provider }

// VideoOptions returns the configured segmentation options for video jobs.
func (s *Service) VideoOptions() models.VideoEmbedOptions {
	return models.VideoEmbedOptions{
		ClipLength: s.cfg.ClipLength,
		Scopes:     s.cfg.Scopes,
	}
}

// TextEmbedding returns the embedding for a text query, consulting the cache
// first. Text queries are keyed by the query content itself with a "text"
// scope so they never collide with image or video entries.
func (s *Service) TextEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyQuery
	}
	key := cache.NewKey([]byte(text), s.cfg.Model, 0, []string{"text"})
	return s.cachedEmbedding(ctx, key, func() ([]float32, error) {
		return s.provider.EmbedText(ctx, text)
	})
}

// ImageEmbedding returns the embedding for an image URL, consulting the
// cache first. The URL stands in for the content hash; re-uploading the same
// image under a new URL is a cache miss, which only costs a provider call.
func (s *Service) ImageEmbedding(ctx context.Context, imageURL string) ([]float32, error) {
	if imageURL == "" {
		return nil, ErrEmptyQuery
	}
	key := cache.NewKey([]byte(imageURL), s.cfg.Model, 0, []string{"image"})
	return s.cachedEmbedding(ctx, key, func() ([]float32, error) {
		return s.provider.EmbedImage(ctx, imageURL)
	})
}

func (s *Service) cachedEmbedding(ctx context.Context, key cache.Key, compute func() ([]float32, error)) ([]float32, error) {
	payload, found, err := s.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("embedding cache read failed", "key", key.String(), "error", err)
	}
	if found {
		var vector []float32
		if err := json.Unmarshal(payload, &vector); err == nil && len(vector) > 0 {
			return vector, nil
		}
		slog.Warn("discarding corrupt cache entry", "key", key.String())
	}

	vector, err := compute()
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(vector)
	if err != nil {
		return nil, fmt.Errorf("encoding embedding: %w", err)
	}
	if err := s.cache.Put(ctx, key, encoded, "", s.cfg.CacheDays); err != nil {
		// A failed write only costs a future provider call.
		slog.Warn("embedding cache write failed", "key", key.String(), "error", err)
	}
	return vector, nil
}
