package search_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcastelli/vidmatch/internal/cache"
	"github.com/mcastelli/vidmatch/internal/config"
	"github.com/mcastelli/vidmatch/internal/embed"
	"github.com/mcastelli/vidmatch/internal/embed/mock"
	"github.com/mcastelli/vidmatch/internal/search"
	"github.com/mcastelli/vidmatch/pkg/models"
)

// --- fakes ---

type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

func (c *memoryCache) Get(_ context.Context, key cache.Key) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, ok := c.entries[key.String()]
	return payload, ok, nil
}

func (c *memoryCache) Put(_ context.Context, key cache.Key, payload []byte, _ string, _ int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key.String()] = payload
	return nil
}

func (c *memoryCache) Ping(context.Context) error { return nil }

// fakeSearcher records what it was asked and returns canned matches.
type fakeSearcher struct {
	matches       []models.SegmentMatch
	err           error
	gotEmbeddings [][]float32
	gotFilter     models.SearchFilter
	gotLimit      int
	gotMinSim     float64
	batchCalled   bool
}

func (f *fakeSearcher) FindSimilar(_ context.Context, embedding []float32, filter models.SearchFilter, limit int, minSim float64) ([]models.SegmentMatch, error) {
	f.gotEmbeddings = [][]float32{embedding}
	f.gotFilter = filter
	f.gotLimit = limit
	f.gotMinSim = minSim
	return f.matches, f.err
}

func (f *fakeSearcher) FindSimilarBatch(_ context.Context, embeddings [][]float32, filter models.SearchFilter, limit int, minSim float64) ([]models.SegmentMatch, error) {
	f.batchCalled = true
	f.gotEmbeddings = embeddings
	f.gotFilter = filter
	f.gotLimit = limit
	f.gotMinSim = minSim
	return f.matches, f.err
}

// fakeObjects only presigns.
type fakeObjects struct {
	signErr error
}

func (o *fakeObjects) Exists(context.Context, models.ObjectRef) (bool, error) { return true, nil }

func (o *fakeObjects) WaitForObject(context.Context, models.ObjectRef, int, time.Duration) error {
	return nil
}

func (o *fakeObjects) PresignedGetURL(_ context.Context, ref models.ObjectRef, _ time.Duration) (string, error) {
	if o.signErr != nil {
		return "", o.signErr
	}
	return "https://storage.test/" + ref.Bucket + "/" + ref.Key + "?signed=1", nil
}

func (o *fakeObjects) PresignedPutURL(_ context.Context, ref models.ObjectRef, _ time.Duration) (string, error) {
	return "https://storage.test/" + ref.Bucket + "/" + ref.Key + "?upload=1", nil
}

func (o *fakeObjects) Open(context.Context, models.ObjectRef) (io.ReadSeekCloser, error) {
	return nil, errors.New("not implemented")
}

func (o *fakeObjects) Remove(context.Context, models.ObjectRef) error { return nil }

// --- helpers ---

func sampleMatch(key string, similarity float64) models.SegmentMatch {
	return models.SegmentMatch{
		SegmentID:  1,
		Modality:   models.ModalityVisualText,
		Scope:      models.ScopeClip,
		StartTime:  0,
		EndTime:    6,
		Similarity: similarity,
		Video: models.Video{
			ID:        1,
			ObjectRef: models.ObjectRef{Bucket: "videos", Key: key},
			Filename:  key,
		},
	}
}

func newTestService(provider *mock.MockProvider, searcher *fakeSearcher, objects *fakeObjects) *search.Service {
	embedCfg := config.EmbedConfig{
		Provider:   "mock",
		Model:      "Marengo-retrieval-2.7",
		ClipLength: 6,
		Scopes:     []string{"clip", "video"},
		CacheDays:  30,
	}
	embedder := embed.NewService(provider, newMemoryCache(), embedCfg)
	cfg := config.SearchConfig{PageLimit: 10, MinSimilarity: 0.2}
	return search.NewService(embedder, searcher, objects, cfg, 10*time.Minute)
}

// --- tests ---

func TestText_ReturnsMatchesWithURLs(t *testing.T) {
	searcher := &fakeSearcher{matches: []models.SegmentMatch{sampleMatch("a.mp4", 0.9)}}
	svc := newTestService(mock.NewMockProvider(), searcher, &fakeObjects{})

	results, err := svc.Text(context.Background(), search.Request{QueryText: "sunset"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].URL, "signed=1")
	assert.Equal(t, 0.9, results[0].Similarity)

	// defaults applied
	assert.Equal(t, 10, searcher.gotLimit)
	assert.Equal(t, 0.2, searcher.gotMinSim)
}

func TestText_EmptyQueryRejected(t *testing.T) {
	svc := newTestService(mock.NewMockProvider(), &fakeSearcher{}, &fakeObjects{})

	_, err := svc.Text(context.Background(), search.Request{})
	assert.ErrorIs(t, err, search.ErrInvalidRequest)
}

func TestText_ExplicitParamsOverrideDefaults(t *testing.T) {
	searcher := &fakeSearcher{}
	svc := newTestService(mock.NewMockProvider(), searcher, &fakeObjects{})

	_, err := svc.Text(context.Background(), search.Request{
		QueryText:     "sunset",
		PageLimit:     3,
		MinSimilarity: 0.7,
		Filter:        models.SearchFilter{Scope: models.ScopeClip},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, searcher.gotLimit)
	assert.Equal(t, 0.7, searcher.gotMinSim)
	assert.Equal(t, models.ScopeClip, searcher.gotFilter.Scope)
}

func TestImage_RequiresMediaURL(t *testing.T) {
	svc := newTestService(mock.NewMockProvider(), &fakeSearcher{}, &fakeObjects{})

	_, err := svc.Image(context.Background(), search.Request{})
	assert.ErrorIs(t, err, search.ErrInvalidRequest)
}

func TestImage_SearchesWithImageEmbedding(t *testing.T) {
	provider := mock.NewMockProvider()
	provider.EmbedImageFunc = func(context.Context, string) ([]float32, error) {
		return []float32{0.5, 0.5}, nil
	}
	searcher := &fakeSearcher{}
	svc := newTestService(provider, searcher, &fakeObjects{})

	_, err := svc.Image(context.Background(), search.Request{MediaURL: "https://example.com/cat.jpg"})
	require.NoError(t, err)
	require.Len(t, searcher.gotEmbeddings, 1)
	assert.Equal(t, []float32{0.5, 0.5}, searcher.gotEmbeddings[0])
}

func videoQuerySegments(t *testing.T) []models.Segment {
	t.Helper()
	clip, err := models.NewSegment(models.ModalityVisualText, models.ScopeClip, 0, 6, []float32{0.1})
	require.NoError(t, err)
	videoA, err := models.NewSegment(models.ModalityVisualText, models.ScopeVideo, 0, 12, []float32{0.2})
	require.NoError(t, err)
	videoB, err := models.NewSegment(models.ModalityAudio, models.ScopeVideo, 0, 12, []float32{0.3})
	require.NoError(t, err)
	return []models.Segment{clip, videoA, videoB}
}

// Video search uses only video-scope segments of the requested modalities as
// query vectors.
func TestVideo_FiltersQuerySegmentsByScopeAndModality(t *testing.T) {
	provider := mock.NewMockProvider()
	provider.RetrieveVideoResultFunc = func(context.Context, string) (models.VideoEmbedResult, error) {
		return models.VideoEmbedResult{Duration: 12, Segments: videoQuerySegments(t)}, nil
	}
	searcher := &fakeSearcher{}
	svc := newTestService(provider, searcher, &fakeObjects{})

	_, err := svc.Video(context.Background(), search.Request{
		MediaURL:   "https://example.com/query.mp4",
		Modalities: []string{models.ModalityVisualText},
	})
	require.NoError(t, err)
	require.Len(t, searcher.gotEmbeddings, 1)
	assert.Equal(t, []float32{0.2}, searcher.gotEmbeddings[0])
	assert.False(t, searcher.batchCalled, "single vector must use the plain search path")
}

func TestVideo_MultipleVectorsUseBatchSearch(t *testing.T) {
	provider := mock.NewMockProvider()
	provider.RetrieveVideoResultFunc = func(context.Context, string) (models.VideoEmbedResult, error) {
		return models.VideoEmbedResult{Duration: 12, Segments: videoQuerySegments(t)}, nil
	}
	searcher := &fakeSearcher{}
	svc := newTestService(provider, searcher, &fakeObjects{})

	_, err := svc.Video(context.Background(), search.Request{
		MediaURL:   "https://example.com/query.mp4",
		Modalities: []string{models.ModalityVisualText, models.ModalityAudio},
	})
	require.NoError(t, err)
	assert.True(t, searcher.batchCalled)
	assert.Len(t, searcher.gotEmbeddings, 2)
}

func TestVideo_FailedJob(t *testing.T) {
	provider := mock.NewMockProvider()
	provider.JobStatusFunc = func(context.Context, string) (models.EmbedJobStatus, error) {
		return models.EmbedJobFailed, nil
	}
	svc := newTestService(provider, &fakeSearcher{}, &fakeObjects{})

	_, err := svc.Video(context.Background(), search.Request{MediaURL: "https://example.com/query.mp4"})
	assert.ErrorIs(t, err, search.ErrQueryEmbedding)
}

func TestVideo_NoMatchingQuerySegments(t *testing.T) {
	provider := mock.NewMockProvider()
	provider.RetrieveVideoResultFunc = func(context.Context, string) (models.VideoEmbedResult, error) {
		clip, err := models.NewSegment(models.ModalityVisualText, models.ScopeClip, 0, 6, []float32{0.1})
		require.NoError(t, err)
		return models.VideoEmbedResult{Segments: []models.Segment{clip}}, nil
	}
	svc := newTestService(provider, &fakeSearcher{}, &fakeObjects{})

	_, err := svc.Video(context.Background(), search.Request{MediaURL: "https://example.com/query.mp4"})
	assert.ErrorIs(t, err, search.ErrQueryEmbedding)
}

// Presign failures degrade individual results instead of failing the search.
func TestWithURLs_SigningFailureTolerated(t *testing.T) {
	searcher := &fakeSearcher{matches: []models.SegmentMatch{sampleMatch("a.mp4", 0.9)}}
	svc := newTestService(mock.NewMockProvider(), searcher, &fakeObjects{signErr: errors.New("denied")})

	results, err := svc.Text(context.Background(), search.Request{QueryText: "sunset"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].URL)
}
