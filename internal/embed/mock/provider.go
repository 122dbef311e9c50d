// Package mock provides a configurable in-memory embedding provider for
// tests and local development.
package mock

import (
	"context"

	"github.com/google/uuid"

	"github.com/mcastelli/vidmatch/pkg/models"
)

// MockProvider satisfies models.EmbedProvider for testing.
type MockProvider struct {
	Name_                   string
	CreateVideoJobFunc      func(ctx context.Context, videoURL string, opts models.VideoEmbedOptions) (string, error)
	JobStatusFunc           func(ctx context.Context, jobID string) (models.EmbedJobStatus, error)
	RetrieveVideoResultFunc func(ctx context.Context, jobID string) (models.VideoEmbedResult, error)
	EmbedTextFunc           func(ctx context.Context, text string) ([]float32, error)
	EmbedImageFunc          func(ctx context.Context, imageURL string) ([]float32, error)
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) CreateVideoJob(ctx context.Context, videoURL string, opts models.VideoEmbedOptions) (string, error) {
	if m.CreateVideoJobFunc != nil {
		return m.CreateVideoJobFunc(ctx, videoURL, opts)
	}
	return uuid.New().String(), nil
}

func (m *MockProvider) JobStatus(ctx context.Context, jobID string) (models.EmbedJobStatus, error) {
	if m.JobStatusFunc != nil {
		return m.JobStatusFunc(ctx, jobID)
	}
	return models.EmbedJobReady, nil
}

func (m *MockProvider) RetrieveVideoResult(ctx context.Context, jobID string) (models.VideoEmbedResult, error) {
	if m.RetrieveVideoResultFunc != nil {
		return m.RetrieveVideoResultFunc(ctx, jobID)
	}
	return models.VideoEmbedResult{Duration: 12, Segments: defaultSegments()}, nil
}

func (m *MockProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedTextFunc != nil {
		return m.EmbedTextFunc(ctx, text)
	}
	return ConstantVector(0.1), nil
}

func (m *MockProvider) EmbedImage(ctx context.Context, imageURL string) ([]float32, error) {
	if m.EmbedImageFunc != nil {
		return m.EmbedImageFunc(ctx, imageURL)
	}
	return ConstantVector(0.2), nil
}

// NewMockProvider returns a MockProvider with sensible default responses.
func NewMockProvider() *MockProvider {
	return &MockProvider{Name_: "mock"}
}

// NewFailingProvider returns a MockProvider whose every call returns err.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		CreateVideoJobFunc: func(_ context.Context, _ string, _ models.VideoEmbedOptions) (string, error) {
			return "", err
		},
		JobStatusFunc: func(_ context.Context, _ string) (models.EmbedJobStatus, error) {
			return "", err
		},
		RetrieveVideoResultFunc: func(_ context.Context, _ string) (models.VideoEmbedResult, error) {
			return models.VideoEmbedResult{}, err
		},
		EmbedTextFunc: func(_ context.Context, _ string) ([]float32, error) {
			return nil, err
		},
		EmbedImageFunc: func(_ context.Context, _ string) ([]float32, error) {
			return nil, err
		},
	}
}

const mockDim = 1024

// ConstantVector returns a mockDim vector with every component set to v.
func ConstantVector(v float32) []float32 {
	out := make([]float32, mockDim)
	for i := range out {
		out[i] = v
	}
	return out
}

func defaultSegments() []models.Segment {
	clip, _ := models.NewSegment(models.ModalityVisualText, models.ScopeClip, 0, 6, ConstantVector(0.3))
	whole, _ := models.NewSegment(models.ModalityVisualText, models.ScopeVideo, 0, 12, ConstantVector(0.4))
	return []models.Segment{clip, whole}
}

// Compile-time check that MockProvider implements EmbedProvider.
var _ models.EmbedProvider = (*MockProvider)(nil)
