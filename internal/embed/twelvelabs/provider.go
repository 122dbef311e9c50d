// Package twelvelabs implements models.EmbedProvider against the TwelveLabs
// Marengo embedding API.
package twelvelabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"

	"github.com/mcastelli/vidmatch/internal/config"
	"github.com/mcastelli/vidmatch/pkg/models"
)

// Sentinel errors for TwelveLabs API failures.
var (
	ErrUnavailable     = errors.New("twelvelabs unreachable")
	ErrInvalidResponse = errors.New("twelvelabs returned invalid response")
)

// Provider implements models.EmbedProvider using the TwelveLabs HTTP API.
type Provider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewProvider creates a TwelveLabs provider from config.
func NewProvider(cfg config.EmbedConfig) *Provider {
	return &Provider{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *Provider) Name() string { return "twelvelabs" }

// CreateVideoJob submits a video URL for asynchronous embedding and returns
// the provider's job id.
func (p *Provider) CreateVideoJob(ctx context.Context, videoURL string, opts models.VideoEmbedOptions) (string, error) {
	fields := map[string][]string{
		"model_name":            {p.model},
		"video_url":             {videoURL},
		"video_clip_length":     {strconv.Itoa(opts.ClipLength)},
		"video_embedding_scope": opts.Scopes,
	}

	var created struct {
		ID string `json:"_id"`
	}
	if err := p.postForm(ctx, "/embed/tasks", fields, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("%w: missing task id", ErrInvalidResponse)
	}
	return created.ID, nil
}

// JobStatus polls the provider for the job's current state. Unknown interim
// statuses (pending, validating) all map to processing.
func (p *Provider) JobStatus(ctx context.Context, jobID string) (models.EmbedJobStatus, error) {
	var status struct {
		Status string `json:"status"`
	}
	if err := p.get(ctx, fmt.Sprintf("/embed/tasks/%s/status", jobID), &status); err != nil {
		return "", err
	}

	switch status.Status {
	case "ready":
		return models.EmbedJobReady, nil
	case "failed":
		return models.EmbedJobFailed, nil
	case "":
		return "", fmt.Errorf("%w: missing status", ErrInvalidResponse)
	default:
		return models.EmbedJobProcessing, nil
	}
}

type segmentPayload struct {
	StartOffsetSec  float64   `json:"start_offset_sec"`
	EndOffsetSec    float64   `json:"end_offset_sec"`
	EmbeddingScope  string    `json:"embedding_scope"`
	EmbeddingOption string    `json:"embedding_option"`
	Float           []float32 `json:"float"`
}

type videoEmbeddingPayload struct {
	Segments []segmentPayload `json:"segments"`
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
}

// RetrieveVideoResult fetches the finished job's segments across all
// modalities and normalizes them into storage form.
func (p *Provider) RetrieveVideoResult(ctx context.Context, jobID string) (models.VideoEmbedResult, error) {
	var retrieved struct {
		Status         string                `json:"status"`
		VideoEmbedding videoEmbeddingPayload `json:"video_embedding"`
	}
	path := fmt.Sprintf("/embed/tasks/%s?embedding_option=visual-text&embedding_option=audio", jobID)
	if err := p.get(ctx, path, &retrieved); err != nil {
		return models.VideoEmbedResult{}, err
	}

	if len(retrieved.VideoEmbedding.Segments) == 0 {
		return models.VideoEmbedResult{}, fmt.Errorf("%w: no segments", ErrInvalidResponse)
	}

	segments := make([]models.Segment, 0, len(retrieved.VideoEmbedding.Segments))
	for _, s := range retrieved.VideoEmbedding.Segments {
		seg, err := models.NewSegment(s.EmbeddingOption, s.EmbeddingScope, s.StartOffsetSec, s.EndOffsetSec, s.Float)
		if err != nil {
			return models.VideoEmbedResult{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		segments = append(segments, seg)
	}

	return models.VideoEmbedResult{
		Duration: retrieved.VideoEmbedding.Metadata.Duration,
		Segments: segments,
	}, nil
}

type syncEmbeddingPayload struct {
	Segments []struct {
		Float []float32 `json:"float"`
	} `json:"segments"`
}

// EmbedText returns a single embedding vector for a search query.
func (p *Provider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	fields := map[string][]string{
		"model_name":    {p.model},
		"text":          {text},
		"text_truncate": {"start"},
	}

	var resp struct {
		TextEmbedding syncEmbeddingPayload `json:"text_embedding"`
	}
	if err := p.postForm(ctx, "/embed", fields, &resp); err != nil {
		return nil, err
	}
	return firstVector(resp.TextEmbedding)
}

// EmbedImage returns a single embedding vector for an image URL.
func (p *Provider) EmbedImage(ctx context.Context, imageURL string) ([]float32, error) {
	fields := map[string][]string{
		"model_name": {p.model},
		"image_url":  {imageURL},
	}

	var resp struct {
		ImageEmbedding syncEmbeddingPayload `json:"image_embedding"`
	}
	if err := p.postForm(ctx, "/embed", fields, &resp); err != nil {
		return nil, err
	}
	return firstVector(resp.ImageEmbedding)
}

func firstVector(payload syncEmbeddingPayload) ([]float32, error) {
	if len(payload.Segments) == 0 || len(payload.Segments[0].Float) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrInvalidResponse)
	}
	return payload.Segments[0].Float, nil
}

func (p *Provider) postForm(ctx context.Context, path string, fields map[string][]string, out any) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for name, values := range fields {
		for _, v := range values {
			if err := writer.WriteField(name, v); err != nil {
				return fmt.Errorf("building form: %w", err)
			}
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("building form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, &body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	p.setHeaders(req)

	return p.do(req, out)
}

func (p *Provider) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	p.setHeaders(req)

	return p.do(req, out)
}

func (p *Provider) do(req *http.Request, out any) error {
	resp, err := p.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")
}

// classifyError maps transport failures to the unavailable sentinel so
// callers can treat them as retryable.
func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

var _ models.EmbedProvider = (*Provider)(nil)
