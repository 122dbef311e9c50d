package models

import "context"

// EmbedJobStatus is the provider-side state of an asynchronous video
// embedding job.
type EmbedJobStatus string

const (
	EmbedJobProcessing EmbedJobStatus = "processing"
	EmbedJobReady      EmbedJobStatus = "ready"
	EmbedJobFailed     EmbedJobStatus = "failed"
)

// Terminal reports whether the provider will make no further progress.
func (s EmbedJobStatus) Terminal() bool {
	return s == EmbedJobReady || s == EmbedJobFailed
}

// VideoEmbedOptions control how a video is segmented by the provider.
type VideoEmbedOptions struct {
	ClipLength int
	Scopes     []string
}

// VideoEmbedResult is the retrieved output of a finished video embedding job.
// It is also the serialized form of a cached video embedding.
type VideoEmbedResult struct {
	Duration float64   `json:"duration"`
	Segments []Segment `json:"segments"`
}

// EmbedProvider is a video/text/image embedding backend. Video embeddings
// are asynchronous: CreateVideoJob submits, JobStatus polls, and
// RetrieveVideoResult collects once the job reports ready.
type EmbedProvider interface {
	Name() string
	CreateVideoJob(ctx context.Context, videoURL string, opts VideoEmbedOptions) (string, error)
	JobStatus(ctx context.Context, jobID string) (EmbedJobStatus, error)
	RetrieveVideoResult(ctx context.Context, jobID string) (VideoEmbedResult, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedImage(ctx context.Context, imageURL string) ([]float32, error)
}
