package models

import "fmt"

// Embedding scopes. A clip segment summarizes a sub-range of the video; a
// video segment summarizes the whole thing.
const (
	ScopeClip  = "clip"
	ScopeVideo = "video"
)

// Embedding modalities as reported by the provider.
const (
	ModalityVisualText = "visual-text"
	ModalityAudio      = "audio"
	ModalityText       = "text"
	ModalityImage      = "image"
)

var validScopes = map[string]bool{
	ScopeClip:  true,
	ScopeVideo: true,
}

var validModalities = map[string]bool{
	ModalityVisualText: true,
	ModalityAudio:      true,
	ModalityText:       true,
	ModalityImage:      true,
}

// Segment is one embedding vector covering a time range of a video, tagged
// with modality and scope. Every segment belongs to exactly one video.
type Segment struct {
	ID        int64     `db:"id"         json:"id"`
	VideoID   int64     `db:"video_id"   json:"video_id"`
	Modality  string    `db:"modality"   json:"modality"`
	Scope     string    `db:"scope"      json:"scope"`
	StartTime float64   `db:"start_time" json:"start_time"`
	EndTime   float64   `db:"end_time"   json:"end_time"`
	Embedding []float32 `db:"embedding"  json:"embedding,omitempty"`
}

// NewSegment validates scope, modality and the time range.
func NewSegment(modality, scope string, start, end float64, embedding []float32) (Segment, error) {
	if !validScopes[scope] {
		return Segment{}, fmt.Errorf("segment: invalid scope %q", scope)
	}
	if !validModalities[modality] {
		return Segment{}, fmt.Errorf("segment: invalid modality %q", modality)
	}
	if end < start {
		return Segment{}, fmt.Errorf("segment: end time %.2f before start time %.2f", end, start)
	}
	if len(embedding) == 0 {
		return Segment{}, fmt.Errorf("segment: empty embedding")
	}
	return Segment{
		Modality:  modality,
		Scope:     scope,
		StartTime: start,
		EndTime:   end,
		Embedding: embedding,
	}, nil
}
