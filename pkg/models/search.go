package models

// SearchFilter narrows similarity search results. Empty fields are ignored.
type SearchFilter struct {
	Scope    string `json:"scope,omitempty"`
	Modality string `json:"modality,omitempty"`
}

// SegmentMatch is one ranked similarity search result: the matching segment
// plus the full metadata of its owning video.
type SegmentMatch struct {
	SegmentID  int64   `json:"id"`
	Modality   string  `json:"modality"`
	Scope      string  `json:"scope"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Similarity float64 `json:"similarity"`
	Video      Video   `json:"video"`
}
