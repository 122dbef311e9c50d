package models

import "time"

// Video is the persisted metadata for a successfully embedded video.
// It is created atomically with its segments; the store owns the ID.
type Video struct {
	ID        int64     `db:"id"         json:"id"`
	ObjectRef ObjectRef `db:"-"          json:"object_ref"`
	Filename  string    `db:"filename"   json:"filename"`
	Duration  float64   `db:"duration"   json:"duration"`
	Height    *int      `db:"height"     json:"height,omitempty"`
	Width     *int      `db:"width"      json:"width,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
