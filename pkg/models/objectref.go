package models

import (
	"errors"
	"fmt"
	"strings"
)

// ObjectRef identifies one object in the storage backend.
type ObjectRef struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// NewObjectRef validates and returns an ObjectRef.
func NewObjectRef(bucket, key string) (ObjectRef, error) {
	if bucket == "" {
		return ObjectRef{}, errors.New("object ref: bucket is required")
	}
	if strings.TrimSpace(key) == "" {
		return ObjectRef{}, errors.New("object ref: key is required")
	}
	return ObjectRef{Bucket: bucket, Key: strings.TrimSpace(key)}, nil
}

// IsDirectoryMarker reports whether the key denotes a folder placeholder
// rather than an object. Storage backends emit creation events for these.
func (r ObjectRef) IsDirectoryMarker() bool {
	return strings.HasSuffix(r.Key, "/")
}

// Filename returns the final path element of the key.
func (r ObjectRef) Filename() string {
	if i := strings.LastIndex(r.Key, "/"); i >= 0 {
		return r.Key[i+1:]
	}
	return r.Key
}

func (r ObjectRef) String() string {
	return fmt.Sprintf("%s/%s", r.Bucket, r.Key)
}
