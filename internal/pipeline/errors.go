package pipeline

import "errors"

var (
	// ErrUnsupportedMedia means the object key does not look like a video we
	// can embed.
	ErrUnsupportedMedia = errors.New("unsupported media type")
	// ErrObjectNotFound means the uploaded object never became visible in
	// storage within the configured retries.
	ErrObjectNotFound = errors.New("object not found in storage")
	// ErrMalformedEvent means the event carries no usable object reference.
	ErrMalformedEvent = errors.New("malformed bucket event")
)
