// Package queue provides the durable message layer between the upload
// notifier, the producer, and the tracking consumer.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mcastelli/vidmatch/pkg/models"
)

// UploadEvent describes one object-level change in the video bucket. Event
// holds the S3-style event name when the change arrived as a bucket
// notification; it is empty for internally published events, which are always
// creations.
type UploadEvent struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Size   int64  `json:"size,omitempty"`
	Event  string `json:"event,omitempty"`
}

// ObjectRef converts the event to a validated object reference.
func (e UploadEvent) ObjectRef() (models.ObjectRef, error) {
	return models.NewObjectRef(e.Bucket, e.Key)
}

// IsRemoval reports whether the event describes an object deletion rather
// than an upload.
func (e UploadEvent) IsRemoval() bool {
	return strings.HasPrefix(e.Event, "s3:ObjectRemoved")
}

// TrackingMessage carries a submitted provider job through the polling loop.
// It is redelivered until the job reaches a terminal state. CacheKey, when
// set, tells the consumer where to memoize the retrieved result.
type TrackingMessage struct {
	ProviderJobID string `json:"provider_job_id"`
	Bucket        string `json:"bucket"`
	Key           string `json:"key"`
	CacheKey      string `json:"cache_key,omitempty"`
}

// ObjectRef converts the message to a validated object reference.
func (m TrackingMessage) ObjectRef() (models.ObjectRef, error) {
	return models.NewObjectRef(m.Bucket, m.Key)
}

func (m TrackingMessage) marshal() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeTrackingMessage parses the wire form of a tracking message.
func DecodeTrackingMessage(data []byte) (TrackingMessage, error) {
	var m TrackingMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return TrackingMessage{}, err
	}
	return m, nil
}

// bucketNotification is the S3-style envelope MinIO publishes to NATS on
// bucket events. Object keys inside the envelope are URL-encoded.
type bucketNotification struct {
	Records []struct {
		EventName string `json:"eventName"`
		S3        struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key  string `json:"key"`
				Size int64  `json:"size"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// DecodeUploadEvents parses the wire form of an upload notification. Both the
// flat event shape used by PublishUploadEvent and the S3-style bucket
// notification envelope MinIO emits are accepted; an envelope yields one event
// per record, with the object key URL-decoded.
func DecodeUploadEvents(data []byte) ([]UploadEvent, error) {
	var n bucketNotification
	if err := json.Unmarshal(data, &n); err == nil && len(n.Records) > 0 {
		events := make([]UploadEvent, 0, len(n.Records))
		for _, rec := range n.Records {
			key, err := url.QueryUnescape(rec.S3.Object.Key)
			if err != nil {
				return nil, fmt.Errorf("decoding object key %q: %w", rec.S3.Object.Key, err)
			}
			events = append(events, UploadEvent{
				Bucket: rec.S3.Bucket.Name,
				Key:    key,
				Size:   rec.S3.Object.Size,
				Event:  rec.EventName,
			})
		}
		return events, nil
	}

	var e UploadEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return []UploadEvent{e}, nil
}

// Message is a single in-flight delivery. ID is stable across redeliveries
// of the same published message, which the consumer uses as its idempotency
// key for task bookkeeping.
type Message interface {
	// ID returns the publisher-assigned message id.
	ID() string
	// Body returns the raw payload.
	Body() []byte
	// Extend resets the delivery's visibility window while work is still
	// in progress.
	Extend(ctx context.Context) error
	// Ack removes the message from the queue.
	Ack() error
	// Retry schedules a redelivery after the given delay.
	Retry(delay time.Duration) error
	// Discard drops the message without further redeliveries.
	Discard() error
}

// Queue is the transport interface the pipeline depends on.
type Queue interface {
	PublishUploadEvent(ctx context.Context, event UploadEvent) (string, error)
	PublishTracking(ctx context.Context, msg TrackingMessage) (string, error)
	FetchUploadEvents(ctx context.Context, batch int) ([]Message, error)
	FetchTracking(ctx context.Context, batch int) ([]Message, error)
	Close()
}
