package pipeline_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mcastelli/vidmatch/internal/cache"
	"github.com/mcastelli/vidmatch/internal/objectstore"
	"github.com/mcastelli/vidmatch/internal/queue"
	"github.com/mcastelli/vidmatch/internal/store"
	"github.com/mcastelli/vidmatch/pkg/models"
)

// fakeStore is an in-memory store.Store covering what the pipeline touches.
type fakeStore struct {
	mu        sync.Mutex
	tasks     map[string]*models.Task // keyed by message id
	videos    map[string]*models.Video
	segments  map[string][]models.Segment
	createErr error
	upsertErr error
	deleteErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:    make(map[string]*models.Task),
		videos:   make(map[string]*models.Video),
		segments: make(map[string][]models.Segment),
	}
}

func (s *fakeStore) Ping(context.Context) error { return nil }

func (s *fakeStore) CreateTask(_ context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if _, exists := s.tasks[task.MessageID]; exists {
		return store.ErrDuplicateKey
	}
	clone := *task
	s.tasks[task.MessageID] = &clone
	return nil
}

func (s *fakeStore) GetTask(_ context.Context, id uuid.UUID) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.ID == id {
			clone := *t
			return &clone, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) GetTaskByMessageID(_ context.Context, messageID string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[messageID]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *t
	return &clone, nil
}

func (s *fakeStore) UpdateTaskStatusByMessageID(_ context.Context, messageID, status string, opts ...store.TaskUpdateOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[messageID]
	if !ok {
		return store.ErrNotFound
	}
	if t.IsTerminal() {
		return store.ErrInvalidTransition
	}
	params := store.ApplyTaskUpdateOptions(opts)
	t.Status = status
	if params.ErrorMessage != nil {
		t.ErrorMessage = params.ErrorMessage
	}
	if params.IncrementAttempt {
		t.Attempts++
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *fakeStore) ListTasks(context.Context, int, int) ([]*models.Task, int, error) {
	return nil, 0, nil
}

func (s *fakeStore) UpsertVideoWithSegments(_ context.Context, video *models.Video, segments []models.Segment) (*models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return nil, s.upsertErr
	}
	key := video.ObjectRef.String()
	clone := *video
	if existing, ok := s.videos[key]; ok {
		clone.ID = existing.ID
	} else {
		clone.ID = int64(len(s.videos) + 1)
	}
	s.videos[key] = &clone
	s.segments[key] = segments
	return &clone, nil
}

func (s *fakeStore) GetVideoByObject(_ context.Context, ref models.ObjectRef) (*models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[ref.String()]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *v
	return &clone, nil
}

func (s *fakeStore) ListVideos(context.Context, int, int) ([]*models.Video, int, error) {
	return nil, 0, nil
}

func (s *fakeStore) DeleteVideoByObject(_ context.Context, ref models.ObjectRef) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return false, s.deleteErr
	}
	key := ref.String()
	if _, ok := s.videos[key]; !ok {
		return false, nil
	}
	delete(s.videos, key)
	delete(s.segments, key)
	return true, nil
}

func (s *fakeStore) FindSimilar(context.Context, []float32, models.SearchFilter, int, float64) ([]models.SegmentMatch, error) {
	return nil, nil
}

func (s *fakeStore) FindSimilarBatch(context.Context, [][]float32, models.SearchFilter, int, float64) ([]models.SegmentMatch, error) {
	return nil, nil
}

var _ store.Store = (*fakeStore)(nil)

// fakeObjects is an objectstore.ObjectStore whose bucket contents are a set.
// Keys registered with setContent are also readable for content hashing.
type fakeObjects struct {
	existing map[string]bool
	content  map[string][]byte
	statErr  error
}

func newFakeObjects(keys ...string) *fakeObjects {
	existing := make(map[string]bool, len(keys))
	for _, k := range keys {
		existing[k] = true
	}
	return &fakeObjects{existing: existing, content: make(map[string][]byte)}
}

func (o *fakeObjects) setContent(key string, data []byte) {
	o.existing[key] = true
	o.content[key] = data
}

func (o *fakeObjects) Exists(_ context.Context, ref models.ObjectRef) (bool, error) {
	if o.statErr != nil {
		return false, o.statErr
	}
	return o.existing[ref.Key], nil
}

func (o *fakeObjects) WaitForObject(ctx context.Context, ref models.ObjectRef, _ int, _ time.Duration) error {
	exists, err := o.Exists(ctx, ref)
	if err != nil {
		return err
	}
	if !exists {
		return objectstore.ErrNotFound
	}
	return nil
}

func (o *fakeObjects) PresignedGetURL(_ context.Context, ref models.ObjectRef, _ time.Duration) (string, error) {
	return "https://storage.test/" + ref.Bucket + "/" + ref.Key + "?signed=1", nil
}

func (o *fakeObjects) PresignedPutURL(_ context.Context, ref models.ObjectRef, _ time.Duration) (string, error) {
	return "https://storage.test/" + ref.Bucket + "/" + ref.Key + "?upload=1", nil
}

func (o *fakeObjects) Open(_ context.Context, ref models.ObjectRef) (io.ReadSeekCloser, error) {
	data, ok := o.content[ref.Key]
	if !ok {
		return nil, errors.New("object content not registered")
	}
	return nopSeekCloser{bytes.NewReader(data)}, nil
}

type nopSeekCloser struct{ *bytes.Reader }

func (nopSeekCloser) Close() error { return nil }

func (o *fakeObjects) Remove(_ context.Context, ref models.ObjectRef) error {
	delete(o.existing, ref.Key)
	return nil
}

var _ objectstore.ObjectStore = (*fakeObjects)(nil)

// fakeCache is an in-memory cache.Cache keyed by the string key form.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	getErr  error
	putErr  error
	puts    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (c *fakeCache) Get(_ context.Context, key cache.Key) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	payload, ok := c.entries[key.String()]
	return payload, ok, nil
}

func (c *fakeCache) Put(_ context.Context, key cache.Key, payload []byte, _ string, _ int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.putErr != nil {
		return c.putErr
	}
	c.entries[key.String()] = payload
	c.puts++
	return nil
}

func (c *fakeCache) Ping(context.Context) error { return nil }

var _ cache.Cache = (*fakeCache)(nil)

// fakeQueue records published tracking messages.
type fakeQueue struct {
	mu         sync.Mutex
	tracking   []queue.TrackingMessage
	publishErr error
	nextID     int
}

func (q *fakeQueue) PublishUploadEvent(context.Context, queue.UploadEvent) (string, error) {
	return "", errors.New("not implemented")
}

func (q *fakeQueue) PublishTracking(_ context.Context, msg queue.TrackingMessage) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return "", q.publishErr
	}
	q.tracking = append(q.tracking, msg)
	q.nextID++
	return fmt.Sprintf("msg-%d", q.nextID), nil
}

func (q *fakeQueue) FetchUploadEvents(context.Context, int) ([]queue.Message, error) {
	return nil, nil
}

func (q *fakeQueue) FetchTracking(context.Context, int) ([]queue.Message, error) {
	return nil, nil
}

func (q *fakeQueue) Close() {}

var _ queue.Queue = (*fakeQueue)(nil)

// fakeMessage is one in-flight delivery with recorded outcomes.
type fakeMessage struct {
	id        string
	body      []byte
	acked     bool
	discarded bool
	retried   bool
	delay     time.Duration
	extended  int
}

func trackingMessage(t *testing.T, id, jobID, bucket, key string) *fakeMessage {
	t.Helper()
	body, err := json.Marshal(queue.TrackingMessage{ProviderJobID: jobID, Bucket: bucket, Key: key})
	require.NoError(t, err)
	return &fakeMessage{id: id, body: body}
}

func (m *fakeMessage) ID() string   { return m.id }
func (m *fakeMessage) Body() []byte { return m.body }

func (m *fakeMessage) Extend(context.Context) error {
	m.extended++
	return nil
}

func (m *fakeMessage) Ack() error {
	m.acked = true
	return nil
}

func (m *fakeMessage) Retry(delay time.Duration) error {
	m.retried = true
	m.delay = delay
	return nil
}

func (m *fakeMessage) Discard() error {
	m.discarded = true
	return nil
}

var _ queue.Message = (*fakeMessage)(nil)
