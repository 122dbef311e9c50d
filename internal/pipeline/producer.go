// Package pipeline implements the asynchronous video embedding flow: the
// producer turns upload events into provider jobs, the consumer polls those
// jobs until they finish and persists the results.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/mcastelli/vidmatch/internal/cache"
	"github.com/mcastelli/vidmatch/internal/config"
	"github.com/mcastelli/vidmatch/internal/objectstore"
	"github.com/mcastelli/vidmatch/internal/queue"
	"github.com/mcastelli/vidmatch/internal/store"
	"github.com/mcastelli/vidmatch/pkg/models"
)

// Producer handles upload events: it validates the object, submits a video
// embedding job to the provider and enqueues a tracking message for the
// consumer to poll. Content already embedded under the same configuration is
// served from the cache without a provider round trip.
type Producer struct {
	store    store.Store
	objects  objectstore.ObjectStore
	queue    queue.Queue
	provider models.EmbedProvider
	cache    cache.Cache
	storage  config.StorageConfig
	embed    config.EmbedConfig
}

// NewProducer creates a Producer.
func NewProducer(st store.Store, objects objectstore.ObjectStore, q queue.Queue, provider models.EmbedProvider, embedCache cache.Cache, storage config.StorageConfig, embedCfg config.EmbedConfig) *Producer {
	return &Producer{
		store:    st,
		objects:  objects,
		queue:    q,
		provider: provider,
		cache:    embedCache,
		storage:  storage,
		embed:    embedCfg,
	}
}

// SubmitIfEligible processes one upload event end to end. Directory marker
// keys are silently skipped with a nil task. Task bookkeeping is best-effort:
// a failed row write is logged but never blocks the pipeline, since the
// tracking message is already durable in the queue.
func (p *Producer) SubmitIfEligible(ctx context.Context, event queue.UploadEvent) (*models.Task, error) {
	ref, err := event.ObjectRef()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	log := slog.With("object", ref.String())

	if ref.IsDirectoryMarker() {
		log.Info("ignoring directory marker event")
		return nil, nil
	}

	if !IsSupportedVideo(ref.Key) {
		p.recordFailure(ctx, "", "", ref, ErrUnsupportedMedia.Error())
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMedia, ref.Key)
	}

	if err := p.objects.WaitForObject(ctx, ref, p.storage.CheckRetries, p.storage.CheckDelay); err != nil {
		p.recordFailure(ctx, "", "", ref, err.Error())
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, ref.String())
		}
		return nil, fmt.Errorf("checking object: %w", err)
	}

	key := p.contentKey(ctx, ref, log)
	if key != nil {
		if task, ok := p.serveFromCache(ctx, ref, *key, log); ok {
			return task, nil
		}
	}

	videoURL, err := p.objects.PresignedGetURL(ctx, ref, p.storage.PresignTTL)
	if err != nil {
		p.recordFailure(ctx, "", "", ref, err.Error())
		return nil, fmt.Errorf("presigning object: %w", err)
	}
	log.Info("presigned url generated", "ttl", p.storage.PresignTTL)

	jobID, err := p.provider.CreateVideoJob(ctx, videoURL, models.VideoEmbedOptions{
		ClipLength: p.embed.ClipLength,
		Scopes:     p.embed.Scopes,
	})
	if err != nil {
		p.recordFailure(ctx, "", "", ref, err.Error())
		return nil, fmt.Errorf("creating embedding job: %w", err)
	}
	log.Info("embedding job created", "job_id", jobID)

	tracking := queue.TrackingMessage{
		ProviderJobID: jobID,
		Bucket:        ref.Bucket,
		Key:           ref.Key,
	}
	if key != nil {
		tracking.CacheKey = key.String()
	}
	messageID, err := p.queue.PublishTracking(ctx, tracking)
	if err != nil {
		p.recordFailure(ctx, "", jobID, ref, err.Error())
		return nil, fmt.Errorf("publishing tracking message: %w", err)
	}
	log.Info("tracking message published", "message_id", messageID)

	now := time.Now().UTC()
	task := &models.Task{
		ID:            uuid.New(),
		MessageID:     messageID,
		ProviderJobID: jobID,
		ObjectRef:     ref,
		Status:        models.TaskStatusProcessing,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := p.store.CreateTask(ctx, task); err != nil {
		// The job is already submitted and tracked by the queue; losing the
		// row costs visibility, not correctness.
		log.Warn("storing task metadata failed", "message_id", messageID, "error", err)
	}

	return task, nil
}

// HandleRemoval deletes the database rows for an object removed from the
// bucket, keeping the index consistent with storage. Removals of objects that
// were never indexed are a no-op.
func (p *Producer) HandleRemoval(ctx context.Context, event queue.UploadEvent) error {
	ref, err := event.ObjectRef()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	deleted, err := p.store.DeleteVideoByObject(ctx, ref)
	if err != nil {
		return fmt.Errorf("deleting video rows: %w", err)
	}
	if deleted {
		slog.Info("video removed with its object", "object", ref.String())
	}
	return nil
}

// contentKey computes the content-addressable cache key for the object. The
// cache is an optimization, so any failure here degrades to a nil key and the
// upload takes the provider path.
func (p *Producer) contentKey(ctx context.Context, ref models.ObjectRef, log *slog.Logger) *cache.Key {
	rd, err := p.objects.Open(ctx, ref)
	if err != nil {
		log.Warn("opening object for content hashing", "error", err)
		return nil
	}
	defer rd.Close()

	key, err := cache.NewStreamKey(rd, p.embed.Model, p.embed.ClipLength, p.embed.Scopes)
	if err != nil {
		log.Warn("hashing object content", "error", err)
		return nil
	}
	return &key
}

// serveFromCache persists a previously computed embedding without submitting
// a provider job. Returns false on miss or on any error, in which case the
// caller proceeds as if the cache did not exist.
func (p *Producer) serveFromCache(ctx context.Context, ref models.ObjectRef, key cache.Key, log *slog.Logger) (*models.Task, bool) {
	payload, hit, err := p.cache.Get(ctx, key)
	if err != nil {
		log.Warn("embedding cache read failed", "error", err)
		return nil, false
	}
	if !hit {
		return nil, false
	}

	var result models.VideoEmbedResult
	if err := json.Unmarshal(payload, &result); err != nil {
		log.Warn("discarding corrupt cache entry", "error", err)
		return nil, false
	}

	video := &models.Video{
		ObjectRef: ref,
		Filename:  path.Base(ref.Key),
		Duration:  result.Duration,
	}
	if _, err := p.store.UpsertVideoWithSegments(ctx, video, result.Segments); err != nil {
		log.Warn("persisting cached embedding failed", "error", err)
		return nil, false
	}

	now := time.Now().UTC()
	task := &models.Task{
		ID:        uuid.New(),
		MessageID: "cached-" + uuid.New().String(),
		ObjectRef: ref,
		Status:    models.TaskStatusCompleted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.store.CreateTask(ctx, task); err != nil {
		log.Warn("storing task metadata failed", "error", err)
	}
	log.Info("embedding served from cache", "segments", len(result.Segments))
	return task, true
}

// recordFailure writes a failed task row so operators can see rejected
// uploads. Best-effort only.
func (p *Producer) recordFailure(ctx context.Context, messageID, jobID string, ref models.ObjectRef, reason string) {
	if messageID == "" {
		messageID = "rejected-" + uuid.New().String()
	}
	now := time.Now().UTC()
	task := &models.Task{
		ID:            uuid.New(),
		MessageID:     messageID,
		ProviderJobID: jobID,
		ObjectRef:     ref,
		Status:        models.TaskStatusFailed,
		ErrorMessage:  &reason,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := p.store.CreateTask(ctx, task); err != nil {
		slog.Warn("recording failed task", "object", ref.String(), "error", err)
	}
}
