package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"path"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mcastelli/vidmatch/internal/cache"
	"github.com/mcastelli/vidmatch/internal/queue"
	"github.com/mcastelli/vidmatch/internal/store"
	"github.com/mcastelli/vidmatch/pkg/models"
)

// consumerConcurrency bounds how many tracking messages one batch processes
// in parallel.
const consumerConcurrency = 4

// BatchResult reports what happened to one fetched batch. Retried holds the
// message ids that were scheduled for redelivery.
type BatchResult struct {
	Handled int
	Retried []string
}

// Consumer polls provider jobs referenced by tracking messages and persists
// finished embeddings. A message stays in the queue until its job reaches a
// terminal state or the task exhausts its attempt budget.
type Consumer struct {
	store       store.Store
	provider    models.EmbedProvider
	cache       cache.Cache
	maxAttempts int
	retryDelay  time.Duration
	cacheDays   int
}

// NewConsumer creates a Consumer.
func NewConsumer(st store.Store, provider models.EmbedProvider, embedCache cache.Cache, maxAttempts int, retryDelay time.Duration, cacheDays int) *Consumer {
	return &Consumer{
		store:       st,
		provider:    provider,
		cache:       embedCache,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		cacheDays:   cacheDays,
	}
}

// HandleBatch processes a fetched batch of tracking messages concurrently.
// Each message is acked, retried or discarded independently; one bad message
// never blocks the rest of the batch.
func (c *Consumer) HandleBatch(ctx context.Context, msgs []queue.Message) BatchResult {
	var (
		mu      sync.Mutex
		retried []string
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(consumerConcurrency)

	for _, msg := range msgs {
		g.Go(func() error {
			if c.handleMessage(ctx, msg) {
				mu.Lock()
				retried = append(retried, msg.ID())
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return BatchResult{Handled: len(msgs), Retried: retried}
}

// handleMessage runs one tracking message through the poll state machine and
// reports whether it was scheduled for redelivery.
func (c *Consumer) handleMessage(ctx context.Context, msg queue.Message) bool {
	log := slog.With("message_id", msg.ID())

	tracking, err := queue.DecodeTrackingMessage(msg.Body())
	if err != nil {
		// Malformed payloads never become valid; retrying would loop forever.
		log.Error("discarding malformed tracking message", "error", err)
		c.updateTask(ctx, msg.ID(), models.TaskStatusFailed, store.WithErrorMessage("malformed tracking message"))
		c.discard(msg, log)
		return false
	}
	log = log.With("job_id", tracking.ProviderJobID)

	status, err := c.provider.JobStatus(ctx, tracking.ProviderJobID)
	if err != nil {
		log.Warn("polling job status failed", "error", err)
		return c.retryOrAbandon(ctx, msg, err.Error(), log)
	}

	switch status {
	case models.EmbedJobReady:
		if err := c.persistResult(ctx, msg, tracking, log); err != nil {
			log.Error("persisting embedding failed", "error", err)
			return c.retryOrAbandon(ctx, msg, err.Error(), log)
		}
		c.updateTask(ctx, msg.ID(), models.TaskStatusCompleted)
		c.ack(msg, log)
		log.Info("embedding persisted")
		return false

	case models.EmbedJobFailed:
		// Provider gave up; redelivery cannot change the outcome.
		log.Error("embedding job failed at provider")
		c.updateTask(ctx, msg.ID(), models.TaskStatusFailed, store.WithErrorMessage("provider reported job failed"))
		c.ack(msg, log)
		return false

	default:
		log.Info("job still processing, requeueing")
		return c.retryOrAbandonWithStatus(ctx, msg, models.TaskStatusProcessing, "", log)
	}
}

// persistResult retrieves the finished job and writes the video plus its
// segments in one transaction. The visibility window is re-armed first so a
// slow retrieve cannot cause a concurrent redelivery mid-write.
func (c *Consumer) persistResult(ctx context.Context, msg queue.Message, tracking queue.TrackingMessage, log *slog.Logger) error {
	if err := msg.Extend(ctx); err != nil {
		log.Warn("extending message visibility", "error", err)
	}

	result, err := c.provider.RetrieveVideoResult(ctx, tracking.ProviderJobID)
	if err != nil {
		return err
	}

	ref, err := tracking.ObjectRef()
	if err != nil {
		return err
	}

	video := &models.Video{
		ObjectRef: ref,
		Filename:  path.Base(ref.Key),
		Duration:  result.Duration,
	}
	if _, err := c.store.UpsertVideoWithSegments(ctx, video, result.Segments); err != nil {
		return err
	}

	c.memoize(ctx, tracking, result, log)
	return nil
}

// memoize stores the retrieved result under the content-addressable key the
// producer stamped on the message. Best-effort: identical content uploaded
// later skips the provider entirely on a hit.
func (c *Consumer) memoize(ctx context.Context, tracking queue.TrackingMessage, result models.VideoEmbedResult, log *slog.Logger) {
	if tracking.CacheKey == "" {
		return
	}
	key, err := cache.ParseKey(tracking.CacheKey)
	if err != nil {
		log.Warn("skipping embedding cache write", "error", err)
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		log.Warn("serializing embedding for cache", "error", err)
		return
	}
	if err := c.cache.Put(ctx, key, payload, tracking.ProviderJobID, c.cacheDays); err != nil {
		log.Warn("embedding cache write failed", "error", err)
	}
}

// retryOrAbandon schedules a redelivery after a transient failure, moving the
// task to retrying, unless the attempt budget is exhausted.
func (c *Consumer) retryOrAbandon(ctx context.Context, msg queue.Message, reason string, log *slog.Logger) bool {
	return c.retryOrAbandonWithStatus(ctx, msg, models.TaskStatusRetrying, reason, log)
}

func (c *Consumer) retryOrAbandonWithStatus(ctx context.Context, msg queue.Message, status string, reason string, log *slog.Logger) bool {
	attempts := c.bumpAttempts(ctx, msg.ID(), status, reason)

	if c.maxAttempts > 0 && attempts >= c.maxAttempts {
		log.Error("attempt budget exhausted, abandoning task", "attempts", attempts)
		c.updateTask(ctx, msg.ID(), models.TaskStatusAbandoned,
			store.WithErrorMessage("exceeded max polling attempts"))
		c.discard(msg, log)
		return false
	}

	if err := msg.Retry(c.retryDelay); err != nil {
		log.Warn("scheduling redelivery", "error", err)
	}
	return true
}

// bumpAttempts records the new status with an attempt increment and returns
// the attempt count so far. Missing bookkeeping rows are tolerated: polling
// continues, only the budget cannot be enforced.
func (c *Consumer) bumpAttempts(ctx context.Context, messageID, status, reason string) int {
	opts := []store.TaskUpdateOption{store.WithAttemptIncrement()}
	if reason != "" {
		opts = append(opts, store.WithErrorMessage(reason))
	}
	c.updateTask(ctx, messageID, status, opts...)

	task, err := c.store.GetTaskByMessageID(ctx, messageID)
	if err != nil {
		return 0
	}
	return task.Attempts
}

// updateTask applies a best-effort status update to the bookkeeping row.
func (c *Consumer) updateTask(ctx context.Context, messageID, status string, opts ...store.TaskUpdateOption) {
	if err := c.store.UpdateTaskStatusByMessageID(ctx, messageID, status, opts...); err != nil {
		slog.Warn("updating task status", "message_id", messageID, "status", status, "error", err)
	}
}

func (c *Consumer) ack(msg queue.Message, log *slog.Logger) {
	if err := msg.Ack(); err != nil {
		log.Warn("acking message", "error", err)
	}
}

func (c *Consumer) discard(msg queue.Message, log *slog.Logger) {
	if err := msg.Discard(); err != nil {
		log.Warn("discarding message", "error", err)
	}
}
