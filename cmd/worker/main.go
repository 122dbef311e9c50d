// Package main is the entrypoint for the vidmatch pipeline worker. It runs
// two loops: one turning upload events into embedding jobs, one polling
// those jobs until their results are persisted.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mcastelli/vidmatch/internal/cache"
	"github.com/mcastelli/vidmatch/internal/config"
	"github.com/mcastelli/vidmatch/internal/embed"
	"github.com/mcastelli/vidmatch/internal/objectstore"
	"github.com/mcastelli/vidmatch/internal/pipeline"
	"github.com/mcastelli/vidmatch/internal/queue"
	"github.com/mcastelli/vidmatch/internal/store"
)

// uploadRetryDelay spaces out redeliveries of upload events that failed for
// transient reasons, so a flapping dependency is not hammered.
const uploadRetryDelay = 5 * time.Second

// fetchBackoff spaces out fetch attempts when the queue itself is failing,
// so the loops do not spin hot while NATS is down.
const fetchBackoff = 2 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "embed_provider", cfg.Embed.Provider, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	objects, err := objectstore.NewMinioStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("create object store: %w", err)
	}

	q, err := queue.NewJetStreamQueue(ctx, cfg.Queue)
	if err != nil {
		return fmt.Errorf("connect queue: %w", err)
	}
	defer q.Close()

	provider, err := embed.NewProvider(cfg.Embed)
	if err != nil {
		return fmt.Errorf("create embedding provider: %w", err)
	}
	slog.Info("embedding provider initialized", "provider", provider.Name())

	pgStore := store.NewPostgresStore(pool)
	producer := pipeline.NewProducer(pgStore, objects, q, provider, redisCache, cfg.Storage, cfg.Embed)
	consumer := pipeline.NewConsumer(pgStore, provider, redisCache, cfg.Pipeline.MaxAttempts, cfg.Queue.VisibilityTime, cfg.Embed.CacheDays)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return uploadLoop(ctx, q, producer, cfg.Queue.BatchSize) })
	g.Go(func() error { return trackingLoop(ctx, q, consumer, cfg.Queue.BatchSize) })

	slog.Info("worker started")
	if err := g.Wait(); err != nil && !isShutdown(err) {
		return err
	}
	slog.Info("worker stopped gracefully")
	return nil
}

// uploadLoop drains bucket notifications and routes each record: uploads
// become embedding jobs, removals clean up the matching database rows.
// Transient failures nack the message so it is redelivered; permanently
// ineligible records are consumed without a task.
func uploadLoop(ctx context.Context, q queue.Queue, producer *pipeline.Producer, batchSize int) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msgs, err := q.FetchUploadEvents(ctx, batchSize)
		if err != nil {
			slog.Warn("fetching upload events", "error", err)
			sleepCtx(ctx, fetchBackoff)
			continue
		}

		for _, msg := range msgs {
			handleUploadMessage(ctx, producer, msg)
		}
	}
}

// handleUploadMessage decodes one notification, which may carry several
// records, and acks it unless at least one record failed transiently.
func handleUploadMessage(ctx context.Context, producer *pipeline.Producer, msg queue.Message) {
	events, err := queue.DecodeUploadEvents(msg.Body())
	if err != nil {
		slog.Error("discarding malformed upload event", "message_id", msg.ID(), "error", err)
		if err := msg.Discard(); err != nil {
			slog.Warn("discarding message", "error", err)
		}
		return
	}

	transient := false
	for _, event := range events {
		if event.IsRemoval() {
			if err := producer.HandleRemoval(ctx, event); err != nil {
				if permanentRejection(err) {
					slog.Warn("removal event rejected", "key", event.Key, "error", err)
					continue
				}
				slog.Warn("handling removal, will retry", "key", event.Key, "error", err)
				transient = true
			}
			continue
		}

		if _, err := producer.SubmitIfEligible(ctx, event); err != nil {
			if permanentRejection(err) {
				slog.Warn("upload rejected", "key", event.Key, "error", err)
				continue
			}
			slog.Warn("submitting upload, will retry", "key", event.Key, "error", err)
			transient = true
		}
	}

	if transient {
		if err := msg.Retry(uploadRetryDelay); err != nil {
			slog.Warn("scheduling redelivery", "error", err)
		}
		return
	}
	ackOrWarn(msg)
}

// trackingLoop drains tracking messages through the consumer state machine.
func trackingLoop(ctx context.Context, q queue.Queue, consumer *pipeline.Consumer, batchSize int) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msgs, err := q.FetchTracking(ctx, batchSize)
		if err != nil {
			slog.Warn("fetching tracking messages", "error", err)
			sleepCtx(ctx, fetchBackoff)
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		result := consumer.HandleBatch(ctx, msgs)
		slog.Info("batch handled", "messages", result.Handled, "requeued", len(result.Retried))
	}
}

// permanentRejection reports whether retrying the record can never succeed.
func permanentRejection(err error) bool {
	return errors.Is(err, pipeline.ErrUnsupportedMedia) ||
		errors.Is(err, pipeline.ErrObjectNotFound) ||
		errors.Is(err, pipeline.ErrMalformedEvent)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func ackOrWarn(msg queue.Message) {
	if err := msg.Ack(); err != nil {
		slog.Warn("acking message", "error", err)
	}
}

func isShutdown(err error) bool {
	return errors.Is(err, context.Canceled)
}
