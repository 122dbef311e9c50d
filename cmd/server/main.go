// Package main is the entrypoint for the vidmatch API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcastelli/vidmatch/internal/api"
	"github.com/mcastelli/vidmatch/internal/api/handler"
	"github.com/mcastelli/vidmatch/internal/cache"
	"github.com/mcastelli/vidmatch/internal/config"
	"github.com/mcastelli/vidmatch/internal/embed"
	"github.com/mcastelli/vidmatch/internal/objectstore"
	"github.com/mcastelli/vidmatch/internal/search"
	"github.com/mcastelli/vidmatch/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "embed_provider", cfg.Embed.Provider, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Connect to object storage
	objects, err := objectstore.NewMinioStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("create object store: %w", err)
	}
	slog.Info("object storage connected", "endpoint", cfg.Storage.Endpoint)

	// 6. Create embedding provider and services
	provider, err := embed.NewProvider(cfg.Embed)
	if err != nil {
		return fmt.Errorf("create embedding provider: %w", err)
	}
	slog.Info("embedding provider initialized", "provider", provider.Name())

	pgStore := store.NewPostgresStore(pool)
	embedder := embed.NewService(provider, redisCache, cfg.Embed)
	searchSvc := search.NewService(embedder, pgStore, objects, cfg.Search, cfg.Storage.PresignTTL)

	// 7. Build router with dependencies
	deps := api.Dependencies{
		HealthHandler: handler.NewHealthHandler(pgStore, redisCache),

		SearchHandler: handler.NewSearchHandler(searchSvc),

		ListVideosHandler:  handler.NewListVideosHandler(pgStore),
		GetVideoHandler:    handler.NewGetVideoHandler(pgStore),
		DeleteVideoHandler: handler.NewDeleteVideoHandler(pgStore, objects),

		ListTasksHandler: handler.NewListTasksHandler(pgStore),
		GetTaskHandler:   handler.NewGetTaskHandler(pgStore),

		UploadLinkHandler: handler.NewUploadLinkHandler(objects, cfg.Storage.VideoBucket, cfg.Storage.UploadTTL),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // video searches block on the provider
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
