// Package objectstore wraps the S3-compatible storage backend holding the
// uploaded videos.
package objectstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mcastelli/vidmatch/internal/config"
	"github.com/mcastelli/vidmatch/pkg/models"
)

// ErrNotFound is returned when an object does not exist (or has not become
// visible yet).
var ErrNotFound = errors.New("object not found")

// ObjectStore is the storage interface the pipeline depends on.
type ObjectStore interface {
	Exists(ctx context.Context, ref models.ObjectRef) (bool, error)
	WaitForObject(ctx context.Context, ref models.ObjectRef, retries int, delay time.Duration) error
	PresignedGetURL(ctx context.Context, ref models.ObjectRef, ttl time.Duration) (string, error)
	PresignedPutURL(ctx context.Context, ref models.ObjectRef, ttl time.Duration) (string, error)
	Open(ctx context.Context, ref models.ObjectRef) (io.ReadSeekCloser, error)
	Remove(ctx context.Context, ref models.ObjectRef) error
}

// MinioStore implements ObjectStore using minio-go/v7.
type MinioStore struct {
	client *minio.Client
}

// NewMinioStore creates a connected MinioStore from config.
func NewMinioStore(cfg config.StorageConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}
	return &MinioStore{client: client}, nil
}

// Exists reports whether the object is visible in storage.
func (s *MinioStore) Exists(ctx context.Context, ref models.ObjectRef) (bool, error) {
	_, err := s.client.StatObject(ctx, ref.Bucket, ref.Key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// WaitForObject polls for the object with a fixed delay between attempts.
// Upload events can race ahead of object durability, so a couple of short
// retries is normally enough; exhausting them returns ErrNotFound.
func (s *MinioStore) WaitForObject(ctx context.Context, ref models.ObjectRef, retries int, delay time.Duration) error {
	if retries <= 0 {
		retries = 1
	}
	for attempt := 1; attempt <= retries; attempt++ {
		exists, err := s.Exists(ctx, ref)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		slog.Info("object not visible yet",
			"object", ref.String(), "attempt", attempt, "retries", retries)
		if attempt < retries {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return ErrNotFound
}

// PresignedGetURL returns a time-limited read URL for the object.
func (s *MinioStore) PresignedGetURL(ctx context.Context, ref models.ObjectRef, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, ref.Bucket, ref.Key, ttl, url.Values{})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// PresignedPutURL returns a time-limited upload URL for the object.
func (s *MinioStore) PresignedPutURL(ctx context.Context, ref models.ObjectRef, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, ref.Bucket, ref.Key, ttl)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// Open returns a seekable reader over the object, suitable for the cache's
// partial content hashing.
func (s *MinioStore) Open(ctx context.Context, ref models.ObjectRef) (io.ReadSeekCloser, error) {
	obj, err := s.client.GetObject(ctx, ref.Bucket, ref.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// Remove deletes the object from storage.
func (s *MinioStore) Remove(ctx context.Context, ref models.ObjectRef) error {
	return s.client.RemoveObject(ctx, ref.Bucket, ref.Key, minio.RemoveObjectOptions{})
}

// Compile-time check that MinioStore implements ObjectStore.
var _ ObjectStore = (*MinioStore)(nil)
