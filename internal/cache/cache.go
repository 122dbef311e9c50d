package cache

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache memoizes embedding provider responses by content-addressable key.
// It is purely an optimization: implementations must never block the embedding
// pipeline, and callers treat every error as a cache miss.
// Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key Key) ([]byte, bool, error)
	Put(ctx context.Context, key Key, payload []byte, jobID string, ttlDays int) error
	Ping(ctx context.Context) error
}

// RedisCache implements Cache using go-redis/v9. Each entry is a Redis hash
// holding the serialized payload plus bookkeeping fields; expiry is delegated
// to Redis TTL, with expires_at stored for readers that want to double-check.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Get returns the cached payload for key. On a hit the access counters are
// bumped in the background; a failed bump never fails the read.
func (c *RedisCache) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	fields, err := c.client.HMGet(ctx, key.String(), "payload", "expires_at").Result()
	if err != nil {
		return nil, false, err
	}

	payload, ok := fields[0].(string)
	if !ok || payload == "" {
		return nil, false, nil
	}

	// Redis TTL expires entries on its own, but expires_at is still honored
	// in case the key was written with a longer TTL than intended.
	if expStr, ok := fields[1].(string); ok {
		if exp, err := strconv.ParseInt(expStr, 10, 64); err == nil && exp <= time.Now().Unix() {
			return nil, false, nil
		}
	}

	go c.bumpAccess(key)

	return []byte(payload), true, nil
}

// Put stores a payload under key with a TTL measured in days.
func (c *RedisCache) Put(ctx context.Context, key Key, payload []byte, jobID string, ttlDays int) error {
	now := time.Now().Unix()
	ttl := time.Duration(ttlDays) * 24 * time.Hour

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key.String(), map[string]any{
		"payload":       payload,
		"job_id":        jobID,
		"created_at":    now,
		"expires_at":    now + int64(ttl.Seconds()),
		"last_accessed": now,
		"access_count":  1,
	})
	if ttl > 0 {
		pipe.Expire(ctx, key.String(), ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// AccessCount returns the advisory access counter for key.
func (c *RedisCache) AccessCount(ctx context.Context, key Key) (int64, error) {
	return c.client.HGet(ctx, key.String(), "access_count").Int64()
}

// bumpAccess updates last_accessed and increments access_count. Counters are
// advisory, so last-write-wins semantics are acceptable here.
func (c *RedisCache) bumpAccess(key Key) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key.String(), "last_accessed", time.Now().Unix())
	pipe.HIncrBy(ctx, key.String(), "access_count", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("cache access tracking update failed", "key", shortHash(key.ContentHash), "error", err)
	}
}

// shortHash abbreviates a content hash for log output. Hashes off the wire
// are not guaranteed to be full length, so slicing must be bounds-checked.
func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}

// Compile-time check that RedisCache implements Cache.
var _ Cache = (*RedisCache)(nil)
