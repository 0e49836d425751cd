package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/koios/inkboard/internal/config"
	"github.com/redis/go-redis/v9"
)

// Record is the persisted form of a cache entry.
type Record struct {
	Value     json.RawMessage `json:"value"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Mirror is a secondary store consulted when a key has no in-memory entry.
type Mirror interface {
	Load(ctx context.Context, key string) (Record, bool, error)
	Store(ctx context.Context, key string, rec Record, expiration time.Duration) error
}

// RedisMirror implements Mirror on top of Redis
type RedisMirror struct {
	client *redis.Client
	prefix string
}

// NewRedisMirror creates a Redis-backed mirror. Keys are stored as "<prefix>/<key>".
func NewRedisMirror(cfg *config.RedisConfig, prefix string) *RedisMirror {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return NewRedisMirrorFromClient(rdb, prefix)
}

// NewRedisMirrorFromClient creates a mirror on an existing client. Close
// closes the shared client.
func NewRedisMirrorFromClient(client *redis.Client, prefix string) *RedisMirror {
	return &RedisMirror{
		client: client,
		prefix: prefix,
	}
}

// Close closes the Redis connection
func (r *RedisMirror) Close() error {
	return r.client.Close()
}

// Ping tests the Redis connection
func (r *RedisMirror) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// buildKey scopes a cache key under the mirror prefix
func (r *RedisMirror) buildKey(key string) string {
	// Path separators would break the prefix scan in Flush
	cleanKey := strings.ReplaceAll(key, "/", "_")
	return fmt.Sprintf("%s/%s", r.prefix, cleanKey)
}

// Load retrieves a record; found is false when the key does not exist.
func (r *RedisMirror) Load(ctx context.Context, key string) (Record, bool, error) {
	mirrorKey := r.buildKey(key)

	data, err := r.client.Get(ctx, mirrorKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("failed to get key %s from Redis: %w", mirrorKey, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("failed to decode key %s: %w", mirrorKey, err)
	}

	return rec, true, nil
}

// Store writes a record that expires after expiration.
func (r *RedisMirror) Store(ctx context.Context, key string, rec Record, expiration time.Duration) error {
	mirrorKey := r.buildKey(key)

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode key %s: %w", mirrorKey, err)
	}

	if err := r.client.Set(ctx, mirrorKey, data, expiration).Err(); err != nil {
		return fmt.Errorf("failed to set key %s in Redis: %w", mirrorKey, err)
	}

	return nil
}

// Flush removes every key under the mirror prefix
func (r *RedisMirror) Flush(ctx context.Context) error {
	pattern := fmt.Sprintf("%s/*", r.prefix)

	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan for keys with pattern %s: %w", pattern, err)
	}

	if len(keys) > 0 {
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete keys: %w", err)
		}
	}

	return nil
}
