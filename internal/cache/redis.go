// Package cache provides a Redis-backed cache for version history
// listings. The cache is optional; a nil *HistoryCache is a no-op.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"inkwell/api/internal/store"

	"github.com/redis/go-redis/v9"
)

type HistoryCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewHistoryCache(redisURL string, ttl time.Duration) (*HistoryCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &HistoryCache{client: client, ttl: ttl}, nil
}

// NewHistoryCacheWithClient creates a cache from an existing Redis client
func NewHistoryCacheWithClient(client *redis.Client, ttl time.Duration) *HistoryCache {
	return &HistoryCache{client: client, ttl: ttl}
}

// Keys embed a per-document generation counter, so invalidation is a single
// INCR rather than a scan over every cached listing for the document.
func (c *HistoryCache) generation(ctx context.Context, documentID string) int64 {
	gen, err := c.client.Get(ctx, "doc:"+documentID+":gen").Int64()
	if err != nil {
		return 0
	}
	return gen
}

func (c *HistoryCache) key(ctx context.Context, documentID string) string {
	return fmt.Sprintf("history:%s:g:%d", documentID, c.generation(ctx, documentID))
}

// GetHistory returns the cached listing for a document, or false when the
// entry is missing, expired, or unreadable.
func (c *HistoryCache) GetHistory(ctx context.Context, documentID string) ([]store.Version, bool) {
	if c == nil {
		return nil, false
	}
	payload, err := c.client.Get(ctx, c.key(ctx, documentID)).Result()
	if err != nil {
		return nil, false
	}
	var versions []store.Version
	if err := json.Unmarshal([]byte(payload), &versions); err != nil {
		return nil, false
	}
	return versions, true
}

// SetHistory stores the listing under the document's current generation.
func (c *HistoryCache) SetHistory(ctx context.Context, documentID string, versions []store.Version) error {
	if c == nil {
		return nil
	}
	payload, err := json.Marshal(versions)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	if err := c.client.Set(ctx, c.key(ctx, documentID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache history: %w", err)
	}
	return nil
}

// Invalidate bumps the document's generation. Stale entries age out via TTL.
func (c *HistoryCache) Invalidate(ctx context.Context, documentID string) {
	if c == nil {
		return
	}
	if err := c.client.Incr(ctx, "doc:"+documentID+":gen").Err(); err != nil {
		// cache miss on next read is the worst case
		return
	}
}

func (c *HistoryCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

func (c *HistoryCache) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}
