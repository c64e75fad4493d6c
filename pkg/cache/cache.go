// Package cache implements the C4 cache layer: TTL read-through caching of
// inverter telemetry and weather documents, site-scoped price interval
// gap-fill/merge, and in-flight fetch deduplication, backed by Redis as a
// fast path with the persistence store as the durable fallback (§4.4).
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Result describes the outcome of a read-through cache lookup.
type Result struct {
	CacheHit bool
	AgeMs    int64
}

// Document is a single cached value plus the time it was stored, the shape
// every read-through cache (telemetry, weather) persists.
type Document[T any] struct {
	Value     T         `json:"value"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Cache coordinates the Redis fast path, the durable store fallback, and
// in-flight fetch deduplication for one process.
type Cache struct {
	rdb    *redis.Client
	logger *slog.Logger
	group  singleflight.Group
	now    func() time.Time
}

// New builds a Cache. rdb may be nil in tests that only exercise the price
// gap-fill path (which goes through Store, not Redis).
func New(rdb *redis.Client, logger *slog.Logger) *Cache {
	return &Cache{rdb: rdb, logger: logger, now: time.Now}
}

// getOrFetch is the generic read-through primitive shared by telemetry and
// weather caching: Redis hit within ttl returns immediately; otherwise the
// fetch runs (deduplicated across concurrent callers for the same key) and
// the result is written back to Redis. Redis errors never fail the read —
// they just force a fetch.
func getOrFetch[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fetch func(ctx context.Context) (T, error)) (T, Result, error) {
	var zero T

	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, key).Result()
		if err == nil {
			var doc Document[T]
			if jsonErr := json.Unmarshal([]byte(raw), &doc); jsonErr == nil {
				age := c.now().Sub(doc.FetchedAt)
				if age < ttl {
					return doc.Value, Result{CacheHit: true, AgeMs: age.Milliseconds()}, nil
				}
			} else {
				c.logger.Warn("corrupt cache document, refetching", "key", key, "error", jsonErr)
			}
		} else if err != redis.Nil {
			c.logger.Warn("cache read failed, refetching", "key", key, "error", err)
		}
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		value, fetchErr := fetch(ctx)
		if fetchErr != nil {
			return nil, fetchErr
		}
		c.store(ctx, key, value)
		return value, nil
	})
	if err != nil {
		return zero, Result{}, err
	}
	return v.(T), Result{CacheHit: false, AgeMs: 0}, nil
}

func (c *Cache) store(ctx context.Context, key string, value any) {
	if c.rdb == nil {
		return
	}
	doc := Document[any]{Value: value, FetchedAt: c.now()}
	raw, err := json.Marshal(doc)
	if err != nil {
		c.logger.Warn("failed to marshal cache document", "key", key, "error", err)
		return
	}
	// Store twice the TTL in Redis so a slightly-stale-but-present document
	// beats a failed refetch; ttl freshness is still enforced in
	// getOrFetch by comparing FetchedAt, not by Redis expiry alone.
	if err := c.rdb.Set(ctx, key, raw, 24*time.Hour).Err(); err != nil {
		c.logger.Warn("failed to write cache document", "key", key, "error", err)
	}
}
