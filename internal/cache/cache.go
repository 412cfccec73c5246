// Package cache provides the pluggable cache abstraction used by the
// rate limiter — SPEC_FULL.md §2 item 16. A process-local in-memory cache
// (github.com/patrickmn/go-cache) is the default; setting REDIS_ADDR
// switches to github.com/redis/go-redis/v9 without changing call sites,
// mirroring the teacher's pkg/cache single-host-safe-by-default design
// (trimmed to counters plus simple get/set/delete; the rate limiter is the
// only caller in the gateway and uses only the counter).
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("cache: not found")

// Cache is the abstraction rate limiting depends on.
type Cache interface {
	// IncrWithTTL atomically increments key and, if this is the first
	// increment (the key did not previously exist), applies ttl as the
	// key's expiry. Returns the counter's new value.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// New builds a Cache backed by Redis when addr is non-empty, otherwise an
// in-process memory cache.
func New(addr string) (Cache, error) {
	if addr == "" {
		return newMemoryCache(), nil
	}
	return newRedisCache(addr)
}
