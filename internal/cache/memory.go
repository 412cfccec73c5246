package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryCache implements Cache over github.com/patrickmn/go-cache, with
// an extra mutex guarding the read-increment-write sequence IncrWithTTL
// needs (go-cache's own Increment only operates on numeric types already
// present) — adapted from the teacher's pkg/cache memoryCache.
type memoryCache struct {
	c  *gocache.Cache
	mu sync.Mutex
}

func newMemoryCache() *memoryCache {
	return &memoryCache{c: gocache.New(5*time.Minute, 10*time.Minute)}
}

func (m *memoryCache) IncrWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, found := m.c.Get(key); found {
		// IncrementInt64 keeps the expiry set by the first increment.
		if n, err := m.c.IncrementInt64(key, 1); err == nil {
			return n, nil
		}
	}
	m.c.Set(key, int64(1), ttl)
	return 1, nil
}

func (m *memoryCache) Get(_ context.Context, key string) (string, error) {
	v, found := m.c.Get(key)
	if !found {
		return "", ErrNotFound
	}
	s, _ := v.(string)
	return s, nil
}

func (m *memoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.c.Set(key, value, ttl)
	return nil
}

func (m *memoryCache) Delete(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

func (m *memoryCache) Close() error { return nil }
