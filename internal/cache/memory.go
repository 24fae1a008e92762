package cache

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/org/adminguard/internal/metrics"
)

// MemoryCache is an in-process PermissionCache. Entries expire ttl after Set and the
// LRU evicts the oldest entry once maxEntries is reached, so unique-key churn cannot
// grow it without bound.
type MemoryCache struct {
	ttl    time.Duration
	lru    *lru.LRU[Key, bool]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemoryCache creates a MemoryCache. Non-positive arguments fall back to defaults.
func NewMemoryCache(ttl time.Duration, maxEntries int) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryCache{
		ttl: ttl,
		lru: lru.NewLRU[Key, bool](maxEntries, nil, ttl),
	}
}

func (c *MemoryCache) Get(_ context.Context, key Key) (bool, bool) {
	allowed, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		metrics.PermissionCache.WithLabelValues(BackendMemory, "miss").Inc()
		return false, false
	}
	c.hits.Add(1)
	metrics.PermissionCache.WithLabelValues(BackendMemory, "hit").Inc()
	return allowed, true
}

func (c *MemoryCache) Set(_ context.Context, key Key, allowed bool) {
	c.lru.Add(key, allowed)
}

// InvalidateUser removes every cached decision for userID.
func (c *MemoryCache) InvalidateUser(_ context.Context, userID string) error {
	for _, k := range c.lru.Keys() {
		if k.UserID == userID {
			c.lru.Remove(k)
		}
	}
	return nil
}

func (c *MemoryCache) InvalidateAll(_ context.Context) error {
	c.lru.Purge()
	return nil
}

func (c *MemoryCache) Stats(_ context.Context) Stats {
	return Stats{
		Backend: BackendMemory,
		Size:    c.lru.Len(),
		TTL:     c.ttl,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}

func (c *MemoryCache) Close() error {
	c.lru.Purge()
	return nil
}
