// Package cache stores prior authorization decisions for a bounded time.
//
// Two backends satisfy PermissionCache: an in-process expiring LRU and Redis.
// Callers pick one through Config.Backend and never see which one they got.
package cache

import (
	"context"
	"fmt"
	"time"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"

	DefaultTTL        = 5 * time.Minute
	DefaultMaxEntries = 10000
	DefaultPrefix     = "adminguard:perm"
)

// Key identifies one cached decision.
type Key struct {
	UserID   string
	Resource string
	Action   string
	Scope    string
}

// Stats describes the cache for monitoring.
type Stats struct {
	Backend string        `json:"backend"`
	Size    int           `json:"size"`
	TTL     time.Duration `json:"ttl"`
	Hits    int64         `json:"hits"`
	Misses  int64         `json:"misses"`
}

// PermissionCache is a TTL store of boolean authorization decisions.
// Get on an expired entry must report a miss.
type PermissionCache interface {
	Get(ctx context.Context, key Key) (allowed bool, ok bool)
	Set(ctx context.Context, key Key, allowed bool)
	InvalidateUser(ctx context.Context, userID string) error
	InvalidateAll(ctx context.Context) error
	Stats(ctx context.Context) Stats
	Close() error
}

// Config selects and sizes the cache backend.
type Config struct {
	Backend    string        `koanf:"backend" validate:"omitempty,oneof=memory redis"`
	TTL        time.Duration `koanf:"ttl"`
	MaxEntries int           `koanf:"max_entries" validate:"gte=0"`
	RedisURL   string        `koanf:"redis_url"`
	Prefix     string        `koanf:"prefix"`
}

// New builds the backend named by cfg.Backend. An empty backend means memory.
func New(cfg Config) (PermissionCache, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryCache(cfg.TTL, cfg.MaxEntries), nil
	case BackendRedis:
		client, err := NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return NewRedisCache(client, cfg.Prefix, cfg.TTL), nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}
