package cache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/org/adminguard/internal/metrics"
	"github.com/rs/zerolog/log"
)

// NewRedisClient parses url, applies connection timeouts and pings the server.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// RedisCache is a PermissionCache shared by every process pointing at the same Redis.
// Expiry is delegated to Redis key TTLs. A Redis error is reported as a miss so the
// evaluator recomputes the decision instead of trusting a value it could not read.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// key escapes every segment so a ':' inside an ID cannot shift the boundaries and
// alias another user's entry.
func (c *RedisCache) key(k Key) string {
	return fmt.Sprintf("%s:user:%s:%s:%s:%s", c.prefix,
		segment(k.UserID), segment(k.Resource), segment(k.Action), segment(k.Scope))
}

// segment query-escapes s. The result holds no ':' and no MATCH metacharacters.
func segment(s string) string {
	return url.QueryEscape(s)
}

func (c *RedisCache) Get(ctx context.Context, key Key) (bool, bool) {
	val, err := c.client.Get(ctx, c.key(key)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("user_id", key.UserID).Msg("permission cache read failed")
			metrics.PermissionCache.WithLabelValues(BackendRedis, "error").Inc()
		}
		c.misses.Add(1)
		metrics.PermissionCache.WithLabelValues(BackendRedis, "miss").Inc()
		return false, false
	}
	c.hits.Add(1)
	metrics.PermissionCache.WithLabelValues(BackendRedis, "hit").Inc()
	return val == "1", true
}

func (c *RedisCache) Set(ctx context.Context, key Key, allowed bool) {
	val := "0"
	if allowed {
		val = "1"
	}
	if err := c.client.Set(ctx, c.key(key), val, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("user_id", key.UserID).Msg("permission cache write failed")
		metrics.PermissionCache.WithLabelValues(BackendRedis, "error").Inc()
	}
}

// InvalidateUser deletes every key under the user's prefix.
func (c *RedisCache) InvalidateUser(ctx context.Context, userID string) error {
	return c.deleteMatching(ctx, escapeGlob(c.prefix)+":user:"+segment(userID)+":*")
}

func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	return c.deleteMatching(ctx, escapeGlob(c.prefix)+":*")
}

func (c *RedisCache) deleteMatching(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan failed for pattern %s: %w", pattern, err)
	}
	return nil
}

func (c *RedisCache) Stats(ctx context.Context) Stats {
	size := 0
	iter := c.client.Scan(ctx, 0, escapeGlob(c.prefix)+":*", 100).Iterator()
	for iter.Next(ctx) {
		size++
	}
	if err := iter.Err(); err != nil {
		log.Warn().Err(err).Msg("permission cache size scan failed")
	}
	return Stats{
		Backend: BackendRedis,
		Size:    size,
		TTL:     c.ttl,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// escapeGlob escapes Redis MATCH metacharacters in the configured prefix.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
