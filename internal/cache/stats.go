// Package cache provides the Redis-backed read-through cache for grouped
// timing stats.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"flock/api/internal/store"

	"github.com/redis/go-redis/v9"
)

// StatsCache stores serialized grouped-stats results under tenant-scoped keys
// with a short TTL. A miss or any Redis failure reads through to the store.
type StatsCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewStatsCache creates a cache from a Redis URL.
func NewStatsCache(redisURL string, ttl time.Duration) (*StatsCache, error) {
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

	return NewStatsCacheWithClient(client, ttl), nil
}

// NewStatsCacheWithClient creates a cache from an existing Redis client.
func NewStatsCacheWithClient(client *redis.Client, ttl time.Duration) *StatsCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &StatsCache{
		client: client,
		prefix: "stats:",
		ttl:    ttl,
	}
}

// Key builds the cache key for one grouped-stats query.
func Key(tenantID, groupBy string, filters store.StatFilters, from, to time.Time) string {
	parts := []string{
		tenantID,
		groupBy,
		filters.Series,
		filters.Presenter,
		filters.TimeSlot,
		from.Format("2006-01-02"),
		to.Format("2006-01-02"),
	}
	return strings.Join(parts, "|")
}

// GetGroups returns the cached groups for key, or ok=false on miss or error.
func (c *StatsCache) GetGroups(ctx context.Context, key string) ([]store.StatGroup, bool) {
	raw, err := c.client.Get(ctx, c.prefix+key).Result()
	if err != nil {
		return nil, false
	}
	var groups []store.StatGroup
	if err := json.Unmarshal([]byte(raw), &groups); err != nil {
		return nil, false
	}
	return groups, true
}

// SetGroups stores the groups for key with the configured TTL. Failures are
// swallowed; the cache is advisory.
func (c *StatsCache) SetGroups(ctx context.Context, key string, groups []store.StatGroup) {
	raw, err := json.Marshal(groups)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.prefix+key, raw, c.ttl).Err()
}

// Close closes the Redis connection.
func (c *StatsCache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable.
func (c *StatsCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
