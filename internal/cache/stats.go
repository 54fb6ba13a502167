package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"qms/campus-queue/internal/queue"
)

var ErrCacheMiss = errors.New("cache miss")

const statsKeyPrefix = "campus-queue:stats:"

// StatsCache keeps the latest department stats snapshot so dashboards polling
// between refresh ticks do not each re-read the ticket table.
type StatsCache struct {
	client   *redis.Client
	ttl      time.Duration
	logger   *zap.Logger
	onLookup func(result string)
}

type Option func(*StatsCache)

// WithLookupObserver reports "hit", "miss" or "error" for every Get.
func WithLookupObserver(fn func(result string)) Option {
	return func(c *StatsCache) {
		c.onLookup = fn
	}
}

func NewStatsCache(client *redis.Client, ttl time.Duration, logger *zap.Logger, opts ...Option) *StatsCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	c := &StatsCache{client: client, ttl: ttl, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *StatsCache) Enabled() bool {
	return c != nil && c.client != nil
}

func (c *StatsCache) Get(ctx context.Context, departmentID string) (queue.Stats, error) {
	var stats queue.Stats
	if !c.Enabled() {
		c.observe("miss")
		return stats, ErrCacheMiss
	}

	key := statsKey(departmentID)
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.observe("miss")
			return stats, ErrCacheMiss
		}
		c.observe("error")
		return stats, fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, &stats); err != nil {
		c.observe("error")
		return queue.Stats{}, fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}
	c.observe("hit")
	return stats, nil
}

func (c *StatsCache) Set(ctx context.Context, stats queue.Stats) error {
	if !c.Enabled() {
		return nil
	}

	key := statsKey(stats.DepartmentID)
	payload, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Invalidate drops one department's snapshot, or every snapshot when
// departmentID is empty.
func (c *StatsCache) Invalidate(ctx context.Context, departmentID string) error {
	if !c.Enabled() {
		return nil
	}
	if departmentID != "" {
		if err := c.client.Del(ctx, statsKey(departmentID)).Err(); err != nil {
			return fmt.Errorf("redis delete %s: %w", statsKey(departmentID), err)
		}
		return nil
	}

	pattern := statsKeyPrefix + "*"
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if err := c.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("redis delete %s: %w", key, err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan pattern %s: %w", pattern, err)
	}
	return nil
}

// InvalidateQuietly is Invalidate for write paths that must not fail because
// the cache is unavailable.
func (c *StatsCache) InvalidateQuietly(ctx context.Context, departmentID string) {
	if err := c.Invalidate(ctx, departmentID); err != nil {
		c.logger.Warn("stats cache invalidate failed", zap.String("department_id", departmentID), zap.Error(err))
	}
}

func (c *StatsCache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}

func (c *StatsCache) observe(result string) {
	if c != nil && c.onLookup != nil {
		c.onLookup(result)
	}
}

func statsKey(departmentID string) string {
	return statsKeyPrefix + departmentID
}
