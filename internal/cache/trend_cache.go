package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-trends/internal/models"
)

// Cache tiers, used as metric labels.
const (
	TierMemory = "l1"
	TierRedis  = "l2"
)

const keyPrefix = "market_trends:"

// TrendCacheStats tracks cache performance
type TrendCacheStats struct {
	L1Hits int64 `json:"l1_hits"`
	L2Hits int64 `json:"l2_hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
	Errors int64 `json:"errors"`
}

// LookupObserver is notified of every tier lookup.
type LookupObserver func(tier string, hit bool)

// TrendCache keeps analysis reports in an in-process LRU backed by Redis.
// A nil Redis client disables the second tier.
type TrendCache struct {
	local    *expirable.LRU[string, *models.TrendReport]
	redis    *redis.Client
	ttl      time.Duration
	logger   *logrus.Logger
	observer LookupObserver

	l1Hits, l2Hits, misses, sets, errs atomic.Int64
}

// NewTrendCache creates a cache holding up to size reports in memory.
func NewTrendCache(redisClient *redis.Client, size int, ttl time.Duration, logger *logrus.Logger) *TrendCache {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if size <= 0 {
		size = 16
	}
	return &TrendCache{
		local:  expirable.NewLRU[string, *models.TrendReport](size, nil, ttl),
		redis:  redisClient,
		ttl:    ttl,
		logger: logger,
	}
}

// SetObserver registers a callback for tier lookups.
func (c *TrendCache) SetObserver(o LookupObserver) {
	c.observer = o
}

// Key builds the cache key for a seed and the UTC day the history ends on.
func Key(seed uint64, day time.Time) string {
	return fmt.Sprintf("%s%d:%s", keyPrefix, seed, day.UTC().Format(time.DateOnly))
}

// Get returns the cached report for key. Redis failures are logged and
// treated as misses.
func (c *TrendCache) Get(ctx context.Context, key string) (*models.TrendReport, bool) {
	if report, ok := c.local.Get(key); ok {
		c.l1Hits.Add(1)
		c.observe(TierMemory, true)
		return report, true
	}
	c.observe(TierMemory, false)

	if c.redis == nil {
		c.misses.Add(1)
		return nil, false
	}

	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.errs.Add(1)
			c.logger.WithError(err).WithField("key", key).Warn("Redis error reading trend report")
		}
		c.misses.Add(1)
		c.observe(TierRedis, false)
		return nil, false
	}

	var report models.TrendReport
	if err := json.Unmarshal(data, &report); err != nil {
		c.errs.Add(1)
		c.logger.WithError(err).WithField("key", key).Warn("Discarding undecodable trend report")
		c.misses.Add(1)
		c.observe(TierRedis, false)
		return nil, false
	}

	c.local.Add(key, &report)
	c.l2Hits.Add(1)
	c.observe(TierRedis, true)
	return &report, true
}

// Set stores report in both tiers.
func (c *TrendCache) Set(ctx context.Context, key string, report *models.TrendReport) error {
	c.local.Add(key, report)
	c.sets.Add(1)
	if c.redis == nil {
		return nil
	}

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode trend report: %w", err)
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.errs.Add(1)
		return fmt.Errorf("failed to store trend report: %w", err)
	}
	return nil
}

// Invalidate drops every cached report and returns how many Redis keys were removed.
func (c *TrendCache) Invalidate(ctx context.Context) (int, error) {
	c.local.Purge()
	if c.redis == nil {
		return 0, nil
	}

	var removed int
	iter := c.redis.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
			c.errs.Add(1)
			return removed, fmt.Errorf("failed to delete %s: %w", iter.Val(), err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		c.errs.Add(1)
		return removed, fmt.Errorf("failed to scan trend cache keys: %w", err)
	}

	c.logger.WithField("removed", removed).Info("Trend cache invalidated")
	return removed, nil
}

// Stats returns a snapshot of the counters.
func (c *TrendCache) Stats() TrendCacheStats {
	return TrendCacheStats{
		L1Hits: c.l1Hits.Load(),
		L2Hits: c.l2Hits.Load(),
		Misses: c.misses.Load(),
		Sets:   c.sets.Load(),
		Errors: c.errs.Load(),
	}
}

func (c *TrendCache) observe(tier string, hit bool) {
	if c.observer != nil {
		c.observer(tier, hit)
	}
}
