// Package cache provides a Redis-backed cache for ranked recommendation
// responses. Only final rankings are cached; term indexes and vectors are
// always recomputed. Entries expire on a TTL and are invalidated in bulk
// whenever an index is rebuilt.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/examforge/recommender/internal/recommend/rank"
	"github.com/examforge/recommender/pkg/config"
	"github.com/examforge/recommender/pkg/metrics"
	pkgredis "github.com/examforge/recommender/pkg/redis"
)

const keyPrefix = "rec:"

// Key identifies one cached recommendation response: the recommendation kind
// (similar_exam, user_exam, user_question), the subject entity or user id,
// and the page window.
type Key struct {
	Kind    string
	Subject string
	Page    rank.Page
}

// ResultCache caches marshalled recommendation responses in Redis and
// collapses concurrent identical computations with singleflight.
type ResultCache struct {
	client  *pkgredis.Client
	cfg     config.RedisConfig
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a ResultCache. m may be nil.
func New(client *pkgredis.Client, cfg config.RedisConfig, m *metrics.Metrics) *ResultCache {
	return &ResultCache{
		client:  client,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "result-cache"),
	}
}

// GetOrCompute returns the cached response for key, or runs compute, caches
// its JSON encoding, and returns it. The boolean reports a cache hit.
// Compute runs at most once across concurrent callers with the same key.
func (c *ResultCache) GetOrCompute(ctx context.Context, key Key, compute func() (any, error)) ([]byte, bool, error) {
	redisKey := c.buildKey(key)
	if data, ok := c.get(ctx, redisKey); ok {
		return data, true, nil
	}
	val, err, _ := c.group.Do(redisKey, func() (interface{}, error) {
		if data, ok := c.get(ctx, redisKey); ok {
			return data, nil
		}
		result, err := compute()
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshaling recommendation response: %w", err)
		}
		if err := c.client.Set(ctx, redisKey, data, c.cfg.CacheTTL); err != nil {
			c.logger.Error("cache set failed", "key", redisKey, "error", err)
		}
		return data, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]byte), false, nil
}

// Invalidate removes every cached response for one recommendation kind.
// Called after an index rebuild makes prior rankings stale.
func (c *ResultCache) Invalidate(ctx context.Context, kind string) error {
	pattern := keyPrefix + kind + ":*"
	deleted, err := c.client.FlushByPattern(ctx, pattern)
	if err != nil {
		return fmt.Errorf("invalidating %s cache: %w", kind, err)
	}
	c.logger.Info("cache invalidated", "kind", kind, "keys_deleted", deleted)
	return nil
}

func (c *ResultCache) get(ctx context.Context, redisKey string) ([]byte, bool) {
	data, err := c.client.Get(ctx, redisKey)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", redisKey, "error", err)
		}
		if c.metrics != nil {
			c.metrics.CacheMissesTotal.Inc()
		}
		return nil, false
	}
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	return []byte(data), true
}

func (c *ResultCache) buildKey(key Key) string {
	raw := fmt.Sprintf("%s:offset=%d:limit=%d", key.Subject, key.Page.Offset, key.Page.Limit)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%s:%x", keyPrefix, key.Kind, hash[:16])
}
