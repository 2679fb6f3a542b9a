package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/teia-market/marketd/internal/app/domain/metadata"
	"github.com/teia-market/marketd/pkg/logger"
)

// RedisCache shares resolved metadata across instances. Redis errors are
// logged and treated as misses.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache wraps an existing redis client. Zero TTL means 10 minutes.
func NewRedisCache(client *redis.Client, ttl time.Duration, log *logger.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if log == nil {
		log = logger.NewDefault("metadata-cache")
	}
	return &RedisCache{client: client, ttl: ttl, log: log}
}

func cacheKey(tokenID uint64) string {
	return fmt.Sprintf("marketd:metadata:%d", tokenID)
}

func (c *RedisCache) Get(ctx context.Context, tokenID uint64) (metadata.Resolved, bool) {
	raw, err := c.client.Get(ctx, cacheKey(tokenID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WithError(err).WithField("token_id", tokenID).Warn("metadata cache read failed")
		}
		return metadata.Resolved{}, false
	}

	var resolved metadata.Resolved
	if err := json.Unmarshal(raw, &resolved); err != nil {
		c.log.WithError(err).WithField("token_id", tokenID).Warn("metadata cache entry corrupt")
		return metadata.Resolved{}, false
	}
	return resolved, true
}

func (c *RedisCache) Set(ctx context.Context, resolved metadata.Resolved) {
	raw, err := json.Marshal(resolved)
	if err != nil {
		c.log.WithError(err).WithField("token_id", resolved.TokenID).Warn("metadata cache encode failed")
		return
	}
	if err := c.client.Set(ctx, cacheKey(resolved.TokenID), raw, c.ttl).Err(); err != nil {
		c.log.WithError(err).WithField("token_id", resolved.TokenID).Warn("metadata cache write failed")
	}
}
