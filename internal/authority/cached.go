package authority

import (
	"context"
	"errors"
	"fmt"
	"time"

	"grant-workers/internal/common/logger"
	"grant-workers/internal/common/metrics"
	"grant-workers/internal/grants"

	"github.com/redis/go-redis/v9"
)

// Cached remembers negative answers of another provider in redis for ttl.
// Positive answers always go to the wrapped provider so a revoked admin loses
// access at once. Redis failures fall through to the wrapped provider.
type Cached struct {
	next   grants.AuthorityProvider
	redis  *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewCached(next grants.AuthorityProvider, rdb *redis.Client, ttl time.Duration, log logger.Logger) *Cached {
	return &Cached{next: next, redis: rdb, ttl: ttl, logger: log}
}

func cacheKey(workspaceID uint64, principal string) string {
	return fmt.Sprintf("authority:admin:%d:%s", workspaceID, principal)
}

func (c *Cached) IsAdmin(ctx context.Context, workspaceID uint64, principal string) (bool, error) {
	key := cacheKey(workspaceID, principal)

	val, err := c.redis.Get(ctx, key).Result()
	switch {
	case err == nil && val == "0":
		metrics.AuthorityCacheLookups.WithLabelValues("hit").Inc()
		return false, nil
	case err == nil, errors.Is(err, redis.Nil):
		metrics.AuthorityCacheLookups.WithLabelValues("miss").Inc()
	default:
		metrics.AuthorityCacheLookups.WithLabelValues("error").Inc()
		c.logger.Warn("authority cache read failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}

	ok, err := c.next.IsAdmin(ctx, workspaceID, principal)
	if err != nil || ok {
		return ok, err
	}

	if err := c.redis.Set(ctx, key, "0", c.ttl).Err(); err != nil {
		c.logger.Warn("authority cache write failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
	return ok, nil
}
