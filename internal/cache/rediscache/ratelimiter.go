package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	c *redis.Client
}

func NewRateLimiter(c *redis.Client) *RateLimiter {
	return &RateLimiter{c: c}
}

// Allow делает INCR по ключу окна и ставит TTL.
// Возвращает (allowed, currentCount).
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	bucket := time.Now().UTC().Truncate(window).Unix()
	k := "rl:" + key + ":" + time.Unix(bucket, 0).UTC().Format("200601021504")

	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, window+10*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, errors.Wrap(err, "redis ratelimit")
	}
	n := incr.Val()
	return n <= limit, n, nil
}
