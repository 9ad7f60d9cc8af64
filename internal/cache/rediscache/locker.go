package rediscache

import (
	"context"
	"time"

	"github.com/bsm/redislock"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Locker is a redis lock shared by all worker replicas.
type Locker struct {
	l *redislock.Client
}

func NewLocker(c *redis.Client) *Locker {
	return &Locker{l: redislock.New(c)}
}

// TryLock takes key for ttl without waiting. ok is false when the lock is held
// by someone else.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	lock, err := l.l.Obtain(ctx, "lock:"+key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis lock")
	}

	unlock := func(ctx context.Context) error {
		err := lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			// TTL истёк раньше, чем закончили.
			return nil
		}
		return errors.Wrap(err, "redis unlock")
	}
	return unlock, true, nil
}
