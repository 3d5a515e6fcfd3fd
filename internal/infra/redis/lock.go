// File: internal/infra/redis/lock.go
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var ErrLockNotAcquired = errors.New("lock held by another owner")

type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

// RedisLocker is a single-key SET NX lock. It lets only one replica run the
// scheduled sweep at a time.
type RedisLocker struct {
	client RedisClient
	unlock func(ctx context.Context, key, token string) error
	tries  int
	wait   time.Duration
}

func NewLocker(c *Client) *RedisLocker {
	return &RedisLocker{
		client: c,
		unlock: func(ctx context.Context, key, token string) error {
			return luaUnlock.Run(ctx, c.cli, []string{key}, token).Err()
		},
		tries: 1,
		wait:  50 * time.Millisecond,
	}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	var lastErr error
	for i := 0; i < l.tries; i++ {
		ok, err := l.client.SetNX(ctx, key, token, ttl)
		if err != nil {
			lastErr = err
		} else if ok {
			return token, nil
		}
		if i+1 < l.tries {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(l.wait):
			}
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", ErrLockNotAcquired
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	err := l.unlock(ctx, key, token)
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
