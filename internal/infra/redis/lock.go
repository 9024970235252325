// File: internal/infra/redis/lock.go
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"trading-edu-billing/internal/domain"
	"trading-edu-billing/internal/domain/ports/adapter"
)

var _ adapter.Locker = (*RedisLocker)(nil)

type RedisLocker struct {
	cli    *redis.Client
	prefix string
	policy func() backoff.BackOff
}

func NewLocker(c *Client) *RedisLocker {
	return &RedisLocker{
		cli:    c.cli,
		prefix: "lock:",
		policy: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(50*time.Millisecond), 4)
		},
	}
}

// TryLock sets key if absent. A held key fails fast with
// domain.ErrLockNotAcquired; transport errors are retried a few times.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	op := func() error {
		ok, err := l.cli.SetNX(ctx, l.prefix+key, token, ttl).Result()
		if err != nil {
			return err
		}
		if !ok {
			return backoff.Permanent(domain.ErrLockNotAcquired)
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(l.policy(), ctx)); err != nil {
		if errors.Is(err, domain.ErrLockNotAcquired) {
			return "", domain.ErrLockNotAcquired
		}
		return "", err
	}
	return token, nil
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

// Unlock releases key only if token still owns it.
func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := luaUnlock.Run(ctx, l.cli, []string{l.prefix + key}, token).Result()
	return err
}
