package adapter

import (
	"context"
	"time"
)

// Locker is a short-lived mutual exclusion port keyed by string. TryLock
// returns domain.ErrLockNotAcquired when the key is held elsewhere.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}
