package redis

import (
	"context"
	"fmt"
	"time"
)

// RateLimiter counts requests per key in fixed windows. The first hit of a
// window sets the key's TTL, so the counter resets when the key expires.
// The API uses it to cap billing writes (subscribe, cancel, manual charge)
// per authenticated caller.
type RateLimiter struct {
	client *Client
}

func NewRateLimiter(client *Client) *RateLimiter {
	return &RateLimiter{client: client}
}

// Allow records one hit on key and reports whether it is within limit for
// the current window.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	hits, err := r.client.Incr(ctx, key)
	if err != nil {
		return false, err
	}
	if hits == 1 {
		if err := r.client.Expire(ctx, key, window); err != nil {
			return false, err
		}
	}
	return hits <= int64(limit), nil
}

// CallerActionKey builds the counter key for one caller and action, e.g.
// "rate_limit:user-42:billing_write".
func CallerActionKey(caller, action string) string {
	return fmt.Sprintf("rate_limit:%s:%s", caller, action)
}
