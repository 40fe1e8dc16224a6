// Package ratelimit provides sliding counters over Redis, keyed by
// "{scope}:{identity}". INCR is atomic on the server, so concurrent
// requests from the same key are counted correctly; the expiry is set
// on the first hit of each window.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"cleanspot/models"

	"github.com/redis/go-redis/v9"
)

// Client is the slice of the Redis command surface the limiter uses.
// *redis.Client satisfies it.
type Client interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
}

type Limiter struct {
	rdb Client
}

// NewLimiter wraps a Redis client. A nil client disables limiting,
// which keeps local development and tests runnable without Redis.
func NewLimiter(rdb Client) *Limiter {
	return &Limiter{rdb: rdb}
}

// Key builds the canonical counter key.
func Key(scope, identity string) string {
	return fmt.Sprintf("%s:%s", scope, identity)
}

// Hit increments the counter for key and returns the new count. The
// expiry is attached when the counter is created so the window closes
// even if the caller never comes back.
func (l *Limiter) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	if l.rdb == nil {
		return 0, nil
	}
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", key, err)
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, key, window).Err(); err != nil {
			return count, fmt.Errorf("failed to set expiry on %s: %w", key, err)
		}
	}
	return count, nil
}

// Count reads the counter for key without touching it. A missing key
// counts as zero.
func (l *Limiter) Count(ctx context.Context, key string) (int64, error) {
	if l.rdb == nil {
		return 0, nil
	}
	count, err := l.rdb.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter %s: %w", key, err)
	}
	return count, nil
}

// Mark sets an expiring presence marker under key. Remaining reports
// how much of the marker's window is left.
func (l *Limiter) Mark(ctx context.Context, key string, window time.Duration) error {
	if l.rdb == nil {
		return nil
	}
	if err := l.rdb.Set(ctx, key, 1, window).Err(); err != nil {
		return fmt.Errorf("failed to set marker %s: %w", key, err)
	}
	return nil
}

// Remaining returns the time left on key's expiry, zero when the key is
// absent or has no expiry.
func (l *Limiter) Remaining(ctx context.Context, key string) (time.Duration, error) {
	if l.rdb == nil {
		return 0, nil
	}
	ttl, err := l.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read ttl of %s: %w", key, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Allow counts a hit against key and rejects with RATE_LIMITED once the
// count inside the current window exceeds limit. The error carries the
// remaining window as retry-after.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) error {
	if l.rdb == nil {
		return nil
	}
	count, err := l.Hit(ctx, key, window)
	if err != nil {
		return err
	}
	if count <= int64(limit) {
		return nil
	}
	retryAfter := window
	if ttl, err := l.rdb.TTL(ctx, key).Result(); err == nil && ttl > 0 {
		retryAfter = ttl
	}
	return models.NewRateLimitedError(int(retryAfter.Seconds()))
}
