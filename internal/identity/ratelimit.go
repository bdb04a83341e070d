package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is a per-identity, per-tier fixed-window limiter using
// Redis INCR+EXPIRE, generalized from
// per-IP-login-attempt to per-(identity,tier)-tool-call. The window opens at
// the first counted call and the counter resets when it expires; it is not a
// sliding window or a token bucket.
type RateLimiter struct {
	redis  *redis.Client
	limits map[string]int // tier -> max calls per window
	window time.Duration
}

// NewRateLimiter creates a rate limiter. limits maps tool tier to the max
// number of calls permitted per identity within window.
func NewRateLimiter(rdb *redis.Client, limits map[string]int, window time.Duration) *RateLimiter {
	return &RateLimiter{redis: rdb, limits: limits, window: window}
}

// Result holds the outcome of a rate-limit check.
type Result struct {
	Allowed   bool
	Remaining int
	RetryAt   time.Time
}

// Allow increments the (identity, tier) window counter and reports whether
// the call is within budget: the (N+1)th call in a window of size N is
// denied, and calls are admitted again once the window that began with the
// first counted call has expired.
func (rl *RateLimiter) Allow(ctx context.Context, identitySubject, tier string) (*Result, error) {
	max, ok := rl.limits[tier]
	if !ok {
		max = rl.limits["default"]
	}

	key := fmt.Sprintf("ratelimit:%s:%s", tier, identitySubject)

	count, err := rl.redis.Incr(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("incrementing rate limit counter: %w", err)
	}
	if count == 1 {
		if err := rl.redis.Expire(ctx, key, rl.window).Err(); err != nil {
			return nil, fmt.Errorf("setting rate limit expiry: %w", err)
		}
	}

	if int(count) > max {
		ttl, err := rl.redis.TTL(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("getting rate limit TTL: %w", err)
		}
		return &Result{Allowed: false, Remaining: 0, RetryAt: time.Now().Add(ttl)}, nil
	}

	return &Result{Allowed: true, Remaining: max - int(count)}, nil
}

// Reset clears the rate-limit counter, used by tests and admin overrides.
func (rl *RateLimiter) Reset(ctx context.Context, identitySubject, tier string) error {
	key := fmt.Sprintf("ratelimit:%s:%s", tier, identitySubject)
	err := rl.redis.Del(ctx, key).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
