// Package ratelimit implements fixed-window request admission control.
//
// A per-key counter lives in Redis with a TTL equal to the window; when the
// TTL fires the whole window resets at once, so bursts straddling a window
// boundary are admitted. The check and the increment are deliberately not
// atomic: concurrent callers on the same key may slightly over-admit, which
// the design accepts in exchange for not serializing the hot path. The
// counter TTL still bounds over-admission to one window.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "rate_limit:"

// Defaults applied when a zero config value is given.
const (
	DefaultMaxRequests   = 20
	DefaultWindowSeconds = 3600
)

// Limiter is a fixed-window rate limiter keyed by caller identity.
type Limiter struct {
	rdb         *redis.Client
	maxRequests int
	window      time.Duration
}

// New creates a limiter backed by the given Redis client.
func New(rdb *redis.Client, maxRequests, windowSeconds int) *Limiter {
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	if windowSeconds <= 0 {
		windowSeconds = DefaultWindowSeconds
	}
	return &Limiter{
		rdb:         rdb,
		maxRequests: maxRequests,
		window:      time.Duration(windowSeconds) * time.Second,
	}
}

// Allow checks the caller's quota and, if admitted, counts the request.
// Returns (admitted, remaining). The counter's TTL is set when the window is
// created and preserved on subsequent increments.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, int, error) {
	cacheKey := keyPrefix + key

	current, err := l.current(ctx, cacheKey)
	if err != nil {
		return false, 0, fmt.Errorf("reading window counter: %w", err)
	}

	if current >= l.maxRequests {
		return false, 0, nil
	}

	next := current + 1
	if current == 0 {
		err = l.rdb.Set(ctx, cacheKey, next, l.window).Err()
	} else {
		err = l.rdb.Set(ctx, cacheKey, next, redis.KeepTTL).Err()
	}
	if err != nil {
		return false, 0, fmt.Errorf("writing window counter: %w", err)
	}

	return true, l.maxRequests - next, nil
}

// Remaining returns how many requests are left in the caller's current window.
func (l *Limiter) Remaining(ctx context.Context, key string) (int, error) {
	current, err := l.current(ctx, keyPrefix+key)
	if err != nil {
		return 0, fmt.Errorf("reading window counter: %w", err)
	}
	remaining := l.maxRequests - current
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (l *Limiter) current(ctx context.Context, cacheKey string) (int, error) {
	val, err := l.rdb.Get(ctx, cacheKey).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		// A corrupted counter is treated as an empty window rather than
		// locking the caller out.
		return 0, nil
	}
	return n, nil
}
