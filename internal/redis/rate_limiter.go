package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter allows or denies submissions using a sliding-window count in
// Redis. The limit is per key, so one limiter serves every queue.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int) (bool, error)
}

type slidingWindowLimiter struct {
	client *redis.Client
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter returns a Redis-backed sliding-window rate limiter.
func NewRateLimiter(client *redis.Client, window time.Duration) RateLimiter {
	return &slidingWindowLimiter{client: client, window: window, now: time.Now}
}

// Allow returns true when the request is within limit events per window.
// A limit <= 0 always allows. It uses a Redis sorted set as a timestamp ring
// buffer.
func (r *slidingWindowLimiter) Allow(ctx context.Context, key string, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	now := r.now().UnixNano()
	windowStart := now - r.window.Nanoseconds()
	rkey := "ratelimit:" + key

	pipe := r.client.TxPipeline()
	// Evict timestamps that fell outside the window.
	pipe.ZRemRangeByScore(ctx, rkey, "0", strconv.FormatInt(windowStart, 10))
	// Record this event with the current nanosecond timestamp as both score and member.
	pipe.ZAdd(ctx, rkey, redis.Z{Score: float64(now), Member: strconv.FormatInt(now, 10)})
	// Count events still in the window.
	countCmd := pipe.ZCard(ctx, rkey)
	// Keep the key alive for at least one more window.
	pipe.Expire(ctx, rkey, r.window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limiter pipeline for %q: %w", key, err)
	}

	return countCmd.Val() <= int64(limit), nil
}
