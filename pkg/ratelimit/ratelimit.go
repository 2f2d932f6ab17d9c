package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimiter gates outbound calls per key
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// TokenBucketLimiter implements token bucket algorithm, one bucket per key
type TokenBucketLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewTokenBucketLimiter(rps float64, burst int) *TokenBucketLimiter {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucketLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *TokenBucketLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	return lim
}

func (l *TokenBucketLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return l.get(key).Allow(), nil
}

// Wait blocks until a token for key is available or ctx is done.
func (l *TokenBucketLimiter) Wait(ctx context.Context, key string) error {
	return l.get(key).Wait(ctx)
}

func (l *TokenBucketLimiter) Limit() rate.Limit {
	return l.limit
}

func (l *TokenBucketLimiter) Burst() int {
	return l.burst
}

// RedisRateLimiter implements a sliding-window limit shared by every engine
// replica that points at the same Redis
type RedisRateLimiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
	prefix string
}

func NewRedisRateLimiter(client *redis.Client, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{
		redis:  client,
		limit:  limit,
		window: window,
		prefix: "ratelimit:",
	}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	key = r.prefix + key
	now := time.Now().UnixNano()
	windowStart := now - r.window.Nanoseconds()

	pipe := r.redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit pipeline failed: %w", err)
	}

	if countCmd.Val() >= int64(r.limit) {
		return false, nil
	}

	pipe = r.redis.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: uuid.New().String()})
	pipe.Expire(ctx, key, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit record failed: %w", err)
	}

	return true, nil
}

// Remaining returns how many calls are still allowed in the current window.
func (r *RedisRateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	key = r.prefix + key
	windowStart := time.Now().UnixNano() - r.window.Nanoseconds()

	count, err := r.redis.ZCount(ctx, key, strconv.FormatInt(windowStart, 10), "+inf").Result()
	if err != nil {
		return 0, err
	}

	remaining := r.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
