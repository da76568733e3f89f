// Package ratelimit throttles login attempts with a Redis sliding window.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Limiter interface {
	// Allow records an attempt for key and reports whether it is within the limit.
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter counts attempts in a sorted set per key, one member per
// attempt scored by its timestamp.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: "ratelimit:login",
		now:    time.Now,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := l.now()
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)
	windowStart := now.Add(-l.window).UnixNano()

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart))
	zcard := pipe.ZCard(ctx, redisKey)
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
	pipe.Expire(ctx, redisKey, l.window+time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to execute pipeline: %w", err)
	}

	return zcard.Val() < int64(l.limit), nil
}

// Reset forgets every attempt recorded for key.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, fmt.Sprintf("%s:%s", l.prefix, key)).Err()
}

// Guard wraps a Limiter and fails open: a limiter error admits the attempt.
// A nil Guard or a Guard without a limiter admits everything.
type Guard struct {
	limiter Limiter
	logger  *slog.Logger
}

func NewGuard(limiter Limiter, logger *slog.Logger) *Guard {
	return &Guard{limiter: limiter, logger: logger}
}

func (g *Guard) Allow(ctx context.Context, key string) bool {
	if g == nil || g.limiter == nil {
		return true
	}
	allowed, err := g.limiter.Allow(ctx, key)
	if err != nil {
		g.logger.WarnContext(ctx, "rate limiter unavailable, allowing request", "error", err)
		return true
	}
	return allowed
}
