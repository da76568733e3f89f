package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"resource-service/common/logger"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	client.FlushDB(ctx)

	t.Cleanup(func() {
		client.FlushDB(ctx)
		client.Close()
	})

	return client
}

func TestRedisLimiter_Allow(t *testing.T) {
	client := setupTestRedis(t)
	limiter := NewRedisLimiter(client, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "a@example.com|10.0.0.1")
		require.NoError(t, err)
		assert.True(t, allowed, "attempt %d should be allowed", i+1)
	}

	allowed, err := limiter.Allow(ctx, "a@example.com|10.0.0.1")
	require.NoError(t, err)
	assert.False(t, allowed, "4th attempt should be denied")

	allowed, err = limiter.Allow(ctx, "b@example.com|10.0.0.1")
	require.NoError(t, err)
	assert.True(t, allowed, "other keys are independent")

	require.NoError(t, limiter.Reset(ctx, "a@example.com|10.0.0.1"))
	allowed, err = limiter.Allow(ctx, "a@example.com|10.0.0.1")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRedisLimiter_WindowSlides(t *testing.T) {
	client := setupTestRedis(t)
	limiter := NewRedisLimiter(client, 1, time.Minute)
	ctx := context.Background()

	now := time.Now()
	limiter.now = func() time.Time { return now }

	allowed, err := limiter.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, allowed)

	limiter.now = func() time.Time { return now.Add(3 * time.Minute) }
	allowed, err = limiter.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, allowed, "attempts outside the window no longer count")
}

type stubLimiter struct {
	allowed bool
	err     error
}

func (s stubLimiter) Allow(context.Context, string) (bool, error) { return s.allowed, s.err }

func TestGuard(t *testing.T) {
	ctx := context.Background()

	var nilGuard *Guard
	assert.True(t, nilGuard.Allow(ctx, "k"))
	assert.True(t, NewGuard(nil, logger.Discard()).Allow(ctx, "k"))
	assert.True(t, NewGuard(stubLimiter{allowed: true}, logger.Discard()).Allow(ctx, "k"))
	assert.False(t, NewGuard(stubLimiter{allowed: false}, logger.Discard()).Allow(ctx, "k"))
	assert.True(t, NewGuard(stubLimiter{err: errors.New("connection refused")}, logger.Discard()).Allow(ctx, "k"),
		"limiter failures fail open")
}
