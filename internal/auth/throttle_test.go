package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLoginThrottle(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()
	ctx := context.Background()

	throttle := NewRedisLoginThrottle(client, 3, 15*time.Minute)

	for i := 0; i < 2; i++ {
		require.NoError(t, throttle.RecordFailure(ctx, "Ada@Example.com"))
	}
	wait, err := throttle.Allow(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Zero(t, wait)

	require.NoError(t, throttle.RecordFailure(ctx, "ada@example.com"))
	wait, err = throttle.Allow(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Greater(t, wait, time.Duration(0))
	assert.LessOrEqual(t, wait, 15*time.Minute)

	srv.FastForward(16 * time.Minute)
	wait, err = throttle.Allow(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Zero(t, wait)
}

func TestRedisLoginThrottleReset(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()
	ctx := context.Background()

	throttle := NewRedisLoginThrottle(client, 1, time.Minute)
	require.NoError(t, throttle.RecordFailure(ctx, "a@b.c"))
	wait, err := throttle.Allow(ctx, "a@b.c")
	require.NoError(t, err)
	assert.Greater(t, wait, time.Duration(0))

	require.NoError(t, throttle.Reset(ctx, "a@b.c"))
	wait, err = throttle.Allow(ctx, "a@b.c")
	require.NoError(t, err)
	assert.Zero(t, wait)
}

func TestRedisLoginThrottleArmsWindowOnExistingCounter(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()
	ctx := context.Background()

	// A counter left without a TTL must still expire after the next failure.
	require.NoError(t, srv.Set(throttleKey("a@b.c"), "3"))
	throttle := NewRedisLoginThrottle(client, 5, time.Minute)
	require.NoError(t, throttle.RecordFailure(ctx, "a@b.c"))

	assert.Equal(t, time.Minute, srv.TTL(throttleKey("a@b.c")))
	count, err := client.Get(ctx, throttleKey("a@b.c")).Int()
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	require.NoError(t, throttle.RecordFailure(ctx, "a@b.c"))
	srv.FastForward(30 * time.Second)
	assert.Equal(t, 30*time.Second, srv.TTL(throttleKey("a@b.c")))

	srv.FastForward(31 * time.Second)
	assert.False(t, srv.Exists(throttleKey("a@b.c")))
}

func TestMemoryLoginThrottle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	throttle := NewMemoryLoginThrottle(2, 10*time.Minute)
	throttle.now = func() time.Time { return now }

	require.NoError(t, throttle.RecordFailure(ctx, "a@b.c"))
	require.NoError(t, throttle.RecordFailure(ctx, "a@b.c"))

	wait, err := throttle.Allow(ctx, "A@B.C")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, wait)

	now = now.Add(4 * time.Minute)
	wait, err = throttle.Allow(ctx, "a@b.c")
	require.NoError(t, err)
	assert.Equal(t, 6*time.Minute, wait)

	now = now.Add(6 * time.Minute)
	wait, err = throttle.Allow(ctx, "a@b.c")
	require.NoError(t, err)
	assert.Zero(t, wait)
}

func TestThrottleDisabledWithZeroMax(t *testing.T) {
	throttle := NewMemoryLoginThrottle(0, time.Minute)
	for i := 0; i < 10; i++ {
		require.NoError(t, throttle.RecordFailure(context.Background(), "x"))
	}
	wait, err := throttle.Allow(context.Background(), "x")
	require.NoError(t, err)
	assert.Zero(t, wait)
}
