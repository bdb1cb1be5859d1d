package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// LoginThrottle limits repeated failed logins per key (normally the email).
type LoginThrottle interface {
	// Allow returns a positive retry-after when the key is locked out.
	Allow(ctx context.Context, key string) (time.Duration, error)
	RecordFailure(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
}

const throttleKeyPrefix = "login:failures:"

func throttleKey(key string) string {
	return throttleKeyPrefix + strings.ToLower(strings.TrimSpace(key))
}

// RedisLoginThrottle counts failures in Redis with a fixed window.
type RedisLoginThrottle struct {
	client *redis.Client
	max    int
	window time.Duration
}

// NewRedisLoginThrottle builds a Redis-backed throttle.
func NewRedisLoginThrottle(client *redis.Client, maxFailures int, window time.Duration) *RedisLoginThrottle {
	return &RedisLoginThrottle{client: client, max: maxFailures, window: window}
}

func (t *RedisLoginThrottle) Allow(ctx context.Context, key string) (time.Duration, error) {
	if t.max <= 0 {
		return 0, nil
	}
	k := throttleKey(key)
	count, err := t.client.Get(ctx, k).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read login failures: %w", err)
	}
	if count < t.max {
		return 0, nil
	}
	ttl, err := t.client.TTL(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("read login lockout: %w", err)
	}
	if ttl <= 0 {
		ttl = t.window
	}
	return ttl, nil
}

// RecordFailure bumps the counter and arms the window in one MULTI so a
// counter can never outlive its TTL.
func (t *RedisLoginThrottle) RecordFailure(ctx context.Context, key string) error {
	k := throttleKey(key)
	pipe := t.client.TxPipeline()
	pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, t.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record login failure: %w", err)
	}
	return nil
}

func (t *RedisLoginThrottle) Reset(ctx context.Context, key string) error {
	return t.client.Del(ctx, throttleKey(key)).Err()
}

type failureWindow struct {
	count   int
	resetAt time.Time
}

// MemoryLoginThrottle is a process-local LoginThrottle.
type MemoryLoginThrottle struct {
	mu       sync.Mutex
	max      int
	window   time.Duration
	failures map[string]failureWindow
	now      func() time.Time
}

// NewMemoryLoginThrottle builds an in-memory throttle.
func NewMemoryLoginThrottle(maxFailures int, window time.Duration) *MemoryLoginThrottle {
	return &MemoryLoginThrottle{
		max:      maxFailures,
		window:   window,
		failures: make(map[string]failureWindow),
		now:      time.Now,
	}
}

func (t *MemoryLoginThrottle) Allow(_ context.Context, key string) (time.Duration, error) {
	if t.max <= 0 {
		return 0, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	k := throttleKey(key)
	w, ok := t.failures[k]
	now := t.now()
	if !ok || !w.resetAt.After(now) {
		delete(t.failures, k)
		return 0, nil
	}
	if w.count < t.max {
		return 0, nil
	}
	return w.resetAt.Sub(now), nil
}

func (t *MemoryLoginThrottle) RecordFailure(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := throttleKey(key)
	now := t.now()
	w, ok := t.failures[k]
	if !ok || !w.resetAt.After(now) {
		w = failureWindow{resetAt: now.Add(t.window)}
	}
	w.count++
	t.failures[k] = w
	return nil
}

func (t *MemoryLoginThrottle) Reset(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failures, throttleKey(key))
	return nil
}
