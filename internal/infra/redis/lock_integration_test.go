//go:build integration

package redis_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"ai-request-queue/internal/config"
	"ai-request-queue/internal/domain"
	"ai-request-queue/internal/infra/redis"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_URL")
	if addr == "" {
		addr = "localhost:6379"
	}
	c, err := redis.NewClient(context.Background(), &config.RedisConfig{URL: addr})
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisLocker_SingleHolder(t *testing.T) {
	ctx := context.Background()
	l := redis.NewLocker(newTestClient(t))
	key := "request-queue:test:" + time.Now().Format("150405.000000")

	tok, err := l.TryLock(ctx, key, 5*time.Second)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if _, err := l.TryLock(ctx, key, 5*time.Second); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}

	// A foreign token must not release the lease.
	if err := l.Unlock(ctx, key, "not-the-owner"); err != nil {
		t.Fatalf("foreign unlock: %v", err)
	}
	if _, err := l.TryLock(ctx, key, 5*time.Second); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("lease released by foreign token")
	}

	if err := l.Unlock(ctx, key, tok); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	tok2, err := l.TryLock(ctx, key, 5*time.Second)
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	_ = l.Unlock(ctx, key, tok2)
}

func TestRedisLocker_Expiry(t *testing.T) {
	ctx := context.Background()
	l := redis.NewLocker(newTestClient(t))
	key := "request-queue:test:ttl:" + time.Now().Format("150405.000000")

	if _, err := l.TryLock(ctx, key, 200*time.Millisecond); err != nil {
		t.Fatalf("lock: %v", err)
	}
	time.Sleep(400 * time.Millisecond)
	tok, err := l.TryLock(ctx, key, time.Second)
	if err != nil {
		t.Fatalf("expired lease not reclaimable: %v", err)
	}
	_ = l.Unlock(ctx, key, tok)
}
