package ratelimit

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"haven/cmd/internal/ids"

	"github.com/go-redis/redis/v8"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	url := strings.TrimSpace(os.Getenv("HAVEN_REDIS_URL"))
	if url == "" {
		t.Skip("HAVEN_REDIS_URL not set; skipping redis integration test")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	c := redis.NewClient(opt)
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis ping: %v", err)
	}
	return c
}

func TestRedisStore_SlidingWindow(t *testing.T) {
	c := newTestRedis(t)

	suffix, err := ids.NewULID(time.Now())
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	store, err := NewRedisStore(c, WithKeyPrefix("haven:test:"+suffix+":"))
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}

	clk := newClock()
	l := NewLimiter(store, Policy{Name: "t", Max: 5, Window: 10 * time.Second}, WithClock(clk.Now))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := l.Allow(ctx, "u1", "c1"); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		clk.Advance(time.Second)
	}
	err = l.Allow(ctx, "u1", "c1")
	var ex *ExceededError
	if !errors.As(err, &ex) {
		t.Fatalf("expected *ExceededError, got %v", err)
	}
	if ex.RetryAfter <= 0 {
		t.Fatalf("expected positive RetryAfter, got %v", ex.RetryAfter)
	}
	if err := l.Allow(ctx, "u1", "c2"); err != nil {
		t.Fatalf("other conversation must be independent: %v", err)
	}

	clk.Advance(10 * time.Second)
	if err := l.Allow(ctx, "u1", "c1"); err != nil {
		t.Fatalf("after window: %v", err)
	}
}

func TestNewRedisStore_RejectsNilClient(t *testing.T) {
	t.Parallel()

	if _, err := NewRedisStore(nil); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
