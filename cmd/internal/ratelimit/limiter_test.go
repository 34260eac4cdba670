package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func TestLimiter_SlidingWindow(t *testing.T) {
	t.Parallel()

	clk := newClock()
	policy := Policy{Name: "t", Max: 5, Window: 10 * time.Second}
	l := NewLimiter(NewMemoryStore(), policy, WithClock(clk.Now))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := l.Allow(ctx, "u1", "c1"); err != nil {
			t.Fatalf("attempt %d: unexpected error: %v", i+1, err)
		}
		clk.Advance(time.Second)
	}

	err := l.Allow(ctx, "u1", "c1")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("6th attempt: expected ErrRateLimited, got %v", err)
	}
	var ex *ExceededError
	if !errors.As(err, &ex) {
		t.Fatalf("expected *ExceededError, got %T", err)
	}
	// First hit was at t0, now is t0+5s: 5s remain.
	if ex.RetryAfter != 5*time.Second {
		t.Fatalf("RetryAfter=%v want=5s", ex.RetryAfter)
	}
	if ex.RetryAfterSeconds() != 5 {
		t.Fatalf("RetryAfterSeconds=%d want=5", ex.RetryAfterSeconds())
	}

	// Once the oldest hit is older than the window one slot frees up.
	clk.Advance(5*time.Second + time.Millisecond)
	if err := l.Allow(ctx, "u1", "c1"); err != nil {
		t.Fatalf("after window slide: unexpected error: %v", err)
	}
	if err := l.Allow(ctx, "u1", "c1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected limit again, got %v", err)
	}

	clk.Advance(11 * time.Second)
	if err := l.Allow(ctx, "u1", "c1"); err != nil {
		t.Fatalf("after full window: unexpected error: %v", err)
	}
}

func TestLimiter_DeniedAttemptsDoNotExtendWindow(t *testing.T) {
	t.Parallel()

	clk := newClock()
	l := NewLimiter(NewMemoryStore(), Policy{Name: "t", Max: 1, Window: time.Second}, WithClock(clk.Now))
	ctx := context.Background()

	if err := l.Allow(ctx, "u", "c"); err != nil {
		t.Fatalf("first: %v", err)
	}
	for i := 0; i < 10; i++ {
		clk.Advance(50 * time.Millisecond)
		if err := l.Allow(ctx, "u", "c"); err == nil {
			t.Fatalf("expected denial at step %d", i)
		}
	}
	clk.Advance(600 * time.Millisecond)
	if err := l.Allow(ctx, "u", "c"); err != nil {
		t.Fatalf("expected admission once the first hit expired: %v", err)
	}
}

func TestLimiter_KeysAreIsolated(t *testing.T) {
	t.Parallel()

	clk := newClock()
	l := NewLimiter(NewMemoryStore(), Policy{Name: "t", Max: 2, Window: time.Minute}, WithClock(clk.Now))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Allow(ctx, "u1", "c1"); err != nil {
			t.Fatalf("u1/c1: %v", err)
		}
	}
	if err := l.Allow(ctx, "u1", "c1"); err == nil {
		t.Fatalf("u1/c1 should be limited")
	}
	if err := l.Allow(ctx, "u1", "c2"); err != nil {
		t.Fatalf("u1/c2 must not share u1/c1 window: %v", err)
	}
	if err := l.Allow(ctx, "u2", "c1"); err != nil {
		t.Fatalf("u2/c1 must not share u1/c1 window: %v", err)
	}
}

func TestLimiter_HitExactlyOneWindowOldStillCounts(t *testing.T) {
	t.Parallel()

	clk := newClock()
	l := NewLimiter(NewMemoryStore(), Policy{Name: "t", Max: 1, Window: time.Second}, WithClock(clk.Now))
	ctx := context.Background()

	if err := l.Allow(ctx, "u", "c"); err != nil {
		t.Fatalf("first: %v", err)
	}
	clk.Advance(time.Second)
	err := l.Allow(ctx, "u", "c")
	var ex *ExceededError
	if !errors.As(err, &ex) {
		t.Fatalf("hit exactly one window old must still count, got %v", err)
	}
	if ex.RetryAfter <= 0 {
		t.Fatalf("expected positive RetryAfter, got %v", ex.RetryAfter)
	}

	clk.Advance(time.Millisecond)
	if err := l.Allow(ctx, "u", "c"); err != nil {
		t.Fatalf("expected admission once the hit is older than the window: %v", err)
	}
}

func TestLimiter_SeparatorInIDsDoesNotShareWindow(t *testing.T) {
	t.Parallel()

	clk := newClock()
	l := NewLimiter(NewMemoryStore(), Policy{Name: "t", Max: 1, Window: time.Minute}, WithClock(clk.Now))
	ctx := context.Background()

	if err := l.Allow(ctx, "a:b", "c"); err != nil {
		t.Fatalf("a:b/c: %v", err)
	}
	if err := l.Allow(ctx, "a", "b:c"); err != nil {
		t.Fatalf("a/b:c must not share the a:b/c window: %v", err)
	}
	if Key("t", "a:b", "c") == Key("t", "a", "b:c") {
		t.Fatalf("keys collide: %q", Key("t", "a", "b:c"))
	}
}

func TestLimiter_ConcurrentCapHolds(t *testing.T) {
	t.Parallel()

	clk := newClock()
	l := NewLimiter(NewMemoryStore(), Policy{Name: "t", Max: 10, Window: time.Minute}, WithClock(clk.Now))
	ctx := context.Background()

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow(ctx, "u", "c") == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != 10 {
		t.Fatalf("admitted=%d want=10", got)
	}
}

type failingStore struct{}

func (failingStore) Hit(context.Context, string, time.Time, Policy) (Decision, error) {
	return Decision{}, errors.New("boom")
}

func TestLimiter_StoreFailureAdmits(t *testing.T) {
	t.Parallel()

	l := NewLimiter(failingStore{}, LivePolicy)
	if err := l.Allow(context.Background(), "u", "c"); err != nil {
		t.Fatalf("expected fail-open admission, got %v", err)
	}
}

func TestExceededError_RetryAfterSecondsRoundsUp(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   time.Duration
		want int
	}{
		{0, 1},
		{time.Millisecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{10 * time.Second, 10},
	}
	for _, tc := range cases {
		e := &ExceededError{RetryAfter: tc.in}
		if got := e.RetryAfterSeconds(); got != tc.want {
			t.Fatalf("RetryAfterSeconds(%v)=%d want=%d", tc.in, got, tc.want)
		}
	}
}

func TestPolicy_WithDefaults(t *testing.T) {
	t.Parallel()

	p := Policy{Max: 3}.WithDefaults(LivePolicy)
	if p.Name != LivePolicy.Name || p.Max != 3 || p.Window != LivePolicy.Window {
		t.Fatalf("unexpected policy: %+v", p)
	}
}

func TestMemoryStore_SweepDropsExpiredWindows(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	now := time.Now().UTC()
	p := Policy{Name: "t", Max: 1, Window: time.Second}
	if _, err := s.Hit(context.Background(), "a", now, p); err != nil {
		t.Fatalf("hit: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len=%d want=1", s.Len())
	}
	s.Sweep(now.Add(p.Window + TTLSlack))
	if s.Len() != 0 {
		t.Fatalf("Len=%d want=0 after sweep", s.Len())
	}
}
