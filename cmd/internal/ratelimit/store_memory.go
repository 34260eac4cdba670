package ratelimit

import (
	"context"
	"sync"
	"time"
)

const memSweepEvery = time.Minute

// MemoryStore keeps windows in process memory. It is correct for a single
// instance only.
type MemoryStore struct {
	mu        sync.Mutex
	windows   map[string]*memWindow
	lastSweep time.Time
}

type memWindow struct {
	events  []time.Time
	expires time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*memWindow)}
}

// Hit records an attempt for key at now if the window admits it.
func (s *MemoryStore) Hit(ctx context.Context, key string, now time.Time, p Policy) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked(now)

	w := s.windows[key]
	if w == nil {
		w = &memWindow{events: make([]time.Time, 0, p.Max+1)}
		s.windows[key] = w
	}

	var d Decision
	w.events, d = evaluate(w.events, now, p)
	if d.Allowed {
		w.expires = now.Add(p.ttl())
	}
	return d, nil
}

// Len returns the number of live keys (used by tests and debug endpoints).
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Sweep drops windows whose TTL elapsed before now.
func (s *MemoryStore) Sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSweep = time.Time{}
	s.sweepLocked(now)
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	if !s.lastSweep.IsZero() && now.Sub(s.lastSweep) < memSweepEvery {
		return
	}
	s.lastSweep = now
	for k, w := range s.windows {
		if !w.expires.IsZero() && !now.Before(w.expires) {
			delete(s.windows, k)
		}
	}
}
