package ratelimit

import (
	"context"
	"log/slog"
	"strconv"
	"time"
)

// Limiter admits or rejects attempts for one Policy.
type Limiter struct {
	log    *slog.Logger
	store  Store
	policy Policy
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger used for store failures.
func WithLogger(log *slog.Logger) Option {
	return func(l *Limiter) {
		if log != nil {
			l.log = log
		}
	}
}

// NewLimiter constructs a Limiter. A nil store falls back to a MemoryStore.
func NewLimiter(store Store, policy Policy, opts ...Option) *Limiter {
	if store == nil {
		store = NewMemoryStore()
	}
	l := &Limiter{
		log:    slog.Default(),
		store:  store,
		policy: policy.WithDefaults(LivePolicy),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Policy returns the effective policy.
func (l *Limiter) Policy() Policy { return l.policy }

// Allow returns nil when the attempt is admitted and an *ExceededError when
// it is not. conversationID may be empty for per-user policies.
//
// A store failure admits the attempt: losing the shared window must not
// stop chat delivery.
func (l *Limiter) Allow(ctx context.Context, userID, conversationID string) error {
	now := l.now()
	d, err := l.store.Hit(ctx, Key(l.policy.Name, userID, conversationID), now, l.policy)
	if err != nil {
		l.log.Warn("ratelimit.store.fail", "policy", l.policy.Name, "user_id", userID, "err", err)
		return nil
	}
	if d.Allowed {
		return nil
	}
	return &ExceededError{Policy: l.policy.Name, RetryAfter: d.RetryAfter}
}

// Key builds the window key for a (policy, user, conversation) triple. The
// user id is length-prefixed so ids containing ':' cannot collide.
func Key(policy, userID, conversationID string) string {
	return policy + ":" + strconv.Itoa(len(userID)) + ":" + userID + ":" + conversationID
}
