package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one Hit.
type Decision struct {
	Allowed bool
	// Count is the number of events in the window after this hit.
	Count int
	// RetryAfter is positive when Allowed is false.
	RetryAfter time.Duration
}

// Store holds sliding windows. Hit must be an atomic check-and-append:
// a denied hit never mutates the window.
type Store interface {
	Hit(ctx context.Context, key string, now time.Time, p Policy) (Decision, error)
}

// minRetryAfter is reported when the oldest event is exactly one window old.
const minRetryAfter = time.Millisecond

// evaluate applies the sliding window to events (ascending) in place and
// returns the pruned slice plus the decision for an attempt at now. Only
// events older than the window are dropped; one exactly Window old counts.
func evaluate(events []time.Time, now time.Time, p Policy) ([]time.Time, Decision) {
	cut := now.Add(-p.Window)
	dst := events[:0]
	for _, t := range events {
		if !t.Before(cut) {
			dst = append(dst, t)
		}
	}

	if len(dst) >= p.Max {
		retry := p.Window - now.Sub(dst[0])
		if retry < minRetryAfter {
			retry = minRetryAfter
		}
		return dst, Decision{Allowed: false, Count: len(dst), RetryAfter: retry}
	}
	dst = append(dst, now)
	return dst, Decision{Allowed: true, Count: len(dst)}
}
