package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// ErrRateLimited is the sentinel every denial unwraps to.
var ErrRateLimited = errors.New("rate limit exceeded")

// ExceededError carries retry metadata for a denied attempt.
type ExceededError struct {
	Policy     string
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	if e.RetryAfter <= 0 {
		return ErrRateLimited.Error()
	}
	return fmt.Sprintf("%s: retry after %ds", ErrRateLimited.Error(), e.RetryAfterSeconds())
}

func (e *ExceededError) Unwrap() error { return ErrRateLimited }

// RetryAfterSeconds rounds RetryAfter up to whole seconds (minimum 1).
func (e *ExceededError) RetryAfterSeconds() int {
	if e == nil {
		return 0
	}
	s := int((e.RetryAfter + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}
