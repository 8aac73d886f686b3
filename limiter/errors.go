package limiter

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimitExceeded is matched by every rejection returned from Check.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrInvalidWindow is returned for windows with a negative ceiling or non-positive period.
	ErrInvalidWindow = errors.New("invalid rate limit window")
	// ErrUnknownOp is returned by a store that receives an op kind it does not support.
	ErrUnknownOp = errors.New("unknown store op")
)

// RateLimitExceededError reports which key was rejected and under which window.
type RateLimitExceededError struct {
	Key    string
	Window Window
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: %d requests per %s", e.Key, e.Window.MaxRequests, e.Window.Period)
}

func (e *RateLimitExceededError) Unwrap() error {
	return ErrRateLimitExceeded
}
