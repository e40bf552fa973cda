package task

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidState    = errors.New("invalid state")
	ErrInvalidSchedule = errors.New("invalid schedule")
	ErrInvalidPayload  = errors.New("invalid payload")
	ErrRateLimited     = errors.New("rate limited")
	ErrDelivery        = errors.New("delivery failed")

	// ErrSchedulerDesync marks a pending row without a live timer. It is
	// repaired on access and only ever logged.
	ErrSchedulerDesync = errors.New("scheduler desync")
)

// RateLimitedError carries how long the caller should wait.
type RateLimitedError struct {
	Kind       string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: %s requests over limit, retry in %ds", ErrRateLimited, e.Kind, e.RetryAfterSeconds())
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// RetryAfterSeconds rounds up and never reports less than one second.
func (e *RateLimitedError) RetryAfterSeconds() int {
	s := int(math.Ceil(e.RetryAfter.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}
