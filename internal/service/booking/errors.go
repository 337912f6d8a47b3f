package booking

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrSessionNotFound    = errors.New("wizard session not found")
	ErrTransitionRejected = errors.New("transition rejected")
	ErrNoFlightSelected   = errors.New("no flight selected")
	ErrRateLimited        = errors.New("rate limited")
)

type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryAfter)
}

func (e RateLimitedError) Unwrap() error {
	return ErrRateLimited
}
