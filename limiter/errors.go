package limiter

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited request rejected by the limiter
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInvalidConfig invalid limiter configuration
	ErrInvalidConfig = errors.New("invalid limiter config")
)

// RateLimitExceededError carries the key and a refill hint.
// errors.Is(err, ErrRateLimited) is true.
type RateLimitExceededError struct {
	Key        string
	Requested  int
	RetryAfter time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %q (requested %d, retry after %s)", e.Key, e.Requested, e.RetryAfter)
}

func (e *RateLimitExceededError) Is(target error) bool {
	return target == ErrRateLimited
}

// ValidationError config validation error
type ValidationError struct {
	Resource string
	Field    string
	Message  string
}

func (e *ValidationError) Error() string {
	if e.Resource != "" {
		return "limiter config validation failed for resource '" + e.Resource + "." + e.Field + "': " + e.Message
	}
	return "limiter config validation failed for field '" + e.Field + "': " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}
