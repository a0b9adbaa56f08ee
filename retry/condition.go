package retry

import (
	"context"
	"errors"
	"net"
	"syscall"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Condition decides whether a failed attempt is retried (the allow-list).
// attempt starts from 1.
type Condition interface {
	ShouldRetry(err error, attempt int) bool
}

// ConditionFunc adapts a function to Condition
type ConditionFunc func(err error, attempt int) bool

func (f ConditionFunc) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	return f(err, attempt)
}

// AlwaysRetry retries every error
func AlwaysRetry() Condition {
	return ConditionFunc(func(err error, attempt int) bool { return true })
}

// NeverRetry never retries
func NeverRetry() Condition {
	return ConditionFunc(func(err error, attempt int) bool { return false })
}

// RetryOnErrors retries errors matching any target (errors.Is)
func RetryOnErrors(targets ...error) Condition {
	return ConditionFunc(func(err error, attempt int) bool {
		for _, target := range targets {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	})
}

// RetryOn retries when fn returns true
func RetryOn(fn func(error) bool) Condition {
	return ConditionFunc(func(err error, attempt int) bool { return fn(err) })
}

// Except wraps cond and refuses errors matching any of excluded.
// Policy rejections (open breaker, rate limit) are usually excluded here.
func Except(cond Condition, excluded ...error) Condition {
	return ConditionFunc(func(err error, attempt int) bool {
		for _, ex := range excluded {
			if errors.Is(err, ex) {
				return false
			}
		}
		return cond.ShouldRetry(err, attempt)
	})
}

// Any retries when any of conds does
func Any(conds ...Condition) Condition {
	return ConditionFunc(func(err error, attempt int) bool {
		for _, c := range conds {
			if c.ShouldRetry(err, attempt) {
				return true
			}
		}
		return false
	})
}

// RetryOnGRPCCodes retries gRPC status errors with one of the codes
func RetryOnGRPCCodes(targetCodes ...codes.Code) Condition {
	set := make(map[codes.Code]struct{}, len(targetCodes))
	for _, c := range targetCodes {
		set[c] = struct{}{}
	}
	return ConditionFunc(func(err error, attempt int) bool {
		st, ok := status.FromError(err)
		if !ok {
			return false
		}
		_, hit := set[st.Code()]
		return hit
	})
}

// DefaultGRPCCodes transient gRPC codes
var DefaultGRPCCodes = []codes.Code{codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted}

// RetryOnTemporaryError retries transient failures:
// net timeouts, connection refused/reset, broken pipe and context deadline.
// context.Canceled is not retried, the caller has given up.
func RetryOnTemporaryError() Condition {
	return ConditionFunc(func(err error, attempt int) bool {
		if errors.Is(err, context.Canceled) {
			return false
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		return errors.Is(err, syscall.ECONNREFUSED) ||
			errors.Is(err, syscall.ECONNRESET) ||
			errors.Is(err, syscall.ETIMEDOUT) ||
			errors.Is(err, syscall.EPIPE)
	})
}
