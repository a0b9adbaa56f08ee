package breaker

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCircuitOpen 熔断器打开，调用未执行
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTooManyRequests 半开状态探测名额已用完
	ErrTooManyRequests = errors.New("circuit breaker half-open: too many requests")

	// ErrCallTimeout 受保护调用超过 call_timeout
	ErrCallTimeout = errors.New("circuit breaker: call timeout")
)

// OpenError 熔断拒绝错误，errors.Is(err, ErrCircuitOpen) 恒为 true
type OpenError struct {
	Name       string
	State      State
	RetryAfter time.Duration // 预计多久后进入半开（仅 OPEN 状态有意义）
}

func (e *OpenError) Error() string {
	if e.State == StateHalfOpen {
		return fmt.Sprintf("circuit breaker %q is half-open and saturated", e.Name)
	}
	return fmt.Sprintf("circuit breaker %q is open, retry after %s", e.Name, e.RetryAfter)
}

// Is 支持 errors.Is(err, ErrCircuitOpen) 与 errors.Is(err, ErrTooManyRequests)
func (e *OpenError) Is(target error) bool {
	if target == ErrCircuitOpen {
		return true
	}
	return target == ErrTooManyRequests && e.State == StateHalfOpen
}

// IsRejection 是否为熔断拒绝（调用未执行）
func IsRejection(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
