package retry

import (
	"errors"
	"fmt"
)

var (
	// ErrRetryExhausted 所有尝试均失败
	ErrRetryExhausted = errors.New("retry: attempts exhausted")

	// ErrBudgetExhausted 重试预算耗尽
	ErrBudgetExhausted = errors.New("retry: budget exhausted")
)

// RetryExhaustedError 重试耗尽错误
// errors.Is(err, ErrRetryExhausted) 为 true，Unwrap 返回最后一次错误
type RetryExhaustedError struct {
	Attempts int
	Last     error
	Errors   []error // 每次尝试的错误
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Last
}

func (e *RetryExhaustedError) Is(target error) bool {
	return target == ErrRetryExhausted
}

// Attempts 从错误链中取出尝试次数（非重试耗尽错误返回 0）
func Attempts(err error) int {
	var re *RetryExhaustedError
	if errors.As(err, &re) {
		return re.Attempts
	}
	return 0
}
