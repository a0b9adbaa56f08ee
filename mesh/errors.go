package mesh

import (
	"errors"

	"github.com/KOMKZ/go-yogan-mesh/breaker"
	"github.com/KOMKZ/go-yogan-mesh/limiter"
	"github.com/KOMKZ/go-yogan-mesh/pool"
)

var (
	// ErrServiceUnavailable 没有可用的健康实例
	ErrServiceUnavailable = errors.New("mesh: no healthy instance")

	// ErrBadConn 调用方返回包装了它的错误时，连接会被作废而不是归还
	ErrBadConn = errors.New("mesh: bad connection")

	// ErrMeshStopped Mesh 已停止
	ErrMeshStopped = errors.New("mesh: stopped")
)

// UnavailableError 服务不可用，errors.Is(err, ErrServiceUnavailable) 为 true
type UnavailableError struct {
	Service string
	Tags    []string
}

func (e *UnavailableError) Error() string {
	return "mesh: no healthy instance for service " + e.Service
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrServiceUnavailable
}

// IsRejection 策略拒绝（熔断打开、限流），调用方应退避而不是重试
func IsRejection(err error) bool {
	return breaker.IsRejection(err) || errors.Is(err, limiter.ErrRateLimited)
}

// retryable 默认的重试白名单：策略拒绝、服务不可用、连接池关闭不重试
func retryable(err error) bool {
	switch {
	case IsRejection(err):
		return false
	case errors.Is(err, ErrServiceUnavailable), errors.Is(err, pool.ErrPoolClosed):
		return false
	}
	return true
}
