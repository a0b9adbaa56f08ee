// Package health 聚合各组件的健康检查结果
package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KOMKZ/go-yogan-mesh/component"
)

// Status 健康状态枚举
type Status string

const (
	// StatusHealthy 健康
	StatusHealthy Status = "healthy"
	// StatusDegraded 降级（部分功能不可用）
	StatusDegraded Status = "degraded"
	// StatusUnhealthy 不健康
	StatusUnhealthy Status = "unhealthy"
)

// Checker 是 component.HealthChecker 的别名，方便使用
type Checker = component.HealthChecker

// ErrDegraded 检查器返回包装了它的错误时，结果记为降级而不是不健康
var ErrDegraded = errors.New("degraded")

// Degraded 把 err 标记为降级
func Degraded(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrDegraded, err)
}

// CheckResult 单个检查项的结果
type CheckResult struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// Response 健康检查响应
type Response struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
	Checks    map[string]CheckResult `json:"checks"`
	Metadata  map[string]any         `json:"metadata,omitempty"`
}

// IsHealthy 判断整体是否健康
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// IsDegraded 判断是否降级
func (r *Response) IsDegraded() bool {
	return r.Status == StatusDegraded
}

// CheckerFunc 把函数适配为 Checker
type CheckerFunc struct {
	CheckName string
	Fn        func(ctx context.Context) error
}

// Name 检查项名称
func (c CheckerFunc) Name() string { return c.CheckName }

// Check 执行检查
func (c CheckerFunc) Check(ctx context.Context) error { return c.Fn(ctx) }
