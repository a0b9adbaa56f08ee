package health

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/KOMKZ/go-yogan-mesh/logger"
	"go.uber.org/zap"
)

// Aggregator 并发执行所有检查项并汇总整体状态
type Aggregator struct {
	checkers []Checker
	timeout  time.Duration
	mu       sync.RWMutex
	metadata map[string]any
	logger   *logger.CtxZapLogger
}

// NewAggregator 创建聚合器，timeout <= 0 时使用 5 秒
func NewAggregator(timeout time.Duration, log *logger.CtxZapLogger) *Aggregator {
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	if log == nil {
		log = logger.GetLogger("health")
	}
	return &Aggregator{
		timeout:  timeout,
		metadata: make(map[string]any),
		logger:   log,
	}
}

// Register 注册检查项（nil 忽略）
func (a *Aggregator) Register(checkers ...Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range checkers {
		if c != nil {
			a.checkers = append(a.checkers, c)
		}
	}
}

// SetMetadata 附加到每次响应的元数据
func (a *Aggregator) SetMetadata(key string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metadata[key] = value
}

// Names 已注册的检查项名称（排序后）
func (a *Aggregator) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.checkers))
	for _, c := range a.checkers {
		names = append(names, c.Name())
	}
	sort.Strings(names)
	return names
}

// Check 并发执行所有检查项
func (a *Aggregator) Check(ctx context.Context) *Response {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	a.mu.RLock()
	checkers := append([]Checker(nil), a.checkers...)
	metadata := make(map[string]any, len(a.metadata))
	for k, v := range a.metadata {
		metadata[k] = v
	}
	a.mu.RUnlock()

	results := make(chan CheckResult, len(checkers))
	for _, checker := range checkers {
		go func(c Checker) {
			results <- a.checkOne(checkCtx, c)
		}(checker)
	}

	checks := make(map[string]CheckResult, len(checkers))
	for range checkers {
		result := <-results
		checks[result.Name] = result
	}

	status := overallStatus(checks)
	if status != StatusHealthy {
		a.logger.WarnCtx(ctx, "⚠️ health check not healthy", zap.String("status", string(status)))
	}
	return &Response{
		Status:    status,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
		Checks:    checks,
		Metadata:  metadata,
	}
}

func (a *Aggregator) checkOne(ctx context.Context, checker Checker) (result CheckResult) {
	start := time.Now()
	result = CheckResult{Name: checker.Name(), Timestamp: start}
	defer func() {
		if r := recover(); r != nil {
			result.Status = StatusUnhealthy
			result.Error = "checker panicked"
			result.Message = "Health check failed"
		}
		result.Duration = time.Since(start)
	}()

	err := checker.Check(ctx)
	switch {
	case err == nil:
		result.Status = StatusHealthy
		result.Message = "OK"
	case errors.Is(err, ErrDegraded):
		result.Status = StatusDegraded
		result.Error = err.Error()
		result.Message = "Degraded"
	default:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Health check failed"
	}
	return result
}

// overallStatus 任一不健康则不健康，其次降级
func overallStatus(checks map[string]CheckResult) Status {
	status := StatusHealthy
	for _, result := range checks {
		switch result.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}
