package retry

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// OnRetryFunc 每次重试前调用（attempt 为刚失败的尝试序号）
type OnRetryFunc func(attempt int, err error, delay time.Duration) error

// OnFailureFunc 最终失败时调用
type OnFailureFunc func(attempts int, err error) error

// Executor 重试执行器，可被多个 goroutine 共享
type Executor struct {
	cfg       Config
	condition Condition
	onRetry   OnRetryFunc
	onFailure OnFailureFunc
	clock     clockwork.Clock
	logger    *logger.CtxZapLogger
	budget    *Budget

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// Option 执行器选项
type Option func(*Executor)

// WithCondition 设置可重试错误的白名单
func WithCondition(c Condition) Option {
	return func(e *Executor) {
		if c != nil {
			e.condition = c
		}
	}
}

// WithOnRetry 设置重试钩子
func WithOnRetry(fn OnRetryFunc) Option {
	return func(e *Executor) { e.onRetry = fn }
}

// WithOnFailure 设置失败钩子
func WithOnFailure(fn OnFailureFunc) Option {
	return func(e *Executor) { e.onFailure = fn }
}

// WithClock 注入时钟
func WithClock(c clockwork.Clock) Option {
	return func(e *Executor) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLogger 注入 Logger
func WithLogger(l *logger.CtxZapLogger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRandSource 固定随机源（测试用）
func WithRandSource(src rand.Source) Option {
	return func(e *Executor) { e.rnd = rand.New(src) }
}

// NewExecutor 创建执行器，cfg 零值字段使用默认值
func NewExecutor(cfg Config, opts ...Option) *Executor {
	cfg.ApplyDefaults()
	e := &Executor{
		cfg:       cfg,
		condition: AlwaysRetry(),
		clock:     clockwork.NewRealClock(),
		logger:    logger.GetLogger("retry"),
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(e)
	}
	if cfg.BudgetRatio > 0 {
		e.budget = NewBudget(cfg.BudgetRatio, cfg.BudgetWindow, e.clock)
	}
	return e
}

// Config 当前配置
func (e *Executor) Config() Config {
	return e.cfg
}

// Delay 第 retry 次重试前的实际等待时间（含抖动）
func (e *Executor) Delay(retry int) time.Duration {
	e.rndMu.Lock()
	defer e.rndMu.Unlock()
	d := e.cfg.BaseDelayFor(retry, e.rnd)
	if e.cfg.Jitter {
		d = applyJitter(d, e.rnd)
	}
	return d
}

// Execute 执行 fn，失败且命中白名单时按策略等待后重试
//
// 返回值：
//   - nil：某次尝试成功
//   - 原始错误：错误不在白名单内，立即返回
//   - *RetryExhaustedError：尝试次数用尽（或预算耗尽、剩余时间不足）
//   - ctx.Err()：等待期间 ctx 结束
func (e *Executor) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.budget != nil {
		e.budget.RecordRequest()
	}

	var errs []error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := safeAttempt(ctx, fn)
		if err == nil {
			if attempt > 1 {
				e.logger.DebugCtx(ctx, "✅ retry succeeded", zap.Int("attempt", attempt))
			}
			return nil
		}
		errs = append(errs, err)

		if !e.condition.ShouldRetry(err, attempt) {
			e.fireOnFailure(ctx, attempt, err)
			return err
		}

		if attempt >= e.cfg.MaxAttempts {
			return e.exhausted(ctx, attempt, err, errs, "max attempts reached")
		}
		if e.budget != nil && !e.budget.TryRetry() {
			return e.exhausted(ctx, attempt, fmt.Errorf("%w: %w", ErrBudgetExhausted, err), errs, "retry budget exhausted")
		}

		delay := e.Delay(attempt)
		if deadline, ok := ctx.Deadline(); ok && e.clock.Until(deadline) < delay {
			return e.exhausted(ctx, attempt, err, errs, "deadline before next attempt")
		}

		e.fireOnRetry(ctx, attempt, err, delay)

		if delay > 0 {
			select {
			case <-e.clock.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// ExecuteValue 带返回值的 Execute
func ExecuteValue[T any](ctx context.Context, e *Executor, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := e.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			result = v
		}
		return err
	})
	return result, err
}

func (e *Executor) exhausted(ctx context.Context, attempts int, last error, errs []error, reason string) error {
	e.logger.WarnCtx(ctx, "❌ retry exhausted",
		zap.Int("attempts", attempts),
		zap.String("reason", reason),
		zap.Error(last))
	e.fireOnFailure(ctx, attempts, last)
	return &RetryExhaustedError{Attempts: attempts, Last: last, Errors: errs}
}

func (e *Executor) fireOnRetry(ctx context.Context, attempt int, err error, delay time.Duration) {
	if e.onRetry == nil {
		return
	}
	e.runHook(ctx, "on_retry", func() error { return e.onRetry(attempt, err, delay) })
}

func (e *Executor) fireOnFailure(ctx context.Context, attempts int, err error) {
	if e.onFailure == nil {
		return
	}
	e.runHook(ctx, "on_failure", func() error { return e.onFailure(attempts, err) })
}

// runHook 钩子的 panic 与错误只记日志
func (e *Executor) runHook(ctx context.Context, name string, hook func() error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorCtx(ctx, "💥 retry hook panicked", zap.String("hook", name), zap.Any("panic", r))
		}
	}()
	if err := hook(); err != nil {
		e.logger.WarnCtx(ctx, "retry hook failed", zap.String("hook", name), zap.Error(err))
	}
}

func safeAttempt(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("retry: operation panicked: %v", r)
		}
	}()
	return fn(ctx)
}
