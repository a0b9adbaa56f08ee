package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KOMKZ/go-yogan-mesh/event"
	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Breaker 单个熔断器
//
// 计数与状态迁移在 mu 内完成，被保护的调用在锁外执行。
// 每次状态迁移 generation 加一，迁移前发起的调用返回时结果被忽略。
type Breaker struct {
	name      string
	cfg       Config
	clock     clockwork.Clock
	logger    *logger.CtxZapLogger
	publisher Publisher
	isFailure func(error) bool
	metrics   *OTelMetrics

	mu                sync.Mutex
	state             State
	failureCount      int
	lastFailureTime   time.Time
	generation        uint64
	halfOpenInFlight  int
	halfOpenSuccesses int
	pending           []event.Event // 锁内产生、解锁后发布的事件

	rejected atomic.Int64
}

// Option 熔断器选项
type Option func(*Breaker)

// WithClock 注入时钟（测试使用 clockwork.NewFakeClock）
func WithClock(c clockwork.Clock) Option {
	return func(b *Breaker) {
		if c != nil {
			b.clock = c
		}
	}
}

// WithLogger 注入 Logger
func WithLogger(l *logger.CtxZapLogger) Option {
	return func(b *Breaker) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithPublisher 状态变化与拒绝事件发布到 event.Dispatcher
func WithPublisher(p Publisher) Option {
	return func(b *Breaker) {
		b.publisher = p
	}
}

// WithFailurePredicate 自定义哪些错误计入失败（默认所有非 nil 错误）
func WithFailurePredicate(fn func(error) bool) Option {
	return func(b *Breaker) {
		if fn != nil {
			b.isFailure = fn
		}
	}
}

// WithMetrics 记录 OTel 指标
func WithMetrics(m *OTelMetrics) Option {
	return func(b *Breaker) {
		b.metrics = m
	}
}

// New 创建熔断器，cfg 零值字段使用默认值（CallTimeout 除外），非法配置返回 *ValidationError
func New(name string, cfg Config, opts ...Option) (*Breaker, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		if ve, ok := err.(*ValidationError); ok {
			ve.Resource = name
		}
		return nil, err
	}
	return newBreaker(name, cfg, opts...), nil
}

// newBreaker 使用已校验的配置创建
func newBreaker(name string, cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		name:      name,
		cfg:       cfg,
		clock:     clockwork.NewRealClock(),
		logger:    logger.GetLogger("breaker"),
		isFailure: func(err error) bool { return err != nil },
		state:     StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.RegisterStateCallback(name, func() int64 { return int64(b.State()) })
	}
	return b
}

// Name 熔断器名称
func (b *Breaker) Name() string {
	return b.name
}

// Config 当前配置
func (b *Breaker) Config() Config {
	return b.cfg
}

// Protect 经过熔断器执行 fn
//
// OPEN 状态下 fn 不会被调用，直接返回 *OpenError；
// fn 的错误原样返回，超时返回 ErrCallTimeout。
func (b *Breaker) Protect(ctx context.Context, fn func(ctx context.Context) error) error {
	gen, err := b.before(ctx)
	if err != nil {
		return err
	}

	start := b.clock.Now()
	err = b.invoke(ctx, fn)
	b.after(ctx, gen, err, b.clock.Since(start))
	return err
}

// Execute 带返回值的 Protect
func Execute[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := b.Protect(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			result = v
		}
		return err
	})
	return result, err
}

// before 判断是否放行，放行时返回当前 generation
func (b *Breaker) before(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	now := b.clock.Now()

	switch b.state {
	case StateOpen:
		elapsed := now.Sub(b.lastFailureTime)
		if elapsed <= b.cfg.RecoveryTimeout {
			retryAfter := b.cfg.RecoveryTimeout - elapsed
			b.unlockAndFlush(ctx)
			return 0, b.reject(ctx, StateOpen, retryAfter)
		}
		b.transitionLocked(ctx, StateHalfOpen, "recovery timeout elapsed")
		b.halfOpenInFlight++
	case StateHalfOpen:
		if b.halfOpenInFlight+b.halfOpenSuccesses >= b.cfg.HalfOpenMaxCalls {
			b.unlockAndFlush(ctx)
			return 0, b.reject(ctx, StateHalfOpen, 0)
		}
		b.halfOpenInFlight++
	}

	gen := b.generation
	b.unlockAndFlush(ctx)
	return gen, nil
}

func (b *Breaker) reject(ctx context.Context, state State, retryAfter time.Duration) error {
	b.rejected.Add(1)
	b.logger.WarnCtx(ctx, "⛔ [CircuitBreaker] call rejected",
		zap.String("breaker", b.name),
		zap.String("state", state.String()),
		zap.Duration("retry_after", retryAfter))
	if b.metrics != nil {
		b.metrics.RecordRejection(ctx, b.name)
	}
	if b.publisher != nil {
		b.publisher.DispatchAsync(ctx, RejectedEvent{
			BaseEvent: event.NewEvent(EventCallRejected, b.clock.Now()),
			Breaker:   b.name,
			State:     state.String(),
		})
	}
	return &OpenError{Name: b.name, State: state, RetryAfter: retryAfter}
}

// invoke 执行 fn，panic 转为错误；配置了 CallTimeout 时在独立 goroutine 中执行
func (b *Breaker) invoke(ctx context.Context, fn func(ctx context.Context) error) error {
	if b.cfg.CallTimeout <= 0 {
		return safeCall(ctx, fn)
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- safeCall(callCtx, fn)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w after %s: %v", ErrCallTimeout, b.cfg.CallTimeout, err)
		}
		return err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w after %s", ErrCallTimeout, b.cfg.CallTimeout)
	}
}

func safeCall(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("protected call panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// after 记录调用结果
func (b *Breaker) after(ctx context.Context, gen uint64, err error, duration time.Duration) {
	// 调用方主动取消不代表下游故障
	cancelled := err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err())
	failed := !cancelled && b.isFailure(err)

	if b.metrics != nil && !cancelled {
		if failed {
			b.metrics.RecordFailure(ctx, b.name, duration, errorType(err))
		} else {
			b.metrics.RecordSuccess(ctx, b.name, duration)
		}
	}

	b.mu.Lock()
	defer b.unlockAndFlush(ctx)

	if gen != b.generation {
		return
	}

	switch b.state {
	case StateClosed:
		switch {
		case cancelled:
		case failed:
			b.failureCount++
			b.lastFailureTime = b.clock.Now()
			if b.failureCount >= b.cfg.FailureThreshold {
				b.transitionLocked(ctx, StateOpen, fmt.Sprintf("%d consecutive failures", b.failureCount))
			}
		default:
			b.failureCount = 0
		}

	case StateHalfOpen:
		b.halfOpenInFlight--
		switch {
		case cancelled:
		case failed:
			b.failureCount++
			b.lastFailureTime = b.clock.Now()
			b.transitionLocked(ctx, StateOpen, "half-open probe failed")
		default:
			b.halfOpenSuccesses++
			if b.halfOpenSuccesses >= b.cfg.HalfOpenMaxCalls {
				b.failureCount = 0
				b.transitionLocked(ctx, StateClosed, "half-open probes succeeded")
			}
		}
	}
}

// transitionLocked 状态迁移，调用方持有 mu
func (b *Breaker) transitionLocked(ctx context.Context, to State, reason string) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.generation++
	b.halfOpenInFlight = 0
	b.halfOpenSuccesses = 0

	switch to {
	case StateOpen:
		b.logger.WarnCtx(ctx, "🔴 [CircuitBreaker] opened",
			zap.String("breaker", b.name),
			zap.String("from", from.String()),
			zap.Int("failure_count", b.failureCount),
			zap.String("reason", reason))
	case StateHalfOpen:
		b.logger.InfoCtx(ctx, "🟡 [CircuitBreaker] half-open, probing",
			zap.String("breaker", b.name))
	case StateClosed:
		b.logger.InfoCtx(ctx, "🟢 [CircuitBreaker] closed",
			zap.String("breaker", b.name),
			zap.String("reason", reason))
	}

	if b.metrics != nil {
		b.metrics.RecordStateChange(ctx, b.name, from, to)
	}
	if b.publisher != nil {
		b.pending = append(b.pending, StateChangedEvent{
			BaseEvent: event.NewEvent(EventStateChanged, b.clock.Now()),
			Breaker:   b.name,
			From:      from.String(),
			To:        to.String(),
			Reason:    reason,
		})
	}
}

// unlockAndFlush 释放 mu 后发布锁内产生的事件，监听器可以安全回调熔断器
func (b *Breaker) unlockAndFlush(ctx context.Context) {
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()
	for _, e := range pending {
		b.publisher.DispatchAsync(ctx, e)
	}
}

// State 当前状态（OPEN 超过恢复时间后仍显示 OPEN，直到下一次调用）
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount 当前连续失败次数
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// Snapshot 状态快照
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:            b.name,
		State:           b.state.String(),
		FailureCount:    b.failureCount,
		LastFailureTime: b.lastFailureTime,
		Rejected:        b.rejected.Load(),
	}
}

// Reset 强制回到 CLOSED 并清零计数
func (b *Breaker) Reset() {
	ctx := context.Background()
	b.mu.Lock()
	defer b.unlockAndFlush(ctx)
	b.failureCount = 0
	b.lastFailureTime = time.Time{}
	b.transitionLocked(ctx, StateClosed, "manual reset")
	b.generation++
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ErrCallTimeout):
		return "timeout"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline"
	default:
		return "error"
	}
}
