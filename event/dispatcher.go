package event

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// Wildcard 订阅所有事件
const Wildcard = "*"

// Dispatcher 事件分发器
// 监听器 panic 会被恢复并转为错误，不会影响发布方
type Dispatcher struct {
	mu         sync.RWMutex
	listeners  map[string][]listenerEntry
	nextID     uint64
	pool       *ants.Pool
	logger     *logger.CtxZapLogger
	publisher  KafkaPublisher
	router     *Router
	setAllSync bool
	closed     atomic.Bool
	inflight   sync.WaitGroup
}

// Option 分发器选项
type Option func(*Dispatcher)

// WithLogger 注入 Logger
func WithLogger(l *logger.CtxZapLogger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithKafka 设置 Kafka 发布器与路由
func WithKafka(publisher KafkaPublisher, router *Router) Option {
	return func(d *Dispatcher) {
		d.publisher = publisher
		d.router = router
	}
}

// NewDispatcher 创建分发器
func NewDispatcher(cfg Config, opts ...Option) *Dispatcher {
	cfg.ApplyDefaults()
	d := &Dispatcher{
		listeners:  make(map[string][]listenerEntry),
		logger:     logger.GetLogger("event"),
		setAllSync: cfg.SetAllSync,
	}
	for _, opt := range opts {
		opt(d)
	}

	// 非阻塞提交：协程池满时在当前 goroutine 内执行，避免嵌套提交互相等待
	pool, err := ants.NewPool(cfg.PoolSize,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p interface{}) {
			d.logger.Error("💥 async event task panicked", zap.Any("panic", p))
		}))
	if err != nil {
		d.logger.Error("create event pool failed, fallback to default size", zap.Error(err))
		pool, _ = ants.NewPool(DefaultConfig().PoolSize)
	}
	d.pool = pool
	return d
}

// Subscribe 订阅事件，返回取消订阅函数
func (d *Dispatcher) Subscribe(name string, listener Listener, opts ...SubscribeOption) UnsubscribeFunc {
	if name == "" || listener == nil {
		return func() {}
	}

	entry := listenerEntry{id: atomic.AddUint64(&d.nextID, 1), listener: listener}
	for _, opt := range opts {
		opt(&entry)
	}
	if d.setAllSync {
		entry.async = false
	}

	d.mu.Lock()
	d.listeners[name] = append(d.listeners[name], entry)
	sort.SliceStable(d.listeners[name], func(i, j int) bool {
		return d.listeners[name][i].priority < d.listeners[name][j].priority
	})
	d.mu.Unlock()

	return func() { d.unsubscribe(name, entry.id) }
}

func (d *Dispatcher) unsubscribe(name string, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries := d.listeners[name]
	for i, e := range entries {
		if e.id == id {
			d.listeners[name] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// Dispatch 同步分发：精确订阅者先于通配订阅者执行
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) error {
	if event == nil {
		return nil
	}
	if d.closed.Load() {
		return ErrDispatcherClosed
	}
	return d.dispatch(ctx, event)
}

func (d *Dispatcher) dispatch(ctx context.Context, event Event) error {
	d.publish(ctx, event)

	err := d.executeListeners(ctx, event, d.snapshot(event.Name()))
	if errors.Is(err, ErrStopPropagation) {
		return nil
	}
	return err
}

// DispatchAsync 提交到协程池分发，错误只记录日志
func (d *Dispatcher) DispatchAsync(ctx context.Context, event Event) {
	if event == nil || d.closed.Load() {
		return
	}
	if d.setAllSync {
		if err := d.Dispatch(ctx, event); err != nil {
			d.logger.ErrorCtx(ctx, "event dispatch failed", zap.String("event", event.Name()), zap.Error(err))
		}
		return
	}

	asyncCtx := context.WithoutCancel(ctx)
	d.submit(func() {
		if err := d.dispatch(asyncCtx, event); err != nil {
			d.logger.ErrorCtx(asyncCtx, "async event dispatch failed",
				zap.String("event", event.Name()),
				zap.Error(err))
		}
	})
}

// submit 提交到协程池，池满或已释放时同步执行
func (d *Dispatcher) submit(task func()) {
	d.inflight.Add(1)
	if err := d.pool.Submit(func() {
		defer d.inflight.Done()
		task()
	}); err != nil {
		d.inflight.Done()
		task()
	}
}

func (d *Dispatcher) snapshot(name string) []listenerEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entries := make([]listenerEntry, 0, len(d.listeners[name])+len(d.listeners[Wildcard]))
	entries = append(entries, d.listeners[name]...)
	if name != Wildcard {
		entries = append(entries, d.listeners[Wildcard]...)
	}
	return entries
}

func (d *Dispatcher) executeListeners(ctx context.Context, event Event, entries []listenerEntry) error {
	for _, entry := range entries {
		if entry.async {
			l := entry.listener
			d.submit(func() {
				if err := safeHandle(ctx, l, event); err != nil && !errors.Is(err, ErrStopPropagation) {
					d.logger.ErrorCtx(ctx, "async listener failed",
						zap.String("event", event.Name()),
						zap.Error(err))
				}
			})
			continue
		}

		if err := safeHandle(ctx, entry.listener, event); err != nil {
			return err
		}
	}
	return nil
}

// publish 按路由转发到 Kafka（异步，失败只记日志）
func (d *Dispatcher) publish(ctx context.Context, event Event) {
	if d.publisher == nil {
		return
	}
	topic, ok := d.router.Match(event.Name())
	if !ok {
		return
	}

	payload, err := SerializeEvent(event, logger.TraceIDFromContext(ctx, "trace_id"), time.Now())
	if err != nil {
		d.logger.ErrorCtx(ctx, "serialize event failed", zap.String("event", event.Name()), zap.Error(err))
		return
	}

	send := func() {
		if err := d.publisher.PublishJSON(ctx, topic, event.Name(), payload); err != nil {
			d.logger.ErrorCtx(ctx, "Kafka publish failed",
				zap.String("event", event.Name()),
				zap.String("topic", topic),
				zap.Error(err))
		}
	}
	if d.setAllSync {
		send()
		return
	}
	d.submit(send)
}

func safeHandle(ctx context.Context, l Listener, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	return l.Handle(ctx, event)
}

// Close 等待已提交的异步任务完成后释放协程池
func (d *Dispatcher) Close() {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	d.inflight.Wait()
	d.pool.Release()
	if d.publisher != nil {
		if err := d.publisher.Close(); err != nil {
			d.logger.Warn("close kafka publisher failed", zap.Error(err))
		}
	}
}

// ListenerCount 指定事件的监听器数量
func (d *Dispatcher) ListenerCount(name string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[name])
}
