package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// validateTimeout 单次连接校验的超时
const validateTimeout = 5 * time.Second

// Pool 到单个上游地址的连接池
//
// sem 的每个槽位代表一次借出、一次创建或一次健康检查，空闲连接不占槽位。
// 只有空闲列表为空时才创建新连接，因此连接总数不会超过 MaxSize。
type Pool struct {
	address   string
	cfg       Config
	factory   Factory
	validator Validator
	observer  Observer
	clock     clockwork.Clock
	logger    *logger.CtxZapLogger

	sem     chan struct{}
	closing chan struct{}
	drained chan struct{}

	mu          sync.Mutex
	idle        []*PooledConn
	inUse       map[string]*PooledConn
	total       int // 存活连接 + 正在创建的预留数
	closed      bool
	drainedOnce sync.Once

	acquired          atomic.Int64
	released          atomic.Int64
	created           atomic.Int64
	destroyed         atomic.Int64
	failedValidations atomic.Int64
	hits              atomic.Int64
	misses            atomic.Int64
	timeouts          atomic.Int64
	waits             atomic.Int64

	startOnce  sync.Once
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// Option 连接池选项
type Option func(*Pool)

// WithValidator 设置连接校验函数
func WithValidator(v Validator) Option {
	return func(p *Pool) { p.validator = v }
}

// WithObserver 设置借出/归还观察者
func WithObserver(o Observer) Option {
	return func(p *Pool) { p.observer = o }
}

// WithClock 注入时钟
func WithClock(c clockwork.Clock) Option {
	return func(p *Pool) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithLogger 注入 Logger
func WithLogger(l *logger.CtxZapLogger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// New 创建连接池（不会建立连接，预热与健康检查在 Start 中启动）
func New(address string, cfg Config, factory Factory, opts ...Option) (*Pool, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, &ConfigError{Field: "factory", Message: "must not be nil"}
	}

	p := &Pool{
		address: address,
		cfg:     cfg,
		factory: factory,
		clock:   clockwork.NewRealClock(),
		logger:  logger.GetLogger("pool"),
		sem:     make(chan struct{}, cfg.MaxSize),
		closing: make(chan struct{}),
		drained: make(chan struct{}),
		inUse:   make(map[string]*PooledConn),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("address", address))
	return p, nil
}

// Address 上游地址
func (p *Pool) Address() string { return p.address }

// Config 当前配置
func (p *Pool) Config() Config { return p.cfg }

// Start 预热到 MinSize 并启动健康检查循环，重复调用无效果
//
// 预热失败只返回错误，连接池仍然可用。已关闭的池返回 ErrPoolClosed。
func (p *Pool) Start(ctx context.Context) error {
	if p.isClosed() {
		return ErrPoolClosed
	}
	var err error
	p.startOnce.Do(func() {
		err = p.Warmup(ctx)
		if p.cfg.HealthCheckInterval <= 0 {
			return
		}

		// 与 Close 互斥：关闭之后不再启动循环
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			err = ErrPoolClosed
			return
		}
		loopCtx, cancel := context.WithCancel(context.Background())
		p.loopCancel = cancel
		p.loopDone = make(chan struct{})
		done := p.loopDone
		p.mu.Unlock()
		go p.healthLoop(loopCtx, done)
	})
	return err
}

// Warmup 并发创建连接直到总数达到 MinSize
func (p *Pool) Warmup(ctx context.Context) error {
	p.mu.Lock()
	missing := p.cfg.MinSize - p.total
	p.mu.Unlock()
	if missing <= 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < missing; i++ {
		g.Go(func() error {
			_, err := p.addIdle(gctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		p.logger.WarnCtx(ctx, "⚠️ pool warm-up incomplete", zap.Error(err))
		return fmt.Errorf("pool warm-up %s: %w", p.address, err)
	}
	p.logger.DebugCtx(ctx, "🔥 pool warmed up", zap.Int("min_size", p.cfg.MinSize))
	return nil
}

// Acquire 借出一个连接，最多等待 AcquireTimeout
//
// 调用方必须在所有路径上归还：
//
//	pc, err := p.Acquire(ctx)
//	if err != nil { return err }
//	defer pc.Release()
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	select {
	case p.sem <- struct{}{}:
	default:
		p.waits.Add(1)
		timer := p.clock.NewTimer(p.cfg.AcquireTimeout)
		defer timer.Stop()
		select {
		case p.sem <- struct{}{}:
		case <-timer.Chan():
			p.timeouts.Add(1)
			p.logger.WarnCtx(ctx, "⏳ acquire timeout", zap.Duration("timeout", p.cfg.AcquireTimeout))
			return nil, fmt.Errorf("%w after %s (%s)", ErrAcquireTimeout, p.cfg.AcquireTimeout, p.address)
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.closing:
			return nil, ErrPoolClosed
		}
	}

	pc, err := p.checkout(ctx)
	if err != nil {
		<-p.sem
		return nil, err
	}

	p.acquired.Add(1)
	if p.observer != nil {
		p.observer.ConnAcquired(p.address)
	}
	return pc, nil
}

// checkout 已持有槽位：优先复用空闲连接，否则新建
func (p *Pool) checkout(ctx context.Context) (*PooledConn, error) {
	var stale []*PooledConn
	defer func() { p.destroyAll(stale, "max lifetime exceeded") }()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	now := p.clock.Now()
	for len(p.idle) > 0 {
		last := len(p.idle) - 1
		pc := p.idle[last]
		p.idle[last] = nil
		p.idle = p.idle[:last]

		if p.expired(pc, now) {
			p.total--
			stale = append(stale, pc)
			continue
		}
		p.markInUseLocked(pc, now)
		p.mu.Unlock()
		p.hits.Add(1)
		return pc, nil
	}
	p.total++
	p.mu.Unlock()
	p.misses.Add(1)

	pc, err := p.create(ctx)
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		return nil, err
	}

	p.mu.Lock()
	if p.closed || ctx.Err() != nil {
		p.total--
		closed := p.closed
		p.mu.Unlock()
		p.destroy(pc, "acquire abandoned")
		if closed {
			return nil, ErrPoolClosed
		}
		return nil, ctx.Err()
	}
	p.markInUseLocked(pc, p.clock.Now())
	p.mu.Unlock()
	return pc, nil
}

func (p *Pool) markInUseLocked(pc *PooledConn, now time.Time) {
	pc.inUse = true
	pc.lastUsedAt = now
	p.inUse[pc.id] = pc
}

// Release 归还连接；超过 MaxLifetime、校验失败或池已关闭时关闭连接
func (p *Pool) Release(pc *PooledConn) error {
	if pc == nil {
		return ErrNotInUse
	}
	if pc.pool != p {
		return ErrForeignConn
	}

	// 先确认仍处于借出状态，重复归还不能去校验别人已经借走的连接
	p.mu.Lock()
	held := pc.inUse
	closed := p.closed
	p.mu.Unlock()
	if !held {
		return ErrNotInUse
	}

	invalid := false
	if p.cfg.ValidateOnRelease && !closed {
		if err := p.validate(pc); err != nil {
			invalid = true
			p.failedValidations.Add(1)
			p.logger.Debug("connection failed validation on release", zap.String("conn_id", pc.id), zap.Error(err))
		}
	}

	p.mu.Lock()
	if !pc.inUse {
		p.mu.Unlock()
		return ErrNotInUse
	}
	pc.inUse = false
	if pc.discarded {
		p.mu.Unlock()
		p.releaseSlot()
		return ErrPoolClosed
	}
	delete(p.inUse, pc.id)
	p.released.Add(1)

	now := p.clock.Now()
	reason := ""
	switch {
	case p.closed:
		reason = "pool closed"
	case invalid:
		reason = "validation failed"
	case p.expired(pc, now):
		reason = "max lifetime exceeded"
	}
	if reason == "" {
		pc.lastUsedAt = now
		p.idle = append(p.idle, pc)
	} else {
		p.total--
	}
	p.signalDrainedLocked()
	p.mu.Unlock()

	if reason != "" {
		p.destroy(pc, reason)
	}
	p.releaseSlot()
	return nil
}

// Invalidate 关闭借出的连接且不放回池中
func (p *Pool) Invalidate(pc *PooledConn) error {
	if pc == nil {
		return ErrNotInUse
	}
	if pc.pool != p {
		return ErrForeignConn
	}

	p.mu.Lock()
	if !pc.inUse {
		p.mu.Unlock()
		return ErrNotInUse
	}
	pc.inUse = false
	discarded := pc.discarded
	if !discarded {
		delete(p.inUse, pc.id)
		p.total--
		p.released.Add(1)
	}
	p.signalDrainedLocked()
	p.mu.Unlock()

	if !discarded {
		p.destroy(pc, "invalidated")
	}
	p.releaseSlot()
	return nil
}

func (p *Pool) releaseSlot() {
	<-p.sem
	if p.observer != nil {
		p.observer.ConnReleased(p.address)
	}
}

// HealthCheck 校验空闲连接，关闭失效或过期的连接，然后补齐到 MinSize
//
// 每校验一个连接占用一个槽位，连接池繁忙时提前结束本轮。
func (p *Pool) HealthCheck(ctx context.Context) {
	p.mu.Lock()
	n := len(p.idle)
	p.mu.Unlock()

	checked, removed := 0, 0
	for i := 0; i < n; i++ {
		select {
		case p.sem <- struct{}{}:
		default:
			return
		}

		p.mu.Lock()
		if p.closed || len(p.idle) == 0 {
			p.mu.Unlock()
			<-p.sem
			break
		}
		pc := p.idle[0]
		p.idle[0] = nil
		p.idle = p.idle[1:]
		p.mu.Unlock()

		reason := ""
		if p.expired(pc, p.clock.Now()) {
			reason = "max lifetime exceeded"
		} else if err := p.validate(pc); err != nil {
			reason = "validation failed"
			p.failedValidations.Add(1)
		}

		p.mu.Lock()
		if reason == "" && p.closed {
			reason = "pool closed"
		}
		if reason == "" {
			p.idle = append(p.idle, pc)
		} else {
			p.total--
		}
		p.mu.Unlock()

		checked++
		if reason != "" {
			removed++
			p.destroy(pc, reason)
		}
		<-p.sem
	}

	if removed > 0 {
		p.logger.InfoCtx(ctx, "🩺 pool health check removed connections",
			zap.Int("checked", checked),
			zap.Int("removed", removed))
	}

	for {
		added, err := p.addIdle(ctx)
		if err != nil {
			p.logger.WarnCtx(ctx, "pool top-up failed", zap.Error(err))
			return
		}
		if !added {
			return
		}
	}
}

func (p *Pool) healthLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := p.clock.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.HealthCheck(ctx)
		}
	}
}

// addIdle 总数低于 MinSize 时新建一个空闲连接
func (p *Pool) addIdle(ctx context.Context) (bool, error) {
	select {
	case p.sem <- struct{}{}:
	default:
		return false, nil
	}
	defer func() { <-p.sem }()

	p.mu.Lock()
	if p.closed || p.total >= p.cfg.MinSize || p.total >= p.cfg.MaxSize {
		p.mu.Unlock()
		return false, nil
	}
	p.total++
	p.mu.Unlock()

	pc, err := p.create(ctx)
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		return false, err
	}

	p.mu.Lock()
	if p.closed {
		p.total--
		p.mu.Unlock()
		p.destroy(pc, "pool closed")
		return false, nil
	}
	p.idle = append(p.idle, pc)
	p.mu.Unlock()
	return true, nil
}

func (p *Pool) create(ctx context.Context) (*PooledConn, error) {
	conn, err := p.factory(ctx)
	if err != nil {
		p.logger.WarnCtx(ctx, "❌ create connection failed", zap.Error(err))
		return nil, fmt.Errorf("pool dial %s: %w", p.address, err)
	}
	if conn == nil {
		return nil, fmt.Errorf("pool dial %s: factory returned nil connection", p.address)
	}

	now := p.clock.Now()
	pc := &PooledConn{
		id:         uuid.NewString(),
		conn:       conn,
		pool:       p,
		createdAt:  now,
		lastUsedAt: now,
	}
	p.created.Add(1)
	p.logger.DebugCtx(ctx, "🔗 connection created", zap.String("conn_id", pc.id))
	return pc, nil
}

func (p *Pool) validate(pc *PooledConn) error {
	if p.validator == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), validateTimeout)
	defer cancel()
	return p.validator(ctx, pc.conn)
}

func (p *Pool) expired(pc *PooledConn, now time.Time) bool {
	return p.cfg.MaxLifetime > 0 && now.Sub(pc.createdAt) > p.cfg.MaxLifetime
}

func (p *Pool) destroy(pc *PooledConn, reason string) {
	p.destroyed.Add(1)
	if err := pc.conn.Close(); err != nil {
		p.logger.Debug("close connection failed",
			zap.String("conn_id", pc.id),
			zap.String("reason", reason),
			zap.Error(err))
		return
	}
	p.logger.Debug("connection closed", zap.String("conn_id", pc.id), zap.String("reason", reason))
}

func (p *Pool) destroyAll(pcs []*PooledConn, reason string) {
	for _, pc := range pcs {
		p.destroy(pc, reason)
	}
}

func (p *Pool) signalDrainedLocked() {
	if p.closed && len(p.inUse) == 0 {
		p.drainedOnce.Do(func() { close(p.drained) })
	}
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close 停止借出，等待借出连接归还（最多 CloseGracePeriod），然后强制关闭剩余连接
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.closing)
	idle := p.idle
	p.idle = nil
	p.total -= len(idle)
	inFlight := len(p.inUse)
	loopCancel, loopDone := p.loopCancel, p.loopDone
	p.signalDrainedLocked()
	p.mu.Unlock()

	if loopCancel != nil {
		loopCancel()
		<-loopDone
	}
	p.destroyAll(idle, "pool closed")

	if inFlight > 0 {
		p.logger.InfoCtx(ctx, "⏳ waiting for in-flight connections",
			zap.Int("in_flight", inFlight),
			zap.Duration("grace_period", p.cfg.CloseGracePeriod))
		timer := p.clock.NewTimer(p.cfg.CloseGracePeriod)
		select {
		case <-p.drained:
		case <-timer.Chan():
		case <-ctx.Done():
		}
		timer.Stop()
	}

	var forced []*PooledConn
	p.mu.Lock()
	for id, pc := range p.inUse {
		pc.discarded = true
		forced = append(forced, pc)
		delete(p.inUse, id)
		p.total--
	}
	p.mu.Unlock()

	var errs []error
	for _, pc := range forced {
		p.destroyed.Add(1)
		if err := pc.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(forced) > 0 {
		p.logger.WarnCtx(ctx, "🛑 force-closed connections after grace period", zap.Int("count", len(forced)))
	}
	p.logger.InfoCtx(ctx, "✅ pool closed")
	return errors.Join(errs...)
}

// Stats 指标快照
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	idle, active := len(p.idle), len(p.inUse)
	p.mu.Unlock()
	return Stats{
		Address:           p.address,
		Total:             idle + active,
		Active:            active,
		Idle:              idle,
		Acquired:          p.acquired.Load(),
		Released:          p.released.Load(),
		Created:           p.created.Load(),
		Destroyed:         p.destroyed.Load(),
		FailedValidations: p.failedValidations.Load(),
		Hits:              p.hits.Load(),
		Misses:            p.misses.Load(),
		Timeouts:          p.timeouts.Load(),
		Waits:             p.waits.Load(),
	}
}

// Name 健康检查名
func (p *Pool) Name() string {
	return "pool:" + p.address
}

// Check 连接池关闭后视为不健康
func (p *Pool) Check(ctx context.Context) error {
	if p.isClosed() {
		return ErrPoolClosed
	}
	return nil
}
