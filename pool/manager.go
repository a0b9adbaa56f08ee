package pool

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ManagerConfig 连接池管理器配置
type ManagerConfig struct {
	// Default 所有地址的默认配置
	Default Config `mapstructure:"default"`

	// Addresses 按地址覆盖的配置
	Addresses map[string]Config `mapstructure:"addresses"`

	MetricsEnabled bool `mapstructure:"metrics_enabled"`
}

// DefaultManagerConfig 默认配置
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Default:        DefaultConfig(),
		MetricsEnabled: true,
	}
}

// For 指定地址的生效配置
func (c ManagerConfig) For(address string) Config {
	if cfg, ok := c.Addresses[address]; ok {
		cfg.ApplyDefaults()
		return cfg
	}
	cfg := c.Default
	cfg.ApplyDefaults()
	return cfg
}

// Validate 校验默认配置与所有覆盖项
func (c ManagerConfig) Validate() error {
	if err := c.For("").Validate(); err != nil {
		return err
	}
	for addr := range c.Addresses {
		if err := c.For(addr).Validate(); err != nil {
			var ce *ConfigError
			if errors.As(err, &ce) {
				return &ConfigError{Field: "addresses." + addr + "." + ce.Field, Message: ce.Message}
			}
			return err
		}
	}
	return nil
}

// FactoryBuilder 为地址构造连接工厂
type FactoryBuilder func(address string) Factory

// Manager 按上游地址管理连接池，首次使用时创建并启动
type Manager struct {
	config    ManagerConfig
	build     FactoryBuilder
	validator Validator
	observer  Observer
	clock     clockwork.Clock
	logger    *logger.CtxZapLogger
	metrics   *OTelMetrics

	pools  map[string]*Pool
	closed bool
	mu     sync.RWMutex
}

// ManagerOption 管理器选项
type ManagerOption func(*Manager)

// WithManagerValidator 所有连接池共用的校验函数
func WithManagerValidator(v Validator) ManagerOption {
	return func(m *Manager) { m.validator = v }
}

// WithManagerObserver 所有连接池共用的观察者
func WithManagerObserver(o Observer) ManagerOption {
	return func(m *Manager) { m.observer = o }
}

// WithManagerClock 注入时钟
func WithManagerClock(c clockwork.Clock) ManagerOption {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithManagerLogger 注入 Logger
func WithManagerLogger(l *logger.CtxZapLogger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager 创建管理器
func NewManager(cfg ManagerConfig, build FactoryBuilder, opts ...ManagerOption) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if build == nil {
		return nil, &ConfigError{Field: "factory", Message: "factory builder must not be nil"}
	}

	m := &Manager{
		config: cfg,
		build:  build,
		clock:  clockwork.NewRealClock(),
		logger: logger.GetLogger("pool"),
		pools:  make(map[string]*Pool),
	}
	for _, opt := range opts {
		opt(m)
	}
	if cfg.MetricsEnabled {
		m.metrics = NewOTelMetrics(true)
	}
	return m, nil
}

// Get 返回地址对应的连接池，不存在时创建并预热
func (m *Manager) Get(ctx context.Context, address string) (*Pool, error) {
	m.mu.RLock()
	p, ok := m.pools[address]
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrPoolClosed
	}
	if !ok {
		var err error
		if p, err = m.create(address); err != nil {
			return nil, err
		}
	}

	if err := p.Start(ctx); err != nil {
		// 并发 Remove 已经关闭了该池
		if errors.Is(err, ErrPoolClosed) {
			return nil, err
		}
		m.logger.WarnCtx(ctx, "pool started without full warm-up", zap.String("address", address), zap.Error(err))
	}
	return p, nil
}

func (m *Manager) create(address string) (*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrPoolClosed
	}
	if p, ok := m.pools[address]; ok {
		return p, nil
	}

	p, err := New(address, m.config.For(address), m.build(address),
		WithValidator(m.validator),
		WithObserver(m.observer),
		WithClock(m.clock),
		WithLogger(m.logger))
	if err != nil {
		return nil, err
	}
	m.pools[address] = p
	if m.metrics != nil {
		m.metrics.RegisterStatsCallback(address, p.Stats)
	}
	m.logger.Debug("🆕 pool created", zap.String("address", address), zap.Int("max_size", p.cfg.MaxSize))
	return p, nil
}

// Acquire 从地址对应的连接池借出连接
func (m *Manager) Acquire(ctx context.Context, address string) (*PooledConn, error) {
	p, err := m.Get(ctx, address)
	if err != nil {
		return nil, err
	}

	start := m.clock.Now()
	pc, err := p.Acquire(ctx)
	if m.metrics != nil {
		result := "ok"
		switch {
		case errors.Is(err, ErrAcquireTimeout):
			result = "timeout"
		case err != nil:
			result = "error"
		}
		m.metrics.RecordAcquire(ctx, address, result, m.clock.Since(start))
	}
	return pc, err
}

// Remove 关闭并移除地址对应的连接池（实例下线时调用）
func (m *Manager) Remove(ctx context.Context, address string) error {
	m.mu.Lock()
	p, ok := m.pools[address]
	delete(m.pools, address)
	// 在锁内注销，避免删掉同地址新建连接池的回调
	if ok && m.metrics != nil {
		m.metrics.UnregisterStatsCallback(address)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return p.Close(ctx)
}

// Addresses 已创建连接池的地址（排序）
func (m *Manager) Addresses() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.pools))
	for addr := range m.pools {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Stats 所有连接池的指标快照（按地址排序）
func (m *Manager) Stats() []Stats {
	m.mu.RLock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.RUnlock()

	out := make([]Stats, 0, len(pools))
	for _, p := range pools {
		out = append(out, p.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Metrics 指标提供者（未启用时为 nil）
func (m *Manager) Metrics() *OTelMetrics {
	return m.metrics
}

// Name 组件名
func (m *Manager) Name() string {
	return "pool"
}

// Start 连接池按需创建，这里无需启动任何东西
func (m *Manager) Start(ctx context.Context) error {
	return nil
}

// Stop 并发关闭所有连接池，每个连接池各自等待宽限期
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	pools := m.pools
	m.pools = make(map[string]*Pool)
	m.mu.Unlock()

	var g errgroup.Group
	for _, p := range pools {
		g.Go(func() error { return p.Close(ctx) })
	}
	err := g.Wait()
	m.logger.InfoCtx(ctx, "✅ pool manager stopped", zap.Int("pools", len(pools)))
	return err
}

// Check 管理器关闭后视为不健康
func (m *Manager) Check(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrPoolClosed
	}
	return nil
}
