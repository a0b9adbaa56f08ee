package breaker

import (
	"context"
	"sort"
	"sync"

	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Manager 按名称管理熔断器，首次使用时创建，同名始终返回同一实例
type Manager struct {
	config    ManagerConfig
	clock     clockwork.Clock
	logger    *logger.CtxZapLogger
	publisher Publisher
	metrics   *OTelMetrics
	predicate func(error) bool

	breakers map[string]*Breaker
	mu       sync.RWMutex
}

// ManagerOption 注册表选项
type ManagerOption func(*Manager)

// WithManagerClock 注入时钟
func WithManagerClock(c clockwork.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

// WithManagerLogger 注入 Logger
func WithManagerLogger(l *logger.CtxZapLogger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithManagerPublisher 所有熔断器共用的事件发布器
func WithManagerPublisher(p Publisher) ManagerOption {
	return func(m *Manager) { m.publisher = p }
}

// WithManagerFailurePredicate 所有熔断器共用的失败判定
func WithManagerFailurePredicate(fn func(error) bool) ManagerOption {
	return func(m *Manager) { m.predicate = fn }
}

// NewManager 创建熔断器注册表
func NewManager(cfg ManagerConfig, opts ...ManagerOption) (*Manager, error) {
	cfg.Default.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		config:   cfg,
		clock:    clockwork.NewRealClock(),
		logger:   logger.GetLogger("breaker"),
		breakers: make(map[string]*Breaker),
	}
	for _, opt := range opts {
		opt(m)
	}
	if cfg.MetricsEnabled {
		m.metrics = NewOTelMetrics(true)
	}

	m.logger.Debug("✅ breaker manager initialized",
		zap.Int("failure_threshold", cfg.Default.FailureThreshold),
		zap.Duration("recovery_timeout", cfg.Default.RecoveryTimeout),
		zap.Int("resources", len(cfg.Resources)))
	return m, nil
}

// Get 获取熔断器，不存在时按配置创建
func (m *Manager) Get(name string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[name]; ok {
		return b
	}

	opts := []Option{
		WithClock(m.clock),
		WithLogger(m.logger),
		WithPublisher(m.publisher),
		WithFailurePredicate(m.predicate),
	}
	if m.metrics != nil {
		opts = append(opts, WithMetrics(m.metrics))
	}
	b = newBreaker(name, m.config.For(name), opts...)
	m.breakers[name] = b
	return b
}

// Protect 通过指定名称的熔断器执行 fn
func (m *Manager) Protect(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return m.Get(name).Protect(ctx, fn)
}

// State 指定熔断器的状态（不存在时为 CLOSED，且不会创建）
func (m *Manager) State(name string) State {
	m.mu.RLock()
	b, ok := m.breakers[name]
	m.mu.RUnlock()
	if !ok {
		return StateClosed
	}
	return b.State()
}

// Names 已创建的熔断器名称（有序）
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.breakers))
	for name := range m.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshots 所有熔断器的状态快照（按名称排序）
func (m *Manager) Snapshots() []Snapshot {
	names := m.Names()
	snaps := make([]Snapshot, 0, len(names))
	for _, name := range names {
		snaps = append(snaps, m.Get(name).Snapshot())
	}
	return snaps
}

// Reset 重置指定熔断器，返回是否存在
func (m *Manager) Reset(name string) bool {
	m.mu.RLock()
	b, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		b.Reset()
	}
	return ok
}

// Metrics 指标提供者（未启用时为 nil）
func (m *Manager) Metrics() *OTelMetrics {
	return m.metrics
}
