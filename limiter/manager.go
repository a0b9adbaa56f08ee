package limiter

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Manager limiter registry, one bucket per key created on first use
type Manager struct {
	config     ManagerConfig
	clock      clockwork.Clock
	logger     *logger.CtxZapLogger
	client     redis.UniversalClient
	ownsClient bool
	metrics    *OTelMetrics

	limiters map[string]Limiter
	mu       sync.RWMutex
}

// ManagerOption registry option
type ManagerOption func(*Manager)

// WithClock injects the clock used by every bucket
func WithClock(c clockwork.Clock) ManagerOption {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithLogger injects the logger
func WithLogger(l *logger.CtxZapLogger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithRedisClient uses an existing client instead of dialing cfg.Redis
func WithRedisClient(c redis.UniversalClient) ManagerOption {
	return func(m *Manager) { m.client = c }
}

// NewManager creates the registry
func NewManager(cfg ManagerConfig, opts ...ManagerOption) (*Manager, error) {
	cfg.ApplyDefaults()

	m := &Manager{
		clock:    clockwork.NewRealClock(),
		logger:   logger.GetLogger("limiter"),
		limiters: make(map[string]Limiter),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m.config = cfg

	if cfg.Store == StoreRedis && m.client == nil {
		if cfg.Redis.Addr == "" {
			return nil, &ValidationError{Field: "redis.addr", Message: "required when store is redis"}
		}
		m.client = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		m.ownsClient = true
	}
	if cfg.MetricsEnabled {
		m.metrics = NewOTelMetrics(true)
	}

	m.logger.Debug("✅ limiter manager initialized",
		zap.String("store", cfg.Store),
		zap.Float64("default_rate", cfg.Default.Rate),
		zap.Int("default_burst", cfg.Default.Burst))
	return m, nil
}

// Get returns the limiter for key, creating it on first use
func (m *Manager) Get(key string) Limiter {
	m.mu.RLock()
	l, ok := m.limiters[key]
	m.mu.RUnlock()
	if ok {
		return l
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.limiters[key]; ok {
		return l
	}

	cfg := m.config.For(key)
	if m.config.Store == StoreRedis {
		l = NewRedisBucket(m.client, m.config.KeyPrefix+key, cfg, m.config.RedisTimeout, m.clock, m.logger)
	} else {
		l = NewTokenBucket(cfg.Rate, cfg.Burst, m.clock)
	}
	m.limiters[key] = l

	if m.metrics != nil {
		m.metrics.RegisterTokenCallback(key, l.Tokens)
	}
	return l
}

// TryAcquire takes n tokens from key's bucket
func (m *Manager) TryAcquire(key string, n int) bool {
	allowed := m.Get(key).TryAcquire(n)
	if m.metrics != nil {
		m.metrics.RecordAcquire(context.Background(), key, allowed)
	}
	return allowed
}

// Allow like TryAcquire(key, 1) but returns *RateLimitExceededError on rejection
func (m *Manager) Allow(ctx context.Context, key string) error {
	return m.AllowN(ctx, key, 1)
}

// AllowN like TryAcquire but returns *RateLimitExceededError on rejection
func (m *Manager) AllowN(ctx context.Context, key string, n int) error {
	l := m.Get(key)
	allowed := l.TryAcquire(n)
	if m.metrics != nil {
		m.metrics.RecordAcquire(ctx, key, allowed)
	}
	if allowed {
		return nil
	}

	err := &RateLimitExceededError{Key: key, Requested: n}
	if tb, ok := l.(*TokenBucket); ok {
		err.RetryAfter = tb.RetryAfter(n)
	}
	m.logger.DebugCtx(ctx, "⛔ [RateLimiter] request rejected",
		zap.String("key", key),
		zap.Int("requested", n))
	return err
}

// Keys created limiter keys, sorted
func (m *Manager) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.limiters))
	for k := range m.limiters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Metrics provider (nil when disabled)
func (m *Manager) Metrics() *OTelMetrics {
	return m.metrics
}

// Store configured store type
func (m *Manager) Store() string {
	return m.config.Store
}

// Name health check name
func (m *Manager) Name() string {
	return "limiter"
}

// Check pings redis when the redis store is used
func (m *Manager) Check(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("limiter redis ping: %w", err)
	}
	return nil
}

// Close closes the redis client created by the manager
func (m *Manager) Close() error {
	if m.ownsClient && m.client != nil {
		return m.client.Close()
	}
	return nil
}
