package governance

import (
	"context"
	"sync"
	"time"

	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// InstanceSource 健康实例来源（Registry 实现）
type InstanceSource interface {
	GetHealthyInstances(serviceName string) []ServiceInstance
}

type cacheEntry struct {
	instances []ServiceInstance
	expiresAt time.Time
}

// Discovery 按负载均衡策略把服务名解析为一个健康实例
//
// 健康实例列表按服务缓存 CacheTTL，缓存是尽力而为的：TTL 内注销的实例仍可能被返回。
type Discovery struct {
	source  InstanceSource
	config  DiscoveryConfig
	clock   clockwork.Clock
	logger  *logger.CtxZapLogger
	counter *ConnectionCounter
	seed    int64

	balancers map[string]LoadBalancer
	group     singleflight.Group

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// DiscoveryOption 服务发现选项
type DiscoveryOption func(*Discovery)

// WithDiscoveryClock 注入时钟
func WithDiscoveryClock(c clockwork.Clock) DiscoveryOption {
	return func(d *Discovery) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithDiscoveryLogger 注入 Logger
func WithDiscoveryLogger(l *logger.CtxZapLogger) DiscoveryOption {
	return func(d *Discovery) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithConnectionCounter least_connections 使用的在途连接计数器
func WithConnectionCounter(c *ConnectionCounter) DiscoveryOption {
	return func(d *Discovery) {
		if c != nil {
			d.counter = c
		}
	}
}

// WithRandomSeed random 策略的随机种子（测试用）
func WithRandomSeed(seed int64) DiscoveryOption {
	return func(d *Discovery) { d.seed = seed }
}

// NewDiscovery 创建服务发现
func NewDiscovery(source InstanceSource, cfg DiscoveryConfig, opts ...DiscoveryOption) (*Discovery, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Discovery{
		source:  source,
		config:  cfg,
		clock:   clockwork.NewRealClock(),
		logger:  logger.GetLogger("discovery"),
		counter: NewConnectionCounter(),
		cache:   make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.balancers = map[string]LoadBalancer{
		StrategyRoundRobin:         NewRoundRobinBalancer(),
		StrategyRandom:             NewRandomBalancer(d.seed),
		StrategyLeastConnections:   NewLeastConnectionsBalancer(d.counter),
		StrategyWeightedRoundRobin: NewWeightedRoundRobinBalancer(),
	}
	return d, nil
}

// ConnectionCounter 在途连接计数器（传给连接池作为 Observer）
func (d *Discovery) ConnectionCounter() *ConnectionCounter {
	return d.counter
}

// Discover 选择一个健康且包含全部 tags 的实例
//
// 没有匹配实例时返回 (nil, nil)；只有策略名非法时返回错误。strategy 为空使用默认策略。
func (d *Discovery) Discover(ctx context.Context, serviceName, strategy string, tags ...string) (*ServiceInstance, error) {
	if strategy == "" {
		strategy = d.config.DefaultStrategy
	}
	name, err := ParseStrategy(strategy)
	if err != nil {
		return nil, err
	}

	candidates := d.DiscoverAll(ctx, serviceName, tags...)
	if len(candidates) == 0 {
		d.logger.DebugCtx(ctx, "no healthy instance",
			zap.String("service", serviceName),
			zap.Strings("tags", tags))
		return nil, nil
	}

	inst := d.balancers[name].Select(serviceName, candidates)
	return &inst, nil
}

// DiscoverAll 健康且包含全部 tags 的实例（注册顺序），返回深拷贝，调用方可以随意修改
func (d *Discovery) DiscoverAll(ctx context.Context, serviceName string, tags ...string) []ServiceInstance {
	instances := d.healthy(serviceName)
	out := make([]ServiceInstance, 0, len(instances))
	for _, inst := range instances {
		if inst.HasTags(tags...) {
			out = append(out, inst.Clone())
		}
	}
	return out
}

func (d *Discovery) healthy(serviceName string) []ServiceInstance {
	if d.config.CacheTTL <= 0 {
		return d.source.GetHealthyInstances(serviceName)
	}

	now := d.clock.Now()
	d.mu.RLock()
	c, ok := d.cache[serviceName]
	d.mu.RUnlock()
	if ok && now.Before(c.expiresAt) {
		return c.instances
	}

	// 同一服务的并发刷新只查询一次注册表
	v, _, _ := d.group.Do(serviceName, func() (interface{}, error) {
		instances := d.source.GetHealthyInstances(serviceName)
		d.mu.Lock()
		d.cache[serviceName] = cacheEntry{instances: instances, expiresAt: d.clock.Now().Add(d.config.CacheTTL)}
		d.mu.Unlock()
		return instances, nil
	})
	return v.([]ServiceInstance)
}

// Invalidate 清除某个服务的缓存
func (d *Discovery) Invalidate(serviceName string) {
	d.mu.Lock()
	delete(d.cache, serviceName)
	d.mu.Unlock()
}

// InvalidateAll 清除全部缓存
func (d *Discovery) InvalidateAll() {
	d.mu.Lock()
	d.cache = make(map[string]cacheEntry)
	d.mu.Unlock()
}
