// Package mesh 把注册中心、服务发现与韧性组件组装成一个运行时上下文
//
//	m, err := mesh.New(ctx, mesh.DefaultConfig())
//	_ = m.Start(ctx)
//	defer m.Stop(ctx)
//	err = m.Client().Call(ctx, "payment-service", func(ctx context.Context, pc *pool.PooledConn) error {
//	    conn := pc.Conn().(net.Conn)
//	    ...
//	})
package mesh

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/KOMKZ/go-yogan-mesh/breaker"
	"github.com/KOMKZ/go-yogan-mesh/component"
	"github.com/KOMKZ/go-yogan-mesh/event"
	"github.com/KOMKZ/go-yogan-mesh/governance"
	"github.com/KOMKZ/go-yogan-mesh/health"
	"github.com/KOMKZ/go-yogan-mesh/limiter"
	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/KOMKZ/go-yogan-mesh/pool"
	"github.com/KOMKZ/go-yogan-mesh/retry"
	"github.com/KOMKZ/go-yogan-mesh/telemetry"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// Mesh 启动时构造一次并显式传递的运行时上下文
type Mesh struct {
	config Config
	clock  clockwork.Clock
	logger *logger.CtxZapLogger

	Events    *event.Dispatcher
	Telemetry *telemetry.Manager
	Registry  *governance.Registry
	Discovery *governance.Discovery
	Breakers  *breaker.Manager
	Limiters  *limiter.Manager
	Retry     *retry.Executor
	Pools     *pool.Manager
	Mirrors   *governance.MirrorSync // 未启用镜像时为 nil
	Health    *health.Aggregator

	client *Client

	// components 按启动顺序排列，Stop 时逆序
	components []component.Component
	unsub      []event.UnsubscribeFunc

	mu      sync.Mutex
	started bool
	stopped bool
}

type options struct {
	clock          clockwork.Clock
	logger         *logger.CtxZapLogger
	factoryBuilder pool.FactoryBuilder
	poolValidator  pool.Validator
	redisClient    redis.UniversalClient
	kafka          event.KafkaPublisher
	metricReader   sdkmetric.Reader
	spanExporter   sdktrace.SpanExporter
	mirrors        []governance.Mirror
}

// Option Mesh 选项
type Option func(*options)

// WithClock 所有组件共用的时钟（测试用 clockwork.NewFakeClock）
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger 注入 Logger
func WithLogger(l *logger.CtxZapLogger) Option {
	return func(o *options) { o.logger = l }
}

// WithFactoryBuilder 自定义连接工厂，覆盖 Client.Protocol
func WithFactoryBuilder(b pool.FactoryBuilder) Option {
	return func(o *options) { o.factoryBuilder = b }
}

// WithPoolValidator 连接池校验函数
func WithPoolValidator(v pool.Validator) Option {
	return func(o *options) { o.poolValidator = v }
}

// WithRedisClient 限流器 redis 存储使用已有客户端
func WithRedisClient(c redis.UniversalClient) Option {
	return func(o *options) { o.redisClient = c }
}

// WithKafkaPublisher 使用已有的 Kafka 发布器（测试用 sarama mocks）
func WithKafkaPublisher(p event.KafkaPublisher) Option {
	return func(o *options) { o.kafka = p }
}

// WithMetricReader 指标 Reader（测试用 sdkmetric.NewManualReader）
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(o *options) { o.metricReader = r }
}

// WithSpanExporter Span 导出器（测试用 tracetest.NewInMemoryExporter）
func WithSpanExporter(e sdktrace.SpanExporter) Option {
	return func(o *options) { o.spanExporter = e }
}

// WithMirrors 额外的注册表镜像（与配置里启用的 etcd/consul 镜像一起同步）
func WithMirrors(mirrors ...governance.Mirror) Option {
	return func(o *options) { o.mirrors = append(o.mirrors, mirrors...) }
}

// New 按依赖顺序构造所有组件，失败时关闭已创建的资源
func New(ctx context.Context, cfg Config, opts ...Option) (*Mesh, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("mesh config: %w", err)
	}

	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.GetLogger("mesh")
	}

	m := &Mesh{config: cfg, clock: o.clock, logger: o.logger}
	if err := m.build(ctx, &o); err != nil {
		m.closeBuilt(ctx)
		return nil, err
	}
	return m, nil
}

func (m *Mesh) build(ctx context.Context, o *options) error {
	cfg := m.config

	// 遥测最先创建，其余组件的指标注册到它的 MetricsRegistry
	var telOpts []telemetry.Option
	if o.metricReader != nil {
		telOpts = append(telOpts, telemetry.WithMetricReader(o.metricReader))
	}
	if o.spanExporter != nil {
		telOpts = append(telOpts, telemetry.WithSpanExporter(o.spanExporter))
	}
	tel, err := telemetry.NewManager(ctx, cfg.Telemetry, telOpts...)
	if err != nil {
		return err
	}
	m.Telemetry = tel

	var eventOpts []event.Option
	publisher := o.kafka
	if publisher == nil && cfg.Event.Kafka.Enabled {
		p, err := event.NewSaramaPublisher(cfg.Event.Kafka, logger.GetLogger("event"))
		if err != nil {
			return fmt.Errorf("create kafka publisher: %w", err)
		}
		publisher = p
	}
	if publisher != nil {
		eventOpts = append(eventOpts, event.WithKafka(publisher, event.NewRouter(cfg.Event.Kafka.Routes)))
	}
	m.Events = event.NewDispatcher(cfg.Event, eventOpts...)

	if m.Registry, err = governance.NewRegistry(cfg.Registry,
		governance.WithClock(o.clock),
		governance.WithPublisher(m.Events),
	); err != nil {
		return err
	}
	if m.Discovery, err = governance.NewDiscovery(m.Registry, cfg.Discovery,
		governance.WithDiscoveryClock(o.clock),
	); err != nil {
		return err
	}
	if m.Breakers, err = breaker.NewManager(cfg.Breaker,
		breaker.WithManagerClock(o.clock),
		breaker.WithManagerPublisher(m.Events),
	); err != nil {
		return err
	}

	limiterOpts := []limiter.ManagerOption{limiter.WithClock(o.clock)}
	if o.redisClient != nil {
		limiterOpts = append(limiterOpts, limiter.WithRedisClient(o.redisClient))
	}
	if m.Limiters, err = limiter.NewManager(cfg.Limiter, limiterOpts...); err != nil {
		return err
	}

	m.Retry = retry.NewExecutor(cfg.Retry,
		retry.WithClock(o.clock),
		retry.WithCondition(retry.RetryOn(retryable)),
	)

	build := o.factoryBuilder
	if build == nil {
		build = defaultFactoryBuilder(cfg.Client, tel)
	}
	poolOpts := []pool.ManagerOption{
		pool.WithManagerClock(o.clock),
		pool.WithManagerObserver(m.Discovery.ConnectionCounter()),
	}
	switch {
	case o.poolValidator != nil:
		poolOpts = append(poolOpts, pool.WithManagerValidator(o.poolValidator))
	case o.factoryBuilder == nil && cfg.Client.Protocol == ProtocolGRPC:
		poolOpts = append(poolOpts, pool.WithManagerValidator(pool.GRPCStateValidator))
	}
	if m.Pools, err = pool.NewManager(cfg.Pool, build, poolOpts...); err != nil {
		return err
	}

	mirrors := slices.Clone(o.mirrors)
	if cfg.Mirror.Etcd.Enabled {
		em, err := governance.NewEtcdMirror(cfg.Mirror.Etcd, logger.GetLogger("mirror"))
		if err != nil {
			return err
		}
		mirrors = append(mirrors, em)
	}
	if cfg.Mirror.Consul.Enabled {
		cm, err := governance.NewConsulMirror(cfg.Mirror.Consul, logger.GetLogger("mirror"))
		if err != nil {
			return err
		}
		mirrors = append(mirrors, cm)
	}
	if len(mirrors) > 0 {
		m.Mirrors = governance.NewMirrorSync(m.Registry, cfg.Mirror.RefreshInterval, mirrors...)
		m.Mirrors.Attach(m.Events)
	}

	if err := m.registerMetrics(); err != nil {
		return err
	}

	m.Health = health.NewAggregator(cfg.Health.Timeout, logger.GetLogger("health"))
	m.Health.Register(m.Registry, m.Pools, m.Limiters)
	m.Health.SetMetadata("service", cfg.Telemetry.ServiceName)

	m.subscribeLifecycle()

	m.components = []component.Component{m.Telemetry, m.Registry, m.Pools}
	if m.Mirrors != nil {
		m.components = append(m.components, m.Mirrors)
	}

	client, err := newClient(m)
	if err != nil {
		return err
	}
	m.client = client
	return nil
}

// registerMetrics 把各组件的指标注册到遥测的 MetricsRegistry
func (m *Mesh) registerMetrics() error {
	reg := m.Telemetry.MetricsRegistry()
	var providers []component.MetricsProvider
	if p := m.Registry.Metrics(); p != nil {
		providers = append(providers, p)
	}
	if p := m.Breakers.Metrics(); p != nil {
		providers = append(providers, p)
	}
	if p := m.Limiters.Metrics(); p != nil {
		providers = append(providers, p)
	}
	if p := m.Pools.Metrics(); p != nil {
		providers = append(providers, p)
	}
	for _, p := range providers {
		if err := reg.Register(p); err != nil {
			return err
		}
	}
	return nil
}

// subscribeLifecycle 实例下线时关闭它的连接池并清掉发现缓存
func (m *Mesh) subscribeLifecycle() {
	onGone := event.ListenerFunc(func(ctx context.Context, e event.Event) error {
		ie, ok := e.(governance.InstanceEvent)
		if !ok {
			return nil
		}
		m.Discovery.Invalidate(ie.Instance.ServiceName)
		if err := m.Pools.Remove(ctx, ie.Instance.Address()); err != nil && !errors.Is(err, pool.ErrPoolClosed) {
			m.logger.WarnCtx(ctx, "close pool of removed instance failed",
				zap.String("address", ie.Instance.Address()),
				zap.Error(err))
		}
		return nil
	})
	onStatus := event.ListenerFunc(func(ctx context.Context, e event.Event) error {
		if ie, ok := e.(governance.InstanceEvent); ok {
			m.Discovery.Invalidate(ie.Instance.ServiceName)
		}
		return nil
	})

	for _, name := range []string{governance.EventInstanceDeregistered, governance.EventInstanceEvicted} {
		m.unsub = append(m.unsub, m.Events.Subscribe(name, onGone, event.WithAsync()))
	}
	for _, name := range []string{
		governance.EventInstanceHealthy,
		governance.EventInstanceUnhealthy,
		governance.EventInstanceMaintenance,
	} {
		m.unsub = append(m.unsub, m.Events.Subscribe(name, onStatus))
	}
}

// Config 生效配置
func (m *Mesh) Config() Config {
	return m.config
}

// Client 组合了发现、重试、限流、熔断与连接池的调用入口
func (m *Mesh) Client() *Client {
	return m.client
}

// Name 组件名
func (m *Mesh) Name() string {
	return "mesh"
}

// Start 按依赖顺序启动后台循环，失败时停止已启动的组件
func (m *Mesh) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrMeshStopped
	}
	if m.started {
		return nil
	}

	for i, c := range m.components {
		if err := c.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = m.components[j].Stop(ctx)
			}
			return fmt.Errorf("start %s: %w", c.Name(), err)
		}
		m.logger.DebugCtx(ctx, "component started", zap.String("component", c.Name()))
	}
	m.started = true
	m.logger.InfoCtx(ctx, "✅ Mesh started", zap.Int("components", len(m.components)))
	return nil
}

// Stop 逆序停止所有组件，只执行一次
func (m *Mesh) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil
	}
	m.stopped = true

	var errs []error
	for _, c := range slices.Backward(m.components) {
		if err := c.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", c.Name(), err))
		}
	}
	m.closeBuilt(ctx)
	err := errors.Join(errs...)
	if err != nil {
		m.logger.ErrorCtx(ctx, "mesh stopped with errors", zap.Error(err))
	} else {
		m.logger.InfoCtx(ctx, "✅ Mesh stopped")
	}
	return err
}

// closeBuilt 释放不属于生命周期组件的资源（也用于构造失败时的清理）
func (m *Mesh) closeBuilt(ctx context.Context) {
	for _, unsub := range m.unsub {
		unsub()
	}
	m.unsub = nil
	if m.Limiters != nil {
		if err := m.Limiters.Close(); err != nil {
			m.logger.WarnCtx(ctx, "close limiter store failed", zap.Error(err))
		}
	}
	if m.Events != nil {
		m.Events.Close()
	}
	if m.Telemetry != nil {
		_ = m.Telemetry.Stop(ctx)
	}
}

// Check 聚合所有组件的健康检查
func (m *Mesh) Check(ctx context.Context) *health.Response {
	return m.Health.Check(ctx)
}
