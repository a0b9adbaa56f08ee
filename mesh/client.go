package mesh

import (
	"context"
	"errors"

	"github.com/KOMKZ/go-yogan-mesh/breaker"
	"github.com/KOMKZ/go-yogan-mesh/limiter"
	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/KOMKZ/go-yogan-mesh/pool"
	"github.com/KOMKZ/go-yogan-mesh/retry"
	"github.com/KOMKZ/go-yogan-mesh/telemetry"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/KOMKZ/go-yogan-mesh/mesh"

// Operation 在借出的连接上执行一次逻辑操作
//
// 返回包装了 ErrBadConn 的错误时连接会被作废。
type Operation func(ctx context.Context, pc *pool.PooledConn) error

// Client 调用链：发现实例 → 重试 → (每次尝试) 限流 → 熔断 → 借出连接 → 操作 → 归还
type Client struct {
	mesh    *Mesh
	cfg     ClientConfig
	clock   clockwork.Clock
	tracer  trace.Tracer
	metrics *clientMetrics
	logger  *logger.CtxZapLogger
}

func newClient(m *Mesh) (*Client, error) {
	c := &Client{
		mesh:   m,
		cfg:    m.config.Client,
		clock:  m.clock,
		tracer: m.Telemetry.Tracer(tracerName),
		logger: logger.GetLogger("mesh-client"),
	}
	cm := &clientMetrics{}
	if err := m.Telemetry.MetricsRegistry().Register(cm); err != nil {
		return nil, err
	}
	if cm.requests != nil {
		c.metrics = cm
	}
	return c, nil
}

type callOptions struct {
	strategy    string
	tags        []string
	limiterKey  string
	breakerName string
	tokens      int
}

// CallOption 单次调用选项
type CallOption func(*callOptions)

// WithStrategy 覆盖服务的负载均衡策略
func WithStrategy(strategy string) CallOption {
	return func(o *callOptions) { o.strategy = strategy }
}

// WithTags 只选择包含全部标签的实例
func WithTags(tags ...string) CallOption {
	return func(o *callOptions) { o.tags = append(o.tags, tags...) }
}

// WithLimiterKey 限流键，默认为服务名
func WithLimiterKey(key string) CallOption {
	return func(o *callOptions) { o.limiterKey = key }
}

// WithBreakerName 熔断器名，默认为服务名
func WithBreakerName(name string) CallOption {
	return func(o *callOptions) { o.breakerName = name }
}

// WithTokens 每次尝试消耗的令牌数，默认 1
func WithTokens(n int) CallOption {
	return func(o *callOptions) {
		if n > 0 {
			o.tokens = n
		}
	}
}

// Call 选择 service 的一个健康实例并在其连接上执行 op
//
// 返回值：
//   - *UnavailableError：没有健康实例
//   - 策略拒绝（熔断打开 / 限流）：立即返回，不重试
//   - *retry.RetryExhaustedError：尝试次数用尽
//   - op 的原始错误：错误不在重试白名单内
func (c *Client) Call(ctx context.Context, service string, op Operation, opts ...CallOption) (err error) {
	o := callOptions{limiterKey: service, breakerName: service, tokens: 1}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := c.tracer.Start(ctx, "mesh.Call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("mesh.service", service)))
	attrs := []attribute.KeyValue{attribute.String("service", service)}
	start := c.clock.Now()
	var done func(float64, error, ...attribute.KeyValue)
	if c.metrics != nil {
		done = c.metrics.requests.Begin(ctx, attrs...)
	}
	attempts := 0
	defer func() {
		if done != nil {
			done(c.clock.Since(start).Seconds(), err, attribute.String("result", callResult(err)))
		}
		span.SetAttributes(attribute.Int("mesh.attempts", attempts))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	inst, err := c.mesh.Discovery.Discover(ctx, service, o.strategy, o.tags...)
	if err != nil {
		return err
	}
	if inst == nil {
		return &UnavailableError{Service: service, Tags: o.tags}
	}
	address := inst.Address()
	span.SetAttributes(
		attribute.String("mesh.instance_id", inst.InstanceID),
		attribute.String("server.address", address))

	return c.mesh.Retry.Execute(ctx, func(ctx context.Context) error {
		attempts++
		if attempts > 1 && c.metrics != nil {
			c.metrics.retries.Add(ctx, 1, metric.WithAttributes(attrs...))
		}
		if c.cfg.RateLimit {
			if err := c.mesh.Limiters.AllowN(ctx, o.limiterKey, o.tokens); err != nil {
				return err
			}
		}
		if !c.cfg.CircuitBreaker {
			return c.invoke(ctx, address, op)
		}
		return c.mesh.Breakers.Get(o.breakerName).Protect(ctx, func(ctx context.Context) error {
			return c.invoke(ctx, address, op)
		})
	})
}

// invoke 借出连接执行 op，所有路径上都归还或作废连接
func (c *Client) invoke(ctx context.Context, address string, op Operation) error {
	pc, err := c.mesh.Pools.Acquire(ctx, address)
	if err != nil {
		return err
	}

	opErr := safeOperation(ctx, op, pc)
	if errors.Is(opErr, ErrBadConn) {
		if err := pc.Invalidate(); err != nil {
			c.logger.WarnCtx(ctx, "invalidate connection failed", zap.String("address", address), zap.Error(err))
		}
		return opErr
	}
	if err := pc.Release(); err != nil {
		c.logger.WarnCtx(ctx, "release connection failed", zap.String("address", address), zap.Error(err))
	}
	return opErr
}

func safeOperation(ctx context.Context, op Operation, pc *pool.PooledConn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Join(ErrBadConn, errors.New("operation panicked"))
		}
	}()
	return op(ctx, pc)
}

func callResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrServiceUnavailable):
		return "unavailable"
	case breaker.IsRejection(err):
		return "circuit_open"
	case errors.Is(err, limiter.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, retry.ErrRetryExhausted):
		return "exhausted"
	case errors.Is(err, pool.ErrAcquireTimeout):
		return "acquire_timeout"
	}
	return "error"
}

// defaultFactoryBuilder 按 Client.Protocol 选择连接工厂
func defaultFactoryBuilder(cfg ClientConfig, tel *telemetry.Manager) pool.FactoryBuilder {
	if cfg.Protocol == ProtocolGRPC {
		return pool.GRPCFactoryBuilder(pool.WithTracerProvider(tel.TracerProvider()))
	}
	return pool.TCPFactoryBuilder(cfg.DialTimeout)
}

// clientMetrics Client.Call 的请求指标
type clientMetrics struct {
	requests *telemetry.RequestMetrics
	retries  metric.Int64Counter
}

func (m *clientMetrics) MetricsName() string { return "client" }

func (m *clientMetrics) IsMetricsEnabled() bool { return true }

func (m *clientMetrics) RegisterMetrics(meter metric.Meter) error {
	b := telemetry.NewMetricsBuilder(meter, "mesh")
	requests, err := b.NewRequestMetrics("client")
	if err != nil {
		return err
	}
	retries, err := b.Counter("client_retries_total", "Retries issued by mesh client calls")
	if err != nil {
		return err
	}
	m.requests = requests
	m.retries = retries
	return nil
}
