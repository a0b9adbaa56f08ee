package grpc

import (
	"fmt"
	"time"

	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/KOMKZ/go-yogan-mesh/mesh"
	"github.com/KOMKZ/go-yogan-mesh/retry"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
)

// DefaultCallTimeout 调用方没有 deadline 时的默认超时
const DefaultCallTimeout = 5 * time.Second

// roundRobinServiceConfig 解析出的实例之间轮询
const roundRobinServiceConfig = `{"loadBalancingConfig":[{"round_robin":{}}]}`

type clientOptions struct {
	timeout        time.Duration
	tags           []string
	enableLog      bool
	tracing        bool
	rateLimit      bool
	circuitBreaker bool
	retry          bool
	retryCodes     []codes.Code
	limiterKey     string
	breakerName    string
	logger         *logger.CtxZapLogger
	dialOpts       []grpc.DialOption
}

// ClientOption 客户端选项
type ClientOption func(*clientOptions)

// WithCallTimeout 默认调用超时（0 表示不设置）
func WithCallTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.timeout = d }
}

// WithTags 只连接带全部标签的实例
func WithTags(tags ...string) ClientOption {
	return func(o *clientOptions) { o.tags = tags }
}

// WithCallLog 是否记录调用日志
func WithCallLog(enabled bool) ClientOption {
	return func(o *clientOptions) { o.enableLog = enabled }
}

// WithTracing 是否挂载 otelgrpc 客户端 StatsHandler
func WithTracing(enabled bool) ClientOption {
	return func(o *clientOptions) { o.tracing = enabled }
}

// WithRateLimit 覆盖网格 client.rate_limit
func WithRateLimit(enabled bool) ClientOption {
	return func(o *clientOptions) { o.rateLimit = enabled }
}

// WithCircuitBreaker 覆盖网格 client.circuit_breaker
func WithCircuitBreaker(enabled bool) ClientOption {
	return func(o *clientOptions) { o.circuitBreaker = enabled }
}

// WithRetry 是否重试，codes 为空时使用 retry.DefaultGRPCCodes
func WithRetry(enabled bool, retryCodes ...codes.Code) ClientOption {
	return func(o *clientOptions) {
		o.retry = enabled
		if len(retryCodes) > 0 {
			o.retryCodes = retryCodes
		}
	}
}

// WithLimiterKey 限流 key（默认服务名）
func WithLimiterKey(key string) ClientOption {
	return func(o *clientOptions) { o.limiterKey = key }
}

// WithBreakerName 熔断器名称（默认服务名）
func WithBreakerName(name string) ClientOption {
	return func(o *clientOptions) { o.breakerName = name }
}

// WithClientLogger 注入 Logger
func WithClientLogger(l *logger.CtxZapLogger) ClientOption {
	return func(o *clientOptions) { o.logger = l }
}

// WithDialOptions 追加 grpc.DialOption（可覆盖默认的 insecure 凭证）
func WithDialOptions(opts ...grpc.DialOption) ClientOption {
	return func(o *clientOptions) { o.dialOpts = append(o.dialOpts, opts...) }
}

// NewClient 创建指向网格服务的 gRPC 连接
//
// 地址来自网格服务发现并随注册表事件更新，实例之间轮询。
// 拦截器顺序：超时 → 日志 → 限流 → 熔断 → 重试，限流与熔断的拒绝不会被重试。
func NewClient(m *mesh.Mesh, service string, opts ...ClientOption) (*grpc.ClientConn, error) {
	if m == nil {
		return nil, fmt.Errorf("grpc client: mesh is nil")
	}
	if service == "" {
		return nil, fmt.Errorf("grpc client: service name is required")
	}

	clientCfg := m.Config().Client
	o := clientOptions{
		timeout:        DefaultCallTimeout,
		enableLog:      true,
		tracing:        true,
		rateLimit:      clientCfg.RateLimit,
		circuitBreaker: clientCfg.CircuitBreaker,
		retry:          true,
		retryCodes:     retry.DefaultGRPCCodes,
		limiterKey:     service,
		breakerName:    service,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.GetLogger("grpc")
	}

	interceptors := []grpc.UnaryClientInterceptor{
		UnaryClientTimeoutInterceptor(o.timeout),
		UnaryClientLoggerInterceptor(o.logger, o.enableLog),
	}
	if o.rateLimit {
		interceptors = append(interceptors, UnaryClientRateLimitInterceptor(m.Limiters, o.limiterKey, o.logger))
	}
	if o.circuitBreaker {
		interceptors = append(interceptors, UnaryClientBreakerInterceptor(m.Breakers, o.breakerName))
	}
	if o.retry {
		exec := retry.NewExecutor(m.Config().Retry,
			retry.WithCondition(retry.RetryOnGRPCCodes(o.retryCodes...)),
			retry.WithLogger(o.logger))
		interceptors = append(interceptors, UnaryClientRetryInterceptor(exec))
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithResolvers(NewResolverBuilder(m.Discovery, m.Events, o.logger, o.tags...)),
		grpc.WithDefaultServiceConfig(roundRobinServiceConfig),
		grpc.WithChainUnaryInterceptor(interceptors...),
	}
	if o.tracing && m.Telemetry != nil {
		dialOpts = append(dialOpts, grpc.WithStatsHandler(otelgrpc.NewClientHandler(
			otelgrpc.WithTracerProvider(m.Telemetry.TracerProvider()),
			otelgrpc.WithMeterProvider(m.Telemetry.MeterProvider()),
		)))
	}
	dialOpts = append(dialOpts, o.dialOpts...)

	conn, err := grpc.NewClient(Target(service), dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("grpc client %s: %w", service, err)
	}
	o.logger.Debug("✅ gRPC client created", zap.String("service", service))
	return conn, nil
}
