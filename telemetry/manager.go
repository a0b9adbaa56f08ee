package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/KOMKZ/go-yogan-mesh/component"
	"github.com/KOMKZ/go-yogan-mesh/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Manager 管理 TracerProvider、MeterProvider 与 MetricsRegistry
//
// 构造时创建 Provider（未启用时为 noop），Start 注册为全局 Provider，Stop 刷新并关闭。
type Manager struct {
	config Config
	logger *logger.CtxZapLogger

	reader       sdkmetric.Reader
	spanExporter sdktrace.SpanExporter

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	guarded        *GuardedExporter
	registry       *MetricsRegistry

	mu      sync.Mutex
	started bool
	stopped bool
}

// Option 管理器选项
type Option func(*Manager)

// WithLogger 注入 Logger
func WithLogger(l *logger.CtxZapLogger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetricReader 使用指定的 Reader（测试用 sdkmetric.NewManualReader）
// 设置后即使 Metrics.Enabled 为 false 也会创建 MeterProvider
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(m *Manager) { m.reader = r }
}

// WithSpanExporter 使用指定的 Span 导出器（测试用 tracetest.NewInMemoryExporter），同步导出
func WithSpanExporter(e sdktrace.SpanExporter) Option {
	return func(m *Manager) { m.spanExporter = e }
}

// NewManager 创建遥测管理器
func NewManager(ctx context.Context, cfg Config, opts ...Option) (*Manager, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("telemetry config: %w", err)
	}

	m := &Manager{
		config: cfg,
		logger: logger.GetLogger("telemetry"),
	}
	for _, opt := range opts {
		opt(m)
	}

	tracing := cfg.Enabled || m.spanExporter != nil
	metering := (cfg.Enabled && cfg.Metrics.Enabled) || m.reader != nil
	if tracing || metering {
		res, err := newResource(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("create resource failed: %w", err)
		}
		if tracing {
			if m.tracerProvider, err = m.newTracerProvider(ctx, res); err != nil {
				return nil, err
			}
		}
		if metering {
			if m.meterProvider, err = m.newMeterProvider(ctx, res); err != nil {
				return nil, errors.Join(err, m.shutdownTracer(ctx))
			}
		}
	}

	m.registry = NewMetricsRegistry(m.MeterProvider(),
		WithNamespace(cfg.Metrics.Namespace),
		WithBaseLabels(m.baseLabels()),
		WithRegistryLogger(m.logger))
	m.registry.SetEnabled(metering)
	return m, nil
}

func (m *Manager) newTracerProvider(ctx context.Context, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(m.config.Sampler)),
	}

	if m.spanExporter != nil {
		opts = append(opts, sdktrace.WithSyncer(m.spanExporter))
		return sdktrace.NewTracerProvider(opts...), nil
	}

	exporter, err := newSpanExporter(ctx, m.config.Exporter.Type, m.config.Exporter)
	if err != nil {
		return nil, fmt.Errorf("create span exporter failed: %w", err)
	}
	if eb := m.config.ExportBreaker; eb.Enabled {
		fallback, err := newSpanExporter(ctx, eb.Fallback, m.config.Exporter)
		if err != nil {
			m.logger.WarnCtx(ctx, "create fallback exporter failed, using noop",
				zap.String("fallback", eb.Fallback), zap.Error(err))
			fallback = noopSpanExporter{}
		}
		guarded, err := NewGuardedExporter(exporter, fallback, eb.Breaker, m.logger)
		if err != nil {
			return nil, fmt.Errorf("export breaker: %w", err)
		}
		m.guarded = guarded
		exporter = m.guarded
	}

	if m.config.Batch.Enabled {
		opts = append(opts, sdktrace.WithBatcher(exporter,
			sdktrace.WithMaxQueueSize(m.config.Batch.MaxQueueSize),
			sdktrace.WithMaxExportBatchSize(m.config.Batch.MaxExportBatchSize),
			sdktrace.WithBatchTimeout(m.config.Batch.ScheduleDelay),
			sdktrace.WithExportTimeout(m.config.Batch.ExportTimeout),
		))
	} else {
		opts = append(opts, sdktrace.WithSyncer(exporter))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

func (m *Manager) newMeterProvider(ctx context.Context, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	reader := m.reader
	if reader == nil {
		exporter, err := newMetricExporter(ctx, m.config.Exporter)
		if err != nil {
			return nil, fmt.Errorf("create metrics exporter failed: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(m.config.Metrics.ExportInterval),
			sdkmetric.WithTimeout(m.config.Metrics.ExportTimeout))
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	), nil
}

func newSampler(cfg SamplerConfig) sdktrace.Sampler {
	switch cfg.Type {
	case SamplerAlwaysOn:
		return sdktrace.AlwaysSample()
	case SamplerAlwaysOff:
		return sdktrace.NeverSample()
	case SamplerTraceIDRatio:
		return sdktrace.TraceIDRatioBased(cfg.Ratio)
	}
	return sdktrace.ParentBased(sdktrace.AlwaysSample())
}

func (m *Manager) baseLabels() []attribute.KeyValue {
	labels := make([]attribute.KeyValue, 0, len(m.config.Metrics.Labels))
	for k, v := range m.config.Metrics.Labels {
		labels = append(labels, attribute.String(k, v))
	}
	return labels
}

// Name 组件名
func (m *Manager) Name() string {
	return component.ComponentTelemetry
}

// Start 注册全局 Provider 与 W3C TraceContext 传播器
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	m.started = true

	if m.tracerProvider != nil {
		otel.SetTracerProvider(m.tracerProvider)
	}
	if m.meterProvider != nil {
		otel.SetMeterProvider(m.meterProvider)
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	if !m.config.Enabled {
		m.logger.InfoCtx(ctx, "Telemetry exporters disabled")
		return nil
	}
	m.logger.InfoCtx(ctx, "✅ Telemetry started",
		zap.String("service_name", m.config.ServiceName),
		zap.String("exporter", m.config.Exporter.Type),
		zap.Bool("metrics", m.meterProvider != nil),
		zap.Bool("export_breaker", m.guarded != nil))
	return nil
}

// Stop 刷新并关闭 Provider（只执行一次）
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil
	}
	m.stopped = true

	var errs []error
	if m.meterProvider != nil {
		if err := m.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	errs = append(errs, m.shutdownTracer(ctx))
	return errors.Join(errs...)
}

func (m *Manager) shutdownTracer(ctx context.Context) error {
	if m.tracerProvider == nil {
		return nil
	}
	if err := m.tracerProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}

// Tracer 未启用时返回 noop Tracer
func (m *Manager) Tracer(name string) trace.Tracer {
	return m.TracerProvider().Tracer(name)
}

// TracerProvider 未启用时返回 noop 实现
func (m *Manager) TracerProvider() trace.TracerProvider {
	if m.tracerProvider == nil {
		return tracenoop.NewTracerProvider()
	}
	return m.tracerProvider
}

// MeterProvider 未启用时返回 noop 实现
func (m *Manager) MeterProvider() metric.MeterProvider {
	if m.meterProvider == nil {
		return noop.NewMeterProvider()
	}
	return m.meterProvider
}

// MetricsRegistry 指标注册中心
func (m *Manager) MetricsRegistry() *MetricsRegistry {
	return m.registry
}

// ExportBreaker Span 导出熔断器（未启用时为 nil）
func (m *Manager) ExportBreaker() *GuardedExporter {
	return m.guarded
}

// Config 当前配置
func (m *Manager) Config() Config {
	return m.config
}
