package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/KOMKZ/go-yogan-mesh/breaker"
	"github.com/KOMKZ/go-yogan-mesh/logger"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// newSpanExporter 按类型创建原始 Span 导出器
func newSpanExporter(ctx context.Context, exporterType string, cfg ExporterConfig) (sdktrace.SpanExporter, error) {
	switch exporterType {
	case ExporterOTLP:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithTimeout(cfg.Timeout),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case ExporterNoop:
		return noopSpanExporter{}, nil
	}
	return nil, fmt.Errorf("unsupported span exporter type: %s", exporterType)
}

// newMetricExporter 按类型创建指标导出器
func newMetricExporter(ctx context.Context, cfg ExporterConfig) (sdkmetric.Exporter, error) {
	switch cfg.Type {
	case ExporterOTLP:
		opts := []otlpmetricgrpc.Option{
			otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
			otlpmetricgrpc.WithTimeout(cfg.Timeout),
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlpmetricgrpc.WithHeaders(cfg.Headers))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	case ExporterStdout:
		return stdoutmetric.New()
	}
	return nil, fmt.Errorf("unsupported metrics exporter type: %s", cfg.Type)
}

// GuardedExporter 用熔断器保护主导出器
//
// 主导出器失败或熔断打开时，本批 Span 交给降级导出器，不会阻塞 BatchSpanProcessor。
type GuardedExporter struct {
	primary  sdktrace.SpanExporter
	fallback sdktrace.SpanExporter
	breaker  *breaker.Breaker
	logger   *logger.CtxZapLogger
}

// NewGuardedExporter 创建受保护的导出器
func NewGuardedExporter(primary, fallback sdktrace.SpanExporter, cfg breaker.Config, log *logger.CtxZapLogger, opts ...breaker.Option) (*GuardedExporter, error) {
	if fallback == nil {
		fallback = noopSpanExporter{}
	}
	if log == nil {
		log = logger.GetLogger("telemetry")
	}
	opts = append([]breaker.Option{breaker.WithLogger(log)}, opts...)
	b, err := breaker.New("telemetry-exporter", cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &GuardedExporter{
		primary:  primary,
		fallback: fallback,
		breaker:  b,
		logger:   log,
	}, nil
}

// ExportSpans 实现 sdktrace.SpanExporter
func (e *GuardedExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	err := e.breaker.Protect(ctx, func(ctx context.Context) error {
		return e.primary.ExportSpans(ctx, spans)
	})
	if err == nil {
		return nil
	}
	if !breaker.IsRejection(err) {
		e.logger.WarnCtx(ctx, "⚠️ span export failed, using fallback exporter",
			zap.Int("spans", len(spans)),
			zap.Error(err))
	}
	return e.fallback.ExportSpans(ctx, spans)
}

// Shutdown 关闭两个导出器
func (e *GuardedExporter) Shutdown(ctx context.Context) error {
	return errors.Join(e.primary.Shutdown(ctx), e.fallback.Shutdown(ctx))
}

// State 熔断器状态
func (e *GuardedExporter) State() breaker.State {
	return e.breaker.State()
}

type noopSpanExporter struct{}

func (noopSpanExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }

func (noopSpanExporter) Shutdown(context.Context) error { return nil }
