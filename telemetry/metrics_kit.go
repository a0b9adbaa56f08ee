package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsBuilder 指标构建器，减少样板代码
type MetricsBuilder struct {
	meter     metric.Meter
	namespace string
}

// NewMetricsBuilder 创建指标构建器
func NewMetricsBuilder(meter metric.Meter, namespace string) *MetricsBuilder {
	return &MetricsBuilder{
		meter:     meter,
		namespace: namespace,
	}
}

func (b *MetricsBuilder) fullName(name string) string {
	if b.namespace == "" {
		return name
	}
	return b.namespace + "_" + name
}

// Counter 创建 Int64Counter
func (b *MetricsBuilder) Counter(name, desc string) (metric.Int64Counter, error) {
	return b.meter.Int64Counter(
		b.fullName(name),
		metric.WithDescription(desc),
		metric.WithUnit("{count}"),
	)
}

// DurationHistogram 创建耗时分布直方图（秒）
func (b *MetricsBuilder) DurationHistogram(name, desc string) (metric.Float64Histogram, error) {
	return b.meter.Float64Histogram(
		b.fullName(name),
		metric.WithDescription(desc),
		metric.WithUnit("s"),
	)
}

// UpDownCounter 创建可增减计数器
func (b *MetricsBuilder) UpDownCounter(name, desc string) (metric.Int64UpDownCounter, error) {
	return b.meter.Int64UpDownCounter(
		b.fullName(name),
		metric.WithDescription(desc),
		metric.WithUnit("{count}"),
	)
}

// RequestMetrics 请求类指标模板
type RequestMetrics struct {
	Total    metric.Int64Counter     // 请求总数
	Duration metric.Float64Histogram // 请求耗时分布
	Errors   metric.Int64Counter     // 错误总数
	InFlight metric.Int64UpDownCounter
}

// NewRequestMetrics 一次创建 4 个请求类指标
func (b *MetricsBuilder) NewRequestMetrics(prefix string) (*RequestMetrics, error) {
	total, err := b.Counter(prefix+"_requests_total", "Total number of "+prefix+" requests")
	if err != nil {
		return nil, err
	}
	duration, err := b.DurationHistogram(prefix+"_duration_seconds", prefix+" request duration distribution")
	if err != nil {
		return nil, err
	}
	errs, err := b.Counter(prefix+"_errors_total", "Total number of "+prefix+" errors")
	if err != nil {
		return nil, err
	}
	inFlight, err := b.UpDownCounter(prefix+"_in_flight", "In-flight "+prefix+" requests")
	if err != nil {
		return nil, err
	}

	return &RequestMetrics{
		Total:    total,
		Duration: duration,
		Errors:   errs,
		InFlight: inFlight,
	}, nil
}

// Begin 在途数加一，返回的函数记录结果并减一
//
//	done := m.Begin(ctx, attrs...)
//	err := call()
//	done(err, elapsed)
func (m *RequestMetrics) Begin(ctx context.Context, attrs ...attribute.KeyValue) func(durationSec float64, err error, extra ...attribute.KeyValue) {
	m.InFlight.Add(ctx, 1, metric.WithAttributes(attrs...))
	return func(durationSec float64, err error, extra ...attribute.KeyValue) {
		m.InFlight.Add(ctx, -1, metric.WithAttributes(attrs...))
		m.Record(ctx, durationSec, err, append(append([]attribute.KeyValue{}, attrs...), extra...)...)
	}
}

// Record 记录请求指标
func (m *RequestMetrics) Record(ctx context.Context, durationSec float64, err error, attrs ...attribute.KeyValue) {
	opt := metric.WithAttributes(attrs...)
	m.Total.Add(ctx, 1, opt)
	m.Duration.Record(ctx, durationSec, opt)
	if err != nil {
		m.Errors.Add(ctx, 1, opt)
	}
}
