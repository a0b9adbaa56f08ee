package component

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsProvider 组件可选实现此接口，把自己的指标注册到统一的 MetricsRegistry
//
//	func (p *Pool) MetricsName() string { return "pool" }
//
//	func (p *Pool) RegisterMetrics(meter metric.Meter) error {
//	    _, err := meter.Int64ObservableGauge("pool_connections_active", ...)
//	    return err
//	}
type MetricsProvider interface {
	// MetricsName 指标分组名（短、小写，如 "breaker", "pool"）
	MetricsName() string

	// RegisterMetrics 由 MetricsRegistry 调用，meter 已带命名空间
	RegisterMetrics(meter metric.Meter) error

	// IsMetricsEnabled 是否开启指标采集
	IsMetricsEnabled() bool
}

// MetricsCollector 集中式指标注册中心，由 telemetry.MetricsRegistry 实现
type MetricsCollector interface {
	Register(provider MetricsProvider) error
	GetMeter(name string) metric.Meter
	GetBaseLabels() []attribute.KeyValue
	IsEnabled() bool
}
