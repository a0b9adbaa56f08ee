package governance

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics 注册中心指标，实现 component.MetricsProvider
type OTelMetrics struct {
	enabled    bool
	registered bool
	mu         sync.RWMutex

	eventsTotal    metric.Int64Counter
	instancesGauge metric.Int64ObservableGauge

	countFn func() map[string]map[Status]int
}

// NewOTelMetrics 创建注册中心指标提供者
func NewOTelMetrics(enabled bool) *OTelMetrics {
	return &OTelMetrics{enabled: enabled}
}

// MetricsName 指标分组名
func (m *OTelMetrics) MetricsName() string {
	return "registry"
}

// IsMetricsEnabled 是否启用
func (m *OTelMetrics) IsMetricsEnabled() bool {
	return m.enabled
}

// RegisterMetrics 注册全部指标
func (m *OTelMetrics) RegisterMetrics(meter metric.Meter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	var err error
	m.eventsTotal, err = meter.Int64Counter(
		"registry_events_total",
		metric.WithDescription("Instance lifecycle events (registered, evicted, ...)"),
	)
	if err != nil {
		return err
	}

	m.instancesGauge, err = meter.Int64ObservableGauge(
		"registry_instances",
		metric.WithDescription("Registered instances per service and status"),
		metric.WithInt64Callback(m.collectInstances),
	)
	if err != nil {
		return err
	}

	m.registered = true
	return nil
}

func (m *OTelMetrics) collectInstances(_ context.Context, observer metric.Int64Observer) error {
	m.mu.RLock()
	fn := m.countFn
	m.mu.RUnlock()
	if fn == nil {
		return nil
	}
	for service, byStatus := range fn() {
		for status, n := range byStatus {
			observer.Observe(int64(n), metric.WithAttributes(
				attribute.String("service", service),
				attribute.String("status", string(status))))
		}
	}
	return nil
}

func (m *OTelMetrics) setCountFunc(fn func() map[string]map[Status]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countFn = fn
}

// RecordEvent 记录实例事件
func (m *OTelMetrics) RecordEvent(ctx context.Context, service, name string) {
	m.mu.RLock()
	registered := m.registered
	m.mu.RUnlock()
	if !registered {
		return
	}
	m.eventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("event", name)))
}
