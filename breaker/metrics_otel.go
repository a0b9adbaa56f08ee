package breaker

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics 熔断器指标，实现 component.MetricsProvider
// RegisterMetrics 之前的 Record* 调用直接忽略
type OTelMetrics struct {
	enabled    bool
	registered bool
	mu         sync.RWMutex

	requestsTotal    metric.Int64Counter
	failuresTotal    metric.Int64Counter
	rejectionsTotal  metric.Int64Counter
	transitionsTotal metric.Int64Counter
	latency          metric.Float64Histogram
	stateGauge       metric.Int64ObservableGauge

	stateCallbacks map[string]func() int64
	stateMu        sync.RWMutex
}

// NewOTelMetrics 创建熔断器指标提供者
func NewOTelMetrics(enabled bool) *OTelMetrics {
	return &OTelMetrics{
		enabled:        enabled,
		stateCallbacks: make(map[string]func() int64),
	}
}

// MetricsName 指标分组名
func (m *OTelMetrics) MetricsName() string {
	return "breaker"
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
	m.requestsTotal, err = meter.Int64Counter(
		"breaker_requests_total",
		metric.WithDescription("Total number of calls that passed the breaker"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	m.failuresTotal, err = meter.Int64Counter(
		"breaker_failures_total",
		metric.WithDescription("Total number of failed protected calls"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	m.rejectionsTotal, err = meter.Int64Counter(
		"breaker_rejections_total",
		metric.WithDescription("Total number of calls rejected while open"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	m.transitionsTotal, err = meter.Int64Counter(
		"breaker_state_transitions_total",
		metric.WithDescription("Total number of state transitions"),
	)
	if err != nil {
		return err
	}

	m.latency, err = meter.Float64Histogram(
		"breaker_latency_seconds",
		metric.WithDescription("Protected call latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	m.stateGauge, err = meter.Int64ObservableGauge(
		"breaker_state",
		metric.WithDescription("Current state (0=closed, 1=open, 2=half-open)"),
		metric.WithInt64Callback(m.collectState),
	)
	if err != nil {
		return err
	}

	m.registered = true
	return nil
}

func (m *OTelMetrics) collectState(_ context.Context, observer metric.Int64Observer) error {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	for name, cb := range m.stateCallbacks {
		observer.Observe(cb(), metric.WithAttributes(attribute.String("breaker", name)))
	}
	return nil
}

// RegisterStateCallback 注册状态回调（供 gauge 采集）
func (m *OTelMetrics) RegisterStateCallback(name string, cb func() int64) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.stateCallbacks[name] = cb
}

func (m *OTelMetrics) isRegistered() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registered
}

// RecordSuccess 记录成功调用
func (m *OTelMetrics) RecordSuccess(ctx context.Context, name string, d time.Duration) {
	if !m.isRegistered() {
		return
	}
	m.requestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("result", "success")))
	m.latency.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("breaker", name)))
}

// RecordFailure 记录失败调用
func (m *OTelMetrics) RecordFailure(ctx context.Context, name string, d time.Duration, errorType string) {
	if !m.isRegistered() {
		return
	}
	m.requestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("result", "failure")))
	m.failuresTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("error_type", errorType)))
	m.latency.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("breaker", name)))
}

// RecordRejection 记录被拒绝的调用
func (m *OTelMetrics) RecordRejection(ctx context.Context, name string) {
	if !m.isRegistered() {
		return
	}
	m.rejectionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("breaker", name)))
}

// RecordStateChange 记录状态迁移
func (m *OTelMetrics) RecordStateChange(ctx context.Context, name string, from, to State) {
	if !m.isRegistered() {
		return
	}
	m.transitionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("from", from.String()),
		attribute.String("to", to.String())))
}
