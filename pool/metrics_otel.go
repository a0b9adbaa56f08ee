package pool

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics 连接池指标，实现 component.MetricsProvider
type OTelMetrics struct {
	enabled    bool
	registered bool
	mu         sync.RWMutex

	acquireTotal metric.Int64Counter
	acquireWait  metric.Float64Histogram
	connsGauge   metric.Int64ObservableGauge
	createdGauge metric.Int64ObservableCounter
	failedGauge  metric.Int64ObservableCounter

	statsCallbacks map[string]func() Stats
	statsMu        sync.RWMutex
}

// NewOTelMetrics 创建连接池指标提供者
func NewOTelMetrics(enabled bool) *OTelMetrics {
	return &OTelMetrics{
		enabled:        enabled,
		statsCallbacks: make(map[string]func() Stats),
	}
}

// MetricsName 指标分组名
func (m *OTelMetrics) MetricsName() string {
	return "pool"
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
	m.acquireTotal, err = meter.Int64Counter(
		"pool_acquire_total",
		metric.WithDescription("Total number of acquire attempts"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	m.acquireWait, err = meter.Float64Histogram(
		"pool_acquire_wait_seconds",
		metric.WithDescription("Time spent waiting for a connection"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	m.connsGauge, err = meter.Int64ObservableGauge(
		"pool_connections",
		metric.WithDescription("Connections per address and state (active, idle)"),
	)
	if err != nil {
		return err
	}

	m.createdGauge, err = meter.Int64ObservableCounter(
		"pool_connections_created_total",
		metric.WithDescription("Connections created by the factory"),
	)
	if err != nil {
		return err
	}

	m.failedGauge, err = meter.Int64ObservableCounter(
		"pool_validation_failures_total",
		metric.WithDescription("Connections that failed validation"),
	)
	if err != nil {
		return err
	}

	if _, err = meter.RegisterCallback(m.collect, m.connsGauge, m.createdGauge, m.failedGauge); err != nil {
		return err
	}

	m.registered = true
	return nil
}

func (m *OTelMetrics) collect(_ context.Context, o metric.Observer) error {
	m.statsMu.RLock()
	defer m.statsMu.RUnlock()
	for address, cb := range m.statsCallbacks {
		s := cb()
		addr := attribute.String("address", address)
		o.ObserveInt64(m.connsGauge, int64(s.Active), metric.WithAttributes(addr, attribute.String("state", "active")))
		o.ObserveInt64(m.connsGauge, int64(s.Idle), metric.WithAttributes(addr, attribute.String("state", "idle")))
		o.ObserveInt64(m.createdGauge, s.Created, metric.WithAttributes(addr))
		o.ObserveInt64(m.failedGauge, s.FailedValidations, metric.WithAttributes(addr))
	}
	return nil
}

// RegisterStatsCallback 注册某个地址的 Stats 读取函数
func (m *OTelMetrics) RegisterStatsCallback(address string, cb func() Stats) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	m.statsCallbacks[address] = cb
}

// UnregisterStatsCallback 连接池关闭后移除
func (m *OTelMetrics) UnregisterStatsCallback(address string) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	delete(m.statsCallbacks, address)
}

// RecordAcquire 记录一次借出尝试（result: ok / timeout / error）
func (m *OTelMetrics) RecordAcquire(ctx context.Context, address, result string, wait time.Duration) {
	m.mu.RLock()
	registered := m.registered
	m.mu.RUnlock()
	if !registered {
		return
	}

	m.acquireTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("address", address),
		attribute.String("result", result)))
	m.acquireWait.Record(ctx, wait.Seconds(), metric.WithAttributes(attribute.String("address", address)))
}
