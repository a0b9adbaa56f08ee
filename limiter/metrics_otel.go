package limiter

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics implements component.MetricsProvider for the limiter registry
type OTelMetrics struct {
	enabled    bool
	registered bool
	mu         sync.RWMutex

	requestsTotal metric.Int64Counter
	rejectedTotal metric.Int64Counter
	tokensGauge   metric.Float64ObservableGauge

	tokenCallbacks map[string]func() float64
	tokenMu        sync.RWMutex
}

// NewOTelMetrics creates the limiter metrics provider
func NewOTelMetrics(enabled bool) *OTelMetrics {
	return &OTelMetrics{
		enabled:        enabled,
		tokenCallbacks: make(map[string]func() float64),
	}
}

// MetricsName returns the metrics group name
func (m *OTelMetrics) MetricsName() string {
	return "limiter"
}

// IsMetricsEnabled returns whether metrics collection is enabled
func (m *OTelMetrics) IsMetricsEnabled() bool {
	return m.enabled
}

// RegisterMetrics registers all limiter metrics with the provided Meter
func (m *OTelMetrics) RegisterMetrics(meter metric.Meter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	var err error
	m.requestsTotal, err = meter.Int64Counter(
		"limiter_requests_total",
		metric.WithDescription("Total number of token acquire attempts"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	m.rejectedTotal, err = meter.Int64Counter(
		"limiter_rejected_total",
		metric.WithDescription("Total number of rejected acquire attempts"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	m.tokensGauge, err = meter.Float64ObservableGauge(
		"limiter_tokens",
		metric.WithDescription("Tokens currently available per key"),
		metric.WithFloat64Callback(m.collectTokens),
	)
	if err != nil {
		return err
	}

	m.registered = true
	return nil
}

func (m *OTelMetrics) collectTokens(_ context.Context, observer metric.Float64Observer) error {
	m.tokenMu.RLock()
	defer m.tokenMu.RUnlock()
	for key, cb := range m.tokenCallbacks {
		observer.Observe(cb(), metric.WithAttributes(attribute.String("key", key)))
	}
	return nil
}

// RegisterTokenCallback registers a token reader for the gauge
func (m *OTelMetrics) RegisterTokenCallback(key string, cb func() float64) {
	m.tokenMu.Lock()
	defer m.tokenMu.Unlock()
	m.tokenCallbacks[key] = cb
}

// RecordAcquire records one acquire attempt
func (m *OTelMetrics) RecordAcquire(ctx context.Context, key string, allowed bool) {
	m.mu.RLock()
	registered := m.registered
	m.mu.RUnlock()
	if !registered {
		return
	}

	result := "allowed"
	if !allowed {
		result = "rejected"
		m.rejectedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
	}
	m.requestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("key", key),
		attribute.String("result", result)))
}
