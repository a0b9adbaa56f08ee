package telemetry

import (
	"errors"
	"testing"

	"github.com/KOMKZ/go-yogan-mesh/component"
	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type mockMetricsProvider struct {
	name           string
	enabled        bool
	registerCalled bool
	registerError  error
}

func (m *mockMetricsProvider) MetricsName() string { return m.name }

func (m *mockMetricsProvider) RegisterMetrics(meter metric.Meter) error {
	m.registerCalled = true
	return m.registerError
}

func (m *mockMetricsProvider) IsMetricsEnabled() bool { return m.enabled }

func newTestMetricsRegistry(opts ...MetricsRegistryOption) *MetricsRegistry {
	opts = append([]MetricsRegistryOption{WithRegistryLogger(logger.NewNop())}, opts...)
	return NewMetricsRegistry(noop.NewMeterProvider(), opts...)
}

func TestNewMetricsRegistry(t *testing.T) {
	r := NewMetricsRegistry(nil)
	require.NotNil(t, r)
	assert.True(t, r.IsEnabled())
	assert.Equal(t, "mesh", r.namespace)

	labels := []attribute.KeyValue{attribute.String("env", "test")}
	r = newTestMetricsRegistry(WithNamespace("edge"), WithBaseLabels(labels))
	assert.Equal(t, "edge", r.namespace)
	assert.Equal(t, labels, r.GetBaseLabels())
}

func TestMetricsRegistry_Register(t *testing.T) {
	tests := []struct {
		name       string
		provider   *mockMetricsProvider
		wantErr    bool
		wantCalled bool
	}{
		{"正常注册", &mockMetricsProvider{name: "breaker", enabled: true}, false, true},
		{"关闭指标的组件跳过", &mockMetricsProvider{name: "pool", enabled: false}, false, false},
		{"名称为空", &mockMetricsProvider{name: "", enabled: true}, true, false},
		{"注册回调失败", &mockMetricsProvider{name: "limiter", enabled: true, registerError: errors.New("boom")}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestMetricsRegistry()
			err := r.Register(tt.provider)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Empty(t, r.GetProviders())
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalled, tt.provider.registerCalled)
		})
	}
}

func TestMetricsRegistry_RegisterTwice(t *testing.T) {
	r := newTestMetricsRegistry()
	require.NoError(t, r.Register(&mockMetricsProvider{name: "registry", enabled: true}))
	err := r.Register(&mockMetricsProvider{name: "registry", enabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
	assert.Len(t, r.GetProviders(), 1)

	assert.Error(t, r.Register(nil))
}

func TestMetricsRegistry_Disabled(t *testing.T) {
	r := newTestMetricsRegistry()
	r.SetEnabled(false)
	assert.False(t, r.IsEnabled())

	p := &mockMetricsProvider{name: "pool", enabled: true}
	require.NoError(t, r.Register(p))
	assert.False(t, p.registerCalled)
	assert.Empty(t, r.GetProviders())
}

func TestMetricsRegistry_GetMeterCached(t *testing.T) {
	r := newTestMetricsRegistry()
	a := r.GetMeter("discovery")
	b := r.GetMeter("discovery")
	assert.Equal(t, a, b)
	assert.Len(t, r.meters, 1)

	r.GetMeter("pool")
	assert.Len(t, r.meters, 2)
}

func TestMetricsRegistry_ReturnsCopies(t *testing.T) {
	r := newTestMetricsRegistry(WithBaseLabels([]attribute.KeyValue{attribute.String("region", "sh")}))
	labels := r.GetBaseLabels()
	labels[0] = attribute.String("region", "bj")
	assert.Equal(t, "sh", r.GetBaseLabels()[0].Value.AsString())

	require.NoError(t, r.Register(&mockMetricsProvider{name: "a", enabled: true}))
	providers := r.GetProviders()
	providers[0] = nil
	assert.NotNil(t, r.GetProviders()[0])
}

func TestMetricsRegistry_ImplementsCollector(t *testing.T) {
	var _ component.MetricsCollector = newTestMetricsRegistry()
}
