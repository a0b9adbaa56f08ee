package telemetry

import (
	"context"
	"testing"

	"github.com/KOMKZ/go-yogan-mesh/component"
	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestManager_DisabledIsNoop(t *testing.T) {
	m, err := NewManager(context.Background(), DefaultConfig(), WithLogger(logger.NewNop()))
	require.NoError(t, err)

	assert.Equal(t, component.ComponentTelemetry, m.Name())
	assert.False(t, m.MetricsRegistry().IsEnabled())
	assert.Nil(t, m.ExportBreaker())

	_, span := m.Tracer("test").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop(context.Background()))
}

func TestManager_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Sampler = SamplerConfig{Type: SamplerTraceIDRatio, Ratio: 2}

	_, err := NewManager(context.Background(), cfg, WithLogger(logger.NewNop()))
	assert.Error(t, err)
}

func TestManager_SpansAndMetrics(t *testing.T) {
	ctx := context.Background()
	spans := tracetest.NewInMemoryExporter()
	reader := sdkmetric.NewManualReader()

	cfg := DefaultConfig()
	cfg.ServiceName = "orders"
	cfg.Metrics.Labels = map[string]string{"env": "test"}
	m, err := NewManager(ctx, cfg,
		WithLogger(logger.NewNop()),
		WithSpanExporter(spans),
		WithMetricReader(reader))
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx))
	defer func() { _ = m.Stop(ctx) }()

	assert.Same(t, m.tracerProvider, otel.GetTracerProvider())
	assert.Equal(t, []attribute.KeyValue{attribute.String("env", "test")}, m.MetricsRegistry().GetBaseLabels())

	_, span := m.Tracer("mesh").Start(ctx, "call")
	span.End()
	require.Len(t, spans.GetSpans(), 1)
	got := spans.GetSpans()[0]
	assert.Equal(t, "call", got.Name)
	name, ok := got.Resource.Set().Value("service.name")
	require.True(t, ok)
	assert.Equal(t, "orders", name.AsString())

	// 通过 Registry 的 Meter 创建的指标可以被 Reader 收集
	require.True(t, m.MetricsRegistry().IsEnabled())
	rm, err := NewMetricsBuilder(m.MetricsRegistry().GetMeter("client"), "mesh").NewRequestMetrics("client")
	require.NoError(t, err)
	done := rm.Begin(ctx, attribute.String("service", "orders"))
	done(0.01, assert.AnError)

	var data metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &data))
	require.Len(t, data.ScopeMetrics, 1)
	assert.Equal(t, "mesh_client", data.ScopeMetrics[0].Scope.Name)

	sums := map[string]int64{}
	for _, md := range data.ScopeMetrics[0].Metrics {
		if s, ok := md.Data.(metricdata.Sum[int64]); ok {
			for _, dp := range s.DataPoints {
				sums[md.Name] += dp.Value
			}
		}
	}
	assert.Equal(t, int64(1), sums["mesh_client_requests_total"])
	assert.Equal(t, int64(1), sums["mesh_client_errors_total"])
	assert.Equal(t, int64(0), sums["mesh_client_in_flight"])
}

func TestManager_StopIdempotent(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(ctx, DefaultConfig(),
		WithLogger(logger.NewNop()),
		WithSpanExporter(tracetest.NewInMemoryExporter()))
	require.NoError(t, err)

	require.NoError(t, m.Stop(ctx))
	require.NoError(t, m.Stop(ctx))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
	}{
		{"默认关闭不校验", func(c *Config) { c.Exporter.Type = "bogus" }, false},
		{"启用且合法", func(c *Config) { c.Enabled = true }, false},
		{"未知导出器", func(c *Config) { c.Enabled = true; c.Exporter.Type = "zipkin" }, true},
		{"otlp 缺少 endpoint", func(c *Config) { c.Enabled = true; c.Exporter.Endpoint = "" }, true},
		{"采样率越界", func(c *Config) { c.Enabled = true; c.Sampler.Ratio = -0.5 }, true},
		{"非法命名空间", func(c *Config) { c.Enabled = true; c.Metrics.Namespace = "Mesh-1" }, true},
		{"非法降级导出器", func(c *Config) { c.Enabled = true; c.ExportBreaker.Fallback = "otlp" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.Equal(t, "yogan-mesh", cfg.ServiceName)
	assert.Equal(t, ExporterOTLP, cfg.Exporter.Type)
	assert.Equal(t, SamplerParentBasedAlwaysOn, cfg.Sampler.Type)
	assert.Equal(t, "mesh", cfg.Metrics.Namespace)
	assert.Equal(t, 5, cfg.ExportBreaker.Breaker.FailureThreshold)
}
