package telemetry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KOMKZ/go-yogan-mesh/breaker"
	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// flakyExporter 按开关返回失败，记录调用次数
type flakyExporter struct {
	fail  atomic.Bool
	calls atomic.Int32
	spans atomic.Int32
}

func (e *flakyExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.calls.Add(1)
	if e.fail.Load() {
		return errors.New("collector unavailable")
	}
	e.spans.Add(int32(len(spans)))
	return nil
}

func (e *flakyExporter) Shutdown(context.Context) error { return nil }

func testSpans(names ...string) []sdktrace.ReadOnlySpan {
	stubs := make(tracetest.SpanStubs, 0, len(names))
	for _, n := range names {
		stubs = append(stubs, tracetest.SpanStub{Name: n})
	}
	return stubs.Snapshots()
}

func TestGuardedExporter_FallbackAndRecovery(t *testing.T) {
	clock := clockwork.NewFakeClock()
	primary := &flakyExporter{}
	primary.fail.Store(true)
	fallback := tracetest.NewInMemoryExporter()

	e, err := NewGuardedExporter(primary, fallback,
		breaker.Config{FailureThreshold: 2, RecoveryTimeout: time.Minute},
		logger.NewNop(), breaker.WithClock(clock))
	require.NoError(t, err)
	ctx := context.Background()

	// 主导出器失败：本批交给降级导出器，不向 SDK 返回错误
	for range 2 {
		require.NoError(t, e.ExportSpans(ctx, testSpans("a")))
	}
	assert.Equal(t, breaker.StateOpen, e.State())
	assert.Equal(t, int32(2), primary.calls.Load())
	assert.Len(t, fallback.GetSpans(), 2)

	// 熔断打开后不再调用主导出器
	require.NoError(t, e.ExportSpans(ctx, testSpans("b", "c")))
	assert.Equal(t, int32(2), primary.calls.Load())
	assert.Len(t, fallback.GetSpans(), 4)

	// 恢复期过后半开探测成功，回到主导出器
	primary.fail.Store(false)
	clock.Advance(time.Minute + time.Second)
	require.NoError(t, e.ExportSpans(ctx, testSpans("d")))
	assert.Equal(t, breaker.StateClosed, e.State())
	assert.Equal(t, int32(1), primary.spans.Load())
	assert.Len(t, fallback.GetSpans(), 4)

	require.NoError(t, e.Shutdown(ctx))
}

func TestGuardedExporter_NilFallback(t *testing.T) {
	primary := &flakyExporter{}
	primary.fail.Store(true)
	e, err := NewGuardedExporter(primary, nil, breaker.Config{FailureThreshold: 1}, logger.NewNop())
	require.NoError(t, err)

	assert.NoError(t, e.ExportSpans(context.Background(), testSpans("a")))
	assert.Equal(t, breaker.StateOpen, e.State())
}

func TestNewSpanExporter(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		wantErr bool
	}{
		{"stdout", ExporterStdout, false},
		{"noop", ExporterNoop, false},
		{"未知类型", "zipkin", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp, err := newSpanExporter(context.Background(), tt.typ, ExporterConfig{})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, exp.Shutdown(context.Background()))
		})
	}
}

func TestNewMetricExporter_Unsupported(t *testing.T) {
	_, err := newMetricExporter(context.Background(), ExporterConfig{Type: ExporterNoop})
	assert.Error(t, err)
}
