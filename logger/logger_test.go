package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestManagerConfig_ApplyDefaults(t *testing.T) {
	cfg := ManagerConfig{Level: "debug"}
	cfg.ApplyDefaults()

	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, "logs", cfg.BaseLogDir)
	assert.Equal(t, "json", cfg.Encoding)
	assert.Equal(t, 100, cfg.MaxSize)
	assert.Equal(t, "trace_id", cfg.TraceIDKey)
	assert.NoError(t, cfg.Validate())
}

func TestManagerConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *ManagerConfig)
	}{
		{"非法级别", func(c *ManagerConfig) { c.Level = "verbose" }},
		{"非法编码", func(c *ManagerConfig) { c.Encoding = "xml" }},
		{"文件过大", func(c *ManagerConfig) { c.MaxSize = 20000 }},
		{"备份数为负", func(c *ManagerConfig) { c.MaxBackups = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultManagerConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestManager_GetLoggerCachesPerModule(t *testing.T) {
	m := NewManager(ManagerConfig{EnableConsole: false})
	a := m.GetLogger("registry")
	b := m.GetLogger("registry")
	c := m.GetLogger("pool")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, "pool", c.Module())
}

func TestManager_FileOutput(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(ManagerConfig{
		BaseLogDir:            dir,
		EnableFile:            true,
		EnableLevelInFilename: true,
	})
	m.GetLogger("breaker").Info("hello")
	m.GetLogger("breaker").Error("boom")
	m.CloseAll()

	_, err := os.Stat(filepath.Join(dir, "breaker", "breaker-info.log"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "breaker", "breaker-error.log"))
	require.NoError(t, err)
}

func TestCtxZapLogger_TraceID(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewCtxZapLogger(zap.New(core), "mesh")

	ctx := WithTraceID(context.Background(), "trace-123")
	l.InfoCtx(ctx, "with trace")
	l.Info("without trace")

	require.Equal(t, 2, logs.Len())
	first := logs.All()[0].ContextMap()
	assert.Equal(t, "trace-123", first["trace_id"])
	assert.Equal(t, "mesh", first["module"])
	_, ok := logs.All()[1].ContextMap()["trace_id"]
	assert.False(t, ok)
}

func TestCtxZapLogger_With(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewCtxZapLogger(zap.New(core), "pool").With(zap.String("address", "10.0.0.1:80"))
	l.WarnCtx(context.Background(), "slow")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "10.0.0.1:80", logs.All()[0].ContextMap()["address"])
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
}

func TestTraceIDFromContext_StringKey(t *testing.T) {
	//nolint:staticcheck
	ctx := context.WithValue(context.Background(), "trace_id", "legacy")
	assert.Equal(t, "legacy", TraceIDFromContext(ctx, "trace_id"))
	assert.Equal(t, "", TraceIDFromContext(context.Background(), "trace_id"))
}
