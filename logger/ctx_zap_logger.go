package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CtxZapLogger Context-Aware 的 Zap Logger 包装器
// module 在创建时绑定，调用时只传 ctx
type CtxZapLogger struct {
	base   *zap.Logger
	module string
	config *ManagerConfig
}

// NewCtxZapLogger 包装已有的 zap.Logger（测试里配合 zaptest / observer 使用）
func NewCtxZapLogger(base *zap.Logger, module string) *CtxZapLogger {
	cfg := DefaultManagerConfig()
	return &CtxZapLogger{
		base:   base.With(zap.String("module", module)),
		module: module,
		config: &cfg,
	}
}

// NewNop 不输出任何内容的 Logger
func NewNop() *CtxZapLogger {
	return NewCtxZapLogger(zap.NewNop(), "nop")
}

// InfoCtx 记录 Info 级别日志（自动提取 TraceID）
func (l *CtxZapLogger) InfoCtx(ctx context.Context, msg string, fields ...zap.Field) {
	l.base.Info(msg, l.enrichFields(ctx, fields)...)
}

// Info 不需要 context 的便捷方法
func (l *CtxZapLogger) Info(msg string, fields ...zap.Field) {
	l.base.Info(msg, l.enrichFields(context.Background(), fields)...)
}

// DebugCtx 记录 Debug 级别日志
func (l *CtxZapLogger) DebugCtx(ctx context.Context, msg string, fields ...zap.Field) {
	l.base.Debug(msg, l.enrichFields(ctx, fields)...)
}

func (l *CtxZapLogger) Debug(msg string, fields ...zap.Field) {
	l.base.Debug(msg, l.enrichFields(context.Background(), fields)...)
}

// WarnCtx 记录 Warn 级别日志
func (l *CtxZapLogger) WarnCtx(ctx context.Context, msg string, fields ...zap.Field) {
	l.base.Warn(msg, l.enrichFields(ctx, fields)...)
}

func (l *CtxZapLogger) Warn(msg string, fields ...zap.Field) {
	l.base.Warn(msg, l.enrichFields(context.Background(), fields)...)
}

// ErrorCtx 记录 Error 级别日志（堆栈由 Manager 的 AddStacktrace 控制）
func (l *CtxZapLogger) ErrorCtx(ctx context.Context, msg string, fields ...zap.Field) {
	l.base.Error(msg, l.enrichFields(ctx, fields)...)
}

func (l *CtxZapLogger) Error(msg string, fields ...zap.Field) {
	l.base.Error(msg, l.enrichFields(context.Background(), fields)...)
}

// With 返回带预设字段的新 Logger
//
//	poolLogger := log.With(zap.String("address", addr))
//	poolLogger.InfoCtx(ctx, "连接已创建")
func (l *CtxZapLogger) With(fields ...zap.Field) *CtxZapLogger {
	return &CtxZapLogger{
		base:   l.base.With(fields...),
		module: l.module,
		config: l.config,
	}
}

// Module 返回绑定的模块名
func (l *CtxZapLogger) Module() string {
	return l.module
}

// GetZapLogger 获取底层 *zap.Logger（用于第三方库集成，如 etcd client）
func (l *CtxZapLogger) GetZapLogger() *zap.Logger {
	return l.base
}

// enrichFields 注入 app_name 和 trace_id
func (l *CtxZapLogger) enrichFields(ctx context.Context, fields []zap.Field) []zap.Field {
	if l.config == nil {
		return fields
	}

	enriched := make([]zap.Field, 0, len(fields)+2)
	if l.config.AppName != "" {
		enriched = append(enriched, zap.String("app_name", l.config.AppName))
	}
	if l.config.EnableTraceID && ctx != nil {
		if traceID := TraceIDFromContext(ctx, l.config.TraceIDKey); traceID != "" {
			name := l.config.TraceIDFieldName
			if name == "" {
				name = "trace_id"
			}
			enriched = append(enriched, zap.String(name, traceID))
		}
	}
	return append(enriched, fields...)
}

type traceIDKey struct{}

// WithTraceID 把 traceID 写入 context（没有 OTel Span 时使用）
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceIDFromContext 提取 TraceID
// 优先级：OpenTelemetry Span > WithTraceID > 自定义字符串 key
func TraceIDFromContext(ctx context.Context, key string) string {
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	if v, ok := ctx.Value(traceIDKey{}).(string); ok && v != "" {
		return v
	}
	if key != "" {
		// 兼容以字符串 key 写入 trace_id 的中间件
		if v, ok := ctx.Value(key).(string); ok {
			return v
		}
	}
	return ""
}
