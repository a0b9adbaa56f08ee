package httpapi

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/KOMKZ/go-yogan-mesh/errcode"
	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TraceIDHeader 请求 / 响应中的 TraceID 头
const TraceIDHeader = "X-Trace-ID"

// traceID 优先使用 OTel Span 的 TraceID，否则沿用请求头或生成 UUID
func traceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		var id string
		if sc := trace.SpanFromContext(c.Request.Context()).SpanContext(); sc.IsValid() {
			id = sc.TraceID().String()
		} else {
			id = c.GetHeader(TraceIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			c.Request = c.Request.WithContext(logger.WithTraceID(c.Request.Context(), id))
		}
		c.Writer.Header().Set(TraceIDHeader, id)
		c.Next()
	}
}

// recovery 捕获 handler panic，返回 500 且不暴露堆栈
func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.ErrorCtx(c.Request.Context(), "💥 Panic recovered",
					zap.Any("error", r),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("stack", string(debug.Stack())))
				le := errcode.ErrInternal
				c.AbortWithStatusJSON(http.StatusInternalServerError, Response{
					Code: le.Code(),
					Msg:  fmt.Sprintf("%s: %v", le.Message(), r),
				})
			}
		}()
		c.Next()
	}
}

// requestLog 按状态码分级记录请求
func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		ctx := c.Request.Context()
		switch {
		case status >= http.StatusInternalServerError:
			s.logger.ErrorCtx(ctx, "HTTP request", fields...)
		case status >= http.StatusBadRequest:
			s.logger.WarnCtx(ctx, "HTTP request", fields...)
		default:
			s.logger.DebugCtx(ctx, "HTTP request", fields...)
		}
	}
}
