// Package httpapi 注册中心的 HTTP 接口（注册、心跳、状态、发现、健康检查）
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/KOMKZ/go-yogan-mesh/mesh"
	"github.com/KOMKZ/go-yogan-mesh/swagger"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Server 基于 gin 的注册 API 服务
type Server struct {
	cfg      Config
	mesh     *mesh.Mesh
	engine   *gin.Engine
	verifier *Verifier
	docs     *swagger.Manager
	logger   *logger.CtxZapLogger
	tracer   trace.TracerProvider

	ignoreStatus map[int]bool

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	done     chan struct{}
}

// Option Server 选项
type Option func(*Server)

// WithLogger 注入 Logger
func WithLogger(l *logger.CtxZapLogger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTracerProvider otelgin 使用的 TracerProvider，默认取 Mesh 的遥测
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) { s.tracer = tp }
}

// NewServer 创建服务并注册路由（不监听端口）
func NewServer(cfg Config, m *mesh.Mesh, opts ...Option) (*Server, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("httpapi config: %w", err)
	}

	s := &Server{
		cfg:          cfg,
		mesh:         m,
		logger:       logger.GetLogger("httpapi"),
		tracer:       m.Telemetry.TracerProvider(),
		ignoreStatus: make(map[int]bool, len(cfg.ErrorLogging.IgnoreHTTPStatus)),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, code := range cfg.ErrorLogging.IgnoreHTTPStatus {
		s.ignoreStatus[code] = true
	}
	if cfg.JWT.Enabled {
		v, err := NewVerifier(cfg.JWT)
		if err != nil {
			return nil, err
		}
		s.verifier = v
	}
	docs, err := swagger.NewManager(cfg.Swagger, s.logger.With(zap.String("component", "swagger")))
	if err != nil {
		return nil, err
	}
	s.docs = docs

	gin.SetMode(cfg.Mode)
	s.engine = gin.New()
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	e := s.engine
	if s.cfg.Tracing {
		e.Use(otelgin.Middleware(s.mesh.Config().Telemetry.ServiceName, otelgin.WithTracerProvider(s.tracer)))
	}
	e.Use(traceID(), s.recovery(), s.requestLog())
	e.NoRoute(noRoute)
	e.HandleMethodNotAllowed = true
	e.NoMethod(noRoute)

	e.GET("/health", s.health)
	s.docs.RegisterRoutes(e)

	v1 := e.Group("/v1")
	if s.verifier != nil {
		v1.Use(s.authenticate())
	}
	v1.POST("/instances", wrap(s, s.register))
	v1.GET("/instances/:service/:id", wrap(s, s.getInstance))
	v1.DELETE("/instances/:service/:id", wrap(s, s.deregister))
	v1.PUT("/instances/:service/:id/heartbeat", wrap(s, s.heartbeat))
	v1.PUT("/instances/:service/:id/status", wrap(s, s.setStatus))
	v1.GET("/services", wrap(s, s.listServices))
	v1.GET("/services/:service/instances", wrap(s, s.listInstances))
	v1.GET("/discover/:service", wrap(s, s.discover))
	v1.GET("/breakers", wrap(s, s.listBreakers))
}

// Handler 底层 http.Handler（测试用 httptest）
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Name 组件名
func (s *Server) Name() string {
	return "httpapi"
}

// Start 监听端口并在后台提供服务
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("httpapi listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.done = make(chan struct{})

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped unexpectedly", zap.Error(err))
		}
	}(s.srv, s.done)

	s.logger.InfoCtx(ctx, "✅ HTTP API listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Stop 优雅关闭，最多等待 ShutdownTimeout
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	<-done
	s.logger.InfoCtx(ctx, "HTTP API stopped")
	return err
}

// Addr 实际监听地址（未启动时返回配置值）
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}
