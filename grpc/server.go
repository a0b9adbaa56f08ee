package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/KOMKZ/go-yogan-mesh/governance"
	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/KOMKZ/go-yogan-mesh/mesh"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Server gRPC 服务端组件
//
// 内置标准健康检查服务；开启自注册时启动后注册到网格注册表并按周期心跳，
// 停止时先注销再优雅关闭。
type Server struct {
	cfg    Config
	mesh   *mesh.Mesh
	logger *logger.CtxZapLogger
	clock  clockwork.Clock

	server *grpc.Server
	health *grpchealth.Server

	mu        sync.Mutex
	listener  net.Listener
	addr      string
	instance  *governance.ServiceInstance
	stopBeat  chan struct{}
	beatDone  chan struct{}
	serveDone chan struct{}
}

// ServerOption 服务端选项
type ServerOption func(*serverOptions)

type serverOptions struct {
	logger       *logger.CtxZapLogger
	clock        clockwork.Clock
	interceptors []grpc.UnaryServerInterceptor
	serverOpts   []grpc.ServerOption
}

// WithLogger 注入 Logger
func WithLogger(l *logger.CtxZapLogger) ServerOption {
	return func(o *serverOptions) { o.logger = l }
}

// WithClock 心跳使用的时钟
func WithClock(c clockwork.Clock) ServerOption {
	return func(o *serverOptions) { o.clock = c }
}

// WithUnaryInterceptors 追加在内置拦截器之后
func WithUnaryInterceptors(interceptors ...grpc.UnaryServerInterceptor) ServerOption {
	return func(o *serverOptions) { o.interceptors = append(o.interceptors, interceptors...) }
}

// WithServerOptions 追加 grpc.ServerOption
func WithServerOptions(opts ...grpc.ServerOption) ServerOption {
	return func(o *serverOptions) { o.serverOpts = append(o.serverOpts, opts...) }
}

// NewServer 创建服务端；业务服务通过 GRPCServer() 在 Start 前注册
func NewServer(cfg Config, m *mesh.Mesh, opts ...ServerOption) (*Server, error) {
	if m == nil {
		return nil, fmt.Errorf("grpc server: mesh is nil")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("grpc config: %w", err)
	}

	o := serverOptions{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.GetLogger("grpc")
	}

	interceptors := []grpc.UnaryServerInterceptor{
		UnaryLoggerInterceptor(o.logger, cfg.EnableLog),
		UnaryRecoveryInterceptor(o.logger),
	}
	if cfg.RateLimit {
		interceptors = append(interceptors, UnaryRateLimitInterceptor(m.Limiters, o.logger))
	}
	interceptors = append(interceptors, o.interceptors...)

	serverOpts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(cfg.MaxRecvSize * 1024 * 1024),
		grpc.MaxSendMsgSize(cfg.MaxSendSize * 1024 * 1024),
		grpc.ChainUnaryInterceptor(interceptors...),
	}
	if cfg.Tracing && m.Telemetry != nil {
		serverOpts = append(serverOpts, grpc.StatsHandler(otelgrpc.NewServerHandler(
			otelgrpc.WithTracerProvider(m.Telemetry.TracerProvider()),
			otelgrpc.WithMeterProvider(m.Telemetry.MeterProvider()),
		)))
	}
	serverOpts = append(serverOpts, o.serverOpts...)

	s := &Server{
		cfg:    cfg,
		mesh:   m,
		logger: o.logger,
		clock:  o.clock,
		server: grpc.NewServer(serverOpts...),
		health: grpchealth.NewServer(),
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	if cfg.EnableReflect {
		reflection.Register(s.server)
	}
	return s, nil
}

// Name 组件名
func (s *Server) Name() string {
	return "grpc"
}

// GRPCServer 底层 *grpc.Server
func (s *Server) GRPCServer() *grpc.Server {
	return s.server
}

// Addr 实际监听地址（Start 之后有效）
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Instance 自注册的实例（未开启自注册时为 nil）
func (s *Server) Instance() *governance.ServiceInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.instance == nil {
		return nil
	}
	inst := s.instance.Clone()
	return &inst
}

// Start 监听并开始服务（非阻塞）
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}

	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("监听 gRPC 地址失败: %w", err)
	}
	s.listener = lis
	s.addr = lis.Addr().String()

	s.serveDone = make(chan struct{})
	go func() {
		defer close(s.serveDone)
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error("gRPC server stopped unexpectedly", zap.Error(err))
		}
	}()
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	if s.cfg.Registration.Enabled {
		inst, err := s.register(ctx)
		if err != nil {
			s.server.Stop()
			<-s.serveDone
			s.listener = nil
			return err
		}
		s.instance = inst
		s.stopBeat = make(chan struct{})
		s.beatDone = make(chan struct{})
		go s.heartbeatLoop(*inst)
	}

	s.logger.InfoCtx(ctx, "✅ gRPC server listening", zap.String("addr", s.addr))
	return nil
}

// register 注册自身并立即心跳使实例进入 HEALTHY
func (s *Server) register(ctx context.Context) (*governance.ServiceInstance, error) {
	host, port, err := s.advertise()
	if err != nil {
		return nil, err
	}

	reg := s.cfg.Registration
	id := reg.InstanceID
	if id == "" {
		id = uuid.NewString()
	}
	inst := governance.ServiceInstance{
		ServiceName: reg.ServiceName,
		InstanceID:  id,
		Host:        host,
		Port:        port,
		Metadata:    reg.Metadata,
		Tags:        reg.Tags,
		Weight:      reg.Weight,
	}
	if _, err := s.mesh.Registry.Register(inst); err != nil {
		return nil, fmt.Errorf("注册 gRPC 实例失败: %w", err)
	}
	s.mesh.Registry.Heartbeat(inst.ServiceName, inst.InstanceID)

	s.logger.InfoCtx(ctx, "✅ gRPC instance registered",
		zap.String("service", inst.ServiceName),
		zap.String("instance", inst.InstanceID),
		zap.String("address", inst.Address()))
	return &inst, nil
}

// heartbeatLoop 周期续约；实例被剔除后重新注册
func (s *Server) heartbeatLoop(inst governance.ServiceInstance) {
	defer close(s.beatDone)
	ticker := s.clock.NewTicker(s.cfg.Registration.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopBeat:
			return
		case <-ticker.Chan():
			if s.mesh.Registry.Heartbeat(inst.ServiceName, inst.InstanceID) {
				continue
			}
			s.logger.Warn("⚠️ gRPC instance lost, re-registering",
				zap.String("service", inst.ServiceName),
				zap.String("instance", inst.InstanceID))
			if _, err := s.mesh.Registry.Register(inst); err != nil {
				s.logger.Error("re-register gRPC instance failed", zap.Error(err))
				continue
			}
			s.mesh.Registry.Heartbeat(inst.ServiceName, inst.InstanceID)
		}
	}
}

// advertise 注册到网格的 host / port
func (s *Server) advertise() (string, int, error) {
	tcpAddr, ok := s.listener.Addr().(*net.TCPAddr)
	if !ok {
		return "", 0, fmt.Errorf("unexpected listener address %s", s.listener.Addr())
	}
	if host := s.cfg.Registration.Host; host != "" {
		return host, tcpAddr.Port, nil
	}
	if !tcpAddr.IP.IsUnspecified() {
		return tcpAddr.IP.String(), tcpAddr.Port, nil
	}
	return localIPv4(), tcpAddr.Port, nil
}

func localIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, a := range addrs {
			if ipNet, ok := a.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
				return ipNet.IP.String()
			}
		}
	}
	return "127.0.0.1"
}

// Stop 注销实例后优雅关闭，超过 ShutdownTimeout 或 ctx 结束时强制关闭
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}

	if s.instance != nil {
		close(s.stopBeat)
		<-s.beatDone
		s.mesh.Registry.Deregister(s.instance.ServiceName, s.instance.InstanceID)
		s.instance = nil
	}
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()
	timer := time.NewTimer(s.cfg.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-stopped:
	case <-timer.C:
		s.logger.Warn("gRPC graceful stop timed out, forcing")
		s.server.Stop()
	case <-ctx.Done():
		s.server.Stop()
	}
	<-s.serveDone

	s.listener = nil
	s.logger.InfoCtx(ctx, "🛑 gRPC server stopped", zap.String("addr", s.addr))
	return nil
}
