// Package dnsapi 以 DNS SRV / A / AAAA 应答提供服务发现
package dnsapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// Server DNS 发现服务
type Server struct {
	cfg     Config
	catalog Catalog
	logger  *logger.CtxZapLogger

	mu      sync.Mutex
	servers []*dns.Server
	addr    string
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

// NewServer 创建服务（不监听端口）
func NewServer(cfg Config, catalog Catalog, opts ...Option) (*Server, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("dnsapi config: %w", err)
	}
	if catalog == nil {
		return nil, errors.New("dnsapi: catalog is nil")
	}
	s := &Server{cfg: cfg, catalog: catalog, logger: logger.GetLogger("dnsapi")}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name 组件名
func (s *Server) Name() string {
	return "dnsapi"
}

// Start 先绑定端口再后台服务，绑定失败直接返回错误
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.servers) > 0 {
		return nil
	}

	nets := []string{s.cfg.Net}
	if s.cfg.Net == NetBoth {
		nets = []string{NetUDP, NetTCP}
	}

	addr := s.cfg.Addr
	for _, network := range nets {
		srv, bound, err := s.listen(network, addr)
		if err != nil {
			s.closeUnstarted()
			return err
		}
		// ":0" 时 tcp 复用 udp 实际分配到的端口
		addr = bound
		s.servers = append(s.servers, srv)
	}
	s.addr = addr

	for _, srv := range s.servers {
		started := make(chan struct{})
		srv.NotifyStartedFunc = func() { close(started) }
		go func(srv *dns.Server) {
			if err := srv.ActivateAndServe(); err != nil {
				s.logger.Error("DNS server stopped unexpectedly", zap.String("net", srv.Net), zap.Error(err))
			}
		}(srv)
		<-started
	}

	s.logger.InfoCtx(ctx, "✅ DNS server listening",
		zap.String("addr", s.addr),
		zap.String("net", s.cfg.Net),
		zap.String("domain", s.cfg.Domain))
	return nil
}

func (s *Server) listen(network, addr string) (*dns.Server, string, error) {
	srv := &dns.Server{Net: network, Handler: s}
	switch network {
	case NetUDP:
		pc, err := net.ListenPacket("udp", addr)
		if err != nil {
			return nil, "", fmt.Errorf("dnsapi listen udp %s: %w", addr, err)
		}
		srv.PacketConn = pc
		return srv, pc.LocalAddr().String(), nil
	default:
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, "", fmt.Errorf("dnsapi listen tcp %s: %w", addr, err)
		}
		srv.Listener = ln
		return srv, ln.Addr().String(), nil
	}
}

// Stop 关闭所有监听
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.servers) == 0 {
		return nil
	}
	err := s.shutdownLocked(ctx)
	s.logger.InfoCtx(ctx, "DNS server stopped")
	return err
}

func (s *Server) shutdownLocked(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	for _, srv := range s.servers {
		if err := srv.ShutdownContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown dns %s: %w", srv.Net, err))
		}
	}
	s.servers = nil
	return errors.Join(errs...)
}

// closeUnstarted 释放已绑定但尚未开始服务的端口
func (s *Server) closeUnstarted() {
	for _, srv := range s.servers {
		if srv.PacketConn != nil {
			_ = srv.PacketConn.Close()
		}
		if srv.Listener != nil {
			_ = srv.Listener.Close()
		}
	}
	s.servers = nil
}

// Addr 实际监听地址
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr != "" {
		return s.addr
	}
	return s.cfg.Addr
}
