package grpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KOMKZ/go-yogan-mesh/breaker"
	"github.com/KOMKZ/go-yogan-mesh/limiter"
	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/KOMKZ/go-yogan-mesh/mesh"
	"github.com/KOMKZ/go-yogan-mesh/retry"
	"github.com/KOMKZ/go-yogan-mesh/testutil"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

func newTestMesh(t *testing.T) *mesh.Mesh {
	t.Helper()
	return testutil.NewMesh(t, nil)
}

func newTestServer(t *testing.T, m *mesh.Mesh, opts ...ServerOption) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Addr = "127.0.0.1:0"
	cfg.Tracing = false
	cfg.EnableLog = false
	cfg.Registration.Enabled = true
	cfg.Registration.ServiceName = "echo"
	cfg.Registration.Tags = []string{"grpc"}

	opts = append([]ServerOption{WithLogger(logger.NewNop())}, opts...)
	s, err := NewServer(cfg, m, opts...)
	require.NoError(t, err)
	return s
}

func TestServer_RegisterAndDial(t *testing.T) {
	m := newTestMesh(t)
	s := newTestServer(t, m)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	inst := s.Instance()
	require.NotNil(t, inst)
	assert.Equal(t, "127.0.0.1", inst.Host)
	assert.Len(t, m.Registry.GetHealthyInstances("echo"), 1)

	conn, err := NewClient(m, "echo",
		WithTags("grpc"),
		WithTracing(false),
		WithClientLogger(logger.NewNop()))
	require.NoError(t, err)
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	require.NoError(t, s.Stop(ctx))
	assert.Empty(t, m.Registry.GetInstances("echo"))
	assert.Nil(t, s.Instance())
	// 重复 Stop 无副作用
	assert.NoError(t, s.Stop(ctx))
}

func TestServer_HeartbeatReRegisters(t *testing.T) {
	m := newTestMesh(t)
	clock := clockwork.NewFakeClock()
	s := newTestServer(t, m, WithClock(clock))
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	defer s.Stop(ctx)
	inst := s.Instance()

	require.True(t, m.Registry.Deregister("echo", inst.InstanceID))
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(s.cfg.Registration.HeartbeatInterval)

	assert.Eventually(t, func() bool {
		return len(m.Registry.GetHealthyInstances("echo")) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestNewClient_Errors(t *testing.T) {
	_, err := NewClient(nil, "echo")
	assert.Error(t, err)
	_, err = NewClient(newTestMesh(t), "")
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
	}{
		{"默认配置", func(c *Config) {}, false},
		{"自注册缺少服务名", func(c *Config) { c.Registration.Enabled = true }, true},
		{"消息过大", func(c *Config) { c.MaxRecvSize = 4096 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// countingInvoker 依次返回 errs 中的错误，用完后返回 nil
func countingInvoker(calls *int, errs ...error) grpc.UnaryInvoker {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		*calls++
		if *calls <= len(errs) {
			return errs[*calls-1]
		}
		return nil
	}
}

func TestUnaryClientBreakerInterceptor(t *testing.T) {
	breakers, err := breaker.NewManager(breaker.ManagerConfig{
		Default: breaker.Config{FailureThreshold: 2, RecoveryTimeout: time.Minute},
	}, breaker.WithManagerLogger(logger.NewNop()))
	require.NoError(t, err)

	interceptor := UnaryClientBreakerInterceptor(breakers, "echo")
	calls := 0
	failure := status.Error(codes.Internal, "boom")
	invoker := countingInvoker(&calls, failure, failure, failure)

	for i := 0; i < 2; i++ {
		err := interceptor(context.Background(), "/echo/Ping", nil, nil, nil, invoker)
		assert.Equal(t, codes.Internal, status.Code(err))
	}

	err = interceptor(context.Background(), "/echo/Ping", nil, nil, nil, invoker)
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.Equal(t, 2, calls, "熔断打开后不再发出请求")
}

func TestUnaryClientRateLimitInterceptor(t *testing.T) {
	limiters, err := limiter.NewManager(limiter.ManagerConfig{
		Default: limiter.Config{Rate: 0.001, Burst: 1},
	}, limiter.WithLogger(logger.NewNop()))
	require.NoError(t, err)

	interceptor := UnaryClientRateLimitInterceptor(limiters, "echo", logger.NewNop())
	calls := 0
	invoker := countingInvoker(&calls)

	require.NoError(t, interceptor(context.Background(), "/echo/Ping", nil, nil, nil, invoker))
	err = interceptor(context.Background(), "/echo/Ping", nil, nil, nil, invoker)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
	assert.Equal(t, 1, calls)
}

func TestUnaryClientRetryInterceptor(t *testing.T) {
	unavailable := status.Error(codes.Unavailable, "down")
	tests := []struct {
		name      string
		errs      []error
		wantCode  codes.Code
		wantCalls int
	}{
		{"瞬时错误重试后成功", []error{unavailable, unavailable}, codes.OK, 3},
		{"业务错误不重试", []error{status.Error(codes.InvalidArgument, "bad")}, codes.InvalidArgument, 1},
		{"重试耗尽", []error{unavailable, unavailable, unavailable, unavailable}, codes.Unavailable, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := retry.NewExecutor(retry.Config{
				MaxAttempts: 3,
				Strategy:    retry.StrategyFixed,
				BaseDelay:   time.Millisecond,
				MaxDelay:    time.Millisecond,
			}, retry.WithCondition(retry.RetryOnGRPCCodes(codes.Unavailable)), retry.WithLogger(logger.NewNop()))

			calls := 0
			err := UnaryClientRetryInterceptor(exec)(context.Background(), "/echo/Ping", nil, nil, nil,
				countingInvoker(&calls, tt.errs...))
			assert.Equal(t, tt.wantCode, status.Code(err))
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantCalls == 3 && tt.wantCode != codes.OK {
				assert.True(t, errors.Is(err, retry.ErrRetryExhausted))
			}
		})
	}
}

func TestUnaryRecoveryInterceptor(t *testing.T) {
	interceptor := UnaryRecoveryInterceptor(logger.NewNop())
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/echo/Ping"},
		func(ctx context.Context, req interface{}) (interface{}, error) { panic("boom") })
	assert.Equal(t, codes.Internal, status.Code(err))
}
