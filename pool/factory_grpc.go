package pool

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCOption gRPC 工厂选项
type GRPCOption func(*grpcFactory)

type grpcFactory struct {
	tracerProvider trace.TracerProvider
	dialOpts       []grpc.DialOption
}

// WithTracerProvider 为连接挂载 otelgrpc StatsHandler
func WithTracerProvider(tp trace.TracerProvider) GRPCOption {
	return func(f *grpcFactory) { f.tracerProvider = tp }
}

// WithDialOptions 追加 DialOption
func WithDialOptions(opts ...grpc.DialOption) GRPCOption {
	return func(f *grpcFactory) { f.dialOpts = append(f.dialOpts, opts...) }
}

// GRPCFactory 返回为 address 创建 *grpc.ClientConn 的工厂
//
// grpc.NewClient 不会立即建连，首次 RPC 或 Validator 调用 Connect 时才连接。
func GRPCFactory(address string, opts ...GRPCOption) Factory {
	f := &grpcFactory{}
	for _, opt := range opts {
		opt(f)
	}

	return func(ctx context.Context) (io.Closer, error) {
		dialOpts := []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		}
		if f.tracerProvider != nil {
			dialOpts = append(dialOpts, grpc.WithStatsHandler(
				otelgrpc.NewClientHandler(otelgrpc.WithTracerProvider(f.tracerProvider)),
			))
		}
		dialOpts = append(dialOpts, f.dialOpts...)

		cc, err := grpc.NewClient(address, dialOpts...)
		if err != nil {
			return nil, err
		}
		return cc, nil
	}
}

// GRPCFactoryBuilder 供 Manager 使用的 gRPC 工厂构造器
func GRPCFactoryBuilder(opts ...GRPCOption) FactoryBuilder {
	return func(address string) Factory {
		return GRPCFactory(address, opts...)
	}
}

// GRPCStateValidator 按连接状态校验：Shutdown 与 TransientFailure 视为失效，Idle 时触发重连
func GRPCStateValidator(ctx context.Context, conn io.Closer) error {
	cc, ok := conn.(*grpc.ClientConn)
	if !ok {
		return fmt.Errorf("pool: expected *grpc.ClientConn, got %T", conn)
	}

	switch state := cc.GetState(); state {
	case connectivity.Shutdown, connectivity.TransientFailure:
		return fmt.Errorf("pool: grpc connection %s is %s", cc.Target(), state)
	case connectivity.Idle:
		cc.Connect()
	}
	return nil
}

// GRPCHealthValidator 调用标准 grpc.health.v1 Check，service 为空表示整体健康状态
func GRPCHealthValidator(service string) Validator {
	return func(ctx context.Context, conn io.Closer) error {
		if err := GRPCStateValidator(ctx, conn); err != nil {
			return err
		}
		cc := conn.(*grpc.ClientConn)
		resp, err := healthpb.NewHealthClient(cc).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			return fmt.Errorf("pool: grpc health check: %w", err)
		}
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			return fmt.Errorf("pool: grpc health status %s", resp.GetStatus())
		}
		return nil
	}
}
