package grpc

import (
	"context"
	"errors"
	"time"

	"github.com/KOMKZ/go-yogan-mesh/breaker"
	"github.com/KOMKZ/go-yogan-mesh/limiter"
	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/KOMKZ/go-yogan-mesh/retry"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// UnaryLoggerInterceptor 服务端请求日志
func UnaryLoggerInterceptor(log *logger.CtxZapLogger, enableLog bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if !enableLog {
			return resp, err
		}

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			log.ErrorCtx(ctx, "gRPC request", append(fields,
				zap.String("code", status.Code(err).String()),
				zap.Error(err))...)
		} else {
			log.InfoCtx(ctx, "gRPC request", fields...)
		}
		return resp, err
	}
}

// UnaryRecoveryInterceptor 服务端 panic 恢复，返回 Internal
func UnaryRecoveryInterceptor(log *logger.CtxZapLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.ErrorCtx(ctx, "💥 gRPC panic recovered",
					zap.String("method", info.FullMethod),
					zap.Any("panic", r))
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

// UnaryRateLimitInterceptor 服务端按方法限流
func UnaryRateLimitInterceptor(limiters *limiter.Manager, log *logger.CtxZapLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler) (interface{}, error) {
		if err := limiters.Allow(ctx, "grpc:"+info.FullMethod); err != nil {
			return nil, limitStatus(ctx, err, info.FullMethod, log)
		}
		return handler(ctx, req)
	}
}

// UnaryClientLoggerInterceptor 客户端调用日志
func UnaryClientLoggerInterceptor(log *logger.CtxZapLogger, enableLog bool) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{},
		cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		if !enableLog {
			return err
		}

		fields := []zap.Field{
			zap.String("method", method),
			zap.String("target", cc.Target()),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			log.ErrorCtx(ctx, "gRPC call", append(fields, zap.Error(err))...)
		} else {
			log.DebugCtx(ctx, "gRPC call", fields...)
		}
		return err
	}
}

// UnaryClientTimeoutInterceptor 调用方没有 deadline 时加上默认超时
func UnaryClientTimeoutInterceptor(timeout time.Duration) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{},
		cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if _, ok := ctx.Deadline(); !ok && timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// UnaryClientRateLimitInterceptor 客户端限流，拒绝时返回 ResourceExhausted 且不发出请求
func UnaryClientRateLimitInterceptor(limiters *limiter.Manager, key string, log *logger.CtxZapLogger) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{},
		cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if err := limiters.Allow(ctx, key); err != nil {
			return limitStatus(ctx, err, method, log)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// UnaryClientBreakerInterceptor 客户端熔断，熔断打开时返回 Unavailable 且不发出请求
func UnaryClientBreakerInterceptor(breakers *breaker.Manager, name string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{},
		cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		err := breakers.Protect(ctx, name, func(ctx context.Context) error {
			return invoker(ctx, method, req, reply, cc, opts...)
		})
		if err != nil && breaker.IsRejection(err) {
			return status.Error(codes.Unavailable, err.Error())
		}
		return err
	}
}

// UnaryClientRetryInterceptor 按 exec 的条件重试单次调用
// 位于限流与熔断之内，策略拒绝不会被重试
func UnaryClientRetryInterceptor(exec *retry.Executor) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{},
		cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return exec.Execute(ctx, func(ctx context.Context) error {
			return invoker(ctx, method, req, reply, cc, opts...)
		})
	}
}

func limitStatus(ctx context.Context, err error, method string, log *logger.CtxZapLogger) error {
	if errors.Is(err, limiter.ErrRateLimited) {
		log.WarnCtx(ctx, "🚫 gRPC request rate limited", zap.String("method", method), zap.Error(err))
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	return status.Error(codes.Unavailable, err.Error())
}
