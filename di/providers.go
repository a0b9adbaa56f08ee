package di

import (
	"context"
	"fmt"

	"github.com/KOMKZ/go-yogan-mesh/config"
	"github.com/KOMKZ/go-yogan-mesh/dnsapi"
	meshgrpc "github.com/KOMKZ/go-yogan-mesh/grpc"
	"github.com/KOMKZ/go-yogan-mesh/httpapi"
	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/KOMKZ/go-yogan-mesh/mesh"
	"github.com/samber/do/v2"
)

// ============================================
// 基础组件 Provider（Config, Logger）
// ============================================

// ProvideLoggerManager 用 AppConfig.Logger 初始化全局 logger.Manager
// 依赖：config.AppConfig
func ProvideLoggerManager(i do.Injector) (*logger.Manager, error) {
	cfg, err := do.Invoke[config.AppConfig](i)
	if err != nil {
		return nil, err
	}
	if err := logger.InitManager(cfg.Logger); err != nil {
		return nil, err
	}
	return logger.Default(), nil
}

// ProvideCtxLogger 指定模块的 Logger
func ProvideCtxLogger(module string) func(do.Injector) (*logger.CtxZapLogger, error) {
	return func(i do.Injector) (*logger.CtxZapLogger, error) {
		mgr, err := do.Invoke[*logger.Manager](i)
		if err != nil {
			// 回退到全局 logger
			return logger.GetLogger(module), nil
		}
		return mgr.GetLogger(module), nil
	}
}

// ============================================
// 网格与对外接口
// 依赖：Config, Logger
// ============================================

// ProvideMesh 构造 Mesh（不启动），opts 追加在默认选项之后
func ProvideMesh(opts ...mesh.Option) func(do.Injector) (*mesh.Mesh, error) {
	return func(i do.Injector) (*mesh.Mesh, error) {
		cfg, err := do.Invoke[config.AppConfig](i)
		if err != nil {
			return nil, err
		}
		mgr, err := do.Invoke[*logger.Manager](i)
		if err != nil {
			return nil, err
		}

		all := append([]mesh.Option{mesh.WithLogger(mgr.GetLogger("mesh"))}, opts...)
		m, err := mesh.New(context.Background(), cfg.Mesh, all...)
		if err != nil {
			return nil, fmt.Errorf("build mesh: %w", err)
		}
		return m, nil
	}
}

// ProvideHTTPServer 管理 API
// 依赖：*mesh.Mesh（链路追踪复用网格的 TracerProvider）
func ProvideHTTPServer(i do.Injector) (*httpapi.Server, error) {
	cfg, err := do.Invoke[config.AppConfig](i)
	if err != nil {
		return nil, err
	}
	m, err := do.Invoke[*mesh.Mesh](i)
	if err != nil {
		return nil, err
	}
	log, _ := do.InvokeNamed[*logger.CtxZapLogger](i, "httpapi")
	if log == nil {
		log = logger.GetLogger("httpapi")
	}

	return httpapi.NewServer(cfg.HTTP, m,
		httpapi.WithLogger(log),
		httpapi.WithTracerProvider(m.Telemetry.TracerProvider()),
	)
}

// ProvideDNSServer DNS 发现接口
// 依赖：*mesh.Mesh（查询走 Discovery）
func ProvideDNSServer(i do.Injector) (*dnsapi.Server, error) {
	cfg, err := do.Invoke[config.AppConfig](i)
	if err != nil {
		return nil, err
	}
	m, err := do.Invoke[*mesh.Mesh](i)
	if err != nil {
		return nil, err
	}
	log, _ := do.InvokeNamed[*logger.CtxZapLogger](i, "dnsapi")
	if log == nil {
		log = logger.GetLogger("dnsapi")
	}

	return dnsapi.NewServer(cfg.DNS, m.Discovery, dnsapi.WithLogger(log))
}

// ProvideGRPCServer gRPC 服务端
// 依赖：*mesh.Mesh（自注册写入网格注册表，限流与链路追踪复用网格组件）
func ProvideGRPCServer(i do.Injector) (*meshgrpc.Server, error) {
	cfg, err := do.Invoke[config.AppConfig](i)
	if err != nil {
		return nil, err
	}
	m, err := do.Invoke[*mesh.Mesh](i)
	if err != nil {
		return nil, err
	}
	log, _ := do.InvokeNamed[*logger.CtxZapLogger](i, "grpc")
	if log == nil {
		log = logger.GetLogger("grpc")
	}

	return meshgrpc.NewServer(cfg.GRPC, m, meshgrpc.WithLogger(log))
}

// RegisterProviders 注册 meshd 需要的全部 Provider
func RegisterProviders(injector do.Injector, loader config.ProvideLoaderOptions, meshOpts ...mesh.Option) {
	do.Provide(injector, config.ProvideLoader(loader))
	do.Provide(injector, config.ProvideAppConfig)
	do.Provide(injector, ProvideLoggerManager)
	do.ProvideNamed(injector, "httpapi", ProvideCtxLogger("httpapi"))
	do.ProvideNamed(injector, "dnsapi", ProvideCtxLogger("dnsapi"))
	do.ProvideNamed(injector, "grpc", ProvideCtxLogger("grpc"))
	do.Provide(injector, ProvideMesh(meshOpts...))
	do.Provide(injector, ProvideHTTPServer)
	do.Provide(injector, ProvideDNSServer)
	do.Provide(injector, ProvideGRPCServer)
}
