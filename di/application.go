package di

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/KOMKZ/go-yogan-mesh/component"
	"github.com/KOMKZ/go-yogan-mesh/config"
	"github.com/KOMKZ/go-yogan-mesh/dnsapi"
	meshgrpc "github.com/KOMKZ/go-yogan-mesh/grpc"
	"github.com/KOMKZ/go-yogan-mesh/health"
	"github.com/KOMKZ/go-yogan-mesh/httpapi"
	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/KOMKZ/go-yogan-mesh/mesh"
	"github.com/samber/do/v2"
	"go.uber.org/zap"
)

// AppState 应用状态
type AppState int

const (
	StateInit AppState = iota
	StateSetup
	StateRunning
	StateStopping
	StateStopped
)

// String 状态字符串表示
func (s AppState) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateSetup:
		return "Setup"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Application meshd 进程
//
// 生命周期：Setup（加载配置、构造组件）→ Start（按 mesh → http → dns → grpc 顺序启动）
// → Shutdown（逆序停止）
type Application struct {
	injector *do.RootScope
	loader   config.ProvideLoaderOptions
	meshOpts []mesh.Option

	cfg    config.AppConfig
	mesh   *mesh.Mesh
	group  *component.Group
	logger *logger.CtxZapLogger

	state AppState
	mu    sync.RWMutex

	name            string
	version         string
	shutdownTimeout time.Duration

	onReady      func(*Application) error
	grpcServices []func(*meshgrpc.Server)
}

// Option 应用选项
type Option func(*Application)

// WithConfigFile 显式配置文件
func WithConfigFile(file string) Option {
	return func(app *Application) { app.loader.ConfigFile = file }
}

// WithConfigPath 配置目录（config.yaml + <env>.yaml）
func WithConfigPath(path string) Option {
	return func(app *Application) { app.loader.ConfigPath = path }
}

// WithEnvPrefix 环境变量前缀
func WithEnvPrefix(prefix string) Option {
	return func(app *Application) { app.loader.EnvPrefix = prefix }
}

// WithFlags 命令行参数覆盖
func WithFlags(flags *config.FlagSource) Option {
	return func(app *Application) { app.loader.Flags = flags }
}

// WithMeshOptions 透传给 mesh.New（测试里注入时钟、连接工厂等）
func WithMeshOptions(opts ...mesh.Option) Option {
	return func(app *Application) { app.meshOpts = append(app.meshOpts, opts...) }
}

// WithName 设置应用名称
func WithName(name string) Option {
	return func(app *Application) { app.name = name }
}

// WithVersion 设置应用版本
func WithVersion(version string) Option {
	return func(app *Application) { app.version = version }
}

// WithShutdownTimeout Run 收到退出信号后的关闭超时
func WithShutdownTimeout(d time.Duration) Option {
	return func(app *Application) { app.shutdownTimeout = d }
}

// WithOnReady 全部组件启动后回调
func WithOnReady(fn func(*Application) error) Option {
	return func(app *Application) { app.onReady = fn }
}

// WithGRPCServices 在 gRPC 服务端启动前注册业务服务（grpc.enabled 为 false 时不调用）
func WithGRPCServices(register ...func(*meshgrpc.Server)) Option {
	return func(app *Application) { app.grpcServices = append(app.grpcServices, register...) }
}

// NewApplication 创建应用
func NewApplication(opts ...Option) *Application {
	app := &Application{
		injector:        do.New(),
		group:           component.NewGroup(),
		state:           StateInit,
		name:            "meshd",
		version:         "0.0.1",
		shutdownTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

// Injector 获取 do.Injector
func (app *Application) Injector() *do.RootScope {
	return app.injector
}

// Logger 应用日志
func (app *Application) Logger() *logger.CtxZapLogger {
	return app.logger
}

// Config 生效配置（Setup 之后有效）
func (app *Application) Config() config.AppConfig {
	return app.cfg
}

// Mesh 网格实例（Setup 之后有效）
func (app *Application) Mesh() *mesh.Mesh {
	return app.mesh
}

// Components 按启动顺序的组件名
func (app *Application) Components() []string {
	return app.group.Names()
}

// State 当前状态
func (app *Application) State() AppState {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.state
}

func (app *Application) setState(state AppState) {
	app.mu.Lock()
	defer app.mu.Unlock()
	app.state = state
}

// Setup 加载配置、初始化日志并构造组件
func (app *Application) Setup() error {
	app.setState(StateSetup)
	RegisterProviders(app.injector, app.loader, app.meshOpts...)

	cfg, err := do.Invoke[config.AppConfig](app.injector)
	if err != nil {
		return fmt.Errorf("初始化配置失败: %w", err)
	}
	app.cfg = cfg

	mgr, err := do.Invoke[*logger.Manager](app.injector)
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	app.logger = mgr.GetLogger(app.name)

	loader := do.MustInvoke[*config.Loader](app.injector)
	app.logger.Info("🔧 应用初始化中...",
		zap.String("name", app.name),
		zap.String("version", app.version),
		zap.Strings("config_files", loader.LoadedFiles()),
	)

	if app.mesh, err = do.Invoke[*mesh.Mesh](app.injector); err != nil {
		return err
	}
	if err := app.group.Add(app.mesh); err != nil {
		return err
	}

	if cfg.HTTP.Enabled {
		srv, err := do.Invoke[*httpapi.Server](app.injector)
		if err != nil {
			return fmt.Errorf("初始化 HTTP API 失败: %w", err)
		}
		if err := app.group.Add(srv); err != nil {
			return err
		}
	}
	if cfg.DNS.Enabled {
		srv, err := do.Invoke[*dnsapi.Server](app.injector)
		if err != nil {
			return fmt.Errorf("初始化 DNS 失败: %w", err)
		}
		if err := app.group.Add(srv); err != nil {
			return err
		}
	}
	if cfg.GRPC.Enabled {
		srv, err := do.Invoke[*meshgrpc.Server](app.injector)
		if err != nil {
			return fmt.Errorf("初始化 gRPC 失败: %w", err)
		}
		for _, register := range app.grpcServices {
			register(srv)
		}
		if err := app.group.Add(srv); err != nil {
			return err
		}
	}
	return nil
}

// Start 按注册顺序启动组件
func (app *Application) Start(ctx context.Context) error {
	if err := app.group.Start(ctx); err != nil {
		return err
	}
	app.setState(StateRunning)

	app.logger.InfoCtx(ctx, "✅ 应用启动完成",
		zap.String("name", app.name),
		zap.String("version", app.version),
		zap.Strings("components", app.group.Names()),
	)

	if app.onReady != nil {
		if err := app.onReady(app); err != nil {
			return fmt.Errorf("ready 回调失败: %w", err)
		}
	}
	return nil
}

// Run Setup + Start，阻塞到 ctx 取消或收到 SIGINT/SIGTERM 后优雅关闭
func (app *Application) Run(ctx context.Context) error {
	if err := app.Setup(); err != nil {
		app.closeInjector()
		return err
	}
	if err := app.Start(ctx); err != nil {
		_ = app.Shutdown(context.Background())
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	app.logger.Info("📥 收到退出信号", zap.NamedError("cause", context.Cause(sigCtx)))

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.shutdownTimeout)
	defer cancel()
	return app.Shutdown(shutdownCtx)
}

// Shutdown 逆序停止组件，再关闭注入器与日志
func (app *Application) Shutdown(ctx context.Context) error {
	app.setState(StateStopping)
	if app.logger != nil {
		app.logger.InfoCtx(ctx, "🔄 开始优雅关闭...")
	}

	err := app.group.Stop(ctx)
	// 构造成功但没有进入 group 的网格（例如 HTTP 构造失败）也需要释放
	if app.mesh != nil {
		if stopErr := app.mesh.Stop(ctx); stopErr != nil && err == nil {
			err = stopErr
		}
	}
	app.closeInjector()

	app.setState(StateStopped)
	if app.logger != nil {
		if err != nil {
			app.logger.ErrorCtx(ctx, "关闭时出现错误", zap.Error(err))
		} else {
			app.logger.InfoCtx(ctx, "✅ 应用已关闭")
		}
	}
	logger.CloseAll()
	return err
}

// closeInjector 组件已由 group 停止，这里只释放容器
func (app *Application) closeInjector() {
	_ = app.injector.Shutdown()
}

// HealthCheck 网格聚合健康检查
func (app *Application) HealthCheck(ctx context.Context) *health.Response {
	if app.mesh == nil {
		return nil
	}
	return app.mesh.Check(ctx)
}
