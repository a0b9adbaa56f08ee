// Package component 定义组件生命周期、健康检查与指标接口
// 这是最底层的包，不依赖任何业务包，避免循环依赖
package component

import "context"

// Component 组件接口（统一生命周期管理）
//
// 组件生命周期：构造 → Start → Stop
// 构造阶段只创建资源，Start 才启动后台循环或对外监听
type Component interface {
	// Name 组件名称（唯一标识）
	Name() string

	// Start 启动后台循环或对外服务
	Start(ctx context.Context) error

	// Stop 停止并等待后台任务退出，必须允许重复调用
	Stop(ctx context.Context) error
}

// HealthChecker 健康检查接口
// 组件可选实现此接口，提供健康检查能力
type HealthChecker interface {
	// Check 返回 nil 表示健康
	Check(ctx context.Context) error

	// Name 检查项名称（如 "registry", "pool"）
	Name() string
}

// HealthCheckProvider 健康检查提供者接口
type HealthCheckProvider interface {
	GetHealthChecker() HealthChecker
}
