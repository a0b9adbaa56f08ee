package config

// ConfigSource 配置数据源（文件、环境变量、命令行参数）
type ConfigSource interface {
	// Name 数据源名称（日志与错误信息使用）
	Name() string

	// Priority 数值越大优先级越高，建议值：
	//   - 基础配置文件 config.yaml: 10
	//   - 环境配置文件 <env>.yaml: 20
	//   - 环境变量: 50
	//   - 命令行参数: 100
	Priority() int

	// Load 返回点号分隔 key 的扁平 map，例如 "registry.cleanup_interval"
	Load() (map[string]interface{}, error)
}

// 内置数据源优先级
const (
	PriorityFile    = 10
	PriorityEnvFile = 20
	PriorityEnv     = 50
	PriorityFlag    = 100
)
