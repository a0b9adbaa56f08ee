package governance

import "errors"

// 注册相关错误
var (
	// ErrInvalidServiceName 服务名为空
	ErrInvalidServiceName = errors.New("governance: invalid service name")

	// ErrInvalidInstanceID 实例 ID 为空
	ErrInvalidInstanceID = errors.New("governance: invalid instance id")

	// ErrInvalidPort 端口不在 1-65535
	ErrInvalidPort = errors.New("governance: invalid port")

	// ErrInvalidWeight 权重为负
	ErrInvalidWeight = errors.New("governance: invalid weight")

	// ErrInvalidStatus 未知的实例状态
	ErrInvalidStatus = errors.New("governance: invalid status")
)

// 发现相关错误
var (
	// ErrInvalidStrategy 未知的负载均衡策略
	ErrInvalidStrategy = errors.New("governance: invalid load balancing strategy")
)

// 配置错误
var (
	// ErrInvalidConfig 配置非法
	ErrInvalidConfig = errors.New("governance: invalid config")
)

// ConfigError 配置校验错误
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "governance config error [" + e.Field + "]: " + e.Message
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}
