package breaker

import (
	"fmt"
	"time"
)

// Config 单个熔断器配置
type Config struct {
	// FailureThreshold 连续失败次数阈值
	FailureThreshold int `mapstructure:"failure_threshold"`

	// RecoveryTimeout OPEN 状态持续时间，过后放行探测请求
	RecoveryTimeout time.Duration `mapstructure:"recovery_timeout"`

	// CallTimeout 单次调用超时，超时计为失败（0 表示不限制）
	CallTimeout time.Duration `mapstructure:"call_timeout"`

	// HalfOpenMaxCalls 半开状态允许的探测请求数，全部成功才关闭
	HalfOpenMaxCalls int `mapstructure:"half_open_max_calls"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		CallTimeout:      30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// ApplyDefaults 填充零值字段；CallTimeout 为 0 表示不限制，不会被填充
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.FailureThreshold == 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.RecoveryTimeout == 0 {
		c.RecoveryTimeout = def.RecoveryTimeout
	}
	if c.HalfOpenMaxCalls == 0 {
		c.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
}

// Merge 用 override 的非零字段覆盖当前配置（负值同样覆盖，交给 Validate 拒绝）
func (c Config) Merge(override Config) Config {
	result := c
	if override.FailureThreshold != 0 {
		result.FailureThreshold = override.FailureThreshold
	}
	if override.RecoveryTimeout != 0 {
		result.RecoveryTimeout = override.RecoveryTimeout
	}
	if override.CallTimeout != 0 {
		result.CallTimeout = override.CallTimeout
	}
	if override.HalfOpenMaxCalls != 0 {
		result.HalfOpenMaxCalls = override.HalfOpenMaxCalls
	}
	return result
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.FailureThreshold < 1 {
		return &ValidationError{Field: "FailureThreshold", Message: "must be >= 1"}
	}
	if c.RecoveryTimeout <= 0 {
		return &ValidationError{Field: "RecoveryTimeout", Message: "must be > 0"}
	}
	if c.CallTimeout < 0 {
		return &ValidationError{Field: "CallTimeout", Message: "must be >= 0"}
	}
	if c.HalfOpenMaxCalls < 1 {
		return &ValidationError{Field: "HalfOpenMaxCalls", Message: "must be >= 1"}
	}
	return nil
}

// ManagerConfig 熔断器注册表配置
type ManagerConfig struct {
	// Default 默认配置
	Default Config `mapstructure:"default"`

	// Resources 按名称覆盖 Default
	Resources map[string]Config `mapstructure:"resources"`

	// MetricsEnabled 是否注册 OTel 指标
	MetricsEnabled bool `mapstructure:"metrics_enabled"`
}

// DefaultManagerConfig 默认注册表配置
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Default:        DefaultConfig(),
		Resources:      make(map[string]Config),
		MetricsEnabled: true,
	}
}

// Validate 校验默认配置与每个资源合并后的配置
func (c ManagerConfig) Validate() error {
	if err := c.Default.Validate(); err != nil {
		return err
	}
	for name, rc := range c.Resources {
		if err := c.Default.Merge(rc).Validate(); err != nil {
			if ve, ok := err.(*ValidationError); ok {
				ve.Resource = name
			}
			return err
		}
	}
	return nil
}

// For 返回指定名称的最终配置
func (c ManagerConfig) For(name string) Config {
	if rc, ok := c.Resources[name]; ok {
		return c.Default.Merge(rc)
	}
	return c.Default
}

// ValidationError 配置校验错误
type ValidationError struct {
	Resource string
	Field    string
	Message  string
}

func (e *ValidationError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("breaker config error [%s.%s]: %s", e.Resource, e.Field, e.Message)
	}
	return fmt.Sprintf("breaker config error [%s]: %s", e.Field, e.Message)
}
