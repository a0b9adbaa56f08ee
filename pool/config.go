// Package pool 到单个上游地址的有界连接池
//
// 约束：
//   - 同时借出的连接数不超过 MaxSize
//   - 池内连接总数（空闲 + 借出）不超过 MaxSize
//   - 借出的连接归调用方独占，直到 Release 或 Invalidate
package pool

import (
	"fmt"
	"time"
)

// Config 连接池配置
type Config struct {
	// MinSize 预热与健康检查后补齐的最小空闲连接数
	MinSize int `mapstructure:"min_size"`

	// MaxSize 连接数上限
	MaxSize int `mapstructure:"max_size"`

	// AcquireTimeout 等待空闲槽位的最长时间
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`

	// MaxLifetime 连接最长存活时间，超过后在归还或健康检查时关闭（0 表示不限制）
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`

	// HealthCheckInterval 空闲连接校验周期（0 表示不启动健康检查循环）
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`

	// CloseGracePeriod Close 时等待借出连接归还的最长时间
	CloseGracePeriod time.Duration `mapstructure:"close_grace_period"`

	// ValidateOnRelease 归还时是否校验连接
	ValidateOnRelease bool `mapstructure:"validate_on_release"`

	// MetricsEnabled 是否注册 OTel 指标
	MetricsEnabled bool `mapstructure:"metrics_enabled"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MinSize:             0,
		MaxSize:             10,
		AcquireTimeout:      30 * time.Second,
		MaxLifetime:         time.Hour,
		HealthCheckInterval: 30 * time.Second,
		CloseGracePeriod:    10 * time.Second,
		MetricsEnabled:      true,
	}
}

// ApplyDefaults 填充零值（MinSize、MaxLifetime 为 0 是合法值，不填充）
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.MaxSize == 0 {
		c.MaxSize = def.MaxSize
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = def.AcquireTimeout
	}
	if c.CloseGracePeriod == 0 {
		c.CloseGracePeriod = def.CloseGracePeriod
	}
}

// Validate 非法配置直接报错，不做静默修正
func (c Config) Validate() error {
	if c.MaxSize <= 0 {
		return &ConfigError{Field: "max_size", Message: fmt.Sprintf("must be > 0, got %d", c.MaxSize)}
	}
	if c.MinSize < 0 || c.MinSize > c.MaxSize {
		return &ConfigError{Field: "min_size", Message: fmt.Sprintf("must be in [0, %d], got %d", c.MaxSize, c.MinSize)}
	}
	if c.AcquireTimeout <= 0 {
		return &ConfigError{Field: "acquire_timeout", Message: "must be > 0"}
	}
	if c.MaxLifetime < 0 || c.HealthCheckInterval < 0 || c.CloseGracePeriod < 0 {
		return &ConfigError{Field: "durations", Message: "must be >= 0"}
	}
	return nil
}
