package health

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config 健康检查配置
type Config struct {
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"` // 单次聚合检查的总超时
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Timeout: 5 * time.Second,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Timeout, validation.When(c.Enabled, validation.Required, validation.Min(10*time.Millisecond))),
	)
}
