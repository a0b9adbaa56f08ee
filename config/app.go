package config

import (
	"fmt"

	"github.com/KOMKZ/go-yogan-mesh/dnsapi"
	"github.com/KOMKZ/go-yogan-mesh/grpc"
	"github.com/KOMKZ/go-yogan-mesh/httpapi"
	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/KOMKZ/go-yogan-mesh/mesh"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// AppConfig meshd 的完整配置
//
// 网格各组件的配置位于顶层（registry / pool / breaker ...），
// 对外接口在 http / dns / grpc 三节。
type AppConfig struct {
	Logger logger.ManagerConfig `mapstructure:"logger"`
	Mesh   mesh.Config          `mapstructure:",squash"`
	HTTP   httpapi.Config       `mapstructure:"http"`
	DNS    dnsapi.Config        `mapstructure:"dns"`
	GRPC   grpc.Config          `mapstructure:"grpc"`
}

// DefaultAppConfig 默认配置
func DefaultAppConfig() AppConfig {
	return AppConfig{
		Logger: logger.DefaultManagerConfig(),
		Mesh:   mesh.DefaultConfig(),
		HTTP:   httpapi.DefaultConfig(),
		DNS:    dnsapi.DefaultConfig(),
		GRPC:   grpc.DefaultConfig(),
	}
}

// ApplyDefaults 填充零值
func (c *AppConfig) ApplyDefaults() {
	c.Logger.ApplyDefaults()
	c.Mesh.ApplyDefaults()
	c.HTTP.ApplyDefaults()
	c.DNS.ApplyDefaults()
	c.GRPC.ApplyDefaults()
}

// Validate 校验全部配置节
func (c AppConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Logger),
		validation.Field(&c.Mesh),
		validation.Field(&c.HTTP),
		validation.Field(&c.DNS),
		validation.Field(&c.GRPC),
	)
}

// EnvKeys AppConfig 可通过环境变量设置的全部 key
func EnvKeys() []string {
	return KeysOf(AppConfig{})
}

// LoadAppConfig 以默认配置为底解析 Loader，再补零值并校验
func LoadAppConfig(l *Loader) (AppConfig, error) {
	cfg := DefaultAppConfig()
	if err := l.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("配置校验失败: %w", err)
	}
	return cfg, nil
}
