package grpc

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config gRPC 服务端配置
type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`

	MaxRecvSize int `mapstructure:"max_recv_size"` // MB
	MaxSendSize int `mapstructure:"max_send_size"` // MB

	// EnableReflect 开启反射（grpcurl 调试用）
	EnableReflect bool `mapstructure:"enable_reflect"`
	EnableLog     bool `mapstructure:"enable_log"`
	Tracing       bool `mapstructure:"tracing"`

	// RateLimit 以 "grpc:<FullMethod>" 为 key 经过网格限流器
	RateLimit bool `mapstructure:"rate_limit"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Registration 启动后把自身注册到网格注册表
	Registration RegistrationConfig `mapstructure:"registration"`
}

// RegistrationConfig 自注册配置
type RegistrationConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	InstanceID  string `mapstructure:"instance_id"`

	// Host 对外地址，为空时取监听地址，监听在通配地址时取本机首个非回环 IPv4
	Host string `mapstructure:"host"`

	Weight   int               `mapstructure:"weight"`
	Tags     []string          `mapstructure:"tags"`
	Metadata map[string]string `mapstructure:"metadata"`

	// HeartbeatInterval 需小于注册表的 deregister_after
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// DefaultConfig 默认配置（关闭）
func DefaultConfig() Config {
	return Config{
		Enabled:         false,
		Addr:            ":9090",
		MaxRecvSize:     4,
		MaxSendSize:     4,
		EnableLog:       true,
		Tracing:         true,
		ShutdownTimeout: 10 * time.Second,
		Registration: RegistrationConfig{
			Weight:            1,
			HeartbeatInterval: 10 * time.Second,
		},
	}
}

// ApplyDefaults 填充零值
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.MaxRecvSize <= 0 {
		c.MaxRecvSize = def.MaxRecvSize
	}
	if c.MaxSendSize <= 0 {
		c.MaxSendSize = def.MaxSendSize
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.Registration.Weight <= 0 {
		c.Registration.Weight = def.Registration.Weight
	}
	if c.Registration.HeartbeatInterval <= 0 {
		c.Registration.HeartbeatInterval = def.Registration.HeartbeatInterval
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.When(c.Enabled, validation.Required)),
		validation.Field(&c.MaxRecvSize, validation.Min(0), validation.Max(1024)),
		validation.Field(&c.MaxSendSize, validation.Min(0), validation.Max(1024)),
		validation.Field(&c.Registration),
	)
}

// Validate 启用自注册时必须给出服务名
func (c RegistrationConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ServiceName, validation.When(c.Enabled, validation.Required, validation.Length(1, 128))),
		validation.Field(&c.Weight, validation.Min(0)),
	)
}
