package mesh

import (
	"time"

	"github.com/KOMKZ/go-yogan-mesh/breaker"
	"github.com/KOMKZ/go-yogan-mesh/event"
	"github.com/KOMKZ/go-yogan-mesh/governance"
	"github.com/KOMKZ/go-yogan-mesh/health"
	"github.com/KOMKZ/go-yogan-mesh/limiter"
	"github.com/KOMKZ/go-yogan-mesh/pool"
	"github.com/KOMKZ/go-yogan-mesh/retry"
	"github.com/KOMKZ/go-yogan-mesh/telemetry"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// 上游连接协议
const (
	ProtocolTCP  = "tcp"
	ProtocolGRPC = "grpc"
)

// Config 网格运行时配置，每个组件一节
type Config struct {
	Registry  governance.RegistryConfig  `mapstructure:"registry"`
	Discovery governance.DiscoveryConfig `mapstructure:"discovery"`
	Breaker   breaker.ManagerConfig      `mapstructure:"breaker"`
	Limiter   limiter.ManagerConfig      `mapstructure:"limiter"`
	Retry     retry.Config               `mapstructure:"retry"`
	Pool      pool.ManagerConfig         `mapstructure:"pool"`
	Event     event.Config               `mapstructure:"event"`
	Mirror    governance.MirrorConfig    `mapstructure:"mirror"`
	Telemetry telemetry.Config           `mapstructure:"telemetry"`
	Health    health.Config              `mapstructure:"health"`
	Client    ClientConfig               `mapstructure:"client"`
}

// ClientConfig Client.Call 的组合方式
type ClientConfig struct {
	// Protocol 连接池里的连接类型：tcp / grpc
	Protocol string `mapstructure:"protocol"`

	// DialTimeout 建立 TCP 连接的超时（grpc 连接是惰性的，不使用）
	DialTimeout time.Duration `mapstructure:"dial_timeout"`

	// RateLimit 每次尝试前是否经过限流
	RateLimit bool `mapstructure:"rate_limit"`

	// CircuitBreaker 是否用熔断器保护每次尝试
	CircuitBreaker bool `mapstructure:"circuit_breaker"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Registry:  governance.DefaultRegistryConfig(),
		Discovery: governance.DefaultDiscoveryConfig(),
		Breaker:   breaker.DefaultManagerConfig(),
		Limiter:   limiter.DefaultManagerConfig(),
		Retry:     retry.DefaultConfig(),
		Pool:      pool.DefaultManagerConfig(),
		Event:     event.DefaultConfig(),
		Mirror:    governance.DefaultMirrorConfig(),
		Telemetry: telemetry.DefaultConfig(),
		Health:    health.DefaultConfig(),
		Client: ClientConfig{
			Protocol:       ProtocolTCP,
			DialTimeout:    5 * time.Second,
			RateLimit:      true,
			CircuitBreaker: true,
		},
	}
}

// ApplyDefaults 填充各组件的零值
func (c *Config) ApplyDefaults() {
	c.Registry.ApplyDefaults()
	c.Discovery.ApplyDefaults()
	c.Limiter.ApplyDefaults()
	c.Retry.ApplyDefaults()
	c.Event.ApplyDefaults()
	c.Telemetry.ApplyDefaults()
	if c.Mirror.RefreshInterval <= 0 {
		c.Mirror.RefreshInterval = DefaultConfig().Mirror.RefreshInterval
	}
	if c.Health.Timeout <= 0 {
		c.Health.Timeout = DefaultConfig().Health.Timeout
	}
	if c.Client.Protocol == "" {
		c.Client.Protocol = ProtocolTCP
	}
	if c.Client.DialTimeout <= 0 {
		c.Client.DialTimeout = DefaultConfig().Client.DialTimeout
	}
}

// Validate 逐节校验
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Registry),
		validation.Field(&c.Discovery),
		validation.Field(&c.Breaker),
		validation.Field(&c.Limiter),
		validation.Field(&c.Retry),
		validation.Field(&c.Pool),
		validation.Field(&c.Telemetry),
		validation.Field(&c.Health),
		validation.Field(&c.Client),
	)
}

// Validate 校验 Client 配置
func (c ClientConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Protocol, validation.Required, validation.In(ProtocolTCP, ProtocolGRPC)),
		validation.Field(&c.DialTimeout, validation.Min(time.Duration(0))),
	)
}
