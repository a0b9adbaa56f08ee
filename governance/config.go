package governance

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ServiceConfig 单个服务的注册与发现策略
type ServiceConfig struct {
	// HealthCheckInterval HTTP 探测的最小间隔（只对设置了 HealthCheckURL 的实例生效）
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval" json:"health_check_interval"`

	// DeregisterAfter 心跳超时：超过 1 倍标记 UNHEALTHY，超过 2 倍剔除
	DeregisterAfter time.Duration `mapstructure:"deregister_after" json:"deregister_after"`

	// LoadBalancer 默认负载均衡策略
	LoadBalancer string `mapstructure:"load_balancer" json:"load_balancer"`
}

// RegistryConfig 注册中心配置
type RegistryConfig struct {
	// HealthCheckInterval 健康检查循环周期
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval" json:"health_check_interval"`

	// CleanupInterval 剔除循环周期
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" json:"cleanup_interval"`

	// ProbeTimeout 单次 HTTP 探测超时
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" json:"probe_timeout"`

	// ProbeWorkers 并发探测协程数
	ProbeWorkers int `mapstructure:"probe_workers" json:"probe_workers"`

	// Default 未单独配置的服务使用的策略
	Default ServiceConfig `mapstructure:"default" json:"default"`

	// Services 按服务名覆盖
	Services map[string]ServiceConfig `mapstructure:"services" json:"services"`

	MetricsEnabled bool `mapstructure:"metrics_enabled" json:"metrics_enabled"`
}

// DefaultRegistryConfig 默认配置
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		HealthCheckInterval: 5 * time.Second,
		CleanupInterval:     30 * time.Second,
		ProbeTimeout:        2 * time.Second,
		ProbeWorkers:        16,
		Default: ServiceConfig{
			HealthCheckInterval: 10 * time.Second,
			DeregisterAfter:     30 * time.Second,
			LoadBalancer:        StrategyRoundRobin,
		},
		MetricsEnabled: true,
	}
}

// ApplyDefaults 填充零值
func (c *RegistryConfig) ApplyDefaults() {
	def := DefaultRegistryConfig()
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = def.HealthCheckInterval
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = def.ProbeTimeout
	}
	if c.ProbeWorkers == 0 {
		c.ProbeWorkers = def.ProbeWorkers
	}
	c.Default.merge(def.Default)
}

func (s *ServiceConfig) merge(def ServiceConfig) {
	if s.HealthCheckInterval == 0 {
		s.HealthCheckInterval = def.HealthCheckInterval
	}
	if s.DeregisterAfter == 0 {
		s.DeregisterAfter = def.DeregisterAfter
	}
	if s.LoadBalancer == "" {
		s.LoadBalancer = def.LoadBalancer
	}
}

// For 服务的生效配置（覆盖项的零值字段继承 Default）
func (c RegistryConfig) For(service string) ServiceConfig {
	sc, ok := c.Services[service]
	if !ok {
		return c.Default
	}
	sc.merge(c.Default)
	return sc
}

// Validate 校验（先 ApplyDefaults）
func (c RegistryConfig) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.HealthCheckInterval, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.CleanupInterval, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.ProbeTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.ProbeWorkers, validation.Required, validation.Min(1)),
		validation.Field(&c.Default),
	)
	if err != nil {
		return &ConfigError{Field: "registry", Message: err.Error()}
	}
	for name := range c.Services {
		if err := c.For(name).Validate(); err != nil {
			return &ConfigError{Field: "registry.services." + name, Message: err.Error()}
		}
	}
	return nil
}

// Validate 实现 validation.Validatable
func (s ServiceConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.HealthCheckInterval, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&s.DeregisterAfter, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&s.LoadBalancer, validation.Required, validation.In(strategyValues()...)),
	)
}

// DiscoveryConfig 服务发现配置
type DiscoveryConfig struct {
	// CacheTTL 健康实例列表缓存时间（0 表示不缓存）
	CacheTTL time.Duration `mapstructure:"cache_ttl" json:"cache_ttl"`

	// DefaultStrategy Discover 未指定策略时使用
	DefaultStrategy string `mapstructure:"default_strategy" json:"default_strategy"`
}

// DefaultDiscoveryConfig 默认配置
func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		CacheTTL:        5 * time.Second,
		DefaultStrategy: StrategyRoundRobin,
	}
}

// ApplyDefaults 填充零值（CacheTTL 为 0 表示禁用缓存，不填充）
func (c *DiscoveryConfig) ApplyDefaults() {
	if c.DefaultStrategy == "" {
		c.DefaultStrategy = StrategyRoundRobin
	}
}

// Validate 校验
func (c DiscoveryConfig) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.CacheTTL, validation.Min(time.Duration(0))),
		validation.Field(&c.DefaultStrategy, validation.Required, validation.In(strategyValues()...)),
	)
	if err != nil {
		return &ConfigError{Field: "discovery", Message: err.Error()}
	}
	return nil
}
