package dnsapi

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/miekg/dns"
)

// 监听协议
const (
	NetUDP  = "udp"
	NetTCP  = "tcp"
	NetBoth = "both"
)

// Config DNS 发现服务配置
type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Net     string `mapstructure:"net"`

	// Domain 权威域，查询 <service>.<domain>
	Domain string `mapstructure:"domain"`

	// TTL 应答记录的 TTL（秒）；实例状态变化快，默认很短
	TTL uint32 `mapstructure:"ttl"`

	// MaxAnswers 单个应答最多返回的实例数
	MaxAnswers int `mapstructure:"max_answers"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DefaultConfig 默认配置（关闭）
func DefaultConfig() Config {
	return Config{
		Enabled:         false,
		Addr:            ":8600",
		Net:             NetUDP,
		Domain:          "mesh.",
		TTL:             5,
		MaxAnswers:      8,
		ShutdownTimeout: 5 * time.Second,
	}
}

// ApplyDefaults 填充零值并规范化域名
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.Net == "" {
		c.Net = def.Net
	}
	if c.Domain == "" {
		c.Domain = def.Domain
	}
	c.Domain = dns.CanonicalName(c.Domain)
	if c.MaxAnswers <= 0 {
		c.MaxAnswers = def.MaxAnswers
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.When(c.Enabled, validation.Required)),
		validation.Field(&c.Net, validation.In(NetUDP, NetTCP, NetBoth)),
		validation.Field(&c.Domain, validation.By(func(any) error {
			if c.Domain == "" {
				return nil
			}
			if _, ok := dns.IsDomainName(c.Domain); !ok {
				return validation.NewError("validation_domain", "must be a valid domain name")
			}
			return nil
		})),
		validation.Field(&c.MaxAnswers, validation.Min(0)),
	)
}
