package httpapi

import (
	"time"

	"github.com/KOMKZ/go-yogan-mesh/swagger"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gin-gonic/gin"
)

// 支持的 HMAC 签名算法
const (
	AlgorithmHS256 = "HS256"
	AlgorithmHS384 = "HS384"
	AlgorithmHS512 = "HS512"
)

// Config 注册 API 服务配置
type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`

	// Mode gin 运行模式：debug / release / test
	Mode string `mapstructure:"mode"`

	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Tracing 是否挂载 otelgin 中间件
	Tracing bool `mapstructure:"tracing"`

	JWT          JWTConfig          `mapstructure:"jwt"`
	ErrorLogging ErrorLoggingConfig `mapstructure:"error_logging"`

	// Swagger 管理 API 文档（挂载在认证之外）
	Swagger swagger.Config `mapstructure:"swagger"`
}

// JWTConfig Bearer Token 校验（只校验，不签发）
type JWTConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Secret    string        `mapstructure:"secret"`
	Algorithm string        `mapstructure:"algorithm"`
	Issuer    string        `mapstructure:"issuer"`
	Leeway    time.Duration `mapstructure:"leeway"`

	// SkipPaths 不需要认证的路径（健康检查、发现查询）
	SkipPaths []string `mapstructure:"skip_paths"`
}

// ErrorLoggingConfig 业务错误日志
type ErrorLoggingConfig struct {
	Enable bool `mapstructure:"enable"`

	// IgnoreHTTPStatus 不记录的 HTTP 状态码，如 [404]
	IgnoreHTTPStatus []int `mapstructure:"ignore_http_status"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Addr:            ":8500",
		Mode:            gin.ReleaseMode,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		Tracing:         true,
		JWT: JWTConfig{
			Algorithm: AlgorithmHS256,
			Leeway:    5 * time.Second,
			SkipPaths: []string{"/health"},
		},
		ErrorLogging: ErrorLoggingConfig{
			Enable:           true,
			IgnoreHTTPStatus: []int{404},
		},
		Swagger: swagger.DefaultConfig(),
	}
}

// ApplyDefaults 填充零值
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.Mode == "" {
		c.Mode = def.Mode
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.JWT.Algorithm == "" {
		c.JWT.Algorithm = def.JWT.Algorithm
	}
	c.Swagger.ApplyDefaults()
}

// Validate 校验配置
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.When(c.Enabled, validation.Required)),
		validation.Field(&c.Mode, validation.In(gin.DebugMode, gin.ReleaseMode, gin.TestMode)),
		validation.Field(&c.JWT),
		validation.Field(&c.Swagger),
	)
}

// Validate 启用时必须配置密钥
func (c JWTConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Secret, validation.When(c.Enabled, validation.Required, validation.Length(16, 0))),
		validation.Field(&c.Algorithm, validation.In(AlgorithmHS256, AlgorithmHS384, AlgorithmHS512)),
		validation.Field(&c.Leeway, validation.Min(time.Duration(0))),
	)
}
