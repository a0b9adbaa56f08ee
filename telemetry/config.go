package telemetry

import (
	"time"

	"github.com/KOMKZ/go-yogan-mesh/breaker"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// 导出器类型
const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
	ExporterNoop   = "noop"
)

// 采样器类型
const (
	SamplerAlwaysOn            = "always_on"
	SamplerAlwaysOff           = "always_off"
	SamplerTraceIDRatio        = "trace_id_ratio"
	SamplerParentBasedAlwaysOn = "parent_based_always_on"
)

// Config OpenTelemetry 配置
type Config struct {
	Enabled        bool              `mapstructure:"enabled"`
	ServiceName    string            `mapstructure:"service_name"`
	ServiceVersion string            `mapstructure:"service_version"`
	Exporter       ExporterConfig    `mapstructure:"exporter"`
	Sampler        SamplerConfig     `mapstructure:"sampler"`
	ResourceAttrs  map[string]string `mapstructure:"resource_attributes"` // 支持 ${ENV} 展开
	Batch          BatchConfig       `mapstructure:"batch"`
	ExportBreaker  ExportBreaker     `mapstructure:"export_breaker"`
	Metrics        MetricsConfig     `mapstructure:"metrics"`
}

// ExporterConfig 导出器配置（trace 与 metrics 共用）
type ExporterConfig struct {
	Type     string            `mapstructure:"type"` // otlp / stdout
	Endpoint string            `mapstructure:"endpoint"`
	Insecure bool              `mapstructure:"insecure"`
	Timeout  time.Duration     `mapstructure:"timeout"`
	Headers  map[string]string `mapstructure:"headers"` // 认证等自定义 Header
}

// SamplerConfig 采样配置
type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Ratio float64 `mapstructure:"ratio"` // 只对 trace_id_ratio 生效
}

// BatchConfig Span 批处理配置
type BatchConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	MaxQueueSize       int           `mapstructure:"max_queue_size"`
	MaxExportBatchSize int           `mapstructure:"max_export_batch_size"`
	ScheduleDelay      time.Duration `mapstructure:"schedule_delay"`
	ExportTimeout      time.Duration `mapstructure:"export_timeout"`
}

// ExportBreaker Span 导出熔断：主导出器连续失败后降级到 Fallback
type ExportBreaker struct {
	Enabled  bool           `mapstructure:"enabled"`
	Fallback string         `mapstructure:"fallback"` // stdout / noop
	Breaker  breaker.Config `mapstructure:"breaker"`
}

// MetricsConfig 指标导出配置
type MetricsConfig struct {
	Enabled        bool              `mapstructure:"enabled"`
	ExportInterval time.Duration     `mapstructure:"export_interval"`
	ExportTimeout  time.Duration     `mapstructure:"export_timeout"`
	Namespace      string            `mapstructure:"namespace"` // Meter 名前缀
	Labels         map[string]string `mapstructure:"labels"`    // 全局标签（env、region 等）
}

// DefaultConfig 默认配置（关闭）
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "yogan-mesh",
		ServiceVersion: "1.0.0",
		Exporter: ExporterConfig{
			Type:     ExporterOTLP,
			Endpoint: "localhost:4317",
			Insecure: true,
			Timeout:  10 * time.Second,
		},
		Sampler: SamplerConfig{
			Type:  SamplerParentBasedAlwaysOn,
			Ratio: 1.0,
		},
		ResourceAttrs: map[string]string{},
		Batch: BatchConfig{
			Enabled:            true,
			MaxQueueSize:       2048,
			MaxExportBatchSize: 512,
			ScheduleDelay:      5 * time.Second,
			ExportTimeout:      30 * time.Second,
		},
		ExportBreaker: ExportBreaker{
			Enabled:  true,
			Fallback: ExporterNoop,
			Breaker:  breaker.DefaultConfig(),
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			ExportInterval: 10 * time.Second,
			ExportTimeout:  5 * time.Second,
			Namespace:      "mesh",
			Labels:         map[string]string{},
		},
	}
}

// ApplyDefaults 填充零值
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.ServiceName == "" {
		c.ServiceName = def.ServiceName
	}
	if c.Exporter.Type == "" {
		c.Exporter.Type = def.Exporter.Type
	}
	if c.Exporter.Timeout <= 0 {
		c.Exporter.Timeout = def.Exporter.Timeout
	}
	if c.Sampler.Type == "" {
		c.Sampler = def.Sampler
	}
	if c.Batch.ScheduleDelay <= 0 {
		c.Batch.ScheduleDelay = def.Batch.ScheduleDelay
	}
	if c.Batch.ExportTimeout <= 0 {
		c.Batch.ExportTimeout = def.Batch.ExportTimeout
	}
	if c.ExportBreaker.Fallback == "" {
		c.ExportBreaker.Fallback = def.ExportBreaker.Fallback
	}
	c.ExportBreaker.Breaker.ApplyDefaults()
	if c.Metrics.ExportInterval <= 0 {
		c.Metrics.ExportInterval = def.Metrics.ExportInterval
	}
	if c.Metrics.ExportTimeout <= 0 {
		c.Metrics.ExportTimeout = def.Metrics.ExportTimeout
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = def.Metrics.Namespace
	}
}

// Validate 未启用时不校验
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(&c,
		validation.Field(&c.ServiceName, validation.Required),
		validation.Field(&c.Exporter),
		validation.Field(&c.Sampler),
		validation.Field(&c.Batch),
		validation.Field(&c.ExportBreaker),
		validation.Field(&c.Metrics),
	)
}

func (c ExporterConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Type, validation.Required, validation.In(ExporterOTLP, ExporterStdout)),
		validation.Field(&c.Endpoint, validation.When(c.Type == ExporterOTLP, validation.Required)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

func (c SamplerConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Type, validation.Required,
			validation.In(SamplerAlwaysOn, SamplerAlwaysOff, SamplerTraceIDRatio, SamplerParentBasedAlwaysOn)),
		validation.Field(&c.Ratio, validation.Min(0.0), validation.Max(1.0)),
	)
}

func (c BatchConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.MaxQueueSize, validation.When(c.Enabled, validation.Required, validation.Min(1))),
		validation.Field(&c.MaxExportBatchSize, validation.When(c.Enabled, validation.Required, validation.Min(1))),
	)
}

func (c ExportBreaker) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(&c,
		validation.Field(&c.Fallback, validation.In(ExporterStdout, ExporterNoop)),
		validation.Field(&c.Breaker),
	)
}

func (c MetricsConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ExportInterval, validation.When(c.Enabled, validation.Required, validation.Min(100*time.Millisecond))),
		validation.Field(&c.Namespace, validation.Match(namespacePattern)),
	)
}
