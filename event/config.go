package event

// Config 事件分发配置
type Config struct {
	PoolSize   int         `mapstructure:"pool_size"`    // 异步协程池大小
	SetAllSync bool        `mapstructure:"set_all_sync"` // 强制同步（测试用）
	Kafka      KafkaConfig `mapstructure:"kafka"`
}

// KafkaConfig Kafka 转发配置
// Routes: 事件名模式 -> topic，支持 "registry.*" 前缀通配与 "*"
type KafkaConfig struct {
	Enabled  bool              `mapstructure:"enabled"`
	Brokers  []string          `mapstructure:"brokers"`
	ClientID string            `mapstructure:"client_id"`
	Routes   map[string]string `mapstructure:"routes"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		PoolSize: 64,
		Kafka: KafkaConfig{
			ClientID: "yogan-mesh",
			Routes:   map[string]string{},
		},
	}
}

// ApplyDefaults 填充零值
func (c *Config) ApplyDefaults() {
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultConfig().PoolSize
	}
	if c.Kafka.ClientID == "" {
		c.Kafka.ClientID = DefaultConfig().Kafka.ClientID
	}
}
