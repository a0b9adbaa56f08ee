package limiter

import "time"

// Store types
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config bucket parameters
type Config struct {
	// Rate tokens refilled per second
	Rate float64 `mapstructure:"rate"`

	// Burst bucket capacity
	Burst int `mapstructure:"burst"`
}

// DefaultConfig 100 req/s, burst 200
func DefaultConfig() Config {
	return Config{Rate: 100, Burst: 200}
}

// Merge overrides non-zero fields; negative values are kept so Validate rejects them
func (c Config) Merge(override Config) Config {
	result := c
	if override.Rate != 0 {
		result.Rate = override.Rate
	}
	if override.Burst != 0 {
		result.Burst = override.Burst
	}
	return result
}

// Validate rate and burst must be positive
func (c Config) Validate() error {
	if c.Rate <= 0 {
		return &ValidationError{Field: "rate", Message: "must be > 0"}
	}
	if c.Burst < 1 {
		return &ValidationError{Field: "burst", Message: "must be >= 1"}
	}
	return nil
}

// RedisConfig connection used by the redis store
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ManagerConfig limiter registry configuration
type ManagerConfig struct {
	// Store memory (default) or redis
	Store string `mapstructure:"store"`

	// KeyPrefix redis key prefix
	KeyPrefix string `mapstructure:"key_prefix"`

	// Redis used when Store is redis
	Redis RedisConfig `mapstructure:"redis"`

	// RedisTimeout per-call budget; on timeout or error the local bucket decides
	RedisTimeout time.Duration `mapstructure:"redis_timeout"`

	Default   Config            `mapstructure:"default"`
	Resources map[string]Config `mapstructure:"resources"`

	MetricsEnabled bool `mapstructure:"metrics_enabled"`
}

// DefaultManagerConfig in-memory store
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Store:          StoreMemory,
		KeyPrefix:      "mesh:limiter:",
		RedisTimeout:   50 * time.Millisecond,
		Default:        DefaultConfig(),
		Resources:      map[string]Config{},
		MetricsEnabled: true,
	}
}

// ApplyDefaults fills zero values
func (c *ManagerConfig) ApplyDefaults() {
	def := DefaultManagerConfig()
	if c.Store == "" {
		c.Store = def.Store
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = def.KeyPrefix
	}
	if c.RedisTimeout == 0 {
		c.RedisTimeout = def.RedisTimeout
	}
	c.Default = def.Default.Merge(c.Default)
	if c.Resources == nil {
		c.Resources = map[string]Config{}
	}
}

// Validate checks store type and every resource
func (c ManagerConfig) Validate() error {
	switch c.Store {
	case StoreMemory, StoreRedis:
	default:
		return &ValidationError{Field: "store", Message: "must be memory or redis, got " + c.Store}
	}
	if c.RedisTimeout < 0 {
		return &ValidationError{Field: "redis_timeout", Message: "must be >= 0"}
	}
	if err := c.Default.Validate(); err != nil {
		return err
	}
	for name, rc := range c.Resources {
		if err := c.Default.Merge(rc).Validate(); err != nil {
			if ve, ok := err.(*ValidationError); ok {
				ve.Resource = name
			}
			return err
		}
	}
	return nil
}

// For effective config of a key
func (c ManagerConfig) For(key string) Config {
	if rc, ok := c.Resources[key]; ok {
		return c.Default.Merge(rc)
	}
	return c.Default
}
