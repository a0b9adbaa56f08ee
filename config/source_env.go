package config

import (
	"os"
	"strings"
)

// EnvSource 环境变量数据源
//
// 配置 key 大多是 snake_case，"_" 无法还原成层级，因此优先按已知 key 反查：
// WithKeys(KeysOf(AppConfig{})...) 后 MESH_REGISTRY_CLEANUP_INTERVAL 对应 registry.cleanup_interval。
// 没有已知 key 也没有绑定时退化为前缀扫描，"_" 一律视为层级分隔。
type EnvSource struct {
	prefix   string
	priority int
	keys     []string
	bindings map[string]string // 配置 key -> 环境变量名
}

// NewEnvSource 创建环境变量数据源
func NewEnvSource(prefix string, priority int) *EnvSource {
	return &EnvSource{
		prefix:   prefix,
		priority: priority,
		bindings: make(map[string]string),
	}
}

// WithKeys 设置已知的配置 key
func (s *EnvSource) WithKeys(keys ...string) *EnvSource {
	s.keys = append(s.keys, keys...)
	return s
}

// AddBinding 显式绑定，envKey 未带前缀时自动补上
//
//	AddBinding("limiter.resources.orders.rate", "ORDERS_RATE") // 读取 MESH_ORDERS_RATE
func (s *EnvSource) AddBinding(key, envKey string) *EnvSource {
	if s.prefix != "" && !strings.HasPrefix(envKey, s.prefix+"_") {
		envKey = s.prefix + "_" + envKey
	}
	s.bindings[key] = envKey
	return s
}

// Name 数据源名称
func (s *EnvSource) Name() string {
	return "env:" + s.prefix
}

// Priority 优先级
func (s *EnvSource) Priority() int {
	return s.priority
}

// Load 读取非空的环境变量
func (s *EnvSource) Load() (map[string]interface{}, error) {
	result := make(map[string]interface{})

	if len(s.keys) == 0 && len(s.bindings) == 0 {
		s.scan(result)
		return result, nil
	}

	for _, key := range s.keys {
		if value := os.Getenv(EnvKey(s.prefix, key)); value != "" {
			result[key] = value
		}
	}
	for key, envKey := range s.bindings {
		if value := os.Getenv(envKey); value != "" {
			result[key] = value
		}
	}
	return result, nil
}

// scan MESH_POOL_DEFAULT -> pool.default
func (s *EnvSource) scan(result map[string]interface{}) {
	if s.prefix == "" {
		return
	}
	prefix := s.prefix + "_"
	for _, env := range os.Environ() {
		name, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(name, prefix) || value == "" {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(name, prefix))
		result[strings.ReplaceAll(key, "_", ".")] = value
	}
}
