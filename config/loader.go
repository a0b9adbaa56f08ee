package config

import (
	"fmt"
	"maps"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// Loader 多数据源配置加载器
// 按优先级从低到高合并扁平 key，再同步到 Viper 做类型转换与 Unmarshal
type Loader struct {
	sources     []ConfigSource
	merged      map[string]interface{}
	v           *viper.Viper
	loadedFiles []string
}

// NewLoader 创建加载器
func NewLoader() *Loader {
	return &Loader{
		merged: make(map[string]interface{}),
		v:      viper.New(),
	}
}

// AddSource 添加数据源
func (l *Loader) AddSource(source ConfigSource) {
	l.sources = append(l.sources, source)
}

// Load 加载并合并全部数据源（高优先级覆盖低优先级）
func (l *Loader) Load() error {
	sort.SliceStable(l.sources, func(i, j int) bool {
		return l.sources[i].Priority() < l.sources[j].Priority()
	})

	merged := make(map[string]interface{})
	var files []string
	for _, source := range l.sources {
		data, err := source.Load()
		if err != nil {
			return fmt.Errorf("加载数据源 %s 失败: %w", source.Name(), err)
		}
		if fs, ok := source.(*FileSource); ok && fs.found {
			files = append(files, fs.path)
		}
		maps.Copy(merged, data)
	}

	l.merged = merged
	l.loadedFiles = files
	l.v = viper.New()
	for key, value := range unflattenMap(merged) {
		l.v.Set(key, value)
	}
	return nil
}

// unflattenMap {"registry.cleanup_interval": "5s"} -> {"registry": {"cleanup_interval": "5s"}}
func unflattenMap(flat map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})
	for key, value := range flat {
		setNestedValue(result, key, value)
	}
	return result
}

func setNestedValue(m map[string]interface{}, key string, value interface{}) {
	parts := splitKey(key)
	if len(parts) == 0 {
		return
	}

	current := m
	for _, part := range parts[:len(parts)-1] {
		nested, ok := current[part].(map[string]interface{})
		if !ok {
			// 标量被更深的 key 覆盖
			nested = make(map[string]interface{})
			current[part] = nested
		}
		current = nested
	}
	current[parts[len(parts)-1]] = value
}

// splitKey 忽略空段："a..b" -> [a b]
func splitKey(key string) []string {
	parts := strings.Split(key, ".")
	result := parts[:0]
	for _, p := range parts {
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// Unmarshal 解析到结构体（目标里已有的值在没有对应 key 时保留）
func (l *Loader) Unmarshal(v interface{}) error {
	return l.v.Unmarshal(v)
}

// Get 获取原始值
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// GetString 获取字符串
func (l *Loader) GetString(key string) string {
	return l.v.GetString(key)
}

// GetInt 获取整数
func (l *Loader) GetInt(key string) int {
	return l.v.GetInt(key)
}

// GetBool 获取布尔值
func (l *Loader) GetBool(key string) bool {
	return l.v.GetBool(key)
}

// IsSet key 是否存在
func (l *Loader) IsSet(key string) bool {
	return l.v.IsSet(key)
}

// AllSettings 合并后的嵌套配置
func (l *Loader) AllSettings() map[string]interface{} {
	return l.v.AllSettings()
}

// LoadedFiles 实际读取到的配置文件
func (l *Loader) LoadedFiles() []string {
	return l.loadedFiles
}

// Reload 重新读取全部数据源
func (l *Loader) Reload() error {
	return l.Load()
}
