package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/viper"
)

// FileSource 文件配置数据源（格式由扩展名决定：yaml / json / toml）
type FileSource struct {
	path     string
	priority int
	required bool
	found    bool
}

// NewFileSource 创建文件数据源，文件不存在时返回空配置
func NewFileSource(path string, priority int) *FileSource {
	return &FileSource{path: path, priority: priority}
}

// Required 文件不存在时 Load 返回错误（--config 显式指定的文件）
func (s *FileSource) Required() *FileSource {
	s.required = true
	return s
}

// Name 数据源名称
func (s *FileSource) Name() string {
	return "file:" + s.path
}

// Priority 优先级
func (s *FileSource) Priority() int {
	return s.priority
}

// Path 文件路径
func (s *FileSource) Path() string {
	return s.path
}

// Load 读取文件并展平为点号 key
func (s *FileSource) Load() (map[string]interface{}, error) {
	s.found = false
	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !s.required {
			return map[string]interface{}{}, nil
		}
		return nil, fmt.Errorf("访问配置文件失败 %s: %w", s.path, err)
	}

	v := viper.New()
	v.SetConfigFile(s.path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败 %s: %w", s.path, err)
	}
	s.found = true
	return flattenMap("", v.AllSettings()), nil
}

// flattenMap {"registry": {"cleanup_interval": "5s"}} -> {"registry.cleanup_interval": "5s"}
func flattenMap(prefix string, data map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(data))
	for key, value := range data {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok {
			for k, v := range flattenMap(fullKey, nested) {
				result[k] = v
			}
			continue
		}
		result[fullKey] = value
	}
	return result
}
