package config

import (
	"github.com/spf13/pflag"
)

// FlagSource 命令行参数数据源
// 只读取用户显式设置过的 flag，未设置的 flag 不会用默认值覆盖配置文件
type FlagSource struct {
	flags    *pflag.FlagSet
	priority int
	bindings map[string]string // flag 名 -> 配置 key
}

// NewFlagSource 创建命令行参数数据源
func NewFlagSource(flags *pflag.FlagSet, priority int) *FlagSource {
	return &FlagSource{
		flags:    flags,
		priority: priority,
		bindings: make(map[string]string),
	}
}

// Bind 绑定 flag 到配置 key
//
//	src.Bind("http-addr", "http.addr")
func (s *FlagSource) Bind(flag, key string) *FlagSource {
	s.bindings[flag] = key
	return s
}

// Name 数据源名称
func (s *FlagSource) Name() string {
	if s.flags == nil {
		return "flags"
	}
	return "flags:" + s.flags.Name()
}

// Priority 优先级
func (s *FlagSource) Priority() int {
	return s.priority
}

// Load 收集已绑定且被设置的 flag
func (s *FlagSource) Load() (map[string]interface{}, error) {
	result := make(map[string]interface{})
	if s.flags == nil {
		return result, nil
	}

	var err error
	s.flags.Visit(func(f *pflag.Flag) {
		key, ok := s.bindings[f.Name]
		if !ok || err != nil {
			return
		}
		var value interface{}
		value, err = s.value(f)
		if err == nil {
			result[key] = value
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *FlagSource) value(f *pflag.Flag) (interface{}, error) {
	switch f.Value.Type() {
	case "stringSlice":
		return s.flags.GetStringSlice(f.Name)
	case "stringArray":
		return s.flags.GetStringArray(f.Name)
	case "bool":
		return s.flags.GetBool(f.Name)
	case "int":
		return s.flags.GetInt(f.Name)
	case "duration":
		return s.flags.GetDuration(f.Name)
	default:
		return f.Value.String(), nil
	}
}
