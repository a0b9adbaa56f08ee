package config

import (
	"fmt"

	"github.com/samber/do/v2"
)

// ProvideLoaderOptions 创建 Loader 的选项
type ProvideLoaderOptions struct {
	ConfigPath string      // 配置目录
	ConfigFile string      // 显式配置文件，优先于 ConfigPath
	EnvPrefix  string      // 环境变量前缀，默认 MESH
	Flags      *FlagSource // 命令行参数
}

// ProvideLoader Loader Provider，Config 是最底层组件，没有依赖
//
//	do.Provide(injector, config.ProvideLoader(config.ProvideLoaderOptions{ConfigFile: "configs/meshd.yaml"}))
//	loader := do.MustInvoke[*config.Loader](injector)
func ProvideLoader(opts ProvideLoaderOptions) func(do.Injector) (*Loader, error) {
	return func(do.Injector) (*Loader, error) {
		if opts.EnvPrefix == "" {
			opts.EnvPrefix = DefaultEnvPrefix
		}
		loader, err := NewLoaderBuilder().
			WithConfigPath(opts.ConfigPath).
			WithConfigFile(opts.ConfigFile).
			WithEnvPrefix(opts.EnvPrefix, EnvKeys()...).
			WithFlags(opts.Flags).
			Build()
		if err != nil {
			return nil, fmt.Errorf("config loader build failed: %w", err)
		}
		return loader, nil
	}
}

// ProvideLoaderValue 注册已创建的 Loader（测试用）
func ProvideLoaderValue(loader *Loader) func(do.Injector) (*Loader, error) {
	return func(do.Injector) (*Loader, error) {
		return loader, nil
	}
}

// ProvideAppConfig 从 Loader 解析 AppConfig
func ProvideAppConfig(i do.Injector) (AppConfig, error) {
	loader, err := do.Invoke[*Loader](i)
	if err != nil {
		return AppConfig{}, err
	}
	return LoadAppConfig(loader)
}
