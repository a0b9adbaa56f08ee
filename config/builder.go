package config

import (
	"os"
	"path/filepath"
)

// 默认的环境变量前缀
const DefaultEnvPrefix = "MESH"

// LoaderBuilder 组装常用数据源
//
//	config.yaml (10) < <env>.yaml (20) < 环境变量 (50) < 命令行 (100)
type LoaderBuilder struct {
	configPath string
	configFile string
	envPrefix  string
	envKeys    []string
	flags      *FlagSource
}

// NewLoaderBuilder 创建构建器
func NewLoaderBuilder() *LoaderBuilder {
	return &LoaderBuilder{}
}

// WithConfigPath 配置目录，读取其中的 config.yaml 与 <env>.yaml
func (b *LoaderBuilder) WithConfigPath(path string) *LoaderBuilder {
	b.configPath = path
	return b
}

// WithConfigFile 显式指定配置文件（必须存在），同目录的 <env>.yaml 仍会叠加
func (b *LoaderBuilder) WithConfigFile(file string) *LoaderBuilder {
	b.configFile = file
	return b
}

// WithEnvPrefix 环境变量前缀与已知 key
func (b *LoaderBuilder) WithEnvPrefix(prefix string, keys ...string) *LoaderBuilder {
	b.envPrefix = prefix
	b.envKeys = keys
	return b
}

// WithFlags 命令行参数
func (b *LoaderBuilder) WithFlags(flags *FlagSource) *LoaderBuilder {
	b.flags = flags
	return b
}

// Build 创建加载器并完成首次加载
func (b *LoaderBuilder) Build() (*Loader, error) {
	loader := NewLoader()

	dir := b.configPath
	switch {
	case b.configFile != "":
		loader.AddSource(NewFileSource(b.configFile, PriorityFile).Required())
		dir = filepath.Dir(b.configFile)
	case dir != "":
		loader.AddSource(NewFileSource(filepath.Join(dir, "config.yaml"), PriorityFile))
	}
	if dir != "" {
		loader.AddSource(NewFileSource(filepath.Join(dir, GetEnv()+".yaml"), PriorityEnvFile))
	}

	if b.envPrefix != "" {
		loader.AddSource(NewEnvSource(b.envPrefix, PriorityEnv).WithKeys(b.envKeys...))
	}
	if b.flags != nil {
		loader.AddSource(b.flags)
	}

	if err := loader.Load(); err != nil {
		return nil, err
	}
	return loader, nil
}

// GetEnv 运行环境（MESH_ENV > APP_ENV > ENV > dev）
func GetEnv() string {
	for _, name := range []string{DefaultEnvPrefix + "_ENV", "APP_ENV", "ENV"} {
		if env := os.Getenv(name); env != "" {
			return env
		}
	}
	return "dev"
}
