package swagger

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config Swagger UI 配置
type Config struct {
	// Enabled 是否挂载文档路由
	Enabled bool `mapstructure:"enabled"`

	// UIPath Swagger UI 路由，必须以 /*any 结尾
	UIPath string `mapstructure:"ui_path"`

	// SpecPath 原始文档 JSON 路由，为空时不注册
	SpecPath string `mapstructure:"spec_path"`

	DeepLinking          bool `mapstructure:"deep_linking"`
	PersistAuthorization bool `mapstructure:"persist_authorization"`

	// DocExpansion list / full / none
	DocExpansion string `mapstructure:"doc_expansion"`

	Info Info `mapstructure:"info"`
}

// Info 文档元信息
type Info struct {
	Title       string `mapstructure:"title"`
	Description string `mapstructure:"description"`
	Version     string `mapstructure:"version"`
	Host        string `mapstructure:"host"`
	BasePath    string `mapstructure:"base_path"`
}

// DefaultConfig 默认关闭
func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		UIPath:       "/swagger/*any",
		SpecPath:     "/openapi.json",
		DeepLinking:  true,
		DocExpansion: "list",
		Info:         DefaultInfo(),
	}
}

// DefaultInfo 管理 API 的默认元信息
func DefaultInfo() Info {
	return Info{
		Title:       "meshd admin API",
		Description: "服务注册、心跳、状态管理与服务发现接口",
		Version:     "0.1.0",
		BasePath:    "/",
	}
}

// ApplyDefaults 填充零值
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.UIPath == "" {
		c.UIPath = def.UIPath
	}
	if c.DocExpansion == "" {
		c.DocExpansion = def.DocExpansion
	}
	if c.Info.Title == "" {
		c.Info.Title = def.Info.Title
	}
	if c.Info.Description == "" {
		c.Info.Description = def.Info.Description
	}
	if c.Info.Version == "" {
		c.Info.Version = def.Info.Version
	}
	if c.Info.BasePath == "" {
		c.Info.BasePath = def.Info.BasePath
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.UIPath, validation.When(c.Enabled,
			validation.Required,
			validation.By(func(any) error {
				if !strings.HasPrefix(c.UIPath, "/") || !strings.HasSuffix(c.UIPath, "/*any") {
					return validation.NewError("validation_swagger_ui_path", "must start with / and end with /*any")
				}
				return nil
			}))),
		validation.Field(&c.DocExpansion, validation.In("list", "full", "none")),
	)
}
