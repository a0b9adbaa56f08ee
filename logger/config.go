package logger

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// ManagerConfig 全局日志配置（所有模块共享）
type ManagerConfig struct {
	BaseLogDir      string `mapstructure:"base_log_dir"` // 日志根目录（默认 logs/）
	Level           string `mapstructure:"level"`
	AppName         string `mapstructure:"app_name"` // 自动注入到每条日志
	Encoding        string `mapstructure:"encoding"` // json 或 console
	ConsoleEncoding string `mapstructure:"console_encoding"`
	EnableConsole   bool   `mapstructure:"enable_console"`
	EnableFile      bool   `mapstructure:"enable_file"`

	EnableLevelInFilename bool   `mapstructure:"enable_level_in_filename"`
	EnableDateInFilename  bool   `mapstructure:"enable_date_in_filename"`
	DateFormat            string `mapstructure:"date_format"`

	// lumberjack 切割参数
	MaxSize    int  `mapstructure:"max_size"` // MB
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"` // 天
	Compress   bool `mapstructure:"compress"`

	EnableCaller     bool   `mapstructure:"enable_caller"`
	EnableStacktrace bool   `mapstructure:"enable_stacktrace"`
	StacktraceLevel  string `mapstructure:"stacktrace_level"`

	EnableTraceID    bool   `mapstructure:"enable_trace_id"`
	TraceIDKey       string `mapstructure:"trace_id_key"`        // context 中的 key（默认 trace_id）
	TraceIDFieldName string `mapstructure:"trace_id_field_name"` // 日志字段名（默认 trace_id）
}

// DefaultManagerConfig 默认配置：只输出到控制台，文件输出需要显式开启
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		BaseLogDir:            "logs",
		Level:                 "info",
		Encoding:              "json",
		EnableConsole:         true,
		EnableFile:            false,
		EnableLevelInFilename: true,
		EnableDateInFilename:  true,
		DateFormat:            "2006-01-02",
		MaxSize:               100,
		MaxBackups:            3,
		MaxAge:                28,
		Compress:              true,
		EnableCaller:          true,
		EnableStacktrace:      true,
		StacktraceLevel:       "error",
		EnableTraceID:         true,
		TraceIDKey:            "trace_id",
		TraceIDFieldName:      "trace_id",
	}
}

// ApplyDefaults 填充零值字段（原地修改）
// 布尔字段无法区分"未配置"和"false"，保持原值
func (c *ManagerConfig) ApplyDefaults() {
	d := DefaultManagerConfig()
	if c.BaseLogDir == "" {
		c.BaseLogDir = d.BaseLogDir
	}
	if c.Level == "" {
		c.Level = d.Level
	}
	if c.Encoding == "" {
		c.Encoding = d.Encoding
	}
	if c.DateFormat == "" {
		c.DateFormat = d.DateFormat
	}
	if c.StacktraceLevel == "" {
		c.StacktraceLevel = d.StacktraceLevel
	}
	if c.TraceIDKey == "" {
		c.TraceIDKey = d.TraceIDKey
	}
	if c.TraceIDFieldName == "" {
		c.TraceIDFieldName = d.TraceIDFieldName
	}
	if c.MaxSize == 0 {
		c.MaxSize = d.MaxSize
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = d.MaxBackups
	}
	if c.MaxAge == 0 {
		c.MaxAge = d.MaxAge
	}
}

var validLevels = []string{"debug", "info", "warn", "error", "fatal"}

// Validate 校验配置
func (c ManagerConfig) Validate() error {
	if !contains(validLevels, c.Level) {
		return fmt.Errorf("invalid log level: %s (valid values: %v)", c.Level, validLevels)
	}
	if c.Encoding != "json" && c.Encoding != "console" {
		return fmt.Errorf("invalid log encoding: %s (valid values: json, console)", c.Encoding)
	}
	if c.ConsoleEncoding != "" && c.ConsoleEncoding != "json" && c.ConsoleEncoding != "console" {
		return fmt.Errorf("invalid console encoding: %s", c.ConsoleEncoding)
	}
	if c.MaxSize < 1 || c.MaxSize > 10000 {
		return fmt.Errorf("MaxSize must be between 1-10000 MB, current: %d", c.MaxSize)
	}
	if c.MaxBackups < 0 || c.MaxBackups > 1000 {
		return fmt.Errorf("MaxBackups must be between 0-1000, current: %d", c.MaxBackups)
	}
	if c.MaxAge < 0 || c.MaxAge > 3650 {
		return fmt.Errorf("MaxAge must be between 0-3650 days, current: %d", c.MaxAge)
	}
	if !contains(validLevels, c.StacktraceLevel) {
		return fmt.Errorf("invalid stack trace level: %s", c.StacktraceLevel)
	}
	return nil
}

// ParseLevel 解析日志级别，未知值回落到 info
func ParseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}

// filePath 构建模块日志文件路径
// logs/registry/registry-info-2024-12-19.log
func (c ManagerConfig) filePath(module, level string) string {
	parts := []string{module}
	if c.EnableLevelInFilename {
		parts = append(parts, level)
	}
	if c.EnableDateInFilename {
		parts = append(parts, time.Now().Format(c.DateFormat))
	}
	return filepath.Join(c.BaseLogDir, module, strings.Join(parts, "-")+".log")
}
