package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Manager Logger 管理器（按模块名缓存 Logger 实例）
type Manager struct {
	cfg     ManagerConfig
	loggers map[string]*CtxZapLogger        // 模块名 -> CtxZapLogger
	zaps    map[string]*zap.Logger          // 模块名 -> 底层 zap.Logger（用于 Sync）
	writers map[string][]*lumberjack.Logger // 模块名 -> 文件写入器（用于关闭）
	mu      sync.RWMutex
}

var (
	globalManager *Manager
	globalMu      sync.RWMutex
)

// NewManager 创建独立的 Manager 实例，零值字段自动填充默认值
func NewManager(cfg ManagerConfig) *Manager {
	cfg.ApplyDefaults()
	return &Manager{
		cfg:     cfg,
		loggers: make(map[string]*CtxZapLogger),
		zaps:    make(map[string]*zap.Logger),
		writers: make(map[string][]*lumberjack.Logger),
	}
}

// InitManager 设置全局 Manager（重复调用会替换旧实例并关闭其文件句柄）
func InitManager(cfg ManagerConfig) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("logger config: %w", err)
	}

	globalMu.Lock()
	old := globalManager
	globalManager = NewManager(cfg)
	globalMu.Unlock()

	if old != nil {
		old.CloseAll()
	}
	return nil
}

func defaultManager() *Manager {
	globalMu.RLock()
	m := globalManager
	globalMu.RUnlock()
	if m != nil {
		return m
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalManager == nil {
		globalManager = NewManager(DefaultManagerConfig())
	}
	return globalManager
}

// Default 全局 Manager（未初始化时使用默认配置创建）
func Default() *Manager {
	return defaultManager()
}

// GetLogger 获取指定模块的 Logger（线程安全，按需创建）
func GetLogger(module string) *CtxZapLogger {
	return defaultManager().GetLogger(module)
}

// CloseAll 刷新并关闭全局 Manager 的所有输出
func CloseAll() {
	globalMu.RLock()
	m := globalManager
	globalMu.RUnlock()
	if m != nil {
		m.CloseAll()
	}
}

// GetLogger 获取指定模块的 Logger，返回的 Logger 已带 module 字段
func (m *Manager) GetLogger(module string) *CtxZapLogger {
	m.mu.RLock()
	if l, ok := m.loggers[module]; ok {
		m.mu.RUnlock()
		return l
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.loggers[module]; ok {
		return l
	}

	base := m.build(module).With(zap.String("module", module))
	l := &CtxZapLogger{
		base:   base.WithOptions(zap.AddCallerSkip(1)),
		module: module,
		config: &m.cfg,
	}
	m.loggers[module] = l
	m.zaps[module] = base
	return l
}

// build 组装 console + info 文件 + error 文件三路输出
func (m *Manager) build(module string) *zap.Logger {
	level := ParseLevel(m.cfg.Level)
	encoder := newEncoder(m.cfg.Encoding)
	var cores []zapcore.Core

	if m.cfg.EnableConsole {
		consoleEncoder := encoder
		if m.cfg.ConsoleEncoding != "" && m.cfg.ConsoleEncoding != m.cfg.Encoding {
			consoleEncoder = newEncoder(m.cfg.ConsoleEncoding)
		}
		cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), level))
	}

	if m.cfg.EnableFile {
		infoWriter, infoLumber := newFileWriter(m.cfg.filePath(module, "info"), m.cfg)
		errorWriter, errorLumber := newFileWriter(m.cfg.filePath(module, "error"), m.cfg)
		m.writers[module] = []*lumberjack.Logger{infoLumber, errorLumber}

		cores = append(cores,
			zapcore.NewCore(encoder, infoWriter, zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
				return lvl >= level && lvl < zapcore.ErrorLevel
			})),
			zapcore.NewCore(encoder, errorWriter, zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
				return lvl >= zapcore.ErrorLevel
			})),
		)
	}

	opts := []zap.Option{}
	if m.cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if m.cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(ParseLevel(m.cfg.StacktraceLevel)))
	}

	return zap.New(zapcore.NewTee(cores...), opts...)
}

// CloseAll 刷新缓冲区并关闭所有文件句柄（应用退出时调用）
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, z := range m.zaps {
		_ = z.Sync()
	}
	for _, ws := range m.writers {
		for _, w := range ws {
			_ = w.Close()
		}
	}

	m.loggers = make(map[string]*CtxZapLogger)
	m.zaps = make(map[string]*zap.Logger)
	m.writers = make(map[string][]*lumberjack.Logger)
}

// Config 返回当前配置副本
func (m *Manager) Config() ManagerConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func newEncoder(encoding string) zapcore.Encoder {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		MessageKey:     "msg",
		CallerKey:      "caller",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if encoding == "console" {
		return zapcore.NewConsoleEncoder(encoderConfig)
	}
	return zapcore.NewJSONEncoder(encoderConfig)
}

// newFileWriter 使用 lumberjack 实现按大小切割
func newFileWriter(filename string, cfg ManagerConfig) (zapcore.WriteSyncer, *lumberjack.Logger) {
	_ = os.MkdirAll(filepath.Dir(filename), 0o755)
	lj := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
		LocalTime:  true,
	}
	return zapcore.AddSync(lj), lj
}
