package pool

import "errors"

var (
	// ErrPoolClosed 连接池已关闭
	ErrPoolClosed = errors.New("pool: closed")

	// ErrAcquireTimeout 等待连接超时
	ErrAcquireTimeout = errors.New("pool: acquire timeout")

	// ErrNotInUse 归还了未借出（或已归还）的连接
	ErrNotInUse = errors.New("pool: connection not in use")

	// ErrForeignConn 归还了不属于本池的连接
	ErrForeignConn = errors.New("pool: connection belongs to another pool")

	// ErrInvalidConfig 配置非法
	ErrInvalidConfig = errors.New("pool: invalid config")
)

// ConfigError 配置校验错误
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "pool config error [" + e.Field + "]: " + e.Message
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}
