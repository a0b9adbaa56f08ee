// Package errcode 分层错误码
// 错误码格式：MMBBBB（MM = 模块码 2 位，BBBB = 业务码 4 位）
package errcode

import (
	"errors"
	"fmt"
	"net/http"
)

// LayeredError 分层错误码，支持错误链、上下文数据与 HTTP 状态码映射
type LayeredError struct {
	module     string
	code       int
	msgKey     string
	msg        string
	httpStatus int
	data       map[string]interface{}
	cause      error
}

// New 创建分层错误码
// moduleCode: 模块码（10-99）；businessCode: 业务码（0001-9999）
// httpStatus 可选，默认 200
func New(moduleCode, businessCode int, module, msgKey, msg string, httpStatus ...int) *LayeredError {
	status := http.StatusOK
	if len(httpStatus) > 0 {
		status = httpStatus[0]
	}
	return &LayeredError{
		module:     module,
		code:       moduleCode*10000 + businessCode,
		msgKey:     msgKey,
		msg:        msg,
		httpStatus: status,
		data:       make(map[string]interface{}),
	}
}

func (e *LayeredError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *LayeredError) Code() int                    { return e.code }
func (e *LayeredError) Module() string               { return e.module }
func (e *LayeredError) MsgKey() string               { return e.msgKey }
func (e *LayeredError) Message() string              { return e.msg }
func (e *LayeredError) HTTPStatus() int              { return e.httpStatus }
func (e *LayeredError) Data() map[string]interface{} { return e.data }
func (e *LayeredError) Unwrap() error                { return e.cause }

// WithMsg 替换消息（返回新实例）
func (e *LayeredError) WithMsg(msg string) *LayeredError {
	clone := *e
	clone.msg = msg
	return &clone
}

// WithMsgf 格式化替换消息（返回新实例）
func (e *LayeredError) WithMsgf(format string, args ...interface{}) *LayeredError {
	return e.WithMsg(fmt.Sprintf(format, args...))
}

// WithData 添加上下文数据（返回新实例）
func (e *LayeredError) WithData(key string, value interface{}) *LayeredError {
	clone := *e
	clone.data = make(map[string]interface{}, len(e.data)+1)
	for k, v := range e.data {
		clone.data[k] = v
	}
	clone.data[key] = value
	return &clone
}

// Wrap 包装原始错误（返回新实例）
func (e *LayeredError) Wrap(cause error) *LayeredError {
	if cause == nil {
		return e
	}
	clone := *e
	clone.cause = cause
	return &clone
}

// Is 按错误码判等，支持 errors.Is
func (e *LayeredError) Is(target error) bool {
	t, ok := target.(*LayeredError)
	if !ok {
		return false
	}
	return e.code == t.code
}

// As 从错误链中取出 LayeredError
func As(err error) (*LayeredError, bool) {
	var le *LayeredError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}
