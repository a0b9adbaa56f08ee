package event

import "errors"

// ErrStopPropagation 监听器返回此错误时停止传播，但不视为失败
var ErrStopPropagation = errors.New("stop propagation")

// ErrDispatcherClosed 分发器已关闭
var ErrDispatcherClosed = errors.New("event dispatcher closed")
