package errcode

import (
	"fmt"
	"sync"
)

// Registry 错误码注册表（防止错误码冲突）
type Registry struct {
	mu    sync.RWMutex
	codes map[int]string // code -> module:msgKey
}

var globalRegistry = &Registry{codes: make(map[int]string)}

// Register 注册到全局注册表，同码不同 key 时 panic
func Register(err *LayeredError) *LayeredError {
	return globalRegistry.Register(err)
}

// Register 注册错误码，相同 code 和 key 允许重复注册
func (r *Registry) Register(err *LayeredError) *LayeredError {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := err.Module() + ":" + err.MsgKey()
	if existing, ok := r.codes[err.Code()]; ok && existing != key {
		panic(fmt.Sprintf("error code conflict: code %d is already registered as %s, cannot register as %s",
			err.Code(), existing, key))
	}
	r.codes[err.Code()] = key
	return err
}

// GetAll 返回所有已注册错误码的副本
func (r *Registry) GetAll() map[int]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int]string, len(r.codes))
	for k, v := range r.codes {
		out[k] = v
	}
	return out
}

// GetAllRegisteredCodes 全局注册表快照
func GetAllRegisteredCodes() map[int]string {
	return globalRegistry.GetAll()
}
