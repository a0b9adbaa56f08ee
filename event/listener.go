package event

import "context"

// Listener 事件监听器
// 同步分发时返回错误会中断后续监听器
type Listener interface {
	Handle(ctx context.Context, event Event) error
}

// ListenerFunc 函数式监听器适配器
type ListenerFunc func(ctx context.Context, event Event) error

// Handle 实现 Listener
func (f ListenerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// UnsubscribeFunc 取消订阅
type UnsubscribeFunc func()

type listenerEntry struct {
	id       uint64
	listener Listener
	priority int  // 数字越小越先执行
	async    bool // 提交到协程池执行，错误不影响传播
}

// SubscribeOption 订阅选项
type SubscribeOption func(*listenerEntry)

// WithPriority 设置优先级（默认 0）
func WithPriority(priority int) SubscribeOption {
	return func(e *listenerEntry) {
		e.priority = priority
	}
}

// WithAsync 标记为异步监听器
func WithAsync() SubscribeOption {
	return func(e *listenerEntry) {
		e.async = true
	}
}
