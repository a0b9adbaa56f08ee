package breaker

import (
	"context"

	"github.com/KOMKZ/go-yogan-mesh/event"
)

// 事件名
const (
	EventStateChanged = "breaker.state_changed"
	EventCallRejected = "breaker.call_rejected"
)

// Publisher 事件发布接口（event.Dispatcher 实现）
type Publisher interface {
	DispatchAsync(ctx context.Context, e event.Event)
}

// StateChangedEvent 状态变化事件
type StateChangedEvent struct {
	event.BaseEvent
	Breaker string `json:"breaker"`
	From    string `json:"from"`
	To      string `json:"to"`
	Reason  string `json:"reason"`
}

// RejectedEvent 调用被拒绝事件
type RejectedEvent struct {
	event.BaseEvent
	Breaker string `json:"breaker"`
	State   string `json:"state"`
}
