// Package event 进程内事件分发，可选按路由转发到 Kafka
package event

import "time"

// Event 事件接口
type Event interface {
	// Name 事件名（唯一标识，如 "registry.instance.registered"）
	Name() string
}

// BaseEvent 事件基类，可嵌入具体事件结构体
type BaseEvent struct {
	EventName  string    `json:"event_name"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewEvent 创建基础事件
func NewEvent(name string, at time.Time) BaseEvent {
	return BaseEvent{EventName: name, OccurredAt: at}
}

// Name 返回事件名
func (e BaseEvent) Name() string {
	return e.EventName
}
