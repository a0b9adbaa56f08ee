package governance

import (
	"context"
	"time"

	"github.com/KOMKZ/go-yogan-mesh/event"
)

// 注册中心事件名
const (
	EventInstanceRegistered   = "registry.instance.registered"
	EventInstanceDeregistered = "registry.instance.deregistered"
	EventInstanceHealthy      = "registry.instance.healthy"
	EventInstanceUnhealthy    = "registry.instance.unhealthy"
	EventInstanceMaintenance  = "registry.instance.maintenance"
	EventInstanceEvicted      = "registry.instance.evicted"
	EventInstanceStatus       = "registry.instance.status_changed"
)

// Publisher 事件发布接口（event.Dispatcher 实现）
type Publisher interface {
	DispatchAsync(ctx context.Context, e event.Event)
}

// InstanceEvent 实例生命周期事件
type InstanceEvent struct {
	event.BaseEvent
	Instance ServiceInstance `json:"instance"`
	From     Status          `json:"from,omitempty"`
	To       Status          `json:"to,omitempty"`
}

func newInstanceEvent(name string, inst ServiceInstance, at time.Time) InstanceEvent {
	return InstanceEvent{
		BaseEvent: event.NewEvent(name, at),
		Instance:  inst.Clone(),
	}
}

func statusEventName(to Status) string {
	switch to {
	case StatusHealthy:
		return EventInstanceHealthy
	case StatusUnhealthy:
		return EventInstanceUnhealthy
	case StatusMaintenance:
		return EventInstanceMaintenance
	}
	return EventInstanceStatus
}
