// Package breaker 按名称隔离的熔断器
//
// 状态只允许以下迁移：
//
//	CLOSED    -> OPEN       连续失败达到阈值
//	OPEN      -> HALF_OPEN  恢复时间已过，放行探测请求
//	HALF_OPEN -> CLOSED     探测请求全部成功
//	HALF_OPEN -> OPEN       任一探测请求失败
package breaker

import "time"

// State 熔断器状态
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String 返回状态名称
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Snapshot 熔断器状态快照
type Snapshot struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	FailureCount    int       `json:"failure_count"`
	LastFailureTime time.Time `json:"last_failure_time,omitempty"`
	Rejected        int64     `json:"rejected"`
}
