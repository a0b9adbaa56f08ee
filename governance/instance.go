package governance

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"
)

// Status 实例状态
type Status string

const (
	StatusUnknown     Status = "UNKNOWN"
	StatusHealthy     Status = "HEALTHY"
	StatusUnhealthy   Status = "UNHEALTHY"
	StatusMaintenance Status = "MAINTENANCE"
)

// ParseStatus 解析状态（大小写不敏感）
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusUnknown, StatusHealthy, StatusUnhealthy, StatusMaintenance:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// ServiceInstance 服务实例
//
// (ServiceName, InstanceID) 全局唯一。Registry 返回的都是副本，修改不影响注册表。
type ServiceInstance struct {
	ServiceName    string            `json:"service_name"`
	InstanceID     string            `json:"instance_id"`
	Host           string            `json:"host"`
	Port           int               `json:"port"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	Weight         int               `json:"weight"`
	HealthCheckURL string            `json:"health_check_url,omitempty"`

	Status        Status    `json:"status"`
	RegisteredAt  time.Time `json:"registered_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"` // 零值表示注册后尚无心跳
}

// Address host:port
func (i ServiceInstance) Address() string {
	return FormatServiceAddress(i.Host, i.Port)
}

// Key 注册表内的唯一键
func (i ServiceInstance) Key() string {
	return i.ServiceName + "/" + i.InstanceID
}

// HasTags 是否包含全部给定标签
func (i ServiceInstance) HasTags(tags ...string) bool {
	for _, t := range tags {
		if !slices.Contains(i.Tags, t) {
			return false
		}
	}
	return true
}

// LastSeen 最近一次存活证明：心跳时间，无心跳时为注册时间
func (i ServiceInstance) LastSeen() time.Time {
	if i.LastHeartbeat.After(i.RegisteredAt) {
		return i.LastHeartbeat
	}
	return i.RegisteredAt
}

// Clone 深拷贝
func (i ServiceInstance) Clone() ServiceInstance {
	out := i
	out.Metadata = maps.Clone(i.Metadata)
	out.Tags = slices.Clone(i.Tags)
	return out
}

// Validate 校验必填字段
func (i ServiceInstance) Validate() error {
	if strings.TrimSpace(i.ServiceName) == "" {
		return ErrInvalidServiceName
	}
	if strings.TrimSpace(i.InstanceID) == "" {
		return ErrInvalidInstanceID
	}
	if i.Port <= 0 || i.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, i.Port)
	}
	if i.Weight < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWeight, i.Weight)
	}
	return nil
}

// normalize 标签去重排序，权重默认 1
func (i *ServiceInstance) normalize() {
	if i.Weight == 0 {
		i.Weight = 1
	}
	if len(i.Tags) > 0 {
		tags := slices.Clone(i.Tags)
		sort.Strings(tags)
		i.Tags = slices.Compact(tags)
	}
	i.Metadata = maps.Clone(i.Metadata)
}
