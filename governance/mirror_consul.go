package governance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

// ConsulMirrorConfig consul 镜像配置
type ConsulMirrorConfig struct {
	Enabled    bool   `mapstructure:"enabled" json:"enabled"`
	Address    string `mapstructure:"address" json:"address"`
	Scheme     string `mapstructure:"scheme" json:"scheme"`
	Token      string `mapstructure:"token" json:"-"`
	Datacenter string `mapstructure:"datacenter" json:"datacenter"`

	// CheckTTL TTL 检查周期，镜像停止刷新后检查变为 critical
	CheckTTL time.Duration `mapstructure:"check_ttl" json:"check_ttl"`

	// DeregisterAfter 检查 critical 持续多久后 consul 自动注销
	DeregisterAfter time.Duration `mapstructure:"deregister_after" json:"deregister_after"`
}

// ConsulMirror 通过本地 agent 注册实例，状态映射为 TTL 检查结果
type ConsulMirror struct {
	client          *api.Client
	checkTTL        time.Duration
	deregisterAfter time.Duration
	logger          *logger.CtxZapLogger

	mu         sync.Mutex
	registered map[string]struct{}
}

// NewConsulMirror 创建 consul 镜像
func NewConsulMirror(cfg ConsulMirrorConfig, log *logger.CtxZapLogger) (*ConsulMirror, error) {
	if log == nil {
		log = logger.GetLogger("mirror")
	}
	def := DefaultMirrorConfig().Consul
	if cfg.CheckTTL <= 0 {
		cfg.CheckTTL = def.CheckTTL
	}
	if cfg.DeregisterAfter <= 0 {
		cfg.DeregisterAfter = def.DeregisterAfter
	}

	apiCfg := api.DefaultConfig()
	if cfg.Address != "" {
		apiCfg.Address = cfg.Address
	}
	if cfg.Scheme != "" {
		apiCfg.Scheme = cfg.Scheme
	}
	apiCfg.Token = cfg.Token
	if cfg.Datacenter != "" {
		apiCfg.Datacenter = cfg.Datacenter
	}

	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	return &ConsulMirror{
		client:          client,
		checkTTL:        cfg.CheckTTL,
		deregisterAfter: cfg.DeregisterAfter,
		logger:          log,
		registered:      make(map[string]struct{}),
	}, nil
}

// Name 镜像名
func (m *ConsulMirror) Name() string {
	return "consul"
}

// ServiceID consul 中的服务 ID（实例 ID 只在服务内唯一）
func (m *ConsulMirror) ServiceID(inst ServiceInstance) string {
	return inst.ServiceName + ":" + inst.InstanceID
}

// CheckID 实例 TTL 检查的 ID
func (m *ConsulMirror) CheckID(inst ServiceInstance) string {
	return "service:" + m.ServiceID(inst)
}

// Publish 首次注册服务，之后只更新 TTL 检查状态
func (m *ConsulMirror) Publish(ctx context.Context, inst ServiceInstance) error {
	id := m.ServiceID(inst)
	status, output := consulCheckStatus(inst.Status)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.registered[id]; !ok {
		meta := make(map[string]string, len(inst.Metadata)+1)
		for k, v := range inst.Metadata {
			meta[k] = v
		}
		meta["weight"] = fmt.Sprint(inst.Weight)

		reg := &api.AgentServiceRegistration{
			ID:      id,
			Name:    inst.ServiceName,
			Address: inst.Host,
			Port:    inst.Port,
			Tags:    inst.Tags,
			Meta:    meta,
			Check: &api.AgentServiceCheck{
				CheckID:                        m.CheckID(inst),
				TTL:                            m.checkTTL.String(),
				Status:                         status,
				DeregisterCriticalServiceAfter: m.deregisterAfter.String(),
			},
		}
		if err := m.client.Agent().ServiceRegisterOpts(reg, api.ServiceRegisterOpts{}.WithContext(ctx)); err != nil {
			return fmt.Errorf("consul register %q: %w", id, err)
		}
		m.registered[id] = struct{}{}
		m.logger.DebugCtx(ctx, "instance registered to consul", zap.String("service_id", id))
	}

	if err := m.client.Agent().UpdateTTLOpts(m.CheckID(inst), output, status, (&api.QueryOptions{}).WithContext(ctx)); err != nil {
		if strings.Contains(err.Error(), "does not have associated TTL") || strings.Contains(err.Error(), "Unknown check") {
			// agent 重启后丢失了注册，下次刷新时重新注册
			delete(m.registered, id)
		}
		return fmt.Errorf("consul update ttl %q: %w", id, err)
	}
	return nil
}

// Remove 从 agent 注销
func (m *ConsulMirror) Remove(ctx context.Context, inst ServiceInstance) error {
	id := m.ServiceID(inst)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.client.Agent().ServiceDeregisterOpts(id, (&api.QueryOptions{}).WithContext(ctx)); err != nil {
		return fmt.Errorf("consul deregister %q: %w", id, err)
	}
	delete(m.registered, id)
	return nil
}

// Close HTTP 客户端无需关闭
func (m *ConsulMirror) Close() error {
	return nil
}

func consulCheckStatus(s Status) (status, output string) {
	switch s {
	case StatusHealthy:
		return api.HealthPassing, "heartbeat ok"
	case StatusUnhealthy:
		return api.HealthCritical, "heartbeat timeout"
	case StatusMaintenance:
		return api.HealthWarning, "maintenance"
	}
	return api.HealthWarning, "awaiting first heartbeat"
}
