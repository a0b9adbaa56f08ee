package governance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KOMKZ/go-yogan-mesh/event"
	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// MirrorConfig 外部注册中心镜像配置（只写不读，注册表仍是唯一数据源）
type MirrorConfig struct {
	// RefreshInterval 全量重推周期（续约 etcd 租约与 consul TTL 检查）
	RefreshInterval time.Duration `mapstructure:"refresh_interval" json:"refresh_interval"`

	Etcd   EtcdMirrorConfig   `mapstructure:"etcd" json:"etcd"`
	Consul ConsulMirrorConfig `mapstructure:"consul" json:"consul"`
}

// DefaultMirrorConfig 默认配置（两个镜像都不启用）
func DefaultMirrorConfig() MirrorConfig {
	return MirrorConfig{
		RefreshInterval: 10 * time.Second,
		Etcd: EtcdMirrorConfig{
			Endpoints:   []string{"127.0.0.1:2379"},
			DialTimeout: 5 * time.Second,
			Prefix:      "/mesh/services",
			LeaseTTL:    30,
		},
		Consul: ConsulMirrorConfig{
			Address:         "127.0.0.1:8500",
			Scheme:          "http",
			CheckTTL:        30 * time.Second,
			DeregisterAfter: time.Minute,
		},
	}
}

// Enabled 是否启用了任一镜像
func (c MirrorConfig) Enabled() bool {
	return c.Etcd.Enabled || c.Consul.Enabled
}

// Mirror 把注册表中的实例发布到外部注册中心
type Mirror interface {
	Name() string

	// Publish 创建或更新实例（包括状态）
	Publish(ctx context.Context, inst ServiceInstance) error

	// Remove 删除实例，不存在不是错误
	Remove(ctx context.Context, inst ServiceInstance) error

	Close() error
}

// MirrorSync 订阅注册表事件并同步到各个镜像，同时周期性全量重推
type MirrorSync struct {
	registry *Registry
	mirrors  []Mirror
	interval time.Duration
	clock    clockwork.Clock
	logger   *logger.CtxZapLogger

	scheduler gocron.Scheduler
	unsub     []event.UnsubscribeFunc
	closed    bool
}

// NewMirrorSync 创建同步器
func NewMirrorSync(registry *Registry, interval time.Duration, mirrors ...Mirror) *MirrorSync {
	if interval <= 0 {
		interval = DefaultMirrorConfig().RefreshInterval
	}
	return &MirrorSync{
		registry: registry,
		mirrors:  mirrors,
		interval: interval,
		clock:    registry.clock,
		logger:   logger.GetLogger("mirror"),
	}
}

// Attach 订阅注册表事件
func (s *MirrorSync) Attach(d *event.Dispatcher) {
	for _, name := range []string{
		EventInstanceRegistered,
		EventInstanceDeregistered,
		EventInstanceHealthy,
		EventInstanceUnhealthy,
		EventInstanceMaintenance,
		EventInstanceStatus,
		EventInstanceEvicted,
	} {
		s.unsub = append(s.unsub, d.Subscribe(name, s))
	}
}

// Handle 实现 event.Listener；镜像失败只记录日志
func (s *MirrorSync) Handle(ctx context.Context, e event.Event) error {
	ev, ok := e.(InstanceEvent)
	if !ok {
		return nil
	}

	remove := ev.Name() == EventInstanceDeregistered || ev.Name() == EventInstanceEvicted
	for _, m := range s.mirrors {
		var err error
		if remove {
			err = m.Remove(ctx, ev.Instance)
		} else {
			err = m.Publish(ctx, ev.Instance)
		}
		if err != nil {
			s.logger.WarnCtx(ctx, "⚠️ mirror sync failed",
				zap.String("mirror", m.Name()),
				zap.String("event", ev.Name()),
				zap.String("instance", ev.Instance.Key()),
				zap.Error(err))
		}
	}
	return nil
}

// Refresh 把注册表全部实例推送到所有镜像
func (s *MirrorSync) Refresh(ctx context.Context) error {
	var errs []error
	for _, inst := range s.registry.All() {
		for _, m := range s.mirrors {
			if err := m.Publish(ctx, inst); err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", m.Name(), inst.Key(), err))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.WarnCtx(ctx, "⚠️ mirror refresh incomplete", zap.Error(err))
		return err
	}
	return nil
}

// Name 组件名
func (s *MirrorSync) Name() string {
	return "mirror"
}

// Start 首次全量推送并启动周期刷新
func (s *MirrorSync) Start(ctx context.Context) error {
	if s.scheduler != nil {
		return nil
	}
	_ = s.Refresh(ctx)

	sched, err := gocron.NewScheduler(gocron.WithClock(s.clock))
	if err != nil {
		return fmt.Errorf("create mirror scheduler: %w", err)
	}
	if _, err := sched.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() { _ = s.Refresh(context.Background()) }),
		gocron.WithName("mirror-refresh"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("schedule mirror refresh: %w", err)
	}
	sched.Start()
	s.scheduler = sched

	names := make([]string, 0, len(s.mirrors))
	for _, m := range s.mirrors {
		names = append(names, m.Name())
	}
	s.logger.InfoCtx(ctx, "✅ Registry mirrors started", zap.Strings("mirrors", names))
	return nil
}

// Stop 取消订阅、停止刷新并关闭所有镜像
func (s *MirrorSync) Stop(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	for _, u := range s.unsub {
		u()
	}
	s.unsub = nil

	var errs []error
	if s.scheduler != nil {
		errs = append(errs, s.scheduler.Shutdown())
		s.scheduler = nil
	}
	for _, m := range s.mirrors {
		errs = append(errs, m.Close())
	}
	return errors.Join(errs...)
}
