package governance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// ErrRegistryStopped 注册中心已停止后台循环
var ErrRegistryStopped = errors.New("governance: registry stopped")

type entry struct {
	inst      ServiceInstance
	seq       uint64 // 首次注册顺序，替换注册时保留
	lastProbe time.Time
}

// Registry 内存服务注册表
//
// 状态机：UNKNOWN -> HEALTHY（心跳或探测通过）-> UNHEALTHY（超过 DeregisterAfter 无心跳）
// -> 剔除（超过 2 倍 DeregisterAfter）。MAINTENANCE 只能通过 SetStatus 设置或解除，
// 健康检查不会改变它，但心跳停止后仍会被剔除。
type Registry struct {
	config    RegistryConfig
	clock     clockwork.Clock
	logger    *logger.CtxZapLogger
	publisher Publisher
	metrics   *OTelMetrics

	probeMu sync.RWMutex
	prober  *Prober

	mu       sync.RWMutex
	services map[string]map[string]*entry
	seq      uint64

	lifeMu     sync.Mutex
	scheduler  gocron.Scheduler
	ownsProber bool
	stopped    bool
}

// RegistryOption 注册表选项
type RegistryOption func(*Registry)

// WithClock 注入时钟（测试用 clockwork.NewFakeClock）
func WithClock(c clockwork.Clock) RegistryOption {
	return func(r *Registry) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithLogger 注入 Logger
func WithLogger(l *logger.CtxZapLogger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithPublisher 实例事件发布到事件分发器
func WithPublisher(p Publisher) RegistryOption {
	return func(r *Registry) { r.publisher = p }
}

// WithProber 使用外部探测器（未设置时 Start 会按配置创建）
func WithProber(p *Prober) RegistryOption {
	return func(r *Registry) { r.prober = p }
}

// NewRegistry 创建注册表（后台循环在 Start 中启动）
func NewRegistry(cfg RegistryConfig, opts ...RegistryOption) (*Registry, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Registry{
		config:   cfg,
		clock:    clockwork.NewRealClock(),
		logger:   logger.GetLogger("registry"),
		services: make(map[string]map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	if cfg.MetricsEnabled {
		r.metrics = NewOTelMetrics(true)
		r.metrics.setCountFunc(r.countByStatus)
	}
	return r, nil
}

// Config 当前配置
func (r *Registry) Config() RegistryConfig {
	return r.config
}

// Register 插入或替换 (ServiceName, InstanceID) 对应的实例，重复注册幂等
//
// 新实例状态为 UNKNOWN，首次心跳或探测通过后才会被发现。
// 替换已有实例时保留 LastHeartbeat；仍在 DeregisterAfter 内的 HEALTHY 实例保持 HEALTHY，
// MAINTENANCE 保持不变。
func (r *Registry) Register(inst ServiceInstance) (bool, error) {
	if err := inst.Validate(); err != nil {
		return false, err
	}
	inst.normalize()
	now := r.clock.Now()
	inst.Status = StatusUnknown
	inst.RegisteredAt = now
	inst.LastHeartbeat = time.Time{}

	r.mu.Lock()
	bucket, ok := r.services[inst.ServiceName]
	if !ok {
		bucket = make(map[string]*entry)
		r.services[inst.ServiceName] = bucket
	}
	var seq uint64
	old, replaced := bucket[inst.InstanceID]
	if replaced {
		seq = old.seq
		inst.LastHeartbeat = old.inst.LastHeartbeat
		switch old.inst.Status {
		case StatusMaintenance:
			inst.Status = StatusMaintenance
		case StatusHealthy:
			if now.Sub(old.inst.LastHeartbeat) <= r.config.For(inst.ServiceName).DeregisterAfter {
				inst.Status = StatusHealthy
			}
		}
	} else {
		r.seq++
		seq = r.seq
	}
	bucket[inst.InstanceID] = &entry{inst: inst, seq: seq}
	snapshot := inst.Clone()
	r.mu.Unlock()

	r.logger.Info("✅ Instance registered",
		zap.String("service", inst.ServiceName),
		zap.String("instance", inst.InstanceID),
		zap.String("address", inst.Address()),
		zap.Bool("replaced", replaced))
	r.emit(newInstanceEvent(EventInstanceRegistered, snapshot, now))
	return true, nil
}

// Deregister 移除实例，不存在时返回 false；服务下没有实例时删除服务
func (r *Registry) Deregister(serviceName, instanceID string) bool {
	r.mu.Lock()
	e := r.lookupLocked(serviceName, instanceID)
	if e == nil {
		r.mu.Unlock()
		return false
	}
	r.removeLocked(serviceName, instanceID)
	snapshot := e.inst.Clone()
	r.mu.Unlock()

	r.logger.Info("👋 Instance deregistered",
		zap.String("service", serviceName),
		zap.String("instance", instanceID))
	r.emit(newInstanceEvent(EventInstanceDeregistered, snapshot, r.clock.Now()))
	return true
}

// Heartbeat 以当前时间续约，实例未知时返回 false
func (r *Registry) Heartbeat(serviceName, instanceID string) bool {
	return r.HeartbeatAt(serviceName, instanceID, r.clock.Now())
}

// HeartbeatAt 以给定时间续约；不晚于已记录心跳的时间戳被忽略（仍返回 true）
func (r *Registry) HeartbeatAt(serviceName, instanceID string, at time.Time) bool {
	r.mu.Lock()
	e := r.lookupLocked(serviceName, instanceID)
	if e == nil {
		r.mu.Unlock()
		return false
	}
	if !at.After(e.inst.LastHeartbeat) {
		r.mu.Unlock()
		return true
	}
	e.inst.LastHeartbeat = at

	var events []InstanceEvent
	if e.inst.Status != StatusHealthy && e.inst.Status != StatusMaintenance {
		events = append(events, r.transitionLocked(e, StatusHealthy, at))
	}
	r.mu.Unlock()

	r.emit(events...)
	return true
}

// SetStatus 手动设置状态（主要用于进入/退出 MAINTENANCE）
func (r *Registry) SetStatus(serviceName, instanceID string, status Status) (bool, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return false, err
	}

	r.mu.Lock()
	e := r.lookupLocked(serviceName, instanceID)
	if e == nil {
		r.mu.Unlock()
		return false, nil
	}
	var events []InstanceEvent
	if e.inst.Status != status {
		events = append(events, r.transitionLocked(e, status, r.clock.Now()))
	}
	r.mu.Unlock()

	r.emit(events...)
	return true, nil
}

// GetInstance 查询单个实例
func (r *Registry) GetInstance(serviceName, instanceID string) (ServiceInstance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e := r.lookupLocked(serviceName, instanceID)
	if e == nil {
		return ServiceInstance{}, false
	}
	return e.inst.Clone(), true
}

// GetInstances 服务下所有实例（任意状态，按注册顺序），未知服务返回空
func (r *Registry) GetInstances(serviceName string) []ServiceInstance {
	return r.filter(serviceName, func(ServiceInstance) bool { return true })
}

// GetHealthyInstances 服务下状态为 HEALTHY 的实例（按注册顺序）
func (r *Registry) GetHealthyInstances(serviceName string) []ServiceInstance {
	return r.filter(serviceName, func(i ServiceInstance) bool { return i.Status == StatusHealthy })
}

func (r *Registry) filter(serviceName string, keep func(ServiceInstance) bool) []ServiceInstance {
	r.mu.RLock()
	bucket := r.services[serviceName]
	entries := make([]*entry, 0, len(bucket))
	for _, e := range bucket {
		if keep(e.inst) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]ServiceInstance, len(entries))
	for i, e := range entries {
		out[i] = e.inst.Clone()
	}
	r.mu.RUnlock()
	return out
}

// Services 已注册的服务名（排序）
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.services))
	for name := range r.services {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// All 所有实例（按服务名、注册顺序）
func (r *Registry) All() []ServiceInstance {
	var out []ServiceInstance
	for _, name := range r.Services() {
		out = append(out, r.GetInstances(name)...)
	}
	return out
}

// Count 实例总数
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, bucket := range r.services {
		n += len(bucket)
	}
	return n
}

func (r *Registry) countByStatus() map[string]map[Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]map[Status]int, len(r.services))
	for name, bucket := range r.services {
		counts := make(map[Status]int)
		for _, e := range bucket {
			counts[e.inst.Status]++
		}
		out[name] = counts
	}
	return out
}

// CheckHealth 执行一轮健康检查
//
// 心跳超过 DeregisterAfter 的实例标记为 UNHEALTHY；配置了 HealthCheckURL 且到期的实例发起
// HTTP 探测，通过视为一次心跳，失败标记为 UNHEALTHY。MAINTENANCE 实例跳过。
func (r *Registry) CheckHealth(ctx context.Context) {
	now := r.clock.Now()
	prober := r.currentProber()
	var (
		events  []InstanceEvent
		targets []ProbeTarget
		probed  = make(map[string]*entry)
	)

	r.mu.Lock()
	for name, bucket := range r.services {
		sc := r.config.For(name)
		for _, e := range bucket {
			if e.inst.Status == StatusMaintenance {
				continue
			}
			if now.Sub(e.inst.LastSeen()) > sc.DeregisterAfter && e.inst.Status != StatusUnhealthy {
				events = append(events, r.transitionLocked(e, StatusUnhealthy, now))
				r.logger.WarnCtx(ctx, "💔 Instance heartbeat timeout",
					zap.String("service", name),
					zap.String("instance", e.inst.InstanceID),
					zap.Time("last_seen", e.inst.LastSeen()))
			}
			if prober != nil && e.inst.HealthCheckURL != "" &&
				(e.lastProbe.IsZero() || now.Sub(e.lastProbe) >= sc.HealthCheckInterval) {
				e.lastProbe = now
				key := e.inst.Key()
				targets = append(targets, ProbeTarget{Key: key, URL: e.inst.HealthCheckURL})
				probed[key] = e
			}
		}
	}
	r.mu.Unlock()
	r.emit(events...)

	if len(targets) == 0 {
		return
	}
	results := prober.ProbeAll(ctx, targets)

	events = events[:0]
	done := r.clock.Now()
	r.mu.Lock()
	for _, res := range results {
		e := probed[res.Key]
		// 探测期间被注销或重新注册的实例不再处理
		if r.lookupLocked(e.inst.ServiceName, e.inst.InstanceID) != e || e.inst.Status == StatusMaintenance {
			continue
		}
		if res.Err == nil {
			if done.After(e.inst.LastHeartbeat) {
				e.inst.LastHeartbeat = done
			}
			if e.inst.Status != StatusHealthy {
				events = append(events, r.transitionLocked(e, StatusHealthy, done))
			}
			continue
		}
		r.logger.WarnCtx(ctx, "❌ Instance probe failed",
			zap.String("service", e.inst.ServiceName),
			zap.String("instance", e.inst.InstanceID),
			zap.Error(res.Err))
		if e.inst.Status != StatusUnhealthy {
			events = append(events, r.transitionLocked(e, StatusUnhealthy, done))
		}
	}
	r.mu.Unlock()
	r.emit(events...)
}

// Cleanup 剔除超过 2 倍 DeregisterAfter 没有心跳的实例（包括 MAINTENANCE），返回剔除数
func (r *Registry) Cleanup(ctx context.Context) int {
	now := r.clock.Now()
	var events []InstanceEvent

	r.mu.Lock()
	for name, bucket := range r.services {
		limit := 2 * r.config.For(name).DeregisterAfter
		for id, e := range bucket {
			if now.Sub(e.inst.LastSeen()) > limit {
				r.removeLocked(name, id)
				events = append(events, newInstanceEvent(EventInstanceEvicted, e.inst, now))
			}
		}
	}
	r.mu.Unlock()

	for _, ev := range events {
		r.logger.InfoCtx(ctx, "🗑️ Instance evicted",
			zap.String("service", ev.Instance.ServiceName),
			zap.String("instance", ev.Instance.InstanceID),
			zap.Time("last_seen", ev.Instance.LastSeen()))
	}
	r.emit(events...)
	return len(events)
}

func (r *Registry) currentProber() *Prober {
	r.probeMu.RLock()
	defer r.probeMu.RUnlock()
	return r.prober
}

func (r *Registry) lookupLocked(serviceName, instanceID string) *entry {
	if bucket, ok := r.services[serviceName]; ok {
		return bucket[instanceID]
	}
	return nil
}

func (r *Registry) removeLocked(serviceName, instanceID string) {
	bucket := r.services[serviceName]
	delete(bucket, instanceID)
	if len(bucket) == 0 {
		delete(r.services, serviceName)
	}
}

func (r *Registry) transitionLocked(e *entry, to Status, at time.Time) InstanceEvent {
	from := e.inst.Status
	e.inst.Status = to
	ev := newInstanceEvent(statusEventName(to), e.inst, at)
	ev.From, ev.To = from, to
	r.logger.Debug("instance status changed",
		zap.String("service", e.inst.ServiceName),
		zap.String("instance", e.inst.InstanceID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return ev
}

func (r *Registry) emit(events ...InstanceEvent) {
	for _, ev := range events {
		if r.metrics != nil {
			r.metrics.RecordEvent(context.Background(), ev.Instance.ServiceName, ev.Name())
		}
		if r.publisher != nil {
			r.publisher.DispatchAsync(context.Background(), ev)
		}
	}
}

// Metrics 指标提供者（未启用时为 nil）
func (r *Registry) Metrics() *OTelMetrics {
	return r.metrics
}

// Name 组件名
func (r *Registry) Name() string {
	return "registry"
}

// Start 启动健康检查与剔除循环，重复调用无效果
func (r *Registry) Start(ctx context.Context) error {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()
	if r.scheduler != nil {
		return nil
	}

	if r.currentProber() == nil {
		p, err := NewProber(r.config.ProbeWorkers, r.config.ProbeTimeout, r.logger)
		if err != nil {
			return err
		}
		r.probeMu.Lock()
		r.prober = p
		r.probeMu.Unlock()
		r.ownsProber = true
	}

	s, err := gocron.NewScheduler(gocron.WithClock(r.clock))
	if err != nil {
		return fmt.Errorf("create registry scheduler: %w", err)
	}
	jobs := []struct {
		name     string
		interval time.Duration
		run      func()
	}{
		{"registry-health-check", r.config.HealthCheckInterval, func() { r.CheckHealth(context.Background()) }},
		{"registry-cleanup", r.config.CleanupInterval, func() { r.Cleanup(context.Background()) }},
	}
	for _, j := range jobs {
		if _, err := s.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(j.run),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			_ = s.Shutdown()
			return fmt.Errorf("schedule %s: %w", j.name, err)
		}
	}
	s.Start()
	r.scheduler = s
	r.stopped = false

	r.logger.InfoCtx(ctx, "✅ Registry loops started",
		zap.Duration("health_check_interval", r.config.HealthCheckInterval),
		zap.Duration("cleanup_interval", r.config.CleanupInterval))
	return nil
}

// Stop 停止后台循环并等待正在执行的任务结束
func (r *Registry) Stop(ctx context.Context) error {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()
	if r.scheduler == nil {
		return nil
	}

	err := r.scheduler.Shutdown()
	r.scheduler = nil
	r.stopped = true
	if r.ownsProber {
		r.probeMu.Lock()
		p := r.prober
		r.prober = nil
		r.probeMu.Unlock()
		p.Release()
		r.ownsProber = false
	}
	r.logger.InfoCtx(ctx, "Registry loops stopped")
	return err
}

// Check Stop 之后视为不健康
func (r *Registry) Check(ctx context.Context) error {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()
	if r.stopped {
		return ErrRegistryStopped
	}
	return nil
}
