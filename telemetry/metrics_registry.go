package telemetry

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/KOMKZ/go-yogan-mesh/component"
	"github.com/KOMKZ/go-yogan-mesh/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

var namespacePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// MetricsRegistry 集中式指标注册中心
// 每个 MetricsProvider 获得一个独立的 Meter（名称为 {namespace}_{provider}）
type MetricsRegistry struct {
	meterProvider metric.MeterProvider
	meters        map[string]metric.Meter
	providers     []component.MetricsProvider
	baseLabels    []attribute.KeyValue
	namespace     string
	enabled       bool
	logger        *logger.CtxZapLogger
	mu            sync.RWMutex
}

// MetricsRegistryOption 注册中心选项
type MetricsRegistryOption func(*MetricsRegistry)

// WithNamespace 设置 Meter 名前缀
func WithNamespace(namespace string) MetricsRegistryOption {
	return func(r *MetricsRegistry) {
		r.namespace = namespace
	}
}

// WithBaseLabels 设置全局标签
func WithBaseLabels(labels []attribute.KeyValue) MetricsRegistryOption {
	return func(r *MetricsRegistry) {
		r.baseLabels = labels
	}
}

// WithRegistryLogger 注入 Logger
func WithRegistryLogger(l *logger.CtxZapLogger) MetricsRegistryOption {
	return func(r *MetricsRegistry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewMetricsRegistry mp 为 nil 时使用全局 MeterProvider
func NewMetricsRegistry(mp metric.MeterProvider, opts ...MetricsRegistryOption) *MetricsRegistry {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	r := &MetricsRegistry{
		meterProvider: mp,
		meters:        make(map[string]metric.Meter),
		namespace:     "mesh",
		enabled:       true,
		logger:        logger.GetLogger("telemetry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register 为 provider 创建专属 Meter 并调用 RegisterMetrics
// 关闭了指标的 provider 静默跳过，同名 provider 只能注册一次
func (r *MetricsRegistry) Register(provider component.MetricsProvider) error {
	if provider == nil {
		return fmt.Errorf("metrics provider is nil")
	}
	if !r.IsEnabled() {
		return nil
	}
	if !provider.IsMetricsEnabled() {
		r.logger.Debug("metrics disabled for provider", zap.String("provider", provider.MetricsName()))
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.MetricsName()
	if name == "" {
		return fmt.Errorf("metrics provider name is empty")
	}
	for _, p := range r.providers {
		if p.MetricsName() == name {
			return fmt.Errorf("metrics provider %q already registered", name)
		}
	}

	if err := provider.RegisterMetrics(r.getMeterLocked(name)); err != nil {
		return fmt.Errorf("register metrics for %q failed: %w", name, err)
	}
	r.providers = append(r.providers, provider)
	r.logger.Info("📊 metrics provider registered", zap.String("provider", name))
	return nil
}

// GetMeter 获取组件的 Meter
func (r *MetricsRegistry) GetMeter(name string) metric.Meter {
	r.mu.RLock()
	if meter, ok := r.meters[name]; ok {
		r.mu.RUnlock()
		return meter
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getMeterLocked(name)
}

func (r *MetricsRegistry) getMeterLocked(name string) metric.Meter {
	if meter, ok := r.meters[name]; ok {
		return meter
	}
	meterName := name
	if r.namespace != "" {
		meterName = r.namespace + "_" + name
	}
	meter := r.meterProvider.Meter(meterName)
	r.meters[name] = meter
	return meter
}

// GetBaseLabels 全局标签副本
func (r *MetricsRegistry) GetBaseLabels() []attribute.KeyValue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]attribute.KeyValue{}, r.baseLabels...)
}

// IsEnabled 是否启用
func (r *MetricsRegistry) IsEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// SetEnabled 开关指标采集（只影响之后的 Register）
func (r *MetricsRegistry) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

// GetProviders 已注册的 provider
func (r *MetricsRegistry) GetProviders() []component.MetricsProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]component.MetricsProvider{}, r.providers...)
}

var _ component.MetricsCollector = (*MetricsRegistry)(nil)
