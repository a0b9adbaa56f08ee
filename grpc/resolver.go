package grpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/KOMKZ/go-yogan-mesh/event"
	"github.com/KOMKZ/go-yogan-mesh/governance"
	"github.com/KOMKZ/go-yogan-mesh/logger"
	"go.uber.org/zap"
	"google.golang.org/grpc/attributes"
	"google.golang.org/grpc/resolver"
)

// Scheme 网格解析器的 target scheme：mesh:///<service>
const Scheme = "mesh"

// Target 服务名对应的 dial target
func Target(service string) string {
	return Scheme + ":///" + service
}

type weightKey struct{}

// InstanceWeight 解析结果地址上携带的实例权重
func InstanceWeight(addr resolver.Address) int {
	if w, ok := addr.BalancerAttributes.Value(weightKey{}).(int); ok {
		return w
	}
	return 1
}

// instanceEvents 会改变健康实例集合的注册表事件
var instanceEvents = []string{
	governance.EventInstanceRegistered,
	governance.EventInstanceDeregistered,
	governance.EventInstanceHealthy,
	governance.EventInstanceUnhealthy,
	governance.EventInstanceMaintenance,
	governance.EventInstanceEvicted,
}

// ResolverBuilder 基于网格服务发现的 gRPC 解析器
// 订阅注册表事件，实例集合变化时推送新的地址列表
type ResolverBuilder struct {
	discovery *governance.Discovery
	events    *event.Dispatcher
	tags      []string
	logger    *logger.CtxZapLogger
}

// NewResolverBuilder 创建解析器；tags 非空时只解析带全部标签的实例
func NewResolverBuilder(discovery *governance.Discovery, events *event.Dispatcher, log *logger.CtxZapLogger, tags ...string) *ResolverBuilder {
	if log == nil {
		log = logger.GetLogger("grpc")
	}
	return &ResolverBuilder{discovery: discovery, events: events, tags: tags, logger: log}
}

// Scheme 实现 resolver.Builder
func (b *ResolverBuilder) Scheme() string {
	return Scheme
}

// Build 实现 resolver.Builder
func (b *ResolverBuilder) Build(target resolver.Target, cc resolver.ClientConn, _ resolver.BuildOptions) (resolver.Resolver, error) {
	service := target.Endpoint()
	if service == "" {
		return nil, fmt.Errorf("mesh resolver: empty service name in target %q", target.URL.String())
	}

	r := &meshResolver{
		service:   service,
		tags:      b.tags,
		discovery: b.discovery,
		cc:        cc,
		logger:    b.logger.With(zap.String("service", service)),
	}
	if b.events != nil {
		listener := event.ListenerFunc(func(ctx context.Context, e event.Event) error {
			if ie, ok := e.(governance.InstanceEvent); ok && ie.Instance.ServiceName == service {
				r.refresh(true)
			}
			return nil
		})
		for _, name := range instanceEvents {
			r.unsub = append(r.unsub, b.events.Subscribe(name, listener, event.WithPriority(10)))
		}
	}
	r.refresh(false)
	return r, nil
}

type meshResolver struct {
	service   string
	tags      []string
	discovery *governance.Discovery
	cc        resolver.ClientConn
	logger    *logger.CtxZapLogger
	unsub     []event.UnsubscribeFunc

	mu     sync.Mutex
	closed bool
}

// refresh 推送当前健康实例；invalidate 为 true 时先清掉发现缓存
func (r *meshResolver) refresh(invalidate bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if invalidate {
		r.discovery.Invalidate(r.service)
	}

	instances := r.discovery.DiscoverAll(context.Background(), r.service, r.tags...)
	if len(instances) == 0 {
		r.cc.ReportError(fmt.Errorf("no healthy instance for service %q", r.service))
		return
	}

	addrs := make([]resolver.Address, 0, len(instances))
	for _, inst := range instances {
		addrs = append(addrs, resolver.Address{
			Addr:               inst.Address(),
			ServerName:         r.service,
			BalancerAttributes: attributes.New(weightKey{}, inst.Weight),
		})
	}
	if err := r.cc.UpdateState(resolver.State{Addresses: addrs}); err != nil {
		r.logger.Warn("update resolver state failed", zap.Error(err))
		return
	}
	r.logger.Debug("🔄 gRPC addresses updated", zap.Int("count", len(addrs)))
}

// ResolveNow 实现 resolver.Resolver
func (r *meshResolver) ResolveNow(resolver.ResolveNowOptions) {
	r.refresh(true)
}

// Close 实现 resolver.Resolver
func (r *meshResolver) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	for _, unsub := range r.unsub {
		unsub()
	}
}
