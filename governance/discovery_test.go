package governance

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticSource 可替换实例列表的 InstanceSource，并统计查询次数
type staticSource struct {
	mu        sync.Mutex
	instances map[string][]ServiceInstance
	calls     atomic.Int32
}

func (s *staticSource) GetHealthyInstances(serviceName string) []ServiceInstance {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ServiceInstance(nil), s.instances[serviceName]...)
}

func (s *staticSource) set(serviceName string, instances ...ServiceInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.instances == nil {
		s.instances = make(map[string][]ServiceInstance)
	}
	s.instances[serviceName] = instances
}

func healthy(service, id string, port, weight int, tags ...string) ServiceInstance {
	return ServiceInstance{
		ServiceName: service,
		InstanceID:  id,
		Host:        "10.0.0.1",
		Port:        port,
		Weight:      weight,
		Tags:        tags,
		Status:      StatusHealthy,
	}
}

func newTestDiscovery(t *testing.T, src InstanceSource, opts ...DiscoveryOption) *Discovery {
	t.Helper()
	opts = append([]DiscoveryOption{WithDiscoveryLogger(logger.NewNop())}, opts...)
	d, err := NewDiscovery(src, DiscoveryConfig{}, opts...)
	require.NoError(t, err)
	return d
}

func pick(t *testing.T, d *Discovery, service, strategy string, n int) []string {
	t.Helper()
	out := make([]string, 0, n)
	for range n {
		inst, err := d.Discover(context.Background(), service, strategy)
		require.NoError(t, err)
		require.NotNil(t, inst)
		out = append(out, inst.InstanceID)
	}
	return out
}

func TestDiscovery_RoundRobin(t *testing.T) {
	src := &staticSource{}
	src.set("svc", healthy("svc", "a", 1, 1), healthy("svc", "b", 2, 1), healthy("svc", "c", 3, 1))
	d := newTestDiscovery(t, src)

	assert.Equal(t, []string{"a", "b", "c", "a"}, pick(t, d, "svc", StrategyRoundRobin, 4))
}

func TestDiscovery_WithRegistry(t *testing.T) {
	r, _ := newTestRegistry(t)
	for i, id := range []string{"a", "b", "c"} {
		_, err := r.Register(instance("svc", id, 8000+i))
		require.NoError(t, err)
	}
	r.Heartbeat("svc", "a")
	r.Heartbeat("svc", "c")

	d := newTestDiscovery(t, r)
	// UNKNOWN 状态的 b 不可发现
	assert.Equal(t, []string{"a", "c", "a"}, pick(t, d, "svc", "", 3))
}

func TestDiscovery_NoInstances(t *testing.T) {
	d := newTestDiscovery(t, &staticSource{})

	inst, err := d.Discover(context.Background(), "missing", StrategyRandom)
	assert.NoError(t, err)
	assert.Nil(t, inst)
	assert.Empty(t, d.DiscoverAll(context.Background(), "missing"))
}

func TestDiscovery_InvalidStrategy(t *testing.T) {
	src := &staticSource{}
	src.set("svc", healthy("svc", "a", 1, 1))
	d := newTestDiscovery(t, src)

	inst, err := d.Discover(context.Background(), "svc", "fastest")
	assert.ErrorIs(t, err, ErrInvalidStrategy)
	assert.Nil(t, inst)

	_, err = NewDiscovery(src, DiscoveryConfig{DefaultStrategy: "fastest"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDiscovery_Tags(t *testing.T) {
	src := &staticSource{}
	src.set("svc",
		healthy("svc", "a", 1, 1, "canary"),
		healthy("svc", "b", 2, 1, "canary", "zone-a"),
		healthy("svc", "c", 3, 1, "zone-a"))
	d := newTestDiscovery(t, src)
	ctx := context.Background()

	tests := []struct {
		name string
		tags []string
		want []string
	}{
		{"无标签返回全部", nil, []string{"a", "b", "c"}},
		{"单个标签", []string{"canary"}, []string{"a", "b"}},
		{"必须包含全部标签", []string{"canary", "zone-a"}, []string{"b"}},
		{"无匹配", []string{"zone-b"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := []string{}
			for _, inst := range d.DiscoverAll(ctx, "svc", tt.tags...) {
				ids = append(ids, inst.InstanceID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	inst, err := d.Discover(ctx, "svc", StrategyRoundRobin, "zone-b")
	assert.NoError(t, err)
	assert.Nil(t, inst)
}

func TestDiscovery_CacheTTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	src := &staticSource{}
	src.set("svc", healthy("svc", "a", 1, 1))
	d, err := NewDiscovery(src, DiscoveryConfig{CacheTTL: 5 * time.Second},
		WithDiscoveryClock(clock), WithDiscoveryLogger(logger.NewNop()))
	require.NoError(t, err)
	ctx := context.Background()

	require.Len(t, d.DiscoverAll(ctx, "svc"), 1)
	src.set("svc", healthy("svc", "a", 1, 1), healthy("svc", "b", 2, 1))

	// TTL 内返回缓存
	clock.Advance(4 * time.Second)
	assert.Len(t, d.DiscoverAll(ctx, "svc"), 1)
	assert.Equal(t, int32(1), src.calls.Load())

	clock.Advance(time.Second)
	assert.Len(t, d.DiscoverAll(ctx, "svc"), 2)
	assert.Equal(t, int32(2), src.calls.Load())

	src.set("svc")
	d.Invalidate("svc")
	assert.Empty(t, d.DiscoverAll(ctx, "svc"))

	src.set("svc", healthy("svc", "a", 1, 1))
	d.InvalidateAll()
	assert.Len(t, d.DiscoverAll(ctx, "svc"), 1)
}

func TestDiscovery_DiscoverAllReturnsCopy(t *testing.T) {
	src := &staticSource{}
	src.set("svc", healthy("svc", "a", 1, 1))
	d, err := NewDiscovery(src, DiscoveryConfig{CacheTTL: time.Minute}, WithDiscoveryLogger(logger.NewNop()))
	require.NoError(t, err)

	all := d.DiscoverAll(context.Background(), "svc")
	all[0].InstanceID = "mutated"
	again := d.DiscoverAll(context.Background(), "svc")
	assert.Equal(t, "a", again[0].InstanceID)
}

func TestDiscovery_DiscoverReturnsDeepCopy(t *testing.T) {
	src := &staticSource{}
	inst := healthy("svc", "a", 1, 1, "v1")
	inst.Metadata = map[string]string{"zone": "a"}
	src.set("svc", inst)
	d, err := NewDiscovery(src, DiscoveryConfig{CacheTTL: time.Minute}, WithDiscoveryLogger(logger.NewNop()))
	require.NoError(t, err)
	ctx := context.Background()

	got, err := d.Discover(ctx, "svc", StrategyRoundRobin)
	require.NoError(t, err)
	require.NotNil(t, got)
	got.Metadata["zone"] = "mutated"
	got.Tags[0] = "mutated"

	// 缓存里的实例不受调用方修改影响
	again, err := d.Discover(ctx, "svc", StrategyRoundRobin, "v1")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "a", again.Metadata["zone"])
	assert.Equal(t, []string{"v1"}, again.Tags)

	all := d.DiscoverAll(ctx, "svc")
	all[0].Metadata["zone"] = "mutated"
	assert.Equal(t, "a", d.DiscoverAll(ctx, "svc")[0].Metadata["zone"])
}

func TestDiscovery_LeastConnections(t *testing.T) {
	src := &staticSource{}
	a, b, c := healthy("svc", "a", 1, 1), healthy("svc", "b", 2, 1), healthy("svc", "c", 3, 1)
	src.set("svc", a, b, c)
	counter := NewConnectionCounter()
	d := newTestDiscovery(t, src, WithConnectionCounter(counter))
	require.Same(t, counter, d.ConnectionCounter())

	// 全部为 0 时取注册顺序第一个
	assert.Equal(t, []string{"a"}, pick(t, d, "svc", StrategyLeastConnections, 1))

	counter.ConnAcquired(a.Address())
	counter.ConnAcquired(a.Address())
	counter.ConnAcquired(c.Address())
	assert.Equal(t, []string{"b"}, pick(t, d, "svc", StrategyLeastConnections, 1))

	counter.ConnAcquired(b.Address())
	counter.ConnAcquired(b.Address())
	assert.Equal(t, []string{"c"}, pick(t, d, "svc", "least-connections", 1))

	counter.ConnReleased(a.Address())
	counter.ConnReleased(a.Address())
	assert.Equal(t, []string{"a"}, pick(t, d, "svc", StrategyLeastConnections, 1))
}

func TestDiscovery_WeightedRoundRobin(t *testing.T) {
	src := &staticSource{}
	src.set("svc", healthy("svc", "a", 1, 5), healthy("svc", "b", 2, 1), healthy("svc", "c", 3, 1))
	d := newTestDiscovery(t, src)

	assert.Equal(t, []string{"a", "a", "b", "a", "c", "a", "a"},
		pick(t, d, "svc", StrategyWeightedRoundRobin, 7))

	// 一个完整周期内各实例被选中的次数与权重成正比
	counts := map[string]int{}
	for _, id := range pick(t, d, "svc", StrategyWeightedRoundRobin, 70) {
		counts[id]++
	}
	assert.Equal(t, map[string]int{"a": 50, "b": 10, "c": 10}, counts)
}

func TestDiscovery_RandomIsDeterministicWithSeed(t *testing.T) {
	src := &staticSource{}
	src.set("svc", healthy("svc", "a", 1, 1), healthy("svc", "b", 2, 1), healthy("svc", "c", 3, 1))

	first := pick(t, newTestDiscovery(t, src, WithRandomSeed(42)), "svc", StrategyRandom, 20)
	second := pick(t, newTestDiscovery(t, src, WithRandomSeed(42)), "svc", StrategyRandom, 20)
	assert.Equal(t, first, second)

	seen := map[string]bool{}
	for _, id := range first {
		seen[id] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestDiscovery_ConcurrentDiscover(t *testing.T) {
	src := &staticSource{}
	src.set("svc", healthy("svc", "a", 1, 2), healthy("svc", "b", 2, 1))
	d, err := NewDiscovery(src, DiscoveryConfig{CacheTTL: time.Minute}, WithDiscoveryLogger(logger.NewNop()))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, strategy := range Strategies() {
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				inst, err := d.Discover(context.Background(), "svc", strategy)
				assert.NoError(t, err)
				assert.NotNil(t, inst)
			}()
		}
	}
	wg.Wait()
}
