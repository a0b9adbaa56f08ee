package governance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KOMKZ/go-yogan-mesh/event"
	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const testTimeout = 30 * time.Second

func newTestRegistry(t *testing.T, opts ...RegistryOption) (*Registry, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	cfg := RegistryConfig{Default: ServiceConfig{DeregisterAfter: testTimeout}}
	opts = append([]RegistryOption{WithClock(clock), WithLogger(logger.NewNop())}, opts...)
	r, err := NewRegistry(cfg, opts...)
	require.NoError(t, err)
	return r, clock
}

func instance(service, id string, port int) ServiceInstance {
	return ServiceInstance{ServiceName: service, InstanceID: id, Host: "10.0.0.1", Port: port}
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r, _ := newTestRegistry(t)

	tests := []struct {
		name string
		inst ServiceInstance
		want error
	}{
		{"服务名为空", ServiceInstance{InstanceID: "a", Port: 80}, ErrInvalidServiceName},
		{"服务名全空白", ServiceInstance{ServiceName: "  ", InstanceID: "a", Port: 80}, ErrInvalidServiceName},
		{"实例ID为空", ServiceInstance{ServiceName: "svc", Port: 80}, ErrInvalidInstanceID},
		{"端口为0", ServiceInstance{ServiceName: "svc", InstanceID: "a"}, ErrInvalidPort},
		{"端口越界", ServiceInstance{ServiceName: "svc", InstanceID: "a", Port: 70000}, ErrInvalidPort},
		{"权重为负", ServiceInstance{ServiceName: "svc", InstanceID: "a", Port: 80, Weight: -1}, ErrInvalidWeight},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := r.Register(tt.inst)
			assert.False(t, ok)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_Lifecycle(t *testing.T) {
	r, clock := newTestRegistry(t)
	ctx := context.Background()

	ok, err := r.Register(instance("user-svc", "u-1", 8080))
	require.NoError(t, err)
	require.True(t, ok)

	all := r.GetInstances("user-svc")
	require.Len(t, all, 1)
	assert.Equal(t, StatusUnknown, all[0].Status)
	assert.Equal(t, "10.0.0.1:8080", all[0].Address())
	assert.Equal(t, 1, all[0].Weight)
	assert.Empty(t, r.GetHealthyInstances("user-svc"))

	require.True(t, r.Heartbeat("user-svc", "u-1"))
	require.Len(t, r.GetHealthyInstances("user-svc"), 1)

	// 恰好等于超时不算超时
	clock.Advance(testTimeout)
	r.CheckHealth(ctx)
	assert.Len(t, r.GetHealthyInstances("user-svc"), 1)

	clock.Advance(time.Second)
	r.CheckHealth(ctx)
	assert.Empty(t, r.GetHealthyInstances("user-svc"))
	inst, ok := r.GetInstance("user-svc", "u-1")
	require.True(t, ok)
	assert.Equal(t, StatusUnhealthy, inst.Status)

	// 不足 2 倍超时不剔除
	clock.Advance(testTimeout - time.Second)
	assert.Equal(t, 0, r.Cleanup(ctx))
	assert.Len(t, r.GetInstances("user-svc"), 1)

	clock.Advance(time.Second)
	assert.Equal(t, 1, r.Cleanup(ctx))
	assert.Empty(t, r.GetInstances("user-svc"))
	assert.Empty(t, r.Services())
}

func TestRegistry_HeartbeatRevivesUnhealthy(t *testing.T) {
	r, clock := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Register(instance("svc", "a", 80))
	require.NoError(t, err)
	clock.Advance(testTimeout + time.Second)
	r.CheckHealth(ctx)

	inst, _ := r.GetInstance("svc", "a")
	require.Equal(t, StatusUnhealthy, inst.Status)

	require.True(t, r.Heartbeat("svc", "a"))
	inst, _ = r.GetInstance("svc", "a")
	assert.Equal(t, StatusHealthy, inst.Status)
	assert.Equal(t, 0, r.Cleanup(ctx))
}

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Register(instance("svc", "a", 80))
	require.NoError(t, err)
	_, err = r.Register(instance("svc", "b", 81))
	require.NoError(t, err)

	replacement := instance("svc", "a", 90)
	replacement.Host = "10.0.0.9"
	replacement.Tags = []string{"v2", "canary", "v2"}
	_, err = r.Register(replacement)
	require.NoError(t, err)

	all := r.GetInstances("svc")
	require.Len(t, all, 2)
	// 替换注册保留原注册顺序
	assert.Equal(t, "a", all[0].InstanceID)
	assert.Equal(t, "10.0.0.9:90", all[0].Address())
	assert.Equal(t, []string{"canary", "v2"}, all[0].Tags)
	assert.Equal(t, "b", all[1].InstanceID)
}

func TestRegistry_ReRegisterKeepsHeartbeat(t *testing.T) {
	r, clock := newTestRegistry(t)
	start := clock.Now()

	_, err := r.Register(instance("svc", "a", 80))
	require.NoError(t, err)
	require.True(t, r.HeartbeatAt("svc", "a", start.Add(10*time.Second)))
	clock.Advance(10 * time.Second)

	_, err = r.Register(instance("svc", "a", 80))
	require.NoError(t, err)

	got, ok := r.GetInstance("svc", "a")
	require.True(t, ok)
	assert.Equal(t, StatusHealthy, got.Status)
	assert.Equal(t, start.Add(10*time.Second), got.LastHeartbeat)
	assert.Len(t, r.GetHealthyInstances("svc"), 1)

	// 比已记录心跳更早的时间戳不生效
	require.True(t, r.HeartbeatAt("svc", "a", start.Add(5*time.Second)))
	got, _ = r.GetInstance("svc", "a")
	assert.Equal(t, start.Add(10*time.Second), got.LastHeartbeat)
}

func TestRegistry_ReRegisterAfterTimeout(t *testing.T) {
	r, clock := newTestRegistry(t)

	_, err := r.Register(instance("svc", "a", 80))
	require.NoError(t, err)
	require.True(t, r.Heartbeat("svc", "a"))
	hb := clock.Now()

	// 心跳已过期的实例重新注册后需要新的心跳
	clock.Advance(testTimeout + time.Second)
	_, err = r.Register(instance("svc", "a", 80))
	require.NoError(t, err)

	got, _ := r.GetInstance("svc", "a")
	assert.Equal(t, StatusUnknown, got.Status)
	assert.Equal(t, hb, got.LastHeartbeat)
	assert.Empty(t, r.GetHealthyInstances("svc"))
}

func TestRegistry_ReRegisterKeepsMaintenance(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Register(instance("svc", "a", 80))
	require.NoError(t, err)
	ok, err := r.SetStatus("svc", "a", StatusMaintenance)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = r.Register(instance("svc", "a", 81))
	require.NoError(t, err)
	got, _ := r.GetInstance("svc", "a")
	assert.Equal(t, StatusMaintenance, got.Status)
	assert.Equal(t, 81, got.Port)
}

func TestRegistry_UnknownInstance(t *testing.T) {
	r, _ := newTestRegistry(t)

	assert.False(t, r.Heartbeat("svc", "missing"))
	assert.False(t, r.Deregister("svc", "missing"))
	ok, err := r.SetStatus("svc", "missing", StatusMaintenance)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, r.GetInstances("svc"))
	assert.NotNil(t, r.GetInstances("svc"))

	_, err = r.Register(instance("svc", "a", 80))
	require.NoError(t, err)
	assert.True(t, r.Deregister("svc", "a"))
	assert.False(t, r.Deregister("svc", "a"))
	assert.Empty(t, r.Services())
}

func TestRegistry_HeartbeatMonotonic(t *testing.T) {
	r, clock := newTestRegistry(t)
	_, err := r.Register(instance("svc", "a", 80))
	require.NoError(t, err)

	t2 := clock.Now().Add(10 * time.Second)
	t1 := clock.Now().Add(5 * time.Second)

	require.True(t, r.HeartbeatAt("svc", "a", t2))
	require.True(t, r.HeartbeatAt("svc", "a", t1))
	require.True(t, r.HeartbeatAt("svc", "a", t2))

	inst, _ := r.GetInstance("svc", "a")
	assert.True(t, inst.LastHeartbeat.Equal(t2))
}

func TestRegistry_MaintenanceIsSticky(t *testing.T) {
	r, clock := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Register(instance("svc", "a", 80))
	require.NoError(t, err)
	r.Heartbeat("svc", "a")

	ok, err := r.SetStatus("svc", "a", StatusMaintenance)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(time.Second)
	r.Heartbeat("svc", "a")
	inst, _ := r.GetInstance("svc", "a")
	assert.Equal(t, StatusMaintenance, inst.Status)
	assert.Empty(t, r.GetHealthyInstances("svc"))

	clock.Advance(testTimeout + time.Second)
	r.CheckHealth(ctx)
	inst, _ = r.GetInstance("svc", "a")
	assert.Equal(t, StatusMaintenance, inst.Status)

	clock.Advance(testTimeout)
	assert.Equal(t, 1, r.Cleanup(ctx))

	_, err = r.SetStatus("svc", "a", Status("SLEEPING"))
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestRegistry_PerServiceTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r, err := NewRegistry(RegistryConfig{
		Default:  ServiceConfig{DeregisterAfter: time.Minute},
		Services: map[string]ServiceConfig{"fast": {DeregisterAfter: 5 * time.Second}},
	}, WithClock(clock), WithLogger(logger.NewNop()))
	require.NoError(t, err)

	_, _ = r.Register(instance("fast", "a", 80))
	_, _ = r.Register(instance("slow", "a", 80))
	r.Heartbeat("fast", "a")
	r.Heartbeat("slow", "a")

	clock.Advance(6 * time.Second)
	r.CheckHealth(context.Background())
	assert.Empty(t, r.GetHealthyInstances("fast"))
	assert.Len(t, r.GetHealthyInstances("slow"), 1)
	assert.Equal(t, StrategyRoundRobin, r.Config().For("fast").LoadBalancer)
}

func TestRegistry_Events(t *testing.T) {
	d := event.NewDispatcher(event.Config{SetAllSync: true}, event.WithLogger(logger.NewNop()))
	defer d.Close()

	var (
		mu    sync.Mutex
		names []string
		last  InstanceEvent
	)
	d.Subscribe(event.Wildcard, event.ListenerFunc(func(ctx context.Context, e event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		names = append(names, e.Name())
		last = e.(InstanceEvent)
		return nil
	}))

	r, clock := newTestRegistry(t, WithPublisher(d))
	ctx := context.Background()

	_, _ = r.Register(instance("svc", "a", 80))
	r.Heartbeat("svc", "a")
	r.Heartbeat("svc", "a") // 同一时刻的心跳被忽略，不产生事件
	clock.Advance(testTimeout + time.Second)
	r.CheckHealth(ctx)

	mu.Lock()
	assert.Equal(t, StatusHealthy, last.From)
	assert.Equal(t, StatusUnhealthy, last.To)
	mu.Unlock()

	clock.Advance(testTimeout)
	r.Cleanup(ctx)
	_, _ = r.Register(instance("svc", "b", 81))
	r.Deregister("svc", "b")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		EventInstanceRegistered,
		EventInstanceHealthy,
		EventInstanceUnhealthy,
		EventInstanceEvicted,
		EventInstanceRegistered,
		EventInstanceDeregistered,
	}, names)
	assert.Equal(t, "b", last.Instance.InstanceID)
}

func TestRegistry_HTTPProbe(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	prober, err := NewProber(2, time.Second, logger.NewNop())
	require.NoError(t, err)
	defer prober.Release()

	r, clock := newTestRegistry(t, WithProber(prober))
	ctx := context.Background()

	inst := instance("svc", "a", 80)
	inst.HealthCheckURL = srv.URL + "/health"
	_, err = r.Register(inst)
	require.NoError(t, err)

	r.CheckHealth(ctx)
	got, _ := r.GetInstance("svc", "a")
	assert.Equal(t, StatusHealthy, got.Status)
	assert.False(t, got.LastHeartbeat.IsZero())

	// 未到探测间隔不会再次探测
	healthy.Store(false)
	clock.Advance(time.Second)
	r.CheckHealth(ctx)
	got, _ = r.GetInstance("svc", "a")
	assert.Equal(t, StatusHealthy, got.Status)

	clock.Advance(r.Config().Default.HealthCheckInterval)
	r.CheckHealth(ctx)
	got, _ = r.GetInstance("svc", "a")
	assert.Equal(t, StatusUnhealthy, got.Status)

	// 探测通过视为心跳，只靠探测的实例不会被剔除
	healthy.Store(true)
	clock.Advance(r.Config().Default.HealthCheckInterval)
	r.CheckHealth(ctx)
	clock.Advance(testTimeout)
	r.CheckHealth(ctx)
	assert.Equal(t, 0, r.Cleanup(ctx))
	got, _ = r.GetInstance("svc", "a")
	assert.Equal(t, StatusHealthy, got.Status)
}

func TestProber_Probe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := NewProber(4, time.Second, logger.NewNop())
	require.NoError(t, err)
	defer p.Release()

	results := p.ProbeAll(context.Background(), []ProbeTarget{
		{Key: "a", URL: srv.URL + "/ok"},
		{Key: "b", URL: srv.URL + "/bad"},
		{Key: "c", URL: "http://127.0.0.1:1/unreachable"},
	})
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.Error(t, results[2].Err)
	assert.Equal(t, "b", results[1].Key)
}

func TestRegistry_LoopsEvictWithoutHeartbeats(t *testing.T) {
	r, err := NewRegistry(RegistryConfig{
		HealthCheckInterval: 10 * time.Millisecond,
		CleanupInterval:     10 * time.Millisecond,
		Default:             ServiceConfig{DeregisterAfter: 30 * time.Millisecond},
	}, WithLogger(logger.NewNop()))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, r.Start(ctx))
	require.NoError(t, r.Start(ctx))
	require.NoError(t, r.Check(ctx))

	_, err = r.Register(instance("svc", "a", 80))
	require.NoError(t, err)
	r.Heartbeat("svc", "a")

	require.Eventually(t, func() bool {
		return r.Count() == 0
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, r.Stop(ctx))
	require.NoError(t, r.Stop(ctx))
	assert.ErrorIs(t, r.Check(ctx), ErrRegistryStopped)
}

func TestRegistry_ReturnsCopies(t *testing.T) {
	r, _ := newTestRegistry(t)
	inst := instance("svc", "a", 80)
	inst.Metadata = map[string]string{"zone": "a"}
	_, _ = r.Register(inst)

	inst.Metadata["zone"] = "mutated-input"
	got := r.GetInstances("svc")
	got[0].Metadata["zone"] = "mutated-output"

	again, _ := r.GetInstance("svc", "a")
	assert.Equal(t, "a", again.Metadata["zone"])
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r, _ := newTestRegistry(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			_, err := r.Register(instance("svc", id, 8000+i))
			assert.NoError(t, err)
			r.Heartbeat("svc", id)
			_ = r.GetHealthyInstances("svc")
		}(i)
	}
	wg.Wait()
	assert.Len(t, r.GetHealthyInstances("svc"), 20)
}

func TestRegistry_Metrics(t *testing.T) {
	r, err := NewRegistry(RegistryConfig{MetricsEnabled: true},
		WithClock(clockwork.NewFakeClock()), WithLogger(logger.NewNop()))
	require.NoError(t, err)
	require.NotNil(t, r.Metrics())
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	require.NoError(t, r.Metrics().RegisterMetrics(provider.Meter("test")))

	_, _ = r.Register(instance("svc", "a", 80))
	_, _ = r.Register(instance("svc", "b", 81))
	r.Heartbeat("svc", "a")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	byStatus := map[string]int64{}
	events := int64(0)
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch data := md.Data.(type) {
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					status, _ := dp.Attributes.Value("status")
					byStatus[status.AsString()] += dp.Value
				}
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					events += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(1), byStatus["HEALTHY"])
	assert.Equal(t, int64(1), byStatus["UNKNOWN"])
	assert.Equal(t, int64(3), events)
}

func TestRegistryConfig_Validate(t *testing.T) {
	cfg := DefaultRegistryConfig()
	require.NoError(t, cfg.Validate())

	cfg.Services = map[string]ServiceConfig{"svc": {LoadBalancer: "fastest"}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "registry.services.svc")

	_, err = NewRegistry(RegistryConfig{ProbeWorkers: -1})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
