package pool

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id      int32
	closed  atomic.Bool
	healthy atomic.Bool
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
	fail  atomic.Bool
	next  atomic.Int32
}

func (f *fakeFactory) New(ctx context.Context) (io.Closer, error) {
	if f.fail.Load() {
		return nil, errors.New("connection refused")
	}
	c := &fakeConn{id: f.next.Add(1)}
	c.healthy.Store(true)
	f.mu.Lock()
	f.conns = append(f.conns, c)
	f.mu.Unlock()
	return c, nil
}

func (f *fakeFactory) all() []*fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeConn(nil), f.conns...)
}

func healthyValidator(ctx context.Context, conn io.Closer) error {
	if !conn.(*fakeConn).healthy.Load() {
		return errors.New("ping failed")
	}
	return nil
}

type countingObserver struct {
	acquired atomic.Int32
	released atomic.Int32
}

func (o *countingObserver) ConnAcquired(string) { o.acquired.Add(1) }
func (o *countingObserver) ConnReleased(string) { o.released.Add(1) }

func newTestPool(t *testing.T, cfg Config, opts ...Option) (*Pool, *fakeFactory, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	f := &fakeFactory{}
	opts = append([]Option{WithClock(clock), WithLogger(logger.NewNop())}, opts...)
	p, err := New("10.0.0.1:9000", cfg, f.New, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Close(ctx)
	})
	return p, f, clock
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"最大连接数为负", func(c *Config) { c.MaxSize = -1 }},
		{"最小连接数大于最大", func(c *Config) { c.MinSize = 20 }},
		{"最小连接数为负", func(c *Config) { c.MinSize = -1 }},
		{"获取超时为负", func(c *Config) { c.AcquireTimeout = -time.Second }},
		{"生命周期为负", func(c *Config) { c.MaxLifetime = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	cfg := Config{}
	cfg.ApplyDefaults()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.MaxSize)
	assert.Equal(t, time.Duration(0), cfg.MaxLifetime)
}

func TestPool_ReusesIdleConnection(t *testing.T) {
	p, f, _ := newTestPool(t, Config{MaxSize: 2})
	ctx := context.Background()

	first, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Release())

	second, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID(), second.ID())
	assert.Equal(t, "10.0.0.1:9000", second.Address())

	conn, ok := As[*fakeConn](second)
	require.True(t, ok)
	assert.Equal(t, int32(1), conn.id)
	require.NoError(t, second.Release())

	s := p.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, int64(1), s.Created)
	assert.Equal(t, int64(2), s.Acquired)
	assert.Equal(t, int64(2), s.Released)
	assert.Equal(t, 1, s.Idle)
	assert.Equal(t, 0, s.Active)
	assert.Len(t, f.all(), 1)
}

func TestPool_NeverExceedsMaxSize(t *testing.T) {
	f := &fakeFactory{}
	p, err := New("10.0.0.2:9000", Config{MaxSize: 3, AcquireTimeout: 5 * time.Second}, f.New,
		WithLogger(logger.NewNop()))
	require.NoError(t, err)
	defer p.Close(context.Background())

	var (
		active    atomic.Int32
		maxActive atomic.Int32
		wg        sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pc, err := p.Acquire(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			n := active.Add(1)
			for {
				cur := maxActive.Load()
				if n <= cur || maxActive.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			active.Add(-1)
			assert.NoError(t, pc.Release())
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxActive.Load(), int32(3))
	assert.LessOrEqual(t, len(f.all()), 3)
	s := p.Stats()
	assert.Equal(t, int64(20), s.Acquired)
	assert.LessOrEqual(t, s.Total, 3)
}

func TestPool_AcquireTimeout(t *testing.T) {
	p, _, clock := newTestPool(t, Config{MaxSize: 1, AcquireTimeout: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	held, err := p.Acquire(ctx)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx)
		errCh <- err
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)

	err = <-errCh
	assert.ErrorIs(t, err, ErrAcquireTimeout)
	assert.Equal(t, int64(1), p.Stats().Timeouts)
	assert.Equal(t, int64(1), p.Stats().Waits)
	require.NoError(t, held.Release())
}

func TestPool_WaiterGetsReleasedConnection(t *testing.T) {
	p, _, clock := newTestPool(t, Config{MaxSize: 1, AcquireTimeout: time.Minute})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	held, err := p.Acquire(ctx)
	require.NoError(t, err)

	got := make(chan *PooledConn, 1)
	go func() {
		pc, err := p.Acquire(ctx)
		assert.NoError(t, err)
		got <- pc
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	require.NoError(t, held.Release())

	pc := <-got
	require.NotNil(t, pc)
	assert.Equal(t, held.ID(), pc.ID())
	require.NoError(t, pc.Release())
}

func TestPool_AcquireHonorsContext(t *testing.T) {
	p, _, clock := newTestPool(t, Config{MaxSize: 1, AcquireTimeout: time.Minute})

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx)
		errCh <- err
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	cancel()

	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, int64(0), p.Stats().Timeouts)
}

func TestPool_MaxLifetimeOnRelease(t *testing.T) {
	p, f, clock := newTestPool(t, Config{MaxSize: 2, MaxLifetime: time.Minute})
	ctx := context.Background()

	pc, err := p.Acquire(ctx)
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)
	require.NoError(t, pc.Release())

	conns := f.all()
	require.Len(t, conns, 1)
	assert.True(t, conns[0].closed.Load())

	s := p.Stats()
	assert.Equal(t, 0, s.Idle)
	assert.Equal(t, 0, s.Total)
	assert.Equal(t, int64(1), s.Destroyed)

	next, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, pc.ID(), next.ID())
	require.NoError(t, next.Release())
}

func TestPool_ExpiredIdleSkippedOnAcquire(t *testing.T) {
	p, f, clock := newTestPool(t, Config{MaxSize: 2, MaxLifetime: time.Minute})
	ctx := context.Background()

	pc, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, pc.Release())

	clock.Advance(2 * time.Minute)
	next, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, pc.ID(), next.ID())
	assert.True(t, f.all()[0].closed.Load())
	require.NoError(t, next.Release())
}

func TestPool_ValidateOnRelease(t *testing.T) {
	p, f, _ := newTestPool(t, Config{MaxSize: 2, ValidateOnRelease: true}, WithValidator(healthyValidator))

	pc, err := p.Acquire(context.Background())
	require.NoError(t, err)
	f.all()[0].healthy.Store(false)
	require.NoError(t, pc.Release())

	s := p.Stats()
	assert.Equal(t, 0, s.Idle)
	assert.Equal(t, int64(1), s.FailedValidations)
	assert.True(t, f.all()[0].closed.Load())
}

func TestPool_ReleaseErrors(t *testing.T) {
	p, _, _ := newTestPool(t, Config{MaxSize: 2})
	other, _, _ := newTestPool(t, Config{MaxSize: 2})
	ctx := context.Background()

	pc, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, pc.Release())
	assert.ErrorIs(t, pc.Release(), ErrNotInUse)
	assert.ErrorIs(t, p.Release(nil), ErrNotInUse)

	foreign, err := other.Acquire(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, p.Release(foreign), ErrForeignConn)
	require.NoError(t, foreign.Release())
}

func TestPool_DoubleReleaseSkipsValidation(t *testing.T) {
	var pings atomic.Int32
	validator := func(ctx context.Context, conn io.Closer) error {
		pings.Add(1)
		return nil
	}
	p, _, _ := newTestPool(t, Config{MaxSize: 1, ValidateOnRelease: true}, WithValidator(validator))
	ctx := context.Background()

	pc, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, pc.Release())
	assert.Equal(t, int32(1), pings.Load())

	// 已经归还的连接再次归还时不会触碰底层连接
	assert.ErrorIs(t, pc.Release(), ErrNotInUse)
	assert.Equal(t, int32(1), pings.Load())
	assert.Equal(t, 1, p.Stats().Idle)
}

func TestPool_Invalidate(t *testing.T) {
	obs := &countingObserver{}
	p, f, _ := newTestPool(t, Config{MaxSize: 1}, WithObserver(obs))
	ctx := context.Background()

	pc, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, pc.Invalidate())
	assert.True(t, f.all()[0].closed.Load())
	assert.ErrorIs(t, pc.Invalidate(), ErrNotInUse)

	// 槽位已释放，可以再次借出
	next, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, next.Release())

	assert.Equal(t, int32(2), obs.acquired.Load())
	assert.Equal(t, int32(2), obs.released.Load())
	assert.Equal(t, 1, p.Stats().Total)
}

func TestPool_FactoryErrorReleasesSlot(t *testing.T) {
	p, f, _ := newTestPool(t, Config{MaxSize: 1, AcquireTimeout: time.Second})
	ctx := context.Background()

	f.fail.Store(true)
	_, err := p.Acquire(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 0, p.Stats().Total)

	f.fail.Store(false)
	pc, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, pc.Release())
}

func TestPool_HealthCheckRemovesInvalid(t *testing.T) {
	p, f, _ := newTestPool(t, Config{MaxSize: 3}, WithValidator(healthyValidator))
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	b, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, a.Release())
	require.NoError(t, b.Release())

	f.all()[0].healthy.Store(false)
	p.HealthCheck(ctx)

	s := p.Stats()
	assert.Equal(t, 1, s.Idle)
	assert.Equal(t, int64(1), s.FailedValidations)
	assert.True(t, f.all()[0].closed.Load())
	assert.False(t, f.all()[1].closed.Load())
}

func TestPool_WarmupAndTopUp(t *testing.T) {
	p, f, _ := newTestPool(t, Config{MinSize: 2, MaxSize: 4}, WithValidator(healthyValidator))
	ctx := context.Background()

	require.NoError(t, p.Start(ctx))
	assert.Equal(t, 2, p.Stats().Idle)
	assert.Len(t, f.all(), 2)

	for _, c := range f.all() {
		c.healthy.Store(false)
	}
	p.HealthCheck(ctx)

	s := p.Stats()
	assert.Equal(t, 2, s.Idle)
	assert.Equal(t, int64(4), s.Created)
	assert.Equal(t, int64(2), s.FailedValidations)
}

func TestPool_WarmupFailureIsReported(t *testing.T) {
	f := &fakeFactory{}
	f.fail.Store(true)
	p, err := New("10.0.0.3:9000", Config{MinSize: 2, MaxSize: 2}, f.New, WithLogger(logger.NewNop()))
	require.NoError(t, err)
	defer p.Close(context.Background())

	err = p.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, p.Stats().Total)

	// 连接池仍可使用
	f.fail.Store(false)
	pc, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, pc.Release())
}

func TestPool_HealthLoopRunsOnTicker(t *testing.T) {
	p, f, clock := newTestPool(t, Config{MaxSize: 2, HealthCheckInterval: 10 * time.Second},
		WithValidator(healthyValidator))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pc, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, pc.Release())
	require.NoError(t, p.Start(ctx))

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	f.all()[0].healthy.Store(false)
	clock.Advance(10 * time.Second)

	require.Eventually(t, func() bool {
		return p.Stats().Idle == 0
	}, time.Second, 5*time.Millisecond)
}

func TestPool_CloseWaitsForRelease(t *testing.T) {
	p, f, clock := newTestPool(t, Config{MaxSize: 2, CloseGracePeriod: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pc, err := p.Acquire(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- p.Close(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, ErrPoolClosed)

	require.NoError(t, pc.Release())
	require.NoError(t, <-done)
	assert.True(t, f.all()[0].closed.Load())
	assert.Equal(t, 0, p.Stats().Total)
	assert.ErrorIs(t, p.Check(ctx), ErrPoolClosed)
}

func TestPool_CloseForcesAfterGracePeriod(t *testing.T) {
	obs := &countingObserver{}
	p, f, clock := newTestPool(t, Config{MaxSize: 2, CloseGracePeriod: 5 * time.Second}, WithObserver(obs))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	idle, err := p.Acquire(ctx)
	require.NoError(t, err)
	stuck, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, idle.Release())

	done := make(chan error, 1)
	go func() { done <- p.Close(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(5 * time.Second)
	require.NoError(t, <-done)

	for _, c := range f.all() {
		assert.True(t, c.closed.Load())
	}
	// 强制关闭后归还的连接返回 ErrPoolClosed，且只释放一次槽位
	assert.ErrorIs(t, stuck.Release(), ErrPoolClosed)
	assert.ErrorIs(t, stuck.Release(), ErrNotInUse)
	assert.Equal(t, obs.acquired.Load(), obs.released.Load())
	assert.Equal(t, 0, p.Stats().Total)
}

func TestPool_CloseIsIdempotent(t *testing.T) {
	p, _, _ := newTestPool(t, Config{MaxSize: 1})
	require.NoError(t, p.Close(context.Background()))
	require.NoError(t, p.Close(context.Background()))
	_, err := p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_CloseStopsHealthLoop(t *testing.T) {
	p, _, clock := newTestPool(t, Config{MaxSize: 1, HealthCheckInterval: 10 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, p.Start(ctx))
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	p.mu.Lock()
	done := p.loopDone
	p.mu.Unlock()
	require.NotNil(t, done)

	require.NoError(t, p.Close(ctx))
	select {
	case <-done:
	default:
		t.Fatal("health loop still running after Close")
	}
}

func TestPool_StartAfterClose(t *testing.T) {
	p, f, _ := newTestPool(t, Config{MaxSize: 2, MinSize: 1, HealthCheckInterval: 10 * time.Second})
	ctx := context.Background()

	require.NoError(t, p.Close(ctx))
	assert.ErrorIs(t, p.Start(ctx), ErrPoolClosed)

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Nil(t, p.loopDone, "closed pool must not start a health loop")
	assert.Empty(t, f.all())
}
