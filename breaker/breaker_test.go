package breaker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KOMKZ/go-yogan-mesh/event"
	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDownstream = errors.New("downstream failed")

func newTestBreaker(cfg Config, opts ...Option) (*Breaker, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	opts = append([]Option{WithClock(clock), WithLogger(logger.NewNop())}, opts...)
	b, err := New("payment-service", cfg, opts...)
	if err != nil {
		panic(err)
	}
	return b, clock
}

func failing(calls *int32) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		atomic.AddInt32(calls, 1)
		return errDownstream
	}
}

func succeeding(calls *int32) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		atomic.AddInt32(calls, 1)
		return nil
	}
}

func TestBreaker_TripAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3, RecoveryTimeout: 30 * time.Second})
	ctx := context.Background()
	var calls int32

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Protect(ctx, failing(&calls)), errDownstream)
	}
	assert.Equal(t, StateOpen, b.State())

	err := b.Protect(ctx, failing(&calls))
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "rejected call must not invoke the operation")

	var openErr *OpenError
	require.True(t, errors.As(err, &openErr))
	assert.Equal(t, "payment-service", openErr.Name)
	assert.Equal(t, 30*time.Second, openErr.RetryAfter)
}

func TestBreaker_EndToEndThresholdTwo(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 2})
	ctx := context.Background()
	var calls int32

	err := b.Protect(ctx, failing(&calls))
	assert.ErrorIs(t, err, errDownstream)
	assert.Equal(t, 1, b.FailureCount())

	err = b.Protect(ctx, failing(&calls))
	assert.ErrorIs(t, err, errDownstream)
	assert.Equal(t, 2, b.FailureCount())

	err = b.Protect(ctx, failing(&calls))
	assert.True(t, IsRejection(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestBreaker_Recovery(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Second})
	ctx := context.Background()
	var calls int32

	require.ErrorIs(t, b.Protect(ctx, failing(&calls)), errDownstream)
	require.Equal(t, StateOpen, b.State())

	// 恰好等于恢复时间仍然拒绝
	clock.Advance(10 * time.Second)
	assert.ErrorIs(t, b.Protect(ctx, succeeding(&calls)), ErrCircuitOpen)

	clock.Advance(time.Millisecond)
	require.NoError(t, b.Protect(ctx, succeeding(&calls)))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.FailureCount())
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Second})
	ctx := context.Background()
	var calls int32

	require.Error(t, b.Protect(ctx, failing(&calls)))
	clock.Advance(11 * time.Second)

	require.ErrorIs(t, b.Protect(ctx, failing(&calls)), errDownstream)
	assert.Equal(t, StateOpen, b.State())

	// lastFailureTime 已重置，需要重新等待完整的恢复时间
	clock.Advance(5 * time.Second)
	assert.ErrorIs(t, b.Protect(ctx, succeeding(&calls)), ErrCircuitOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestBreaker_HalfOpenMaxCalls(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 1, RecoveryTimeout: time.Second, HalfOpenMaxCalls: 2})
	ctx := context.Background()
	var calls int32

	require.Error(t, b.Protect(ctx, failing(&calls)))
	clock.Advance(2 * time.Second)

	require.NoError(t, b.Protect(ctx, succeeding(&calls)))
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Protect(ctx, succeeding(&calls)))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenRejectsConcurrentProbe(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 1, RecoveryTimeout: time.Second})
	ctx := context.Background()
	var calls int32

	require.Error(t, b.Protect(ctx, failing(&calls)))
	clock.Advance(2 * time.Second)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Protect(ctx, func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := b.Protect(ctx, succeeding(&calls))
	assert.ErrorIs(t, err, ErrTooManyRequests)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3})
	ctx := context.Background()
	var calls int32

	_ = b.Protect(ctx, failing(&calls))
	_ = b.Protect(ctx, failing(&calls))
	require.NoError(t, b.Protect(ctx, succeeding(&calls)))
	_ = b.Protect(ctx, failing(&calls))
	_ = b.Protect(ctx, failing(&calls))

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 2, b.FailureCount())
}

func TestBreaker_CallTimeoutCountsAsFailure(t *testing.T) {
	b, err := New("slow", Config{FailureThreshold: 1, CallTimeout: 20 * time.Millisecond}, WithLogger(logger.NewNop()))
	require.NoError(t, err)

	err = b.Protect(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, ErrCallTimeout)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_CallerCancellationNotCounted(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Protect(ctx, func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.FailureCount())
}

func TestBreaker_PanicBecomesFailure(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1})

	err := b.Protect(context.Background(), func(ctx context.Context) error { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_FailurePredicate(t *testing.T) {
	errNotFound := errors.New("not found")
	b, _ := newTestBreaker(Config{FailureThreshold: 1}, WithFailurePredicate(func(err error) bool {
		return err != nil && !errors.Is(err, errNotFound)
	}))

	assert.ErrorIs(t, b.Protect(context.Background(), func(ctx context.Context) error { return errNotFound }), errNotFound)
	assert.Equal(t, StateClosed, b.State())
}

func TestExecute(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1})

	v, err := Execute(context.Background(), b, func(ctx context.Context) (string, error) {
		return "10.0.0.1:8080", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:8080", v)

	v, err = Execute(context.Background(), b, func(ctx context.Context) (string, error) {
		return "ignored", errDownstream
	})
	assert.ErrorIs(t, err, errDownstream)
	assert.Empty(t, v)
}

func TestBreaker_ResetAndSnapshot(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1})
	var calls int32

	_ = b.Protect(context.Background(), failing(&calls))
	_ = b.Protect(context.Background(), failing(&calls))

	snap := b.Snapshot()
	assert.Equal(t, "OPEN", snap.State)
	assert.Equal(t, int64(1), snap.Rejected)
	assert.False(t, snap.LastFailureTime.IsZero())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	require.NoError(t, b.Protect(context.Background(), succeeding(&calls)))
}

func TestBreaker_PublishesStateChanges(t *testing.T) {
	d := event.NewDispatcher(event.Config{SetAllSync: true}, event.WithLogger(logger.NewNop()))
	defer d.Close()

	var transitions []string
	d.Subscribe(EventStateChanged, event.ListenerFunc(func(ctx context.Context, e event.Event) error {
		sc := e.(StateChangedEvent)
		transitions = append(transitions, sc.From+"->"+sc.To)
		return nil
	}))
	var rejected int32
	d.Subscribe(EventCallRejected, event.ListenerFunc(func(ctx context.Context, e event.Event) error {
		atomic.AddInt32(&rejected, 1)
		return nil
	}))

	b, clock := newTestBreaker(Config{FailureThreshold: 1, RecoveryTimeout: time.Second}, WithPublisher(d))
	var calls int32
	ctx := context.Background()

	_ = b.Protect(ctx, failing(&calls))
	_ = b.Protect(ctx, failing(&calls))
	clock.Advance(2 * time.Second)
	require.NoError(t, b.Protect(ctx, succeeding(&calls)))

	assert.Equal(t, []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}, transitions)
	assert.Equal(t, int32(1), atomic.LoadInt32(&rejected))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
	assert.Equal(t, "UNKNOWN", State(9).String())
}
