package retry

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Budget caps retry traffic at ratio × requests within a window,
// so a failing dependency does not see its load multiplied by MaxAttempts.
type Budget struct {
	ratio  float64
	window time.Duration
	clock  clockwork.Clock

	mu          sync.Mutex
	requests    int64
	retries     int64
	windowStart time.Time
}

// NewBudget ratio is clamped to [0, 1]
func NewBudget(ratio float64, window time.Duration, clock clockwork.Clock) *Budget {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Budget{ratio: ratio, window: window, clock: clock, windowStart: clock.Now()}
}

// RecordRequest counts one first attempt
func (b *Budget) RecordRequest() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	b.requests++
}

// TryRetry reserves one retry, false when the budget is spent
func (b *Budget) TryRetry() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	if float64(b.retries+1) > float64(b.requests)*b.ratio {
		return false
	}
	b.retries++
	return true
}

// Stats requests and retries in the current window
func (b *Budget) Stats() (requests, retries int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	return b.requests, b.retries
}

func (b *Budget) rollLocked() {
	now := b.clock.Now()
	if now.Sub(b.windowStart) >= b.window {
		b.requests = 0
		b.retries = 0
		b.windowStart = now
	}
}
