package limiter

import (
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// TokenBucket in-process token bucket
// Refill and decrement happen under one lock, so 0 <= tokens <= burst always holds.
type TokenBucket struct {
	rate  float64
	burst float64
	clock clockwork.Clock

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// NewTokenBucket creates a full bucket
func NewTokenBucket(rate float64, burst int, clock clockwork.Clock) *TokenBucket {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TokenBucket{
		rate:       rate,
		burst:      float64(burst),
		clock:      clock,
		tokens:     float64(burst),
		lastRefill: clock.Now(),
	}
}

// TryAcquire takes n tokens (n < 1 is treated as 1)
func (b *TokenBucket) TryAcquire(n int) bool {
	if n < 1 {
		n = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.tokens < float64(n) {
		return false
	}
	b.tokens -= float64(n)
	return true
}

// Tokens current token count
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

// RetryAfter how long until n tokens are available (0 if available now)
func (b *TokenBucket) RetryAfter(n int) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	missing := float64(n) - b.tokens
	if missing <= 0 || b.rate <= 0 {
		return 0
	}
	return time.Duration(missing / b.rate * float64(time.Second))
}

// Rate refill rate per second
func (b *TokenBucket) Rate() float64 { return b.rate }

// Burst bucket capacity
func (b *TokenBucket) Burst() int { return int(b.burst) }

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	b.tokens = math.Min(b.burst, b.tokens+elapsed.Seconds()*b.rate)
	b.lastRefill = now
}
