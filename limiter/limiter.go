// Package limiter provides token-bucket admission control keyed by name.
//
// A bucket refills continuously at Rate tokens per second up to Burst.
// TryAcquire never blocks: it either takes n tokens or rejects without
// touching the bucket.
package limiter

// Limiter is a non-blocking token source.
type Limiter interface {
	// TryAcquire takes n tokens if available and reports whether it did.
	TryAcquire(n int) bool

	// Tokens returns the current token count after refill.
	Tokens() float64
}
