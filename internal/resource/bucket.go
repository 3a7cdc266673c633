package resource

import (
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket admits at most capacity requests per window, refilling
// continuously. Tokens never exceed capacity and never go negative.
type TokenBucket struct {
	limiter  *rate.Limiter
	capacity int
	now      func() time.Time
}

// NewTokenBucket creates a full bucket of capacity tokens refilled over window
func NewTokenBucket(capacity int, window time.Duration, now func() time.Time) *TokenBucket {
	if now == nil {
		now = time.Now
	}
	refill := rate.Limit(float64(capacity) / window.Seconds())
	b := &TokenBucket{
		limiter:  rate.NewLimiter(refill, capacity),
		capacity: capacity,
		now:      now,
	}
	// anchor the limiter to the injected clock
	b.limiter.SetLimitAt(now(), refill)
	return b
}

// Consume takes n tokens if available; it never blocks
func (b *TokenBucket) Consume(n int) bool {
	return b.limiter.AllowN(b.now(), n)
}

// Available reports whether n tokens could be consumed now without consuming them
func (b *TokenBucket) Available(n int) bool {
	return b.Tokens() >= float64(n)
}

// Tokens returns the current token count
func (b *TokenBucket) Tokens() float64 {
	return b.limiter.TokensAt(b.now())
}

// Capacity returns the bucket size
func (b *TokenBucket) Capacity() int {
	return b.capacity
}
