// Package ratelimit implements the token bucket that paces outbound
// provider calls.
package ratelimit

import (
	"math/rand"
	"sync"
	"time"
)

// Bucket is a token bucket refilled continuously at a fixed rate.
// Capacity is max(1, 2*rate) so short bursts after idle periods are
// absorbed without letting the sustained rate exceed the quota.
type Bucket struct {
	mu       sync.Mutex
	rate     float64 // tokens per second
	capacity float64
	tokens   float64
	last     time.Time
}

// NewBucket creates a bucket that starts full. Rates below or equal
// to zero fall back to 1 token/s.
func NewBucket(rate float64) *Bucket {
	if rate <= 0 {
		rate = 1
	}
	capacity := 2 * rate
	if capacity < 1 {
		capacity = 1
	}
	return &Bucket{
		rate:     rate,
		capacity: capacity,
		tokens:   capacity,
		last:     time.Now(),
	}
}

// Acquire blocks until a token is available and consumes it. It
// returns the total time spent waiting so callers can report the
// throttle delay.
func (b *Bucket) Acquire() time.Duration {
	var waited time.Duration
	for {
		b.mu.Lock()
		now := time.Now()
		b.tokens += now.Sub(b.last).Seconds() * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now

		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return waited
		}
		needed := time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
		b.mu.Unlock()

		// Small random extra avoids thundering-herd wakeups when
		// several workers wait on the same bucket.
		sleep := needed + time.Duration(rand.Int63n(int64(120*time.Millisecond)))
		time.Sleep(sleep)
		waited += sleep
	}
}
