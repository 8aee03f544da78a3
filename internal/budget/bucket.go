// Package budget implements the rate and cost limiter (C2): nested
// token-bucket rate limiting plus reserve/commit/rollback cost
// accounting with auth-failure lockout and soft/hard budget thresholds.
//
// The token-bucket mechanics are adapted from internal/ratelimit's
// Bucket; this package adds the two-phase reserve/commit/rollback
// protocol and cost-budget windows the rate limiter alone does not
// provide.
package budget

import (
	"sync"
	"time"
)

// bucket is a token bucket with a held (reserved-but-not-committed)
// portion, so reserve can be undone exactly via rollback without
// racing a concurrent refill.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newBucket(ratePerSecond float64, burst int) *bucket {
	if ratePerSecond <= 0 {
		ratePerSecond = 10.0
	}
	if burst <= 0 {
		burst = int(ratePerSecond * 2)
	}
	return &bucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: ratePerSecond,
		lastRefill: time.Now(),
	}
}

func (b *bucket) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now
}

// tryReserve attempts to remove n tokens. On success it returns true and
// the tokens stay deducted until either commit (no-op, already deducted)
// or rollback (returns them) is called.
func (b *bucket) tryReserve(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens >= n {
		b.tokens -= n
		return true
	}
	return false
}

func (b *bucket) release(n float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens += n
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}
