package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket is the refill/consume primitive. Capacity, refill rate, and
// refill interval are fixed at construction; tokens is the only mutable
// field and is always held in [0, capacity].
//
// Grounded on the teacher's pkg/limiter.Limiter (per-model token bucket
// with refillTokens()) and
// pkg/agent/middleware/resilience/ratelimit.TokenBucketLimiter's
// availableTokens/tokensPerRefill/maxCapacity fields.
type TokenBucket struct {
	mu             sync.Mutex
	capacity       int
	tokens         int
	refillRate     int
	refillInterval time.Duration
	lastRefill     time.Time
}

// NewTokenBucket returns a bucket starting full at capacity.
func NewTokenBucket(capacity, refillRate int, refillInterval time.Duration) *TokenBucket {
	return &TokenBucket{
		capacity:       capacity,
		tokens:         capacity,
		refillRate:     refillRate,
		refillInterval: refillInterval,
		lastRefill:     time.Now(),
	}
}

// Refill adds floor((now-lastRefill)/interval) * refillRate tokens,
// saturating at capacity, and advances lastRefill by the consumed
// whole intervals (never beyond now).
func (b *TokenBucket) Refill(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(now)
}

func (b *TokenBucket) refillLocked(now time.Time) {
	if b.refillInterval <= 0 || b.refillRate <= 0 {
		return
	}
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	periods := int(elapsed / b.refillInterval)
	if periods <= 0 {
		return
	}
	b.tokens += periods * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = b.lastRefill.Add(time.Duration(periods) * b.refillInterval)
}

// TryConsume refills for elapsed time, then atomically checks
// tokens >= cost and decrements on success. It never leaves tokens
// negative: a denied attempt leaves the bucket unchanged.
func (b *TokenBucket) TryConsume(cost int) bool {
	return b.TryConsumeAt(cost, time.Now())
}

// TryConsumeAt is TryConsume with an explicit clock, for deterministic tests.
func (b *TokenBucket) TryConsumeAt(cost int, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(now)
	if cost < 0 {
		cost = 0
	}
	if b.tokens < cost {
		return false
	}
	b.tokens -= cost
	return true
}

// Tokens returns the current token count without triggering a refill.
func (b *TokenBucket) Tokens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// Capacity returns the bucket's fixed capacity.
func (b *TokenBucket) Capacity() int {
	return b.capacity
}
