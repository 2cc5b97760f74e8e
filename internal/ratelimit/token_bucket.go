package ratelimit

import (
	"sync"
	"time"
)

const nanosPerToken int64 = int64(time.Second) // 1e9

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket is a deterministic token bucket that refills at an integer
// rate (tokens/sec) using a provided Clock.
//
// Tokens are tracked as fixed-point "nano-tokens" (1 token = 1e9) to avoid
// float rounding, so a rate of X tokens/sec adds X nano-tokens per elapsed
// nanosecond.
type TokenBucket struct {
	mu sync.Mutex

	clock Clock

	capacity int64 // tokens
	rate     int64 // tokens/sec

	available int64 // nano-tokens
	last      time.Time
}

// NewTokenBucket returns a bucket that starts full. A nil clock defaults to
// RealClock.
func NewTokenBucket(clock Clock, capacity, rate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if rate < 0 {
		rate = 0
	}

	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		rate:      rate,
		available: toNano(capacity),
		last:      clock.Now(),
	}
}

// Allow consumes the given number of tokens if available.
//
// tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}

	cost := toNano(tokens)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	if b.available < cost {
		return false
	}

	b.available -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Time went backwards. Skip the refill and move the reference point.
		b.last = now
		return
	}

	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	b.last = now

	if b.rate <= 0 || b.capacity <= 0 {
		return
	}

	capNano := toNano(b.capacity)
	if b.available >= capNano {
		b.available = capNano
		return
	}

	// rate is tokens/sec, which equals nano-tokens per nanosecond in the
	// fixed-point representation. Clamp instead of overflowing when enough
	// time has passed to fill the bucket.
	need := capNano - b.available
	elapsedNanos := elapsed.Nanoseconds()
	maxElapsedToFill := need / b.rate
	if maxElapsedToFill <= 0 || elapsedNanos >= maxElapsedToFill {
		b.available = capNano
		return
	}

	b.available += elapsedNanos * b.rate
	if b.available > capNano {
		b.available = capNano
	}
}

func toNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanosPerToken {
		return maxInt64
	}
	return tokens * nanosPerToken
}
