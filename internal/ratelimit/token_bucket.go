package ratelimit

import (
	"sync"
	"time"
)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket is a deterministic token bucket that refills fillRate tokens per
// window using a provided Clock.
//
// The implementation uses fixed-point units to avoid float rounding: one token
// is window.Nanoseconds() units, so every elapsed nanosecond adds fillRate
// units. With a one second window this is the familiar tokens/sec bucket.
type TokenBucket struct {
	mu sync.Mutex

	clock Clock

	capacityTokens int64
	fillRate       int64 // tokens per window
	unit           int64 // units per token

	available int64 // units
	last      time.Time
}

// NewTokenBucket returns a bucket holding capacityTokens that refills
// fillRate tokens per second.
func NewTokenBucket(clock Clock, capacityTokens, fillRate int64) *TokenBucket {
	return NewWindowBucket(clock, capacityTokens, fillRate, time.Second)
}

// NewWindowBucket returns a bucket holding capacityTokens that refills
// fillRate tokens every window. A window <= 0 is treated as one second.
func NewWindowBucket(clock Clock, capacityTokens, fillRate int64, window time.Duration) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacityTokens < 0 {
		capacityTokens = 0
	}
	if fillRate < 0 {
		fillRate = 0
	}
	if window <= 0 {
		window = time.Second
	}

	b := &TokenBucket{
		clock:          clock,
		capacityTokens: capacityTokens,
		fillRate:       fillRate,
		unit:           window.Nanoseconds(),
		last:           clock.Now(),
	}
	b.available = b.toUnits(capacityTokens)
	return b
}

// Allow consumes the provided number of tokens if available.
//
// tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}

	cost := b.toUnits(tokens)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	if b.available < cost {
		return false
	}

	b.available -= cost
	return true
}

// Full reports whether the bucket has refilled to capacity, meaning it carries
// no state worth keeping.
func (b *TokenBucket) Full() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.available >= b.toUnits(b.capacityTokens)
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Time went backwards. Avoid refilling and move the reference point.
		b.last = now
		return
	}

	elapsed := now.Sub(b.last).Nanoseconds()
	if elapsed <= 0 {
		return
	}
	b.last = now

	if b.fillRate <= 0 || b.capacityTokens <= 0 {
		return
	}

	capacity := b.toUnits(b.capacityTokens)
	if b.available >= capacity {
		b.available = capacity
		return
	}

	// Clamp instead of multiplying when enough time has passed to fill the
	// bucket; elapsed*fillRate could overflow.
	need := capacity - b.available
	if maxElapsed := need / b.fillRate; maxElapsed <= 0 || elapsed >= maxElapsed {
		b.available = capacity
		return
	}

	b.available += elapsed * b.fillRate
	if b.available > capacity {
		b.available = capacity
	}
}

func (b *TokenBucket) toUnits(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/b.unit {
		return maxInt64
	}
	return tokens * b.unit
}
