package ratelimit

import (
	"sync"
	"time"
)

// KeyedLimiter applies an independent window bucket to every key (typically a
// client IP).
//
// Buckets that have refilled to capacity are indistinguishable from fresh
// ones, so Sweep drops them to keep memory bounded by the number of recently
// active keys.
type KeyedLimiter struct {
	clock    Clock
	requests int64
	window   time.Duration

	mu      sync.Mutex
	buckets map[string]*TokenBucket
}

// NewKeyedLimiter allows requests per window for each key. requests <= 0
// disables limiting; a nil *KeyedLimiter allows everything.
func NewKeyedLimiter(clock Clock, requests int, window time.Duration) *KeyedLimiter {
	if clock == nil {
		clock = RealClock{}
	}
	return &KeyedLimiter{
		clock:    clock,
		requests: int64(requests),
		window:   window,
		buckets:  make(map[string]*TokenBucket),
	}
}

func (l *KeyedLimiter) Enabled() bool {
	return l != nil && l.requests > 0
}

// Allow consumes one token from key's bucket.
func (l *KeyedLimiter) Allow(key string) bool {
	if !l.Enabled() {
		return true
	}

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = NewWindowBucket(l.clock, l.requests, l.requests, l.window)
		l.buckets[key] = b
	}
	l.mu.Unlock()

	return b.Allow(1)
}

// Sweep forgets keys whose buckets are full again and returns how many were
// removed.
func (l *KeyedLimiter) Sweep() int {
	if !l.Enabled() {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		if b.Full() {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *KeyedLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
