// Package ratelimit provides a token bucket limiter keyed by client.
package ratelimit

import (
	"sync"
	"time"
)

// Idle buckets are dropped so per-client keys cannot grow the map
// without bound.
const (
	staleAfter = 10 * time.Minute
	sweepEvery = time.Minute
)

// Limiter is a token bucket per key. All keys share one rate and burst.
type Limiter struct {
	rate  float64 // tokens per second
	burst float64

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// New builds a limiter refilling rate tokens per second up to burst.
func New(rate, burst float64) *Limiter {
	if rate <= 0 {
		rate = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		rate:      rate,
		burst:     burst,
		buckets:   make(map[string]*bucket),
		lastSweep: time.Now(),
	}
}

// Allow consumes one token for key when one is available.
func (l *Limiter) Allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > sweepEvery {
		l.sweep(now)
	}

	b, ok := l.buckets[key]
	if !ok {
		// A fresh bucket starts full, so the first request always passes.
		l.buckets[key] = &bucket{tokens: l.burst - 1, last: now}
		return true
	}

	b.tokens += now.Sub(b.last).Seconds() * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// sweep drops idle buckets. Callers hold l.mu.
func (l *Limiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.last) > staleAfter {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}
