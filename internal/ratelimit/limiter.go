package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

const nanosPerToken = int64(time.Second)

// Limiter is a token bucket refilled at an integer rate (tokens/sec) up to
// burst. It tracks tokens in integer nanoseconds-worth so refill needs no
// floating point: at a rate of R tokens/sec, one elapsed nanosecond is worth
// R nano-tokens.
type Limiter struct {
	mu sync.Mutex

	clock Clock
	rate  int64 // tokens per second
	burst int64 // bucket capacity in tokens

	available int64 // nano-tokens
	last      time.Time
}

// New returns a limiter allowing rate events per second with bursts of up to
// burst events. A nil clock means the real clock.
func New(clock Clock, rate, burst int64) *Limiter {
	if clock == nil {
		clock = RealClock{}
	}
	if rate < 0 {
		rate = 0
	}
	if burst < 0 {
		burst = 0
	}
	return &Limiter{
		clock:     clock,
		rate:      rate,
		burst:     burst,
		available: burst * nanosPerToken,
		last:      clock.Now(),
	}
}

// Allow consumes one token if available.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked()

	if l.available < nanosPerToken {
		return false
	}
	l.available -= nanosPerToken
	return true
}

func (l *Limiter) refillLocked() {
	now := l.clock.Now()
	if now.Before(l.last) {
		// Time went backwards; move the reference point without refilling.
		l.last = now
		return
	}
	elapsed := now.Sub(l.last).Nanoseconds()
	l.last = now

	if elapsed <= 0 || l.rate <= 0 || l.burst <= 0 {
		return
	}

	capacity := l.burst * nanosPerToken
	need := capacity - l.available
	if need <= 0 {
		l.available = capacity
		return
	}
	// If enough time passed to fill the bucket, clamp instead of multiplying
	// (avoids overflow on long idle periods).
	if elapsed >= need/l.rate {
		l.available = capacity
		return
	}
	l.available += elapsed * l.rate
}
