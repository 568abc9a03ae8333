// Package ratelimit implements a hand-rolled per-key token bucket guarding
// outbound provider calls (spec §5: one bucket per (dialect, api key
// fingerprint)). Grounded on the teacher's internal/ratelimit/limiter.go,
// which the corpus uses in preference to golang.org/x/time/rate.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// bucket is a classic token bucket: tokens refill continuously at rate
// per second up to burst, and Allow/Wait consume one token per call.
type bucket struct {
	mu         sync.Mutex
	rate       float64 // tokens per second
	burst      float64
	tokens     float64
	lastRefill time.Time
}

func newBucket(ratePerSecond float64, burst int) *bucket {
	return &bucket{
		rate:       ratePerSecond,
		burst:      float64(burst),
		tokens:     float64(burst),
		lastRefill: time.Now(),
	}
}

func (b *bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.rate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	b.lastRefill = now
}

// allow reports whether a token was available and consumes it if so.
func (b *bucket) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(now)
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// reserveDelay returns how long the caller must wait for the next token,
// without consuming one (used by Wait to size its sleep).
func (b *bucket) reserveDelay(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(now)
	if b.tokens >= 1 {
		return 0
	}
	deficit := 1 - b.tokens
	return time.Duration(deficit/b.rate*1000) * time.Millisecond
}

// Limiter keys independent token buckets by provider dialect + API key
// fingerprint, so one tenant exhausting its budget never throttles another
// sharing the same process (spec §5).
type Limiter struct {
	mu            sync.Mutex
	buckets       map[string]*bucket
	ratePerSecond float64
	burst         int
}

// New creates a Limiter applying ratePerSecond/burst to every distinct key
// it sees lazily.
func New(ratePerSecond float64, burst int) *Limiter {
	return &Limiter{
		buckets:       make(map[string]*bucket),
		ratePerSecond: ratePerSecond,
		burst:         burst,
	}
}

// Key builds the bucket key for a (dialect, api key) pair without ever
// persisting the raw key material.
func Key(dialect, apiKeyFingerprint string) string {
	return dialect + ":" + apiKeyFingerprint
}

func (l *Limiter) bucketFor(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = newBucket(l.ratePerSecond, l.burst)
		l.buckets[key] = b
	}
	return b
}

// Allow reports whether a call under key may proceed immediately.
func (l *Limiter) Allow(key string) bool {
	return l.bucketFor(key).allow(time.Now())
}

// Wait blocks until a token for key is available or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	b := l.bucketFor(key)
	for {
		now := time.Now()
		if b.allow(now) {
			return nil
		}
		delay := b.reserveDelay(now)
		if delay <= 0 {
			delay = time.Millisecond
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("ratelimit: wait cancelled for %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}
