// Package ratelimit throttles deliveries per endpoint.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter holds one token bucket per key. Buckets refill at the endpoint's
// rate with a burst equal to one second's worth of deliveries.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New creates an empty Limiter.
func New() *Limiter {
	return &Limiter{buckets: make(map[string]*rate.Limiter)}
}

// Allow reports whether a delivery to key may go out now, consuming a token
// if so. perSecond <= 0 means unlimited.
func (l *Limiter) Allow(key string, perSecond int) bool {
	if perSecond <= 0 {
		return true
	}
	return l.bucket(key, perSecond).Allow()
}

// Wait blocks until a token for key is available or ctx is done.
// perSecond <= 0 returns immediately.
func (l *Limiter) Wait(ctx context.Context, key string, perSecond int) error {
	if perSecond <= 0 {
		return nil
	}
	return l.bucket(key, perSecond).Wait(ctx)
}

// Reset drops the bucket for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// bucket returns the limiter for key, retuning it when the endpoint's rate
// changed since the last call.
func (l *Limiter) bucket(key string, perSecond int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit := rate.Limit(perSecond)
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(limit, perSecond)
		l.buckets[key] = b
		return b
	}
	if b.Limit() != limit {
		b.SetLimit(limit)
		b.SetBurst(perSecond)
	}
	return b
}
