package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per key.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

func New(rps float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{limiters: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[key]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[key]; ok {
		return lim
	}
	limit := rate.Limit(l.rps)
	if l.rps <= 0 {
		limit = rate.Inf
	}
	lim = rate.NewLimiter(limit, l.burst)
	l.limiters[key] = lim
	return lim
}

// Allow consumes one token for key if one is available.
func (l *Limiter) Allow(key string) bool { return l.get(key).Allow() }

// Wait blocks until key has a token or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string) error { return l.get(key).Wait(ctx) }

// Keys returns the number of tracked keys.
func (l *Limiter) Keys() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.limiters)
}
