package ratelimiter

import (
	"context"
	"sync"
	"time"
)

// PooledRateLimiter manages rate limiters per node URL.
type PooledRateLimiter struct {
	limiters map[string]*RateLimiter
	mutex    sync.RWMutex
	rate     time.Duration
	burst    int
}

func NewPooledRateLimiter(rate time.Duration, burst int) *PooledRateLimiter {
	return &PooledRateLimiter{
		limiters: make(map[string]*RateLimiter),
		rate:     rate,
		burst:    burst,
	}
}

// Wait waits for permission to make a request to the specified node.
func (p *PooledRateLimiter) Wait(ctx context.Context, node string) error {
	return p.getLimiter(node).Wait(ctx)
}

// TryAcquire attempts to acquire permission without blocking.
func (p *PooledRateLimiter) TryAcquire(node string) bool {
	return p.getLimiter(node).TryAcquire()
}

func (p *PooledRateLimiter) getLimiter(node string) *RateLimiter {
	p.mutex.RLock()
	limiter, exists := p.limiters[node]
	p.mutex.RUnlock()

	if exists {
		return limiter
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	// double-check in case another goroutine created it
	if limiter, exists := p.limiters[node]; exists {
		return limiter
	}

	limiter = NewRateLimiter(p.rate, p.burst)
	p.limiters[node] = limiter
	return limiter
}

// Close closes all rate limiters.
func (p *PooledRateLimiter) Close() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for _, limiter := range p.limiters {
		limiter.Close()
	}
	p.limiters = make(map[string]*RateLimiter)
}
