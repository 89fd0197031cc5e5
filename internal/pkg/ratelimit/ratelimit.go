// Package ratelimit provides token buckets keyed by caller.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	limiter *rate.Limiter
	expires time.Time
}

// Limiter keeps one token bucket per key. Buckets idle longer than the TTL
// are dropped, so a returning caller starts with a full bucket.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
}

// New creates a limiter refilling at limit with the given burst. A
// non-positive limit allows everything.
func New(limit rate.Limit, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	if limit <= 0 {
		limit = rate.Inf
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		burst:   burst,
		ttl:     5 * time.Minute,
		now:     time.Now,
	}
}

// PerSecond allows perSecond events per key with the given burst.
func PerSecond(perSecond float64, burst int) *Limiter {
	return New(rate.Limit(perSecond), burst)
}

// PerMinute allows n events per key in any one minute window, refilled
// evenly. n <= 0 disables the limit.
func PerMinute(n int) *Limiter {
	if n <= 0 {
		return New(rate.Inf, 1)
	}
	return New(rate.Every(time.Minute/time.Duration(n)), n)
}

// Allow reports whether key may act now and spends a token if so.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, b := range l.buckets {
		if now.After(b.expires) {
			delete(l.buckets, k)
		}
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.expires = now.Add(l.ttl)
	return b.limiter.AllowN(now, 1)
}

// Burst returns the bucket size.
func (l *Limiter) Burst() int {
	return l.burst
}

// Len returns how many keys are tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
