package api

import (
	"sync"

	"golang.org/x/time/rate"
)

// tenantLimiter keeps one token bucket per tenant for solve requests.
// A non-positive rate disables limiting.
type tenantLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func newTenantLimiter(rps float64, burst int) *tenantLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &tenantLimiter{rps: rate.Limit(rps), burst: burst, buckets: map[string]*rate.Limiter{}}
}

func (l *tenantLimiter) Allow(tenant string) bool {
	if l == nil || l.rps <= 0 {
		return true
	}
	l.mu.Lock()
	lim, ok := l.buckets[tenant]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.buckets[tenant] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
