// internal/ratelimit/limiter.go
package ratelimit

import (
	"context"
	"strings"
	"sync"

	urlutil "github.com/law-makers/locscrape/internal/utils/url"
	"golang.org/x/time/rate"
)

// RateLimiter paces page loads against the target site
type RateLimiter interface {
	// Wait blocks until a navigation to urlStr may start
	Wait(ctx context.Context, urlStr string) error
}

// DomainLimiter keeps one token bucket per host so every browser in the
// pool shares the same politeness budget for a site.
type DomainLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	perHost  rate.Limit
	burst    int
}

// NewDomainLimiter creates a limiter allowing requestsPerSecond per host
func NewDomainLimiter(requestsPerSecond float64, burst int) *DomainLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 2.0
	}
	if burst <= 0 {
		burst = 1
	}

	return &DomainLimiter{
		limiters: make(map[string]*rate.Limiter),
		perHost:  rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

// Wait blocks until the request for the given URL can proceed
func (dl *DomainLimiter) Wait(ctx context.Context, urlStr string) error {
	domain := urlutil.Host(urlStr)
	if domain == "" {
		// Invalid URL, let it proceed (navigation will fail)
		return nil
	}
	return dl.getLimiter(domain).Wait(ctx)
}

// Allow reports whether a request may proceed immediately, consuming a token
func (dl *DomainLimiter) Allow(urlStr string) bool {
	domain := urlutil.Host(urlStr)
	if domain == "" {
		return true
	}
	return dl.getLimiter(domain).Allow()
}

func (dl *DomainLimiter) getLimiter(domain string) *rate.Limiter {
	dl.mu.RLock()
	limiter, exists := dl.limiters[domain]
	dl.mu.RUnlock()

	if exists {
		return limiter
	}

	dl.mu.Lock()
	defer dl.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := dl.limiters[domain]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(dl.perHost, dl.burst)
	dl.limiters[domain] = limiter
	return limiter
}

// SetLimit overrides the rate for a specific host
func (dl *DomainLimiter) SetLimit(domain string, requestsPerSecond float64, burst int) {
	domain = strings.ToLower(domain)

	dl.mu.Lock()
	defer dl.mu.Unlock()

	if limiter, exists := dl.limiters[domain]; exists {
		limiter.SetLimit(rate.Limit(requestsPerSecond))
		limiter.SetBurst(burst)
		return
	}
	dl.limiters[domain] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}
