package proxy

import (
	"sync"
	"time"
)

// DefaultCooldown is how long a failed proxy is skipped
const DefaultCooldown = 5 * time.Minute

// ProxyPool rotates browser launches across a list of proxies, skipping
// ones that recently took down a browser.
type ProxyPool struct {
	proxies  []string
	index    int
	mu       sync.Mutex
	failed   map[string]time.Time
	cooldown time.Duration
	now      func() time.Time
}

// NewProxyPool creates a new ProxyPool
func NewProxyPool(proxies []string) *ProxyPool {
	return &ProxyPool{
		proxies:  proxies,
		failed:   make(map[string]time.Time),
		cooldown: DefaultCooldown,
		now:      time.Now,
	}
}

// WithCooldown sets how long a failed proxy stays out of rotation
func (p *ProxyPool) WithCooldown(d time.Duration) *ProxyPool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cooldown = d
	return p
}

// Len returns the number of configured proxies
func (p *ProxyPool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.proxies)
}

// GetNext returns the next healthy proxy, or "" when none are configured.
// If every proxy is cooling down, the one that failed longest ago is used.
func (p *ProxyPool) GetNext() string {
	if p == nil {
		return ""
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.proxies) == 0 {
		return ""
	}

	now := p.now()
	oldest := ""
	var oldestAt time.Time

	for i := 0; i < len(p.proxies); i++ {
		proxy := p.proxies[p.index]
		p.index = (p.index + 1) % len(p.proxies)

		failTime, ok := p.failed[proxy]
		if !ok {
			return proxy
		}
		if now.Sub(failTime) >= p.cooldown {
			delete(p.failed, proxy)
			return proxy
		}
		if oldest == "" || failTime.Before(oldestAt) {
			oldest, oldestAt = proxy, failTime
		}
	}

	return oldest
}

// MarkFailed marks a proxy as failed so it will be skipped for a while
func (p *ProxyPool) MarkFailed(proxy string) {
	if p == nil || proxy == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed[proxy] = p.now()
}

// MarkHealthy clears the failure status of a proxy
func (p *ProxyPool) MarkHealthy(proxy string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.failed, proxy)
}
