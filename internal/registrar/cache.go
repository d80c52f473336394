// Per-TLD pricing cache shared by both drivers. Entries expire after a fixed
// TTL; the map is guarded for concurrent request handlers.
package registrar

import (
	"strings"
	"sync"
	"time"
)

// pricingTTL bounds how long a TLD price may be served without refreshing.
const pricingTTL = 300 * time.Second

// tldPricing is one cached pricing row for a TLD.
type tldPricing struct {
	Price        float64
	Premium      bool
	PrivacyPrice float64
	Timestamp    time.Time
}

// pricingCache maps TLD → pricing with TTL expiry. Safe for concurrent use.
type pricingCache struct {
	mu      sync.RWMutex
	entries map[string]tldPricing
	ttl     time.Duration
}

func newPricingCache() *pricingCache {
	return &pricingCache{
		entries: make(map[string]tldPricing),
		ttl:     pricingTTL,
	}
}

// get returns the live entry for tld, if any.
func (c *pricingCache) get(tld string) (tldPricing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[strings.ToLower(tld)]
	if !ok || time.Since(e.Timestamp) >= c.ttl {
		return tldPricing{}, false
	}
	return e, true
}

// put stores pricing for tld stamped now.
func (c *pricingCache) put(tld string, p tldPricing) {
	p.Timestamp = time.Now()
	c.mu.Lock()
	c.entries[strings.ToLower(tld)] = p
	c.mu.Unlock()
}
