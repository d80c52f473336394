// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the per-identity rate limiter: a sliding window over
// the trailing 60 seconds combined with a token bucket. The window caps the
// absolute request count per minute; the bucket shapes bursts. A request must
// pass both.
//
// Buckets are process-local. For horizontally scaled deployments a
// distributed limiter would be required to enforce global limits; this one is
// edge-level abuse control and cost protection.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

const (
	// slidingWindow is the span over which requests are counted.
	slidingWindow = 60 * time.Second
	// sweepInterval is how often idle identities are garbage collected.
	sweepInterval = 300 * time.Second
	// idleEviction is how long an identity may be unused before eviction.
	idleEviction = 600 * time.Second
)

// rlRejections counts rate-limit rejections by identity class (user or ip).
var rlRejections = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_rate_limit_rejections_total",
		Help: "Total number of requests rejected by the rate limiter.",
	},
	[]string{"class"},
)

func init() {
	prometheus.MustRegister(rlRejections)
}

// keyFunc selects the identity used to key a rate-limit bucket.
type keyFunc func(*gin.Context) string

// KeyByUserOrIP prefers the authenticated user id (set by the auth
// middleware) and falls back to the client IP. Keys are prefixed so user and
// IP namespaces cannot collide.
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if v, ok := c.Get(userIDKey); ok {
			if s, ok := v.(string); ok && s != "" {
				return "user:" + s
			}
		}
		return "ip:" + c.ClientIP()
	}
}

// visitor tracks one identity: its token bucket, the sliding window of
// request timestamps, and the last time it was seen.
type visitor struct {
	limiter  *rate.Limiter
	window   []time.Time
	lastSeen time.Time
}

// RateLimiter enforces the combined sliding-window and token-bucket policy
// per identity. Safe for concurrent use. Close stops the background sweeper.
type RateLimiter struct {
	rpm   int
	burst int
	keyFn keyFunc

	mu       sync.Mutex
	visitors map[string]*visitor

	stop chan struct{}
	once sync.Once
}

// NewRateLimiter constructs a limiter allowing rpm requests per sliding
// minute with the given burst size, keyed by keyFn, and starts the idle-key
// sweeper.
func NewRateLimiter(rpm, burst int, keyFn keyFunc) *RateLimiter {
	if rpm < 1 {
		rpm = 1
	}
	if burst < 1 {
		burst = 1
	}
	rl := &RateLimiter{
		rpm:      rpm,
		burst:    burst,
		keyFn:    keyFn,
		visitors: make(map[string]*visitor),
		stop:     make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Close stops the background sweeper. Idempotent.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

// Consume records one request for key and reports whether it is admitted.
// On rejection, retryAfter is the number of seconds until the oldest
// in-window timestamp ages out (at least 1, at most 60).
func (rl *RateLimiter) Consume(key string) (allowed bool, retryAfter int) {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{
			// Refill proportionally to elapsed time: rpm per 60s.
			limiter: rate.NewLimiter(rate.Limit(float64(rl.rpm)/slidingWindow.Seconds()), rl.burst),
		}
		rl.visitors[key] = v
	}
	v.lastSeen = now

	// Drop timestamps that left the window.
	cutoff := now.Add(-slidingWindow)
	kept := v.window[:0]
	for _, t := range v.window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	v.window = kept

	if len(v.window) >= rl.rpm {
		return false, rl.secondsUntilSlot(v.window, now)
	}
	if !v.limiter.Allow() {
		return false, rl.secondsUntilSlot(v.window, now)
	}

	v.window = append(v.window, now)
	return true, 0
}

// secondsUntilSlot computes the Retry-After hint from the oldest in-window
// timestamp. Bounded to [1, 60].
func (rl *RateLimiter) secondsUntilSlot(window []time.Time, now time.Time) int {
	if len(window) == 0 {
		return 1
	}
	oldest := window[0]
	secs := int(math.Ceil(slidingWindow.Seconds() - now.Sub(oldest).Seconds()))
	if secs < 1 {
		secs = 1
	}
	if secs > 60 {
		secs = 60
	}
	return secs
}

// sweepLoop evicts identities idle longer than idleEviction every
// sweepInterval until Close.
func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.sweep(time.Now())
		case <-rl.stop:
			return
		}
	}
}

// sweep removes idle visitors. Exposed for tests via the clock parameter.
func (rl *RateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for k, v := range rl.visitors {
		if now.Sub(v.lastSeen) >= idleEviction {
			delete(rl.visitors, k)
		}
	}
}

// Handler returns the Gin middleware enforcing the limiter. Rejections carry
// a Retry-After header and the standard error envelope with retryAfterSec in
// details.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rl.keyFn(c)
		allowed, retryAfter := rl.Consume(key)
		if allowed {
			c.Next()
			return
		}

		class := "ip"
		if len(key) > 5 && key[:5] == "user:" {
			class = "user"
		}
		rlRejections.WithLabelValues(class).Inc()

		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"error":      "RateLimited",
			"message":    "rate limit exceeded",
			"status":     http.StatusTooManyRequests,
			"details":    gin.H{"retryAfterSec": retryAfter},
		})
	}
}
