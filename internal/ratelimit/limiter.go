// Package ratelimit enforces the per-connection message rate limit and the
// per-IP concurrent connection cap spec.md §4.C calls for. The token
// bucket is grounded on grimsleydl-treacherest's internal/middleware
// RateLimiter, adapted from per-IP HTTP middleware to per-connection
// WebSocket message gating.
package ratelimit

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MessageLimiter gates the message rate of a single connection.
type MessageLimiter struct {
	limiter *rate.Limiter
}

// NewMessageLimiter builds a per-connection limiter allowing
// messagesPerSecond sustained with bursts of up to burst messages.
func NewMessageLimiter(messagesPerSecond float64, burst int) *MessageLimiter {
	return &MessageLimiter{limiter: rate.NewLimiter(rate.Limit(messagesPerSecond), burst)}
}

// Allow reports whether the next message may be processed.
func (m *MessageLimiter) Allow() bool {
	return m.limiter.Allow()
}

// ConnectionLimiter caps concurrent connections per source IP and GCs
// empty IP entries after a grace period (spec.md §4.C).
type ConnectionLimiter struct {
	mu          sync.Mutex
	counts      map[string]int
	emptiedAt   map[string]time.Time
	maxPerIP    int
	gracePeriod time.Duration
}

func NewConnectionLimiter(maxPerIP int, gracePeriod time.Duration) *ConnectionLimiter {
	return &ConnectionLimiter{
		counts:      make(map[string]int),
		emptiedAt:   make(map[string]time.Time),
		maxPerIP:    maxPerIP,
		gracePeriod: gracePeriod,
	}
}

// TryAcquire attempts to reserve a connection slot for ip. It returns
// false when the IP is already at its concurrent-connection cap.
func (c *ConnectionLimiter) TryAcquire(ip string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.counts[ip] >= c.maxPerIP {
		return false
	}

	c.counts[ip]++
	delete(c.emptiedAt, ip)
	return true
}

// Release frees a connection slot for ip, scheduling the entry for GC once
// it reaches zero.
func (c *ConnectionLimiter) Release(ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.counts[ip] > 0 {
		c.counts[ip]--
	}
	if c.counts[ip] <= 0 {
		delete(c.counts, ip)
		c.emptiedAt[ip] = time.Now()
	}
}

// GC removes IP entries that have been empty for longer than the grace
// period. Callers run this on a ticker; it is safe to call concurrently
// with TryAcquire/Release.
func (c *ConnectionLimiter) GC() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for ip, emptiedAt := range c.emptiedAt {
		if now.Sub(emptiedAt) >= c.gracePeriod {
			delete(c.emptiedAt, ip)
		}
	}
}

// ClientIP extracts the source IP from a request, honoring
// X-Forwarded-For's first hop (spec.md §4.C).
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}

	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		return host[:idx]
	}
	return host
}
