package api

import (
	"net"
	"net/http"
	"sync"
	"sync/atomic"
)

// SSE connection limits to prevent DoS via long-lived streaming connections.
const (
	// MaxSSEDurationSeconds is the maximum lifetime of a single SSE connection.
	MaxSSEDurationSeconds = 30 * 60

	// MaxSSEPerIP is the maximum concurrent SSE connections from one IP.
	MaxSSEPerIP = 10

	// MaxSSEGlobal caps concurrent SSE connections across all clients.
	MaxSSEGlobal = 500
)

// SSELimiter tracks concurrent SSE connections per IP and globally.
type SSELimiter struct {
	globalCount atomic.Int64
	mu          sync.Mutex
	perIP       map[string]*atomic.Int64
}

// NewSSELimiter creates a new SSE connection limiter.
func NewSSELimiter() *SSELimiter {
	return &SSELimiter{perIP: make(map[string]*atomic.Int64)}
}

// Acquire registers a new SSE connection for the given IP. Returns false
// if any limit is exceeded. On success the caller MUST call Release when
// the connection ends.
func (l *SSELimiter) Acquire(ip string) bool {
	if l.globalCount.Load() >= MaxSSEGlobal {
		return false
	}

	l.mu.Lock()
	counter, ok := l.perIP[ip]
	if !ok {
		counter = &atomic.Int64{}
		l.perIP[ip] = counter
	}
	l.mu.Unlock()

	if counter.Load() >= int64(MaxSSEPerIP) {
		return false
	}

	// Increment then re-check; another goroutine may have raced us between
	// the check and the add.
	ipCount := counter.Add(1)
	globalCount := l.globalCount.Add(1)
	if ipCount > int64(MaxSSEPerIP) || globalCount > MaxSSEGlobal {
		counter.Add(-1)
		l.globalCount.Add(-1)
		return false
	}
	return true
}

// Release decrements the connection counters for the given IP. Must be
// called exactly once for each successful Acquire.
func (l *SSELimiter) Release(ip string) {
	l.globalCount.Add(-1)

	l.mu.Lock()
	counter, ok := l.perIP[ip]
	l.mu.Unlock()

	if ok && counter.Add(-1) <= 0 {
		l.mu.Lock()
		if counter.Load() <= 0 {
			delete(l.perIP, ip)
		}
		l.mu.Unlock()
	}
}

// GlobalCount returns the current global SSE connection count.
func (l *SSELimiter) GlobalCount() int64 {
	return l.globalCount.Load()
}

// IPCount returns the current SSE connection count for a specific IP.
func (l *SSELimiter) IPCount(ip string) int64 {
	l.mu.Lock()
	counter, ok := l.perIP[ip]
	l.mu.Unlock()

	if !ok {
		return 0
	}
	return counter.Load()
}

// clientIP extracts the client IP, preferring X-Real-Ip (set by chi's
// RealIP middleware) and stripping the port from RemoteAddr.
func clientIP(r *http.Request) string {
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
