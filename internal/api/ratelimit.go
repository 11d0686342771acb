package api

import (
	"sync"
	"time"
)

// DefaultUploadInterval is the minimum spacing between uploads from one IP.
const DefaultUploadInterval = 2 * time.Second

// UploadLimiter enforces a minimum interval between job uploads per client
// IP. Unlike a token bucket there is no burst: uploads start whole jobs, so
// back-to-back submissions from one client are always spaced out.
type UploadLimiter struct {
	mu       sync.Mutex
	last     map[string]time.Time
	interval time.Duration

	now func() time.Time // swappable for tests
}

// NewUploadLimiter creates a limiter with the given minimum interval.
// A non-positive interval falls back to DefaultUploadInterval.
func NewUploadLimiter(interval time.Duration) *UploadLimiter {
	if interval <= 0 {
		interval = DefaultUploadInterval
	}
	return &UploadLimiter{
		last:     make(map[string]time.Time),
		interval: interval,
		now:      time.Now,
	}
}

// Allow records an upload attempt from ip. When the attempt is too soon it
// returns false and how long the client must wait.
func (l *UploadLimiter) Allow(ip string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if prev, ok := l.last[ip]; ok {
		if wait := l.interval - now.Sub(prev); wait > 0 {
			return false, wait
		}
	}
	l.last[ip] = now

	// Lazy eviction keeps the map bounded without a background goroutine.
	if len(l.last) > 1024 {
		cutoff := now.Add(-10 * l.interval)
		for k, t := range l.last {
			if t.Before(cutoff) {
				delete(l.last, k)
			}
		}
	}
	return true, 0
}
