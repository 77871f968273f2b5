package sandbox

import (
	"sync"
	"time"
)

// RateLimiter caps inbound frames per connection over a sliding window.
type RateLimiter struct {
	maxFrames int
	window    time.Duration
	now       func() time.Time

	mu     sync.Mutex
	frames map[string][]time.Time
}

// NewRateLimiter creates a limiter allowing maxFrames per key in each window.
func NewRateLimiter(maxFrames int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxFrames: maxFrames,
		window:    window,
		now:       time.Now,
		frames:    make(map[string][]time.Time),
	}
}

// Allow records a frame for connectionID and reports whether it is within
// the limit. Rejected frames are not recorded.
func (r *RateLimiter) Allow(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window)

	recent := r.frames[connectionID][:0]
	for _, ts := range r.frames[connectionID] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= r.maxFrames {
		r.frames[connectionID] = recent
		return false
	}
	r.frames[connectionID] = append(recent, now)
	return true
}

// Forget drops the history of a closed connection.
func (r *RateLimiter) Forget(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.frames, connectionID)
}

func (r *RateLimiter) tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}
