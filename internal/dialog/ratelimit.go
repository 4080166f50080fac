package dialog

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter applies a token bucket per user.
type RateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*userLimiter

	requestsPerSecond float64
	burst             int
}

type userLimiter struct {
	limiter *rate.Limiter
	mu      sync.Mutex
	last    time.Time
}

// NewRateLimiter creates a limiter allowing requestsPerSecond per user with the given burst.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters:          make(map[string]*userLimiter),
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
	}
}

// Allow reports whether userID may send an event now.
func (rl *RateLimiter) Allow(userID string) bool {
	return rl.AllowAt(userID, time.Now())
}

// AllowAt reports whether userID may send an event at the given instant.
func (rl *RateLimiter) AllowAt(userID string, at time.Time) bool {
	ul := rl.get(userID)
	ul.mu.Lock()
	if at.After(ul.last) {
		ul.last = at
	}
	ul.mu.Unlock()
	return ul.limiter.AllowN(at, 1)
}

// get gets or creates the limiter for userID.
func (rl *RateLimiter) get(userID string) *userLimiter {
	rl.mu.RLock()
	ul, exists := rl.limiters[userID]
	rl.mu.RUnlock()
	if exists {
		return ul
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring write lock
	if ul, exists := rl.limiters[userID]; exists {
		return ul
	}
	ul = &userLimiter{limiter: rate.NewLimiter(rate.Limit(rl.requestsPerSecond), rl.burst)}
	rl.limiters[userID] = ul
	return ul
}

// Sweep drops limiters unused since before now-idle. A dropped limiter is recreated full,
// so idle must be long enough for any bucket to have refilled.
func (rl *RateLimiter) Sweep(now time.Time, idle time.Duration) int {
	cutoff := now.Add(-idle)
	rl.mu.Lock()
	defer rl.mu.Unlock()

	n := 0
	for id, ul := range rl.limiters {
		ul.mu.Lock()
		stale := ul.last.Before(cutoff)
		ul.mu.Unlock()
		if stale {
			delete(rl.limiters, id)
			n++
		}
	}
	return n
}

// Len returns the number of tracked users.
func (rl *RateLimiter) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.limiters)
}
