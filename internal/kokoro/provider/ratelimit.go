package provider

import (
	"sync"
	"time"
)

const (
	// DefaultRateLimit is the number of calls per window allowed for one
	// provider when nothing else is configured.
	DefaultRateLimit = 60

	defaultRateWindow = time.Minute
)

// RateLimiter is a sliding-window limiter keyed by provider name. It keeps
// at most limit timestamps per key and prunes expired ones on every call.
// It is safe for concurrent use.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	calls  map[string][]time.Time
	now    func() time.Time
}

// NewRateLimiter allows limit calls per key per window. Non-positive values
// fall back to DefaultRateLimit and one minute.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	return &RateLimiter{
		limit:  limit,
		window: window,
		calls:  make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records a call for key and reports whether it fits in the window.
// A rejected call is not recorded.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	valid := r.prune(key, now)
	if len(valid) >= r.limit {
		r.calls[key] = valid
		return false
	}
	r.calls[key] = append(valid, now)
	return true
}

// Remaining returns how many more calls key may make in the current window.
func (r *RateLimiter) Remaining(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	valid := r.prune(key, r.now())
	r.calls[key] = valid
	if rem := r.limit - len(valid); rem > 0 {
		return rem
	}
	return 0
}

// prune drops timestamps older than the window. Caller holds r.mu.
func (r *RateLimiter) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-r.window)
	existing := r.calls[key]
	valid := existing[:0]
	for _, t := range existing {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	return valid
}
