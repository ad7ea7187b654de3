package secrets

import (
	"time"

	cache "github.com/patrickmn/go-cache"
)

// RateLimiter is a per-accessor sliding window over the last minute and
// hour. Windows live only in memory and reset on restart. Callers
// serialize access (the Store holds its mutex).
type RateLimiter struct {
	perMinute int
	perHour   int
	windows   *cache.Cache
	lastSweep time.Time
}

// NewRateLimiter creates a limiter allowing perMinute and perHour accesses.
func NewRateLimiter(perMinute, perHour int) *RateLimiter {
	return &RateLimiter{
		perMinute: perMinute,
		perHour:   perHour,
		// No janitor goroutine; Allow sweeps expired accessors itself
		windows: cache.New(time.Hour, 0),
	}
}

// Allow records an access at now and reports whether it fits in both
// windows. Denied attempts are not recorded.
func (r *RateLimiter) Allow(accessor string, now time.Time) bool {
	if now.Sub(r.lastSweep) > 10*time.Minute {
		r.windows.DeleteExpired()
		r.lastSweep = now
	}

	var stamps []time.Time
	if v, ok := r.windows.Get(accessor); ok {
		stamps = v.([]time.Time)
	}

	hourAgo := now.Add(-time.Hour)
	minuteAgo := now.Add(-time.Minute)

	kept := stamps[:0]
	lastMinute := 0
	for _, ts := range stamps {
		if !ts.After(hourAgo) {
			continue
		}
		kept = append(kept, ts)
		if ts.After(minuteAgo) {
			lastMinute++
		}
	}

	if lastMinute >= r.perMinute || len(kept) >= r.perHour {
		r.windows.SetDefault(accessor, kept)
		return false
	}

	kept = append(kept, now)
	r.windows.SetDefault(accessor, kept)
	return true
}

// Remaining returns how many accesses are left in the minute window.
func (r *RateLimiter) Remaining(accessor string, now time.Time) int {
	v, ok := r.windows.Get(accessor)
	if !ok {
		return r.perMinute
	}
	minuteAgo := now.Add(-time.Minute)
	used := 0
	for _, ts := range v.([]time.Time) {
		if ts.After(minuteAgo) {
			used++
		}
	}
	if used >= r.perMinute {
		return 0
	}
	return r.perMinute - used
}

// Reset clears every window.
func (r *RateLimiter) Reset() {
	r.windows.Flush()
}
