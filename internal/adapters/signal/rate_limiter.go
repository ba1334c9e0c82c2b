package signal

import (
	"sync"
	"time"

	"github.com/Ameba1399/MES/internal/domain"
)

// RateLimiter caps signaling frames per client over a sliding window,
// shielding the relay from misbehaving or looping clients. Keyed by
// client token rather than identity, so pre-join floods count too.
type RateLimiter struct {
	mu       sync.Mutex
	history  map[domain.Identity][]time.Time
	limit    int
	interval time.Duration
}

func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		history:  make(map[domain.Identity][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

// Allow records one attempt and reports whether it fits the window.
func (rl *RateLimiter) Allow(id domain.Identity) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[id]
	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[id] = fresh
		return false
	}

	rl.history[id] = append(fresh, now)
	return true
}

// Forget drops the history of a departed client.
func (rl *RateLimiter) Forget(id domain.Identity) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.history, id)
}
