package signal

import (
	"sync"
	"time"

	"github.com/dkeye/speakcall/internal/domain"
	"k8s.io/utils/clock"
)

// RateLimiter is a per-participant sliding window.
type RateLimiter struct {
	mu       sync.Mutex
	clk      clock.PassiveClock
	history  map[domain.ParticipantID][]time.Time
	limit    int
	interval time.Duration
}

func NewRateLimiter(limit int, interval time.Duration, clk clock.PassiveClock) *RateLimiter {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &RateLimiter{
		clk:      clk,
		history:  make(map[domain.ParticipantID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

// Allow records an attempt by id and reports whether it fits in the window.
func (rl *RateLimiter) Allow(id domain.ParticipantID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clk.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[id]
	fresh := attempts[:0]
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

// Forget drops the history of a participant that went offline.
func (rl *RateLimiter) Forget(id domain.ParticipantID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.history, id)
}
