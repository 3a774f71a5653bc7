package session

import (
	"sync"
	"time"

	"github.com/dkeye/Duet/internal/domain"
)

// FindLimiter is a sliding window limiter keyed by credential session, so a
// reconnect does not reset the budget.
type FindLimiter struct {
	mu       sync.Mutex
	history  map[domain.SessionID][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

// NewFindLimiter returns nil when limit is not positive; a nil limiter allows everything.
func NewFindLimiter(limit int, interval time.Duration) *FindLimiter {
	if limit <= 0 || interval <= 0 {
		return nil
	}
	return &FindLimiter{
		history:  make(map[domain.SessionID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *FindLimiter) Allow(sid domain.SessionID) bool {
	if rl == nil {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[sid]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[sid] = fresh
		return false
	}

	rl.history[sid] = append(fresh, now)
	return true
}

// Sweep forgets sessions with no attempt inside the window.
func (rl *FindLimiter) Sweep() {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	windowStart := rl.now().Add(-rl.interval)
	for sid, attempts := range rl.history {
		if len(attempts) == 0 || !attempts[len(attempts)-1].After(windowStart) {
			delete(rl.history, sid)
		}
	}
}
