package executor

import (
	"sync"
	"time"
)

// slidingLimiter caps executions inside a trailing window. Unlike a
// fixed-second counter, the window slides so bursts straddling a boundary
// cannot double the budget.
type slidingLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
	now    func() time.Time
}

func newSlidingLimiter(limit int, window time.Duration) *slidingLimiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &slidingLimiter{limit: limit, window: window, now: time.Now}
}

// Allow reports whether one more execution fits in the current window and
// consumes a slot if so. Refusals consume nothing.
func (l *slidingLimiter) Allow() bool {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.stamps[:0]
	for _, ts := range l.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.stamps = kept

	if len(l.stamps) >= l.limit {
		return false
	}
	l.stamps = append(l.stamps, now)
	return true
}
