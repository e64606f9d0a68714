package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// pollLimiter holds one token bucket per user. Anonymous callers share the
// bucket keyed by the empty user.
type pollLimiter struct {
	rps   float64
	burst int

	mu        sync.Mutex
	limiters  map[string]*userLimiter
	lastSweep time.Time
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterIdle is how long an unused bucket is kept.
const limiterIdle = 3 * time.Minute

// newPollLimiter returns nil when rps is not positive, which allows everything.
func newPollLimiter(rps float64, burst int) *pollLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &pollLimiter{
		rps:       rps,
		burst:     burst,
		limiters:  make(map[string]*userLimiter),
		lastSweep: time.Now(),
	}
}

func (l *pollLimiter) allow(user string) bool {
	if l == nil {
		return true
	}
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > time.Minute {
		for k, e := range l.limiters {
			if now.Sub(e.lastSeen) > limiterIdle {
				delete(l.limiters, k)
			}
		}
		l.lastSweep = now
	}

	e, ok := l.limiters[user]
	if !ok {
		e = &userLimiter{limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst)}
		l.limiters[user] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}
