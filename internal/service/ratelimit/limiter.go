package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type keyed struct {
	lim  *rate.Limiter
	seen time.Time
}

// Limiter keeps one token bucket per key, all with the same burst and rate.
type Limiter struct {
	mu    sync.Mutex
	m     map[string]*keyed
	burst int
	rps   rate.Limit
	now   func() time.Time
}

// New allows bursts of capacity and refills refillPerSec tokens a second.
func New(capacity, refillPerSec float64) *Limiter {
	return &Limiter{
		m:     make(map[string]*keyed),
		burst: max(int(capacity), 1),
		rps:   rate.Limit(refillPerSec),
		now:   time.Now,
	}
}

// Allow takes a token for key. When none is available it reports the wait
// until the next one without consuming anything.
func (l *Limiter) Allow(key string) (ok bool, retryAfter time.Duration) {
	now := l.now()
	l.mu.Lock()
	k, found := l.m[key]
	if !found {
		k = &keyed{lim: rate.NewLimiter(l.rps, l.burst)}
		l.m[key] = k
	}
	k.seen = now
	l.mu.Unlock()

	r := k.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Hour
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Forget drops buckets unused for longer than idle and returns how many.
func (l *Limiter) Forget(idle time.Duration) int {
	cutoff := l.now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for key, k := range l.m {
		if k.seen.Before(cutoff) {
			delete(l.m, key)
			n++
		}
	}
	return n
}
