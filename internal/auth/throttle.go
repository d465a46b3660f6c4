package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// throttle limits login attempts per username with a token bucket.
type throttle struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    rate.Limit
	burst   int
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newThrottle allows attempts per window with a burst capacity.
func newThrottle(attempts int, window time.Duration, burst int) *throttle {
	t := &throttle{
		buckets: make(map[string]*bucket),
		rate:    rate.Limit(float64(attempts) / window.Seconds()),
		burst:   burst,
		stop:    make(chan struct{}),
	}
	go t.cleanupLoop()
	return t
}

// allow consumes one token for key. When denied it returns how long to wait
// for the next token.
func (t *throttle) allow(key string) (bool, time.Duration) {
	now := time.Now()
	t.mu.Lock()
	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(t.rate, t.burst)}
		t.buckets[key] = b
	}
	b.lastSeen = now
	t.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

func (t *throttle) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.cleanup(time.Now())
		case <-t.stop:
			return
		}
	}
}

// cleanup forgets idle keys whose bucket refilled.
func (t *throttle) cleanup(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	stale := now.Add(-10 * time.Minute)
	for key, b := range t.buckets {
		if b.lastSeen.Before(stale) && b.limiter.TokensAt(now) >= float64(t.burst) {
			delete(t.buckets, key)
		}
	}
}

func (t *throttle) close() {
	t.once.Do(func() { close(t.stop) })
}
