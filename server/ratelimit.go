package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces per-client request rates with a token bucket per key.
type RateLimiter struct {
	limiters sync.Map // key -> *limiterEntry
	r        rate.Limit
	burst    int
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

type limiterEntry struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second with the
// given burst. rps <= 0 disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 5
	}
	r := rate.Limit(0)
	if rps > 0 {
		r = rate.Limit(rps)
	}
	rl := &RateLimiter{r: r, burst: burst, now: time.Now, stop: make(chan struct{})}
	if rl.Enabled() {
		go rl.cleanupLoop(5 * time.Minute)
	}
	return rl
}

// Enabled reports whether limiting is active.
func (rl *RateLimiter) Enabled() bool { return rl.r > 0 }

// Allow reports whether a request from key may proceed. When it may not,
// retryAfter is the time until the next token is available.
func (rl *RateLimiter) Allow(key string) (ok bool, retryAfter time.Duration) {
	if !rl.Enabled() {
		return true, 0
	}
	entry := rl.getOrCreate(key)
	now := rl.now()

	entry.mu.Lock()
	entry.lastSeen = now
	entry.mu.Unlock()

	res := entry.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Close stops the background cleanup.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) getOrCreate(key string) *limiterEntry {
	if v, ok := rl.limiters.Load(key); ok {
		return v.(*limiterEntry)
	}
	entry := &limiterEntry{
		limiter:  rate.NewLimiter(rl.r, rl.burst),
		lastSeen: rl.now(),
	}
	actual, _ := rl.limiters.LoadOrStore(key, entry)
	return actual.(*limiterEntry)
}

func (rl *RateLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup(rl.now().Add(-10 * time.Minute))
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) cleanup(cutoff time.Time) {
	rl.limiters.Range(func(key, value any) bool {
		entry := value.(*limiterEntry)
		entry.mu.Lock()
		stale := entry.lastSeen.Before(cutoff)
		entry.mu.Unlock()
		if stale {
			rl.limiters.Delete(key)
		}
		return true
	})
}
