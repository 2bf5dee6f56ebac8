package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lucaszengool/puppydiary-sub001/internal/metrics"
)

const (
	GenerationRequestsPerMinute = 5
	FeedMessagesPerMinute       = 30
	MaxFeedMessageSize          = 4 * 1024 // 4KB

	defaultThrottleIdle = 10 * time.Minute
)

// NewFeedLimiter creates a rate limiter for one balance feed connection.
func NewFeedLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(float64(FeedMessagesPerMinute)/60.0), FeedMessagesPerMinute)
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle is a per-key token bucket guarding expensive requests such as
// image generation. Idle keys are dropped by Sweep.
type Throttle struct {
	mu      sync.Mutex
	entries map[string]*throttleEntry
	limit   rate.Limit
	burst   int
	idle    time.Duration
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewThrottle allows perMinute requests per key with the given burst.
func NewThrottle(perMinute, burst int, opts ...Option) *Throttle {
	o := buildOptions(opts)
	return &Throttle{
		entries: make(map[string]*throttleEntry),
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		idle:    defaultThrottleIdle,
		log:     o.log,
		metrics: o.metrics,
		now:     o.now,
	}
}

// Allow takes one token for key. When denied it returns how long until a
// token is available.
func (t *Throttle) Allow(key string) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	e, ok := t.entries[key]
	if !ok {
		e = &throttleEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.entries[key] = e
	}
	e.lastSeen = now

	if e.limiter.AllowN(now, 1) {
		return true, 0
	}

	t.metrics.Throttled()
	tokens := e.limiter.TokensAt(now)
	wait := time.Duration((1 - tokens) / float64(t.limit) * float64(time.Second))
	return false, wait
}

// Sweep removes keys not seen for the idle period.
func (t *Throttle) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.idle)
	var removed int
	for key, e := range t.entries {
		if e.lastSeen.Before(cutoff) {
			delete(t.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Run sweeps every interval until ctx is cancelled.
func (t *Throttle) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := t.Sweep(); n > 0 {
				t.log.Debug("swept idle throttle keys", zap.Int("removed", n), zap.Int("remaining", t.Len()))
			}
		}
	}
}
