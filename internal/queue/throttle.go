package queue

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ThrottleOptions configures the dispatch rate gate.
type ThrottleOptions struct {
	Enabled            bool
	OpsPerSecond       float64
	Burst              int
	Window             time.Duration
	Adaptive           bool
	ErrorRateThreshold float64
}

// throttle is a token-bucket gate in front of dispatch. In adaptive
// mode the rate shrinks as the error rate climbs and recovers when it
// falls back under the threshold. A forced reduction pins the rate
// until released; the adaptive path never overrides it.
type throttle struct {
	opts    ThrottleOptions
	mu      sync.Mutex
	limiter *rate.Limiter
	base    rate.Limit
	forced  rate.Limit // 0 = no forced reduction
}

// minRateFactor is the floor the adaptive mode may shrink the rate to.
const minRateFactor = 0.1

func newThrottle(opts ThrottleOptions) *throttle {
	if !opts.Enabled {
		return nil
	}
	base := rate.Limit(opts.OpsPerSecond)
	return &throttle{
		opts:    opts,
		limiter: rate.NewLimiter(base, opts.Burst),
		base:    base,
	}
}

// allow reports whether one dispatch may proceed now. A nil throttle
// allows everything.
func (t *throttle) allow() bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limiter.Allow()
}

// adapt adjusts the rate for the observed error rate.
func (t *throttle) adapt(errorRate float64) {
	if t == nil || !t.opts.Adaptive {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.forced > 0 {
		return
	}

	limit := t.base
	if errorRate >= t.opts.ErrorRateThreshold {
		reduced := t.base * rate.Limit(1-errorRate)
		floor := t.base * minRateFactor
		if reduced < floor {
			reduced = floor
		}
		limit = reduced
	}
	if t.limiter.Limit() != limit {
		t.limiter.SetLimit(limit)
	}
}

// forceReduce pins the rate to factor of the base until release.
func (t *throttle) forceReduce(factor float64) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	limit := t.base * rate.Limit(factor)
	floor := t.base * minRateFactor
	if limit < floor {
		limit = floor
	}
	t.forced = limit
	t.limiter.SetLimit(limit)
}

// release lifts a forced reduction and restores the base rate. The
// adaptive path takes over again on its next sample.
func (t *throttle) release() {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.forced == 0 {
		return
	}
	t.forced = 0
	t.limiter.SetLimit(t.base)
}

// currentLimit returns the effective rate, for status reporting.
func (t *throttle) currentLimit() float64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.limiter.Limit())
}
