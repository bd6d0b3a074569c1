// Package retry decides whether a failed operation runs again and how
// long to wait before it becomes eligible.
package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/offsync/opqueue/internal/domain"
)

// Strategy selects the backoff curve.
type Strategy string

const (
	StrategyFixed       Strategy = "fixed"
	StrategyLinear      Strategy = "linear"
	StrategyExponential Strategy = "exponential"
)

// Valid reports whether s is a known backoff strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyFixed, StrategyLinear, StrategyExponential:
		return true
	}
	return false
}

// Condition overrides the retry ceiling for one error class.
type Condition struct {
	Class      domain.ErrorClass
	MaxRetries int
}

// Policy holds the retry configuration for a queue.
type Policy struct {
	MaxRetries   int
	Strategy     Strategy
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
	Conditions   []Condition

	// Rand returns a value in [0,1) for jitter. Nil uses math/rand;
	// tests inject a fixed source.
	Rand func() float64
}

// Decision is the outcome of evaluating a failure against the policy.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// jitterSpread bounds the jitter perturbation at ±20% of the delay.
const jitterSpread = 0.2

// Evaluate decides whether an operation that has now executed
// `attempts` times (including the attempt that just failed) may retry,
// and with what delay. Retries are permitted while the number of
// completed retries (attempts-1) is below the effective ceiling for
// the observed error class.
func (p Policy) Evaluate(class domain.ErrorClass, attempts int) Decision {
	if attempts < 1 {
		attempts = 1
	}
	if attempts-1 >= p.EffectiveMaxRetries(class) {
		return Decision{Retry: false}
	}
	return Decision{Retry: true, Delay: p.delay(attempts)}
}

// EffectiveMaxRetries is min(global ceiling, class-specific ceiling)
// for the observed error class. Classes without an override use the
// global ceiling.
func (p Policy) EffectiveMaxRetries(class domain.ErrorClass) int {
	max := p.MaxRetries
	for _, c := range p.Conditions {
		if c.Class == class && c.MaxRetries < max {
			max = c.MaxRetries
		}
	}
	return max
}

func (p Policy) delay(attempts int) time.Duration {
	var d time.Duration
	switch p.Strategy {
	case StrategyFixed:
		d = p.InitialDelay
	case StrategyLinear:
		d = time.Duration(attempts) * p.InitialDelay
	case StrategyExponential:
		factor := math.Pow(p.Multiplier, float64(attempts-1))
		d = time.Duration(float64(p.InitialDelay) * factor)
	default:
		d = p.InitialDelay
	}

	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}

	if p.Jitter {
		r := p.Rand
		if r == nil {
			r = rand.Float64
		}
		// Spread delays across [1-spread, 1+spread) to avoid a
		// thundering herd of simultaneous retries.
		factor := 1 - jitterSpread + 2*jitterSpread*r()
		d = time.Duration(float64(d) * factor)
	}

	if d < 0 {
		d = 0
	}
	return d
}
