// Package backoff computes reconnection delays. It is a pure function of
// attempt number — no I/O, no timers, no knowledge of max_attempts (the
// caller enforces that). Three kinds are supported: linear, exponential,
// and full-jitter exponential, matching the three backoff_kind values a
// ReconnectPolicy may select.
//
// Grounded on the teacher's retry.Policy.CalculateDelay and
// pkg/agent/resilience/retry.go's exponential-with-jitter calculation;
// the jitter here uses math/rand's Float64 rather than the teacher's
// nanosecond-parity sign trick so tests can inject a seeded source via
// WithRand.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Kind selects the delay curve.
type Kind int

const (
	Linear Kind = iota
	Exponential
	Jittered
)

func (k Kind) String() string {
	switch k {
	case Linear:
		return "linear"
	case Exponential:
		return "exponential"
	case Jittered:
		return "jittered"
	default:
		return "unknown"
	}
}

// Policy computes the delay before reconnection attempt n (0-indexed).
type Policy struct {
	kind     Kind
	base     time.Duration
	maxDelay time.Duration
	rnd      *rand.Rand
}

// Option configures a Policy.
type Option func(*Policy)

// WithRand overrides the random source used by the Jittered kind,
// letting tests assert exact delays with a seeded generator.
func WithRand(r *rand.Rand) Option {
	return func(p *Policy) { p.rnd = r }
}

// New builds a Policy. base and maxDelay must be positive; maxDelay is
// not validated against base here, callers validate config eagerly in
// wsconfig.
func New(kind Kind, base, maxDelay time.Duration, opts ...Option) *Policy {
	p := &Policy{kind: kind, base: base, maxDelay: maxDelay}
	for _, opt := range opts {
		opt(p)
	}
	if p.rnd == nil {
		//nolint:gosec // full-jitter backoff timing does not need a CSPRNG
		p.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return p
}

// Delay returns the delay before attempt n, where n is the 0-indexed
// attempt count (the first retry is attempt 0).
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	switch p.kind {
	case Linear:
		d := p.base * time.Duration(attempt+1)
		return capDuration(d, p.maxDelay)
	case Exponential:
		return capDuration(expDelay(p.base, attempt), p.maxDelay)
	case Jittered:
		ceiling := capDuration(expDelay(p.base, attempt), p.maxDelay)
		if ceiling <= 0 {
			return 0
		}
		return time.Duration(p.rnd.Int63n(int64(ceiling) + 1))
	default:
		return p.base
	}
}

func expDelay(base time.Duration, attempt int) time.Duration {
	factor := math.Pow(2, float64(attempt))
	return time.Duration(float64(base) * factor)
}

func capDuration(d, max time.Duration) time.Duration {
	if max > 0 && d > max {
		return max
	}
	return d
}
