package resilience

import (
	"math/rand/v2"
	"time"
)

// Backoff computes exponential retry delays with multiplicative jitter:
// Base * 2^attempt * U(1,2). There is no cap; the caller's attempt ceiling
// bounds the total.
type Backoff struct {
	Base time.Duration
	rnd  func() float64
}

// NewBackoff returns a Backoff with a one-second base.
func NewBackoff() Backoff {
	return Backoff{Base: time.Second, rnd: rand.Float64}
}

// NextRetryDelay returns the pause after the zero-based attempt.
func (b Backoff) NextRetryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	r := rand.Float64
	if b.rnd != nil {
		r = b.rnd
	}
	factor := float64(int64(1)<<attempt) * (1 + r())
	return time.Duration(factor * float64(base))
}
