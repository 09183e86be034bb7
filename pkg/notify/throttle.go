package notify

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Default delivery pacing: one message per second, bursts of five.
const (
	DefaultEvery = time.Second
	DefaultBurst = 5
)

// Throttle paces deliveries to the wrapped notifier.
type Throttle struct {
	next    Notifier
	limiter *rate.Limiter
}

// NewThrottle allows one delivery per every with bursts up to burst.
// Non-positive values take the defaults.
func NewThrottle(next Notifier, every time.Duration, burst int) *Throttle {
	if every <= 0 {
		every = DefaultEvery
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	return &Throttle{next: next, limiter: rate.NewLimiter(rate.Every(every), burst)}
}

// Deliver waits for a slot, or for ctx to be done.
func (t *Throttle) Deliver(ctx context.Context, m Message) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notify: throttle: %w", err)
	}
	return t.next.Deliver(ctx, m)
}
