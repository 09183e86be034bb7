// Package resilience provides request pacing, retry backoff and a circuit
// breaker for talking to a single remote origin.
package resilience

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/WessleyAI/carwatch/pkg/fn"
)

// PacerOpts configures the randomized spacing between outbound requests.
type PacerOpts struct {
	// Min is the lower bound of the per-call window.
	Min time.Duration
	// Max is the upper bound of the per-call window.
	Max time.Duration
}

// DefaultPacerOpts spaces requests 5 to 10 seconds apart.
var DefaultPacerOpts = PacerOpts{Min: 5 * time.Second, Max: 10 * time.Second}

// Pacer enforces a minimum randomized delay between the end of one outbound
// request and the start of the next. The window is drawn again on every call.
// Holders of the same Pacer are serialized.
type Pacer struct {
	mu    sync.Mutex
	opts  PacerOpts
	last  time.Time
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
	rnd   func() float64
}

// NewPacer creates a Pacer. A Max below Min is raised to Min.
func NewPacer(opts PacerOpts) *Pacer {
	if opts.Min < 0 {
		opts.Min = 0
	}
	if opts.Max < opts.Min {
		opts.Max = opts.Min
	}
	return &Pacer{
		opts:  opts,
		now:   time.Now,
		sleep: fn.SleepContext,
		rnd:   rand.Float64,
	}
}

// window returns a duration drawn uniformly from [Min, Max].
func (p *Pacer) window() time.Duration {
	span := p.opts.Max - p.opts.Min
	return p.opts.Min + time.Duration(p.rnd()*float64(span))
}

// WaitSlot blocks until a fresh random window has elapsed since the previous
// request ended, or ctx is done.
func (p *Pacer) WaitSlot(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	w := p.window()
	if !p.last.IsZero() {
		if elapsed := p.now().Sub(p.last); elapsed < w {
			if err := p.sleep(ctx, w-elapsed); err != nil {
				return err
			}
		}
	}
	p.last = p.now()
	return nil
}

// Done records the end of the request that followed WaitSlot.
func (p *Pacer) Done() {
	p.mu.Lock()
	p.last = p.now()
	p.mu.Unlock()
}
