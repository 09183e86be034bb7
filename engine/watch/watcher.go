// Package watch runs the periodic monitoring cycle and answers operator
// commands.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/WessleyAI/carwatch/engine/domain"
	"github.com/WessleyAI/carwatch/engine/ingest"
	"github.com/WessleyAI/carwatch/engine/rules"
	"github.com/WessleyAI/carwatch/pkg/fn"
	"github.com/WessleyAI/carwatch/pkg/metrics"
	"github.com/WessleyAI/carwatch/pkg/notify"
	"github.com/WessleyAI/carwatch/pkg/repo"
	"github.com/WessleyAI/carwatch/pkg/resilience"
)

// Defaults for the loop.
const (
	DefaultPollInterval  = 10 * time.Second
	DefaultCheckInterval = 30 * time.Minute
	DefaultRetention     = 30 * 24 * time.Hour
)

var tracer = otel.Tracer("carwatch/engine/watch")

// Searcher runs one marketplace search. *scraper.Searcher implements it.
type Searcher interface {
	SearchResult(ctx context.Context, c domain.SearchCriteria) fn.Result[[]domain.Listing]
}

// Options wires a Watcher.
type Options struct {
	Searcher  Searcher
	Rules     *rules.Engine
	Store     repo.ListingStore
	Processor *ingest.Processor
	// Notifier receives start/stop notices. Optional.
	Notifier notify.Notifier
	Metrics  *metrics.Watcher
	Logger   *slog.Logger

	// Breaker stops a cycle after consecutive failed searches.
	Breaker       resilience.BreakerOpts
	PollInterval  time.Duration
	CheckInterval time.Duration // zero: from the rules, else DefaultCheckInterval
	Retention     time.Duration
	Now           func() time.Time
}

// CycleReport describes one completed cycle.
type CycleReport struct {
	ID        string         `json:"id"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Searches  int            `json:"searches"`
	Failed    int            `json:"failed"`
	Aborted   bool           `json:"aborted"`
	Found     int            `json:"found"`
	Outcomes  ingest.Summary `json:"outcomes"`
	Cleaned   int            `json:"cleaned"`
}

// Watcher owns the monitoring flag and the cycle loop.
type Watcher struct {
	opts       Options
	log        *slog.Logger
	metrics    *metrics.Watcher
	breaker    *resilience.Breaker
	monitoring atomic.Bool
	last       atomic.Pointer[CycleReport]
	wake       chan struct{}
}

func New(opts Options) *Watcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewWatcher(nil)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	w := &Watcher{
		opts:    opts,
		log:     opts.Logger,
		metrics: opts.Metrics,
		breaker: resilience.NewBreaker(opts.Breaker),
		wake:    make(chan struct{}, 1),
	}
	w.publishThresholds()
	return w
}

// Restore reloads the persisted high threshold and monitoring flag. Bad
// persisted values are logged and ignored.
func (w *Watcher) Restore(ctx context.Context) error {
	raw, err := w.opts.Store.GetConfig(ctx, repo.KeyHighThreshold)
	switch {
	case err == nil:
		v, perr := domain.ParseThreshold("high", raw)
		if perr == nil {
			perr = w.opts.Rules.SetHighThreshold(v)
		}
		if perr != nil {
			w.log.Warn("watch: ignoring persisted threshold", "value", raw, "error", perr)
		}
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}

	raw, err = w.opts.Store.GetConfig(ctx, repo.KeyMonitoring)
	switch {
	case err == nil:
		w.setMonitoring(raw == "true")
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}
	w.publishThresholds()
	w.log.Info("watch: state restored", "monitoring", w.Monitoring(), "high_threshold", w.opts.Rules.Thresholds().High)
	return nil
}

// Monitoring reports whether periodic cycles are enabled.
func (w *Watcher) Monitoring() bool { return w.monitoring.Load() }

// LastCycle returns the most recent cycle report, or nil.
func (w *Watcher) LastCycle() *CycleReport { return w.last.Load() }

func (w *Watcher) setMonitoring(on bool) {
	w.monitoring.Store(on)
	w.metrics.Monitoring.SetBool(on)
}

// Start enables monitoring and persists the flag. It reports false when
// monitoring was already on.
func (w *Watcher) Start(ctx context.Context) (bool, error) {
	if !w.monitoring.CompareAndSwap(false, true) {
		return false, nil
	}
	w.metrics.Monitoring.SetBool(true)
	if err := w.opts.Store.SetConfig(ctx, repo.KeyMonitoring, "true"); err != nil {
		return true, err
	}
	select {
	case w.wake <- struct{}{}:
	default:
	}
	w.log.Info("watch: monitoring started")
	w.notice(ctx, "Monitoring started.")
	return true, nil
}

// Stop disables monitoring and persists the flag. It reports false when
// monitoring was already off.
func (w *Watcher) Stop(ctx context.Context) (bool, error) {
	if !w.monitoring.CompareAndSwap(true, false) {
		return false, nil
	}
	w.metrics.Monitoring.SetBool(false)
	if err := w.opts.Store.SetConfig(ctx, repo.KeyMonitoring, "false"); err != nil {
		return true, err
	}
	w.log.Info("watch: monitoring stopped")
	w.notice(ctx, "Monitoring stopped.")
	return true, nil
}

// SetHighThreshold validates, applies and persists a new high threshold.
func (w *Watcher) SetHighThreshold(ctx context.Context, v int) error {
	if err := w.opts.Rules.SetHighThreshold(v); err != nil {
		return err
	}
	w.publishThresholds()
	return w.opts.Store.SetConfig(ctx, repo.KeyHighThreshold, strconv.Itoa(v))
}

func (w *Watcher) publishThresholds() {
	if w.opts.Rules == nil {
		return
	}
	t := w.opts.Rules.Thresholds()
	w.metrics.HighThreshold.Set(int64(t.High))
	w.metrics.MediumThreshold.Set(int64(t.Medium))
}

func (w *Watcher) notice(ctx context.Context, text string) {
	if w.opts.Notifier == nil {
		return
	}
	if err := w.opts.Notifier.Deliver(ctx, notify.Notice(text, true)); err != nil {
		w.log.Warn("watch: notice not delivered", "error", err)
	}
}

// CriteriaFor builds the search criteria of one target. The target's
// minimum year overrides the general one.
func CriteriaFor(g rules.General, m rules.ModelTarget) domain.SearchCriteria {
	c := domain.SearchCriteria{
		Brand:      m.Brand,
		Model:      m.Model,
		MaxPrice:   g.MaxPrice,
		MaxMileage: g.MaxKm,
		MinYear:    g.MinYear,
		Fuel:       g.Fuel,
		Gearbox:    g.Gearbox,
		MaxResults: g.MaxResults,
	}
	if m.YearMin > 0 {
		c.MinYear = m.YearMin
	}
	return c
}

// RunCycle searches every target with a brand, processes what it finds
// and prunes old listings. A failed search is logged and skipped; once the
// breaker opens the remaining targets are skipped.
func (w *Watcher) RunCycle(ctx context.Context) CycleReport {
	r := CycleReport{ID: uuid.NewString(), StartedAt: w.opts.Now()}
	ctx, span := tracer.Start(ctx, "watch.cycle", trace.WithAttributes(attribute.String("cycle_id", r.ID)))
	defer span.End()
	log := w.log.With("cycle_id", r.ID)
	log.Info("watch: cycle start")
	g := w.opts.Rules.General()

	for _, m := range w.opts.Rules.Models() {
		if m.Brand == "" {
			continue
		}
		if ctx.Err() != nil {
			r.Aborted = true
			break
		}
		c := CriteriaFor(g, m)
		r.Searches++
		listings, err := resilience.CallResult(w.breaker, ctx, func(ctx context.Context) fn.Result[[]domain.Listing] {
			return w.opts.Searcher.SearchResult(ctx, c)
		}).Unwrap()
		if errors.Is(err, resilience.ErrCircuitOpen) {
			r.Searches--
			r.Aborted = true
			log.Warn("watch: too many failed searches, skipping the rest of the cycle", "target", m.Name)
			break
		}
		if err != nil {
			r.Failed++
			w.metrics.CycleErrors.Inc()
			log.Error("watch: search failed", "target", m.Name, "error", err)
			continue
		}
		r.Found += len(listings)
		s := w.opts.Processor.ProcessAll(ctx, listings)
		r.Outcomes.Seen += s.Seen
		r.Outcomes.Excluded += s.Excluded
		r.Outcomes.Stored += s.Stored
		r.Outcomes.Notified += s.Notified
		r.Outcomes.Failed += s.Failed
	}

	n, err := w.opts.Store.Cleanup(ctx, w.opts.Retention)
	if err != nil {
		log.Error("watch: cleanup failed", "error", err)
	}
	r.Cleaned = n

	r.Duration = w.opts.Now().Sub(r.StartedAt)
	w.metrics.Cycles.Inc()
	w.metrics.CycleDuration.Observe(r.Duration.Seconds())
	w.last.Store(&r)
	span.SetAttributes(
		attribute.Int("searches", r.Searches),
		attribute.Int("failed", r.Failed),
		attribute.Int("found", r.Found),
		attribute.Bool("aborted", r.Aborted),
	)
	log.Info("watch: cycle done",
		"duration", r.Duration,
		"found", r.Found,
		"new", r.Outcomes.New(),
		"notified", r.Outcomes.Notified,
		"failed_searches", r.Failed,
		"cleaned", r.Cleaned,
	)
	return r
}

func (w *Watcher) checkInterval() time.Duration {
	if w.opts.CheckInterval > 0 {
		return w.opts.CheckInterval
	}
	if m := w.opts.Rules.General().CheckIntervalMinutes; m > 0 {
		return time.Duration(m) * time.Minute
	}
	return DefaultCheckInterval
}

// Run loops until ctx is done: while monitoring is off it polls the flag,
// otherwise it runs a cycle and waits out the rest of the check interval.
// Start wakes a waiting loop.
func (w *Watcher) Run(ctx context.Context) error {
	w.log.Info("watch: loop started", "interval", w.checkInterval())
	for {
		if !w.Monitoring() {
			if !w.sleep(ctx, w.opts.PollInterval) {
				return ctx.Err()
			}
			continue
		}
		r := w.RunCycle(ctx)
		wait := max(w.checkInterval()-r.Duration, 0)
		w.log.Debug("watch: next cycle", "in", wait)
		if !w.sleep(ctx, wait) {
			return ctx.Err()
		}
	}
}

// sleep waits d, a wake signal or ctx. It reports false when ctx is done.
func (w *Watcher) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
	case <-w.wake:
	}
	return true
}
