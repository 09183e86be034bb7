// Package ingest runs each found listing through dedup, evaluation,
// persistence and notification.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/carwatch/engine/domain"
	"github.com/WessleyAI/carwatch/pkg/fn"
	"github.com/WessleyAI/carwatch/pkg/metrics"
	"github.com/WessleyAI/carwatch/pkg/natsutil"
	"github.com/WessleyAI/carwatch/pkg/notify"
	"github.com/WessleyAI/carwatch/pkg/repo"
)

// IngestSubject accepts listings found by external scrapers.
const IngestSubject = "carwatch.ingest"

// ErrSeen stops the pipeline for a listing already in the store.
var ErrSeen = errors.New("ingest: listing already seen")

// Outcome is what happened to one listing.
type Outcome string

const (
	OutcomeSeen     Outcome = "seen"
	OutcomeExcluded Outcome = "excluded"
	// OutcomeStored means persisted but every delivery failed.
	OutcomeStored   Outcome = "stored"
	OutcomeNotified Outcome = "notified"
	OutcomeFailed   Outcome = "failed"
)

// Evaluator scores a listing. *rules.Engine implements it.
type Evaluator interface {
	Evaluate(l domain.Listing) domain.ScoreResult
}

// Deps holds the collaborators of the pipeline.
type Deps struct {
	Store    repo.ListingStore
	Rules    Evaluator
	Notifier notify.Notifier
	Metrics  *metrics.Watcher
	Logger   *slog.Logger
}

// Processed is a listing with its evaluation and outcome.
type Processed struct {
	Listing domain.Listing
	Score   domain.ScoreResult
	Outcome Outcome
}

// Summary counts outcomes of a batch.
type Summary struct {
	Seen     int `json:"seen"`
	Excluded int `json:"excluded"`
	Stored   int `json:"stored"`
	Notified int `json:"notified"`
	Failed   int `json:"failed"`
}

func (s *Summary) add(o Outcome) {
	switch o {
	case OutcomeSeen:
		s.Seen++
	case OutcomeExcluded:
		s.Excluded++
	case OutcomeStored:
		s.Stored++
	case OutcomeNotified:
		s.Notified++
	default:
		s.Failed++
	}
}

// New returns the count of listings stored for the first time.
func (s Summary) New() int { return s.Excluded + s.Stored + s.Notified }

// --- Pipeline Stages ---

// NewDedup stops listings whose id is already stored.
func NewDedup(store repo.ListingStore) fn.Stage[domain.Listing, domain.Listing] {
	return func(ctx context.Context, l domain.Listing) fn.Result[domain.Listing] {
		if err := domain.ValidateListing(l); err != nil {
			return fn.Err[domain.Listing](err)
		}
		seen, err := store.Exists(ctx, l.ID)
		if err != nil {
			return fn.Err[domain.Listing](err)
		}
		if seen {
			return fn.Err[domain.Listing](ErrSeen)
		}
		return fn.Ok(l)
	}
}

// NewEvaluate scores a listing.
func NewEvaluate(rules Evaluator) fn.Stage[domain.Listing, Processed] {
	return fn.MapStage(func(l domain.Listing) Processed {
		return Processed{Listing: l, Score: rules.Evaluate(l)}
	})
}

// NewPersist inserts the evaluated listing. Losing an insert race counts
// as already seen.
func NewPersist(store repo.ListingStore) fn.Stage[Processed, Processed] {
	return func(ctx context.Context, p Processed) fn.Result[Processed] {
		inserted, err := store.Insert(ctx, repo.Record{Listing: p.Listing, Score: p.Score})
		if err != nil {
			return fn.Err[Processed](err)
		}
		if !inserted {
			return fn.Err[Processed](ErrSeen)
		}
		p.Outcome = OutcomeStored
		return fn.Ok(p)
	}
}

// NewNotify delivers accepted listings and marks them notified. Excluded
// listings pass through silently; a failed delivery leaves the listing
// stored but not notified.
func NewNotify(store repo.ListingStore, n notify.Notifier, m *metrics.Watcher, log *slog.Logger) fn.Stage[Processed, Processed] {
	return func(ctx context.Context, p Processed) fn.Result[Processed] {
		if p.Score.Excluded {
			p.Outcome = OutcomeExcluded
			return fn.Ok(p)
		}
		if err := n.Deliver(ctx, notify.NewMessage(p.Listing, p.Score)); err != nil {
			m.Notified("all", false)
			log.Warn("ingest: delivery failed", "listing_id", p.Listing.ID, "error", err)
			return fn.Ok(p)
		}
		m.Notified("all", true)
		if err := store.MarkNotified(ctx, p.Listing.ID); err != nil {
			return fn.Err[Processed](fmt.Errorf("mark notified: %w", err))
		}
		p.Outcome = OutcomeNotified
		return fn.Ok(p)
	}
}

// NewRecord counts a listing that went through the pipeline as new, by
// exclusion or priority tier.
func NewRecord(m *metrics.Watcher, log *slog.Logger) fn.Stage[Processed, Processed] {
	return fn.TapStage(func(_ context.Context, p Processed) {
		m.ListingsNew.Inc()
		if p.Score.Excluded {
			m.ListingsExcluded.Inc()
			log.Debug("ingest: excluded", "listing_id", p.Listing.ID, "title", p.Listing.Title, "reason", p.Score.ExclusionReason)
			return
		}
		m.Priority(string(p.Score.Priority))
	})
}

// NewPipeline composes dedup → evaluate → persist → notify → record.
func NewPipeline(deps Deps) fn.Stage[domain.Listing, Processed] {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.NewWatcher(nil)
	}

	evaluated := fn.Then(NewDedup(deps.Store), fn.TracedStage("evaluate", NewEvaluate(deps.Rules)))
	persisted := fn.Then(evaluated, fn.TracedStage("persist", NewPersist(deps.Store)))
	notified := fn.Then(persisted, fn.TracedStage("notify", NewNotify(deps.Store, deps.Notifier, m, log)))
	return fn.Then(notified, NewRecord(m, log))
}

// Processor applies the pipeline to batches.
type Processor struct {
	pipeline fn.Stage[domain.Listing, Processed]
	log      *slog.Logger
}

func NewProcessor(deps Deps) *Processor {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewWatcher(nil)
	}
	return &Processor{pipeline: NewPipeline(deps), log: deps.Logger}
}

// Process runs one listing. An already seen listing is not an error.
func (p *Processor) Process(ctx context.Context, l domain.Listing) (Processed, error) {
	out, err := p.pipeline(ctx, l).Unwrap()
	switch {
	case errors.Is(err, ErrSeen):
		return Processed{Listing: l, Outcome: OutcomeSeen}, nil
	case err != nil:
		return Processed{Listing: l, Outcome: OutcomeFailed}, fmt.Errorf("ingest %s: %w", l.ID, err)
	}
	return out, nil
}

// ProcessAll runs every listing, logging and counting per-listing failures
// without stopping. It stops early only when ctx is done.
func (p *Processor) ProcessAll(ctx context.Context, listings []domain.Listing) Summary {
	var s Summary
	for _, l := range listings {
		if ctx.Err() != nil {
			break
		}
		out, err := p.Process(ctx, l)
		if err != nil {
			p.log.Error("ingest: listing failed", "listing_id", l.ID, "error", err)
		}
		s.add(out.Outcome)
	}
	return s
}

// StartConsumer processes listings published on IngestSubject.
func StartConsumer(nc *nats.Conn, p *Processor) (*nats.Subscription, error) {
	return natsutil.Subscribe(nc, IngestSubject, func(ctx context.Context, l domain.Listing) {
		out, err := p.Process(ctx, l)
		if err != nil {
			p.log.Error("ingest: consumer", "listing_id", l.ID, "error", err)
			return
		}
		p.log.Info("ingest: consumed", "listing_id", l.ID, "outcome", out.Outcome)
	})
}
