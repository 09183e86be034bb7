// Package rules classifies listings: exclusion checks first, then bonus and
// penalty scoring, then a priority tier from two thresholds.
package rules

import (
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/WessleyAI/carwatch/engine/domain"
)

// Engine evaluates listings against a fixed Config. Only the thresholds
// change after construction, and they are swapped as a pair so an
// evaluation never sees a half-updated state.
type Engine struct {
	cfg        Config
	thresholds atomic.Pointer[Thresholds]
	log        *slog.Logger
}

// New creates an Engine. Thresholds that fail validation fall back to the
// defaults.
func New(cfg Config, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	cfg.Exclusions.BrandExclusions = lowerKeys(cfg.Exclusions.BrandExclusions)
	e := &Engine{cfg: cfg, log: log}
	t := cfg.Criteria.Thresholds
	if err := domain.ValidateThresholds(t.High, t.Medium); err != nil {
		log.Warn("rules: invalid thresholds in configuration, using defaults", "err", err)
		t = DefaultCriteria().Thresholds
	}
	e.thresholds.Store(&t)
	return e
}

// Config returns the configuration with the thresholds currently in effect.
func (e *Engine) Config() Config {
	c := e.cfg
	c.Criteria.Thresholds = e.Thresholds()
	return c
}

// General returns the general criteria.
func (e *Engine) General() General { return e.cfg.Criteria.General }

// Models returns the configured search targets.
func (e *Engine) Models() []ModelTarget { return e.cfg.Criteria.Models }

// Thresholds returns the thresholds in effect.
func (e *Engine) Thresholds() Thresholds { return *e.thresholds.Load() }

// SetThresholds replaces both thresholds. Invalid pairs are rejected and
// leave the current pair in place.
func (e *Engine) SetThresholds(high, medium int) error {
	if err := domain.ValidateThresholds(high, medium); err != nil {
		return err
	}
	e.thresholds.Store(&Thresholds{High: high, Medium: medium})
	e.log.Info("rules: thresholds updated", "high", high, "medium", medium)
	return nil
}

// SetHighThreshold changes the high threshold only. Any value in 0..100 is
// accepted, including one below the medium threshold; Tier then treats
// every score above it as high.
func (e *Engine) SetHighThreshold(v int) error {
	if err := domain.ValidateThreshold("high", v); err != nil {
		return err
	}
	t := Thresholds{High: v, Medium: e.Thresholds().Medium}
	e.thresholds.Store(&t)
	e.log.Info("rules: high threshold updated", "high", v, "medium", t.Medium)
	return nil
}

// SetMediumThreshold changes the medium threshold only.
func (e *Engine) SetMediumThreshold(v int) error {
	return e.SetThresholds(e.Thresholds().High, v)
}

// Evaluate classifies l. It is deterministic for a given configuration and
// threshold pair.
func (e *Engine) Evaluate(l domain.Listing) domain.ScoreResult {
	in := newFacts(l)

	var warnings []string
	for _, c := range exclusionChecks {
		v := c(e, in)
		if v.excluded() {
			e.log.Info("rules: listing excluded", "listing_id", l.ID, "reason", v.reason)
			return domain.ScoreResult{Excluded: true, ExclusionReason: v.reason}
		}
		warnings = append(warnings, v.warnings...)
	}

	res := domain.ScoreResult{Warnings: warnings}
	bonus, bonuses := e.bonuses(in)
	penalty, penalties := e.penalties(in)
	res.Bonuses = bonuses
	res.Penalties = penalties
	res.TotalScore = bonus + penalty
	res.Priority = Tier(res.TotalScore, e.Thresholds())

	e.log.Debug("rules: listing scored", "listing_id", l.ID, "score", res.TotalScore, "priority", res.Priority)
	return res
}

// Tier maps a score onto a priority: high above t.High, medium from
// t.Medium, low below.
func Tier(score int, t Thresholds) domain.Priority {
	switch {
	case score > t.High:
		return domain.PriorityHigh
	case score >= t.Medium:
		return domain.PriorityMedium
	default:
		return domain.PriorityLow
	}
}

// facts is the listing text prepared once per evaluation.
type facts struct {
	l domain.Listing
	// normalized is title and description, lowercased and accent folded.
	normalized string
	// lower is title and description, lowercased.
	lower string
	brand string
	model string
}

func newFacts(l domain.Listing) facts {
	td := l.Title + " " + l.Description
	return facts{
		l:          l,
		normalized: Normalize(td),
		lower:      strings.ToLower(td),
		brand:      strings.ToLower(strings.TrimSpace(l.Brand)),
		model:      strings.ToLower(strings.TrimSpace(l.Model)),
	}
}
