package scraper

import (
	"bytes"
	"log/slog"

	"github.com/PuerkitoBio/goquery"

	"github.com/WessleyAI/carwatch/engine/domain"
	"github.com/WessleyAI/carwatch/pkg/metrics"
)

// Strategy turns a parsed results page into candidate listings.
type Strategy interface {
	Name() string
	Extract(doc *goquery.Document, brand, model string) ([]domain.Listing, error)
}

// Extractor runs its strategies in order and keeps the first non-empty
// result. A strategy error is logged and counts as no results.
type Extractor struct {
	strategies []Strategy
	log        *slog.Logger
	metrics    *metrics.Watcher
}

// NewExtractor returns the embedded-data strategy followed by the markup
// card scan. Canonical and relative URLs are built on baseURL.
func NewExtractor(baseURL string, log *slog.Logger, m *metrics.Watcher) *Extractor {
	return NewExtractorWith(log, m, NextDataStrategy{BaseURL: baseURL, Logger: log}, MarkupStrategy{BaseURL: baseURL})
}

// NewExtractorWith builds an Extractor over explicit strategies.
func NewExtractorWith(log *slog.Logger, m *metrics.Watcher, strategies ...Strategy) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.NewWatcher(nil)
	}
	return &Extractor{strategies: strategies, log: log, metrics: m}
}

// Extract parses body and returns candidates in page order. Candidates
// without an id never leave this function.
func (e *Extractor) Extract(body []byte, brand, model string) []domain.Listing {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		e.log.Error("extract: unreadable page", "err", err)
		return nil
	}
	for _, s := range e.strategies {
		found, err := s.Extract(doc, brand, model)
		if err != nil {
			e.log.Error("extract: strategy failed", "strategy", s.Name(), "err", err)
			continue
		}
		found = dropMissingIDs(found)
		if len(found) > 0 {
			e.metrics.Extracted(s.Name(), len(found))
			return found
		}
	}
	return nil
}

func dropMissingIDs(in []domain.Listing) []domain.Listing {
	out := in[:0]
	for _, l := range in {
		if l.ID != "" {
			out = append(out, l)
		}
	}
	return out
}
