package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/WessleyAI/carwatch/engine/domain"
	"github.com/WessleyAI/carwatch/pkg/fn"
	"github.com/WessleyAI/carwatch/pkg/metrics"
)

// DefaultBaseURL is the marketplace origin.
const DefaultBaseURL = "https://www.leboncoin.fr"

// vehicleCategory is the marketplace's category code for cars.
const vehicleCategory = "2"

var tracer = otel.Tracer("carwatch/engine/scraper")

// PageFetcher retrieves one page. *Fetcher implements it.
type PageFetcher interface {
	Fetch(ctx context.Context, url string, params map[string]string) fn.Result[*Response]
}

// SearcherOpts configures a Searcher.
type SearcherOpts struct {
	BaseURL string
	Logger  *slog.Logger
	Metrics *metrics.Watcher
	// Now supplies the upper bound of the registration-date range.
	Now func() time.Time
}

// Searcher drives fetch, extraction and correspondence filtering for one
// search at a time.
type Searcher struct {
	fetcher   PageFetcher
	extractor *Extractor
	baseURL   string
	log       *slog.Logger
	metrics   *metrics.Watcher
	now       func() time.Time
}

// NewSearcher creates a Searcher over f.
func NewSearcher(f PageFetcher, opts SearcherOpts) *Searcher {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewWatcher(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	return &Searcher{
		fetcher:   f,
		extractor: NewExtractor(base, opts.Logger, opts.Metrics),
		baseURL:   base,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		now:       opts.Now,
	}
}

// SearchURL is the results endpoint.
func (s *Searcher) SearchURL() string { return s.baseURL + "/recherche" }

// BuildParams maps criteria onto the marketplace query string. Zero limits
// are left out.
func (s *Searcher) BuildParams(c domain.SearchCriteria) map[string]string {
	p := map[string]string{
		"category":   vehicleCategory,
		"fuel":       domain.FuelCode(c.Fuel),
		"gearbox":    domain.GearboxCode(c.Gearbox),
		"owner_type": "all",
		"sort":       "time",
		"order":      "desc",
		"brand":      domain.BrandSlug(c.Brand),
	}
	if c.MaxPrice > 0 {
		p["price"] = "0-" + strconv.Itoa(c.MaxPrice)
	}
	if c.MaxMileage > 0 {
		p["mileage"] = "0-" + strconv.Itoa(c.MaxMileage)
	}
	if c.MinYear > 0 {
		p["regdate"] = fmt.Sprintf("%d-%d", c.MinYear, s.now().Year())
	}
	if c.Model != "" {
		p["model"] = strings.ToLower(c.Model)
	}
	return p
}

// SearchResult runs one search. It fails when the criteria are invalid or
// the page could not be fetched; an empty page is a successful empty result.
func (s *Searcher) SearchResult(ctx context.Context, c domain.SearchCriteria) fn.Result[[]domain.Listing] {
	ctx, span := tracer.Start(ctx, "scraper.search")
	defer span.End()
	span.SetAttributes(attribute.String("brand", c.Brand), attribute.String("model", c.Model))

	if err := domain.ValidateCriteria(c); err != nil {
		return fn.Err[[]domain.Listing](err)
	}

	s.log.Info("search: start", "brand", c.Brand, "model", c.Model, "max_price", c.MaxPrice)
	resp, err := s.fetcher.Fetch(ctx, s.SearchURL(), s.BuildParams(c)).Unwrap()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fn.Errf[[]domain.Listing]("search %s %s: %w", c.Brand, c.Model, err)
	}

	candidates := s.extractor.Extract(resp.Body, c.Brand, c.Model)
	matched := fn.Filter(candidates, func(l domain.Listing) bool {
		return Matches(l, c.Brand, c.Model)
	})
	matched = fn.Take(matched, c.Limit())

	s.log.Info("search: done", "brand", c.Brand, "model", c.Model,
		"candidates", len(candidates), "matched", len(matched))
	s.metrics.ListingsFound.Add(int64(len(matched)))
	span.SetAttributes(attribute.Int("candidates", len(candidates)), attribute.Int("matched", len(matched)))
	return fn.Ok(matched)
}

// Search is SearchResult with failures logged and turned into an empty
// list, so one failed search never stops a cycle.
func (s *Searcher) Search(ctx context.Context, c domain.SearchCriteria) []domain.Listing {
	r := s.SearchResult(ctx, c)
	if _, err := r.Unwrap(); err != nil {
		s.log.Error("search: failed", "brand", c.Brand, "model", c.Model, "err", err)
	}
	return r.UnwrapOr([]domain.Listing{})
}
