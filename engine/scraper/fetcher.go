// Package scraper retrieves vehicle search results from the marketplace,
// extracts candidate listings and keeps only those that match the search.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/WessleyAI/carwatch/engine/domain"
	"github.com/WessleyAI/carwatch/pkg/fn"
	"github.com/WessleyAI/carwatch/pkg/metrics"
	"github.com/WessleyAI/carwatch/pkg/resilience"
)

// Response is a successful page retrieval.
type Response struct {
	URL    string
	Status int
	Header http.Header
	Body   []byte
}

// FetcherOpts configures a Fetcher.
type FetcherOpts struct {
	MaxRetries int
	Timeout    time.Duration
	Pacing     resilience.PacerOpts
	// BypassCloudflare wraps the transport with a browser-like TLS fingerprint.
	BypassCloudflare bool
}

// DefaultFetcherOpts are the production settings.
var DefaultFetcherOpts = FetcherOpts{
	MaxRetries:       3,
	Timeout:          30 * time.Second,
	Pacing:           resilience.DefaultPacerOpts,
	BypassCloudflare: true,
}

// Fetcher performs paced, retried GET requests against a single origin.
// It is not safe for concurrent use: the pacing contract assumes one
// request in flight.
type Fetcher struct {
	opts    FetcherOpts
	pacer   *resilience.Pacer
	backoff resilience.Backoff
	log     *slog.Logger
	metrics *metrics.Watcher

	// client is built lazily and dropped after a 403 so the next attempt
	// starts from a fresh connection.
	client *resty.Client

	sleep     func(context.Context, time.Duration) error
	userAgent func() string
}

// NewFetcher creates a Fetcher. A nil logger uses slog.Default.
func NewFetcher(opts FetcherOpts, log *slog.Logger, m *metrics.Watcher) *Fetcher {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultFetcherOpts.MaxRetries
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFetcherOpts.Timeout
	}
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.NewWatcher(nil)
	}
	return &Fetcher{
		opts:      opts,
		pacer:     resilience.NewPacer(opts.Pacing),
		backoff:   resilience.NewBackoff(),
		log:       log,
		metrics:   m,
		sleep:     fn.SleepContext,
		userAgent: randomUserAgent,
	}
}

func (f *Fetcher) httpClient() *resty.Client {
	if f.client != nil {
		return f.client
	}
	c := resty.New()
	if f.opts.BypassCloudflare {
		c.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(c.GetClient().Transport)
	}
	c.GetClient().Transport = otelhttp.NewTransport(c.GetClient().Transport)
	c.SetTimeout(f.opts.Timeout)
	c.SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))
	f.client = c
	return c
}

// Fetch waits for a pacing slot, then tries the request up to MaxRetries
// times. Only a 200 succeeds. Exhaustion returns domain.ErrFetchExhausted
// wrapping the last failure; cancellation returns ctx.Err().
func (f *Fetcher) Fetch(ctx context.Context, url string, params map[string]string) fn.Result[*Response] {
	if err := f.pacer.WaitSlot(ctx); err != nil {
		return fn.Err[*Response](err)
	}
	defer f.pacer.Done()

	res := fn.Retry(ctx, fn.RetryOpts{
		MaxAttempts: f.opts.MaxRetries,
		Delay:       f.backoff.NextRetryDelay,
		Sleep:       f.sleep,
		OnRetry: func(attempt int, wait time.Duration, _ error) {
			f.log.Info("fetch: retrying", "url", url, "attempt", attempt+1, "delay", wait.Round(100*time.Millisecond))
		},
	}, func(ctx context.Context, attempt int) fn.Result[*Response] {
		return f.attempt(ctx, url, params, attempt)
	})

	if _, err := res.Unwrap(); err != nil && ctx.Err() == nil {
		return fn.Err[*Response](fmt.Errorf("%w: %s: %w", domain.ErrFetchExhausted, url, err))
	}
	return res
}

// statusError is a non-200 response.
type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("unexpected status %d", e.code) }

func (f *Fetcher) attempt(ctx context.Context, url string, params map[string]string, attempt int) fn.Result[*Response] {
	start := time.Now()
	resp, err := f.httpClient().R().
		SetContext(ctx).
		SetHeaders(browserHeaders(f.userAgent())).
		SetQueryParams(params).
		Get(url)
	f.metrics.FetchLatency.ObserveSince(start)

	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			f.log.Warn("fetch: timeout", "url", url, "attempt", attempt+1)
		} else {
			f.log.Error("fetch: network error", "url", url, "attempt", attempt+1, "err", err)
		}
		f.metrics.Fetch("network")
		return fn.Err[*Response](err)
	}

	code := resp.StatusCode()
	switch code {
	case http.StatusOK:
		f.metrics.Fetch("ok")
		return fn.Ok(&Response{URL: url, Status: code, Header: resp.Header(), Body: resp.Body()})
	case http.StatusForbidden:
		f.log.Warn("fetch: forbidden, possible automated-access block", "url", url, "attempt", attempt+1)
		f.metrics.Fetch("blocked")
		f.client = nil
	case http.StatusTooManyRequests:
		f.log.Warn("fetch: rate limited", "url", url, "attempt", attempt+1)
		f.metrics.Fetch("rate_limited")
	default:
		f.log.Warn("fetch: request failed", "url", url, "status", code, "attempt", attempt+1)
		f.metrics.Fetch("http_error")
	}
	return fn.Err[*Response](&statusError{code: code})
}
