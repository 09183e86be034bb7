package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/WessleyAI/carwatch/engine/ingest"
	"github.com/WessleyAI/carwatch/engine/rules"
	"github.com/WessleyAI/carwatch/engine/scraper"
	"github.com/WessleyAI/carwatch/engine/watch"
	"github.com/WessleyAI/carwatch/pkg/metrics"
	"github.com/WessleyAI/carwatch/pkg/natsutil"
	"github.com/WessleyAI/carwatch/pkg/notify"
	"github.com/WessleyAI/carwatch/pkg/resilience"
	"github.com/WessleyAI/carwatch/pkg/telemetry"
)

const serviceName = "carwatch"

func newRunCmd(cfg *Config, log *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the monitoring service and its control server.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runService(cmd.Context(), *cfg, log)
		},
	}
	cmd.Flags().StringVar(&cfg.Addr, "addr", cfg.Addr, "control server listen address")
	cmd.Flags().StringVar(&cfg.NATSURL, "nats", cfg.NATSURL, "NATS server URL, empty to disable")
	return cmd
}

// newFetcher builds the page fetcher. The pacing window comes from the
// criteria document when it sets one.
func newFetcher(cfg Config, g rules.General, log *slog.Logger, m *metrics.Watcher) *scraper.Fetcher {
	opts := scraper.DefaultFetcherOpts
	opts.BypassCloudflare = cfg.BypassCloudflare
	if g.RequestDelayMin > 0 && g.RequestDelayMax >= g.RequestDelayMin {
		opts.Pacing = resilience.PacerOpts{
			Min: time.Duration(g.RequestDelayMin * float64(time.Second)),
			Max: time.Duration(g.RequestDelayMax * float64(time.Second)),
		}
	}
	return scraper.NewFetcher(opts, log, m)
}

func setupTelemetry(ctx context.Context, cfg Config, log *slog.Logger) (telemetry.Telemetry, error) {
	tc, err := telemetry.LoadConfig(filepath.Join(cfg.ConfigDir, telemetry.ConfigFile))
	if err != nil {
		log.Warn("telemetry config unreadable, tracing disabled", "err", err)
		tc = telemetry.Config{}
	}
	if cfg.OTLPEndpoint != "" {
		tc.Traces.HttpEndpoint = cfg.OTLPEndpoint
	}
	return telemetry.Setup(ctx, serviceName, tc)
}

func runService(ctx context.Context, cfg Config, log *slog.Logger) error {
	tel, err := setupTelemetry(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutCtx); err != nil {
			log.Warn("telemetry shutdown", "err", err)
		}
	}()

	reg := metrics.New()
	m := metrics.NewWatcher(reg)
	engine := rules.New(rules.Load(cfg.ConfigDir, log), log)

	// --- Listing store ---
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	// --- Notification sinks ---
	hub := notify.NewHub(log)
	defer hub.Close()
	sinks := notify.NewMulti(log, notify.LogSink{Log: log}, hub)

	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = natsutil.Connect(cfg.NATSURL, serviceName, log)
		if err != nil {
			return err
		}
		defer nc.Drain()
		sinks.Add(notify.NewNATSPublisher(nc, notify.SubjectListings))
	}
	if cfg.Email.Enabled() {
		sinks.Add(notify.NewEmailSender(cfg.Email, log))
	}
	notifier := notify.NewThrottle(sinks, 0, 0)

	// --- Pipeline and watcher ---
	searcher := scraper.NewSearcher(newFetcher(cfg, engine.General(), log, m), scraper.SearcherOpts{Logger: log, Metrics: m})
	proc := ingest.NewProcessor(ingest.Deps{
		Store:    store,
		Rules:    engine,
		Notifier: notifier,
		Metrics:  m,
		Logger:   log,
	})
	w := watch.New(watch.Options{
		Searcher:  searcher,
		Rules:     engine,
		Store:     store,
		Processor: proc,
		Notifier:  notifier,
		Metrics:   m,
		Logger:    log,
		Breaker:   resilience.DefaultBreakerOpts,
	})
	if err := w.Restore(ctx); err != nil {
		return fmt.Errorf("restore state: %w", err)
	}

	if nc != nil {
		cmdSub, err := w.ServeNATS(nc)
		if err != nil {
			return fmt.Errorf("serve commands: %w", err)
		}
		defer cmdSub.Unsubscribe()
		ingestSub, err := ingest.StartConsumer(nc, proc)
		if err != nil {
			return fmt.Errorf("ingest consumer: %w", err)
		}
		defer ingestSub.Unsubscribe()
	}

	// --- Control server ---
	api := &server{watcher: w, store: store, rules: engine, hub: hub, registry: reg, log: log}
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      api.routes(cfg.CORSOrigin),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("control server starting", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	select {
	case err = <-errCh:
		log.Error("service failed", "err", err)
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutCtx); serr != nil && err == nil {
		err = serr
	}
	return err
}
