// Package main is the carwatch binary: the monitoring service plus a few
// one-shot commands for operators.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/WessleyAI/carwatch/pkg/notify"
)

// Config holds all environment-based configuration. Flags override it.
type Config struct {
	ConfigDir        string
	DBPath           string
	Store            string
	Neo4jURL         string
	Neo4jUser        string
	Neo4jPass        string
	NATSURL          string
	Email            notify.EmailConfig
	Addr             string
	CORSOrigin       string
	BypassCloudflare bool
	OTLPEndpoint     string
	LogLevel         string
}

func loadConfig() Config {
	return Config{
		ConfigDir: envOr("CARWATCH_CONFIG_DIR", "config"),
		DBPath:    envOr("CARWATCH_DB", "data/cars.db"),
		Store:     envOr("CARWATCH_STORE", "sqlite"),
		Neo4jURL:  envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser: envOr("NEO4J_USER", "neo4j"),
		Neo4jPass: envOr("NEO4J_PASS", "password"),
		NATSURL:   os.Getenv("NATS_URL"),
		Email: notify.EmailConfig{
			SMTPServer: os.Getenv("SMTP_HOST"),
			SMTPPort:   envInt("SMTP_PORT", 587),
			SMTPUser:   os.Getenv("SMTP_USER"),
			SMTPPass:   os.Getenv("SMTP_PASS"),
			FromEmail:  os.Getenv("SMTP_FROM"),
			ToEmail:    os.Getenv("SMTP_TO"),
		},
		Addr:             envOr("CARWATCH_ADDR", ":8080"),
		CORSOrigin:       envOr("CARWATCH_CORS_ORIGIN", "*"),
		BypassCloudflare: envOr("CARWATCH_BYPASS_CLOUDFLARE", "true") == "true",
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:         envOr("CARWATCH_LOG_LEVEL", "info"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

// newLogger builds the JSON logger. Unknown levels fall back to info.
func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func main() {
	cfg := loadConfig()
	logger := newLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&cfg, logger).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
