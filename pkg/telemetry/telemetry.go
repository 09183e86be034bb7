// Package telemetry wires OpenTelemetry tracing. Export is optional: with
// no configured endpoint spans stay in-process and are dropped.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"

	"github.com/WessleyAI/carwatch/pkg/configutil"
)

// ConfigFile is the JSON5 document read by Setup.
const ConfigFile = "telemetry.json5"

type OtlpConnConfig struct {
	HttpEndpoint string            `json:"http_endpoint"`
	Headers      map[string]string `json:"headers"`
}

type Config struct {
	Traces OtlpConnConfig `json:"traces"`
	// SampleRatio in [0,1]; zero means always sample.
	SampleRatio float64 `json:"sample_ratio"`
}

// Enabled reports whether an exporter should be built.
func (c Config) Enabled() bool { return c.Traces.HttpEndpoint != "" }

// Telemetry holds the installed provider, nil when export is disabled.
type Telemetry struct {
	TracerProvider *trace.TracerProvider
}

// Shutdown flushes pending spans.
func (t Telemetry) Shutdown(ctx context.Context) error {
	if t.TracerProvider == nil {
		return nil
	}
	return t.TracerProvider.Shutdown(ctx)
}

// LoadConfig reads path. A missing file yields the zero (disabled) config.
func LoadConfig(path string) (Config, error) {
	var c Config
	err := configutil.ReadInto(path, &c)
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	return c, nil
}

// Setup installs the W3C propagator and, when the config enables it, an
// OTLP/HTTP span exporter as the global tracer provider.
func Setup(ctx context.Context, service string, c Config) (Telemetry, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !c.Enabled() {
		slog.Debug("telemetry: export disabled")
		return Telemetry{}, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(service)),
	)
	if err != nil {
		return Telemetry{}, fmt.Errorf("telemetry: resource: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(c.Traces.HttpEndpoint),
		otlptracehttp.WithHeaders(c.Traces.Headers),
	)
	if err != nil {
		return Telemetry{}, fmt.Errorf("telemetry: exporter: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(sampler(c.SampleRatio)),
	)
	otel.SetTracerProvider(tp)
	slog.Info("telemetry: trace export initialized",
		"endpoint", c.Traces.HttpEndpoint,
		"headers", len(c.Traces.Headers) > 0,
	)
	return Telemetry{TracerProvider: tp}, nil
}

func sampler(ratio float64) trace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return trace.ParentBased(trace.AlwaysSample())
	}
	return trace.ParentBased(trace.TraceIDRatioBased(ratio))
}
