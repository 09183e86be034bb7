package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestLoadConfigMissing(t *testing.T) {
	c, err := LoadConfig(filepath.Join(t.TempDir(), ConfigFile))
	require.NoError(t, err)
	require.False(t, c.Enabled())
}

func TestLoadConfigWithLocalOverride(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, ConfigFile)
	require.NoError(t, os.WriteFile(base, []byte(`{
		// collector shared by the team
		traces: { http_endpoint: "http://collector:4318/v1/traces" },
		sample_ratio: 0.5,
	}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "telemetry.local.json5"), []byte(`{
		traces: { headers: { "x-api-key": "secret" } },
	}`), 0o644))

	c, err := LoadConfig(base)
	require.NoError(t, err)
	require.True(t, c.Enabled())
	require.Equal(t, "http://collector:4318/v1/traces", c.Traces.HttpEndpoint)
	require.Equal(t, map[string]string{"x-api-key": "secret"}, c.Traces.Headers)
	require.Equal(t, 0.5, c.SampleRatio)
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFile)
	require.NoError(t, os.WriteFile(path, []byte(`{ traces: `), 0o644))
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestSetupDisabled(t *testing.T) {
	tel, err := Setup(context.Background(), "carwatch", Config{})
	require.NoError(t, err)
	require.Nil(t, tel.TracerProvider)
	require.NoError(t, tel.Shutdown(context.Background()))
	require.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")
}

func TestSetupEnabled(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	tel, err := Setup(context.Background(), "carwatch", Config{
		Traces: OtlpConnConfig{HttpEndpoint: "http://127.0.0.1:1/v1/traces"},
	})
	require.NoError(t, err)
	require.NotNil(t, tel.TracerProvider)

	// nothing was recorded, so shutdown has nothing to push
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	require.Contains(t, sampler(0).Description(), "AlwaysOnSampler")
	require.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}
