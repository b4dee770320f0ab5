package telemetry

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/kravscan/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"disabled is always valid", func(c *Config) { c.Endpoint = "" }, false},
		{"enabled local insecure", func(c *Config) { c.Enabled = true }, false},
		{"insecure remote", func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317" }, true},
		{"remote tls", func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317"; c.Insecure = false }, false},
		{"ipv6 loopback", func(c *Config) { c.Enabled = true; c.Endpoint = "[::1]:4317" }, false},
		{"bad protocol", func(c *Config) { c.Enabled = true; c.Protocol = "udp" }, true},
		{"bad sample rate", func(c *Config) { c.Enabled = true; c.SampleRate = 1.5 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewDefaultConfig()
			tt.mutate(c)
			if tt.wantErr {
				assert.Error(t, c.Validate())
			} else {
				assert.NoError(t, c.Validate())
			}
		})
	}
}

func TestFromConfig(t *testing.T) {
	c := FromConfig(config.TelemetryConfig{Enabled: true, Protocol: "http/protobuf", SampleRate: 0.5}, "1.2.3")
	assert.True(t, c.Enabled)
	assert.Equal(t, "http/protobuf", c.Protocol)
	assert.Equal(t, 0.5, c.SampleRate)
	assert.Equal(t, "1.2.3", c.ServiceVersion)
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig(), nil)
	require.NoError(t, err)
	assert.False(t, tel.Degraded())
	assert.NotNil(t, tel.Tracer("x"))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_WithInjectedExporters(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	exp := tracetest.NewInMemoryExporter()
	reader := sdkmetric.NewManualReader()
	tel, err := New(context.Background(), cfg, nil, WithSpanExporter(exp), WithMetricReader(reader))
	require.NoError(t, err)

	_, span := tel.Tracer("test").Start(context.Background(), "scan")
	span.End()
	require.NoError(t, tel.Shutdown(context.Background()))

	require.Len(t, exp.GetSpans(), 1)
	assert.Equal(t, "scan", exp.GetSpans()[0].Name)
}

func TestTestTelemetry(t *testing.T) {
	tt := NewTestTelemetry()
	ctx := context.Background()

	_, span := tt.Tracer("pipeline").Start(ctx, "pipeline.document")
	span.End()
	tt.AssertSpan(t, "pipeline.document")

	counter, err := tt.Meter("pipeline").Int64Counter("krav.documents")
	require.NoError(t, err)
	counter.Add(ctx, 1)

	rm, err := tt.Collect(ctx)
	require.NoError(t, err)
	assert.True(t, HasMetric(rm, "krav.documents"))
}
