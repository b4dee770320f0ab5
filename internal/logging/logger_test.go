package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/fyrsmithlabs/kravscan/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	cfg := NewDefaultConfig()

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format")
}

func TestLogger_Levels(t *testing.T) {
	tl := NewTestLogger()
	ctx := context.Background()

	tests := []struct {
		name  string
		log   func()
		level zapcore.Level
	}{
		{"trace", func() { tl.Trace(ctx, "trace message") }, TraceLevel},
		{"debug", func() { tl.Debug(ctx, "debug message") }, zapcore.DebugLevel},
		{"info", func() { tl.Info(ctx, "info message") }, zapcore.InfoLevel},
		{"warn", func() { tl.Warn(ctx, "warn message") }, zapcore.WarnLevel},
		{"error", func() { tl.Error(ctx, "error message") }, zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl.Reset()
			tt.log()
			logs := tl.All()
			require.Len(t, logs, 1)
			assert.Equal(t, tt.level, logs[0].Level)
			assert.Equal(t, tt.name+" message", logs[0].Message)
		})
	}
}

func TestLogger_ContextFields(t *testing.T) {
	tl := NewTestLogger()

	ctx := WithJobID(context.Background(), "job-1")
	ctx = WithDocument(ctx, "spec.pdf")
	ctx = WithRequestID(ctx, "req-9")

	tl.Info(ctx, "document extracted", zap.Int("chars", 120))

	tl.AssertLogged(t, zapcore.InfoLevel, "document extracted")
	tl.AssertField(t, "document extracted", "job.id", "job-1")
	tl.AssertField(t, "document extracted", "document", "spec.pdf")
	tl.AssertField(t, "document extracted", "request.id", "req-9")
	tl.AssertField(t, "document extracted", "chars", int64(120))
}

func TestContextFields_Trace(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	fields := ContextFields(ctx)
	require.Len(t, fields, 2)
	assert.Equal(t, "trace_id", fields[0].Key)
	assert.Equal(t, traceID.String(), fields[0].String)
}

func TestFromContext_DefaultsToNop(t *testing.T) {
	l := FromContext(context.Background())
	require.NotNil(t, l)
	l.Info(context.Background(), "discarded")

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	assert.Same(t, tl.Logger, FromContext(ctx))
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"trace", TraceLevel, false},
		{"TRACE", TraceLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"Warn", zapcore.WarnLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := LevelFromString(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestFromConfig(t *testing.T) {
	cfg, err := FromConfig(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	_, err = FromConfig(config.LoggingConfig{Level: "nope"})
	assert.Error(t, err)
}

func TestRedactingEncoder(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	buf, err := enc.EncodeEntry(zapcore.Entry{Message: "embedding provider ready"}, []zapcore.Field{
		zap.String("api_key", "sk-abc"),
		zap.String("header", "Bearer abc.def"),
		zap.String("model", "bge-small"),
	})
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &out))
	assert.Equal(t, "[REDACTED]", out["api_key"])
	assert.Equal(t, "[REDACTED:pattern]", out["header"])
	assert.Equal(t, "bge-small", out["model"])
}

func TestSecretField(t *testing.T) {
	f := Secret("api_key", config.Secret("abcd"))
	assert.Equal(t, "[REDACTED:4]", f.String)
}

func TestSampledCore_ErrorsAlwaysPass(t *testing.T) {
	tl := NewTestLogger()
	cfg := NewDefaultConfig().Sampling
	cfg.Initial, cfg.Thereafter = 1, 0

	core := newSampledCore(tl.Underlying().Core(), cfg)
	l := zap.New(core)
	for i := 0; i < 5; i++ {
		l.Info("repeated")
		l.Error("failure")
	}

	assert.Len(t, tl.FilterMessage("repeated").All(), 1)
	assert.Len(t, tl.FilterMessage("failure").All(), 5)
}
