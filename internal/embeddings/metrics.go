package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/kravscan/internal/embeddings"

// Metrics records embedding latency, batch size and failures.
type Metrics struct {
	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	errors    metric.Int64Counter
}

// NewMetrics registers instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	meter := otel.Meter(instrumentationName)
	m := &Metrics{}
	var err error

	m.duration, err = meter.Float64Histogram(
		"kravscan.embedding.duration_seconds",
		metric.WithDescription("Duration of embedding calls"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.batchSize, err = meter.Int64Histogram(
		"kravscan.embedding.batch_size",
		metric.WithDescription("Texts per embedding call"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 500),
	)
	if err != nil {
		logger.Warn("failed to create batch size histogram", zap.Error(err))
	}

	m.errors, err = meter.Int64Counter(
		"kravscan.embedding.errors_total",
		metric.WithDescription("Failed embedding calls"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		logger.Warn("failed to create errors counter", zap.Error(err))
	}
	return m
}

// Record records one call.
func (m *Metrics) Record(ctx context.Context, model, op string, d time.Duration, n int, err error) {
	attrs := metric.WithAttributes(attribute.String("model", model), attribute.String("operation", op))
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), attrs)
	}
	if n > 0 && m.batchSize != nil {
		m.batchSize.Record(ctx, int64(n), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

type instrumented struct {
	Provider
	model   string
	metrics *Metrics
}

func instrument(p Provider, model string, logger *zap.Logger) Provider {
	return &instrumented{Provider: p, model: model, metrics: NewMetrics(logger)}
}

func (i *instrumented) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vs, err := i.Provider.EmbedDocuments(ctx, texts)
	i.metrics.Record(ctx, i.model, "embed_documents", time.Since(start), len(texts), err)
	return vs, err
}

func (i *instrumented) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	v, err := i.Provider.EmbedQuery(ctx, text)
	i.metrics.Record(ctx, i.model, "embed_query", time.Since(start), 1, err)
	return v, err
}
