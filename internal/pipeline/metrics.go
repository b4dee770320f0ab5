package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

type metrics struct {
	duration metric.Float64Histogram
}

func newMetrics(logger *zap.Logger) *metrics {
	m := &metrics{}
	var err error
	m.duration, err = otel.Meter(instrumentationName).Float64Histogram(
		"kravscan.pipeline.stage.duration_seconds",
		metric.WithDescription("Duration of pipeline stages"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300),
	)
	if err != nil {
		logger.Warn("failed to create stage duration histogram", zap.Error(err))
	}
	return m
}

func (m *metrics) stage(ctx context.Context, name string, start time.Time) {
	if m.duration == nil {
		return
	}
	m.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("stage", name)))
}
