package http

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kravscan/internal/review"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/kravscan/internal/http"

// Submit outcomes recorded on kravscan.api.jobs_submitted.
const (
	outcomeAccepted    = "accepted"
	outcomeRejected    = "rejected"
	outcomeUnavailable = "unavailable"
)

// apiMetrics records request and domain metrics for the API.
type apiMetrics struct {
	meter       metric.Meter
	logger      *zap.Logger
	requests    metric.Int64Counter
	requestDur  metric.Float64Histogram
	submitted   metric.Int64Counter
	corrections metric.Int64Counter
}

func newAPIMetrics(logger *zap.Logger) *apiMetrics {
	return newAPIMetricsWithMeter(otel.Meter(httpInstrumentationName), logger)
}

func newAPIMetricsWithMeter(meter metric.Meter, logger *zap.Logger) *apiMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &apiMetrics{meter: meter, logger: logger}

	var err error
	m.requests, err = meter.Int64Counter(
		"kravscan.http.requests_total",
		metric.WithDescription("HTTP requests by method, route and status"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create requests counter", zap.Error(err))
	}

	m.requestDur, err = meter.Float64Histogram(
		"kravscan.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration by method, route and status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.submitted, err = meter.Int64Counter(
		"kravscan.api.jobs_submitted",
		metric.WithDescription("Scan submissions by outcome"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		logger.Warn("failed to create submissions counter", zap.Error(err))
	}

	m.corrections, err = meter.Int64Counter(
		"kravscan.api.corrections_merged",
		metric.WithDescription("Review corrections merged into the corpus, by status"),
		metric.WithUnit("{correction}"),
	)
	if err != nil {
		logger.Warn("failed to create corrections counter", zap.Error(err))
	}
	return m
}

// middleware records one count and one duration per request. The route
// pattern is the label, so job ids never reach it.
func (m *apiMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// Let echo render the error first so the status is final.
				c.Error(err)
			}

			opt := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", routeLabel(c.Path())),
				attribute.Int("status", c.Response().Status),
			)
			ctx := c.Request().Context()
			if m.requests != nil {
				m.requests.Add(ctx, 1, opt)
			}
			if m.requestDur != nil {
				m.requestDur.Record(ctx, time.Since(start).Seconds(), opt)
			}
			return nil
		}
	}
}

func (m *apiMetrics) recordSubmit(ctx context.Context, outcome string) {
	if m.submitted != nil {
		m.submitted.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (m *apiMetrics) recordCorrections(ctx context.Context, corrections []review.Correction) {
	if m.corrections == nil {
		return
	}
	counts := map[string]int64{}
	for _, c := range corrections {
		status, ok := review.NormalizeStatus(c.Status)
		if !ok {
			continue
		}
		counts[status]++
	}
	for status, n := range counts {
		m.corrections.Add(ctx, n, metric.WithAttributes(attribute.String("status", status)))
	}
}

// routeLabel maps unmatched requests to a single label.
func routeLabel(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
