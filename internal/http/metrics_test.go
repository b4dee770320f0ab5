package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/kravscan/internal/review"
)

func collect(t *testing.T, reader *metric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumBy(t *testing.T, m metricdata.Metrics, key string) map[string]int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "%s is not an int64 sum", m.Name)
	out := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key(key))
		out[v.Emit()] += dp.Value
	}
	return out
}

func TestAPIMetrics_Middleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := newAPIMetricsWithMeter(mp.Meter(httpInstrumentationName), nil)

	e := echo.New()
	e.Use(m.middleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/api/v1/jobs/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	})

	for _, target := range []string{"/health", "/api/v1/jobs/3f2a9c", "/api/v1/jobs/77b0", "/nope"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}

	got := collect(t, reader)
	require.Contains(t, got, "kravscan.http.requests_total")
	routes := sumBy(t, got["kravscan.http.requests_total"], "route")
	assert.Equal(t, int64(1), routes["/health"])
	assert.Equal(t, int64(2), routes["/api/v1/jobs/:id"])
	var total int64
	for route, n := range routes {
		assert.NotContains(t, route, "3f2a9c")
		total += n
	}
	assert.Equal(t, int64(4), total)

	statuses := sumBy(t, got["kravscan.http.requests_total"], "status")
	assert.Equal(t, int64(3), statuses["404"])

	hist, ok := got["kravscan.http.request_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var n uint64
	for _, dp := range hist.DataPoints {
		n += dp.Count
	}
	assert.Equal(t, uint64(4), n)
}

func TestAPIMetrics_Domain(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := newAPIMetricsWithMeter(mp.Meter(httpInstrumentationName), nil)
	ctx := context.Background()

	m.recordSubmit(ctx, outcomeAccepted)
	m.recordSubmit(ctx, outcomeAccepted)
	m.recordSubmit(ctx, outcomeRejected)
	m.recordCorrections(ctx, []review.Correction{
		{Text: "a", Status: "aktiv"},
		{Text: "b", Status: "active"},
		{Text: "c", Status: "inaktiv"},
		{Text: "d", Status: "bogus"},
	})

	got := collect(t, reader)
	assert.Equal(t, map[string]int64{"accepted": 2, "rejected": 1}, sumBy(t, got["kravscan.api.jobs_submitted"], "outcome"))
	assert.Equal(t, map[string]int64{"active": 2, "inactive": 1}, sumBy(t, got["kravscan.api.corrections_merged"], "status"))
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "unmatched", routeLabel(""))
	assert.Equal(t, "/api/v1/jobs/:id", routeLabel("/api/v1/jobs/:id"))
}
