package workflows

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/kravscan/internal/workflows"

// Metrics for the retrain activities
var (
	modelInstalledCounter metric.Int64Counter
	modelFailedCounter    metric.Int64Counter
	activityDuration      metric.Float64Histogram
	activityErrorCounter  metric.Int64Counter
)

// initMetrics initializes OpenTelemetry metrics for workflows.
// This is called once during package initialization.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	modelInstalledCounter, err = meter.Int64Counter(
		"kravscan.workflows.retrain.installed",
		metric.WithDescription("Number of retrained artifacts installed"),
		metric.WithUnit("{artifact}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create installed counter: %v", err))
	}

	modelFailedCounter, err = meter.Int64Counter(
		"kravscan.workflows.retrain.failed",
		metric.WithDescription("Number of retrain attempts that left the old artifact in place"),
		metric.WithUnit("{artifact}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create failed counter: %v", err))
	}

	activityDuration, err = meter.Float64Histogram(
		"kravscan.workflows.activity.duration",
		metric.WithDescription("Duration of workflow activity executions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity duration: %v", err))
	}

	activityErrorCounter, err = meter.Int64Counter(
		"kravscan.workflows.activity.errors",
		metric.WithDescription("Number of activity execution errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity error counter: %v", err))
	}
}

func init() {
	initMetrics()
}
