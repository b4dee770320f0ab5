package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/fyrsmithlabs/kravscan/internal/review"
)

// Application error types the workflow does not retry.
const (
	ErrTypeInvalidCorrections = "InvalidCorrections"
	ErrTypeUnknownKind        = "UnknownModelKind"
)

// Activities hosts the retrain activities. Register it with a worker as a
// struct so each method becomes an activity.
type Activities struct {
	Merger    *review.Merger
	Retrainer *review.Retrainer
}

// MergeCorrections applies corrections to the corpus files.
func (a *Activities) MergeCorrections(ctx context.Context, corrections []review.Correction) (*review.MergeStats, error) {
	start := time.Now()
	st, err := a.Merger.Merge(ctx, corrections)
	recordActivity(ctx, "merge_corrections", start, err)

	var verr *review.ValidationError
	if errors.As(err, &verr) {
		return nil, temporal.NewNonRetryableApplicationError(verr.Error(), ErrTypeInvalidCorrections, err, verr.Rows)
	}
	if err != nil {
		return nil, fmt.Errorf("merging corrections: %w", err)
	}
	return st, nil
}

// TrainModel trains and installs one model kind. A trainer failure is
// reported in the returned ModelReport, not as an activity error, so it is
// not retried.
func (a *Activities) TrainModel(ctx context.Context, kind string) (*review.ModelReport, error) {
	t, ok := a.Retrainer.Target(kind)
	if !ok {
		err := fmt.Errorf("unknown model kind %q", kind)
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeUnknownKind, err)
	}
	activity.GetLogger(ctx).Info("Training model", "kind", kind, "path", t.Path)

	start := time.Now()
	rep := a.Retrainer.Train(ctx, t)
	var err error
	if !rep.OK {
		err = errors.New(rep.Error)
	}
	recordActivity(ctx, "train_model", start, err)
	recordModel(ctx, kind, rep.OK)
	return &rep, nil
}

// Reload asks the serving side to pick up kind.
func (a *Activities) Reload(ctx context.Context, kind string) (bool, error) {
	start := time.Now()
	ok, err := a.Retrainer.Reload(kind)
	recordActivity(ctx, "reload", start, err)
	if err != nil {
		return false, fmt.Errorf("reloading %s: %w", kind, err)
	}
	return ok, nil
}

func recordActivity(ctx context.Context, name string, start time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("activity", name))
	activityDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	if err != nil {
		activityErrorCounter.Add(ctx, 1, attrs)
	}
}

func recordModel(ctx context.Context, kind string, ok bool) {
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	if ok {
		modelInstalledCounter.Add(ctx, 1, attrs)
		return
	}
	modelFailedCounter.Add(ctx, 1, attrs)
}
