// Package workflows provides the Temporal workflow that folds reviewer
// corrections into the training corpus and retrains the served models.
package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/kravscan/internal/review"
)

// RetrainWorkflowName is the registered workflow type name.
const RetrainWorkflowName = "RetrainWorkflow"

// RetrainInput configures one retrain run.
type RetrainInput struct {
	Corrections []review.Correction // May be empty to retrain on the current corpus
	Kinds       []string            // Models to train; empty means classifier and validator
	// TrainTimeout bounds one TrainModel activity. Zero uses 20 minutes.
	TrainTimeout time.Duration
}

// RetrainResult reports what the workflow did.
type RetrainResult struct {
	Merge    *review.MergeStats   // Nil when there was nothing to merge
	Models   []review.ModelReport // One per trained kind
	Reloaded []string             // Kinds the serving side picked up
	Errors   []string             // Non-fatal failures
}

// OK reports whether every requested model was installed.
func (r *RetrainResult) OK() bool {
	for _, m := range r.Models {
		if !m.OK {
			return false
		}
	}
	return len(r.Models) > 0
}

// DefaultKinds are trained when RetrainInput.Kinds is empty.
var DefaultKinds = []string{review.KindClassifier, review.KindValidator}

// RetrainWorkflow merges corrections, trains each model kind and asks the
// serving side to reload the kinds that were installed.
//
// This workflow:
// 1. Merges corrections into the corpus (fails the run on invalid input)
// 2. Trains each kind; a failed kind is reported and the others continue
// 3. Reloads each installed kind
func RetrainWorkflow(ctx workflow.Context, input RetrainInput) (*RetrainResult, error) {
	logger := workflow.GetLogger(ctx)
	kinds := input.Kinds
	if len(kinds) == 0 {
		kinds = DefaultKinds
	}
	logger.Info("Starting retrain", "corrections", len(input.Corrections), "kinds", kinds)

	var a *Activities
	result := &RetrainResult{}

	// Step 1: Merge
	if len(input.Corrections) > 0 {
		mctx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: 2 * time.Minute,
			RetryPolicy: &temporal.RetryPolicy{
				MaximumAttempts:        3,
				NonRetryableErrorTypes: []string{ErrTypeInvalidCorrections},
			},
		})
		var stats review.MergeStats
		if err := workflow.ExecuteActivity(mctx, a.MergeCorrections, input.Corrections).Get(ctx, &stats); err != nil {
			result.Errors = append(result.Errors, FormatErrorForResult("failed to merge corrections", err))
			return result, WrapActivityError("failed to merge corrections", err)
		}
		result.Merge = &stats
	}

	// Step 2: Train
	timeout := input.TrainTimeout
	if timeout <= 0 {
		timeout = 20 * time.Minute
	}
	tctx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 2,
		},
	})
	for _, kind := range kinds {
		var rep review.ModelReport
		if err := workflow.ExecuteActivity(tctx, a.TrainModel, kind).Get(ctx, &rep); err != nil {
			logger.Error("Train activity failed", "kind", kind, "error", err)
			result.Errors = append(result.Errors, FormatErrorForResult(fmt.Sprintf("failed to train %s", kind), err))
			result.Models = append(result.Models, review.ModelReport{Kind: kind, Error: err.Error()})
			continue
		}
		if !rep.OK {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to train %s: %s", kind, rep.Error))
		}
		result.Models = append(result.Models, rep)
	}

	// Step 3: Reload
	rctx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})
	for _, m := range result.Models {
		if !m.OK {
			continue
		}
		var reloaded bool
		if err := workflow.ExecuteActivity(rctx, a.Reload, m.Kind).Get(ctx, &reloaded); err != nil {
			logger.Warn("Reload failed (watcher will pick up the file)", "kind", m.Kind, "error", err)
			result.Errors = append(result.Errors, FormatErrorForResult(fmt.Sprintf("failed to reload %s", m.Kind), err))
			continue
		}
		if reloaded {
			result.Reloaded = append(result.Reloaded, m.Kind)
		}
	}

	logger.Info("Retrain complete",
		"installed", len(result.Models)-countFailed(result.Models),
		"reloaded", len(result.Reloaded),
		"errors", len(result.Errors))
	return result, nil
}

func countFailed(models []review.ModelReport) int {
	n := 0
	for _, m := range models {
		if !m.OK {
			n++
		}
	}
	return n
}
