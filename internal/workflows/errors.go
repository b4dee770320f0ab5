package workflows

import (
	"fmt"
)

// WrapActivityError wraps an activity error with operation context.
// Use this when an activity fails to provide consistent error messages.
func WrapActivityError(operation string, err error) error {
	return fmt.Errorf("%s: %w", operation, err)
}

// FormatErrorForResult formats an error for inclusion in workflow result.Errors slice.
func FormatErrorForResult(operation string, err error) string {
	return fmt.Sprintf("%s: %v", operation, err)
}

// Error handling in RetrainWorkflow:
//
// CRITICAL (Propagate & Record):
//   - Invalid corrections. Nothing was written, the run fails.
//
// HIGH (Record but Continue):
//   - A model that failed to train. The old artifact keeps serving and the
//     other kinds still train.
//
// LOW (Log and Record):
//   - A reload that did not reach the daemon. Its file watcher picks up the
//     new artifact on the next poll.
