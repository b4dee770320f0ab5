package pipeline

import "context"

// Notifier receives progress as (message, current, total). Implementations
// are best-effort: they must not block and never fail the run.
type Notifier interface {
	Report(ctx context.Context, message string, current, total int)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, message string, current, total int)

// Report implements Notifier.
func (f NotifierFunc) Report(ctx context.Context, message string, current, total int) {
	f(ctx, message, current, total)
}

// NopNotifier discards progress.
type NopNotifier struct{}

// Report implements Notifier.
func (NopNotifier) Report(context.Context, string, int, int) {}
