package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/kravscan/internal/pipeline"
)

// StoreNotifier writes progress into the job record. Failures are logged,
// never returned.
type StoreNotifier struct {
	Store  Store
	JobID  string
	Logger *zap.Logger
	Now    func() time.Time
}

// Report implements pipeline.Notifier.
func (n *StoreNotifier) Report(ctx context.Context, msg string, current, total int) {
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	_, err := n.Store.Update(ctx, n.JobID, func(j *Job) error {
		return j.Report(msg, current, total, now())
	})
	if err != nil && n.Logger != nil {
		n.Logger.Debug("progress not stored", zap.String("job.id", n.JobID), zap.Error(err))
	}
}

// ProgressEvent is the payload published on a job's progress subject.
type ProgressEvent struct {
	JobID     string    `json:"job_id"`
	Message   string    `json:"message"`
	Current   int       `json:"current"`
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

// ProgressSubject returns "<prefix>.<id>.progress".
func ProgressSubject(prefix, id string) string {
	return fmt.Sprintf("%s.%s.progress", prefix, id)
}

// NATSNotifier publishes progress events for live watchers. Publishing is
// fire-and-forget core NATS.
type NATSNotifier struct {
	Conn   *nats.Conn
	Prefix string
	JobID  string
	Logger *zap.Logger
}

// Report implements pipeline.Notifier.
func (n *NATSNotifier) Report(_ context.Context, msg string, current, total int) {
	data, err := json.Marshal(ProgressEvent{
		JobID:     n.JobID,
		Message:   msg,
		Current:   current,
		Total:     total,
		Timestamp: time.Now().UTC(),
	})
	if err == nil {
		err = n.Conn.Publish(ProgressSubject(n.Prefix, n.JobID), data)
	}
	if err != nil && n.Logger != nil {
		n.Logger.Debug("progress not published", zap.String("job.id", n.JobID), zap.Error(err))
	}
}

// Throttle forwards at most limit events per second to next. Events at or
// past total always pass, so the final position is never dropped.
func Throttle(next pipeline.Notifier, limit float64) pipeline.Notifier {
	if limit <= 0 {
		return next
	}
	return &throttled{next: next, limiter: rate.NewLimiter(rate.Limit(limit), 1)}
}

type throttled struct {
	next    pipeline.Notifier
	limiter *rate.Limiter
}

func (t *throttled) Report(ctx context.Context, msg string, current, total int) {
	if current < total && !t.limiter.Allow() {
		return
	}
	t.next.Report(ctx, msg, current, total)
}

// Multi fans progress out to every non-nil notifier in order.
func Multi(ns ...pipeline.Notifier) pipeline.Notifier {
	out := make(multi, 0, len(ns))
	for _, n := range ns {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

type multi []pipeline.Notifier

func (m multi) Report(ctx context.Context, msg string, current, total int) {
	for _, n := range m {
		n.Report(ctx, msg, current, total)
	}
}
