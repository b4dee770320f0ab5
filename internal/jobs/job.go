// Package jobs runs scan batches asynchronously.
//
// A Job moves pending → progress → {success, failure, revoked} and never
// leaves a terminal state. Jobs are persisted in a Store, handed to workers
// through a Queue and executed by a Pool, which enforces the soft and hard
// time limits and recycles workers. Queue messages are acknowledged only
// after the job is terminal, so a crashed worker leads to redelivery.
package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/kravscan/internal/pipeline"
)

// State is the lifecycle state of a Job.
type State string

const (
	StatePending  State = "pending"
	StateProgress State = "progress"
	StateSuccess  State = "success"
	StateFailure  State = "failure"
	StateRevoked  State = "revoked"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailure || s == StateRevoked
}

var (
	// ErrNotFound is returned for an unknown job id.
	ErrNotFound = errors.New("job not found")

	// ErrTerminal is returned when mutating a job that already finished.
	ErrTerminal = errors.New("job is terminal")

	// ErrInvalidTransition is matched by every TransitionError.
	ErrInvalidTransition = errors.New("invalid job transition")
)

// TransitionError describes a rejected state change.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid job transition %s → %s", e.From, e.To)
}

// Is lets errors.Is match ErrInvalidTransition, and ErrTerminal when the job
// had already finished.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition || (target == ErrTerminal && e.From.Terminal())
}

// Progress is the last reported position of a running job.
type Progress struct {
	Message string `json:"message"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
}

// Job is one submitted batch.
type Job struct {
	ID       string          `json:"id"`
	State    State           `json:"state"`
	Params   pipeline.Params `json:"params"`
	Progress Progress        `json:"progress"`
	// Errors are per-document failures and the terminal diagnostic.
	Errors []string         `json:"errors,omitempty"`
	Result *pipeline.Result `json:"result,omitempty"`

	RevokeRequested bool `json:"revoke_requested,omitempty"`
	// Attempts counts deliveries that started the job.
	Attempts int `json:"attempts"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// New returns a pending job.
func New(id string, params pipeline.Params, now time.Time) *Job {
	return &Job{
		ID:        id,
		State:     StatePending,
		Params:    params,
		Progress:  Progress{Total: 100},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep enough copy for callers that must not share slices.
func (j *Job) Clone() *Job {
	c := *j
	c.Errors = append([]string(nil), j.Errors...)
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

func (j *Job) transition(to State, now time.Time) error {
	ok := false
	switch j.State {
	case StatePending:
		ok = to == StateProgress || to == StateFailure || to == StateRevoked
	case StateProgress:
		// A redelivered job restarts in place.
		ok = to == StateProgress || to.Terminal()
	}
	if !ok {
		return &TransitionError{From: j.State, To: to}
	}
	j.State = to
	j.UpdatedAt = now
	if to.Terminal() {
		t := now
		j.FinishedAt = &t
	}
	return nil
}

// Start moves the job into progress and counts the attempt.
func (j *Job) Start(now time.Time) error {
	if err := j.transition(StateProgress, now); err != nil {
		return err
	}
	j.Attempts++
	return nil
}

// Report records progress. Current never decreases; a lower value only
// updates the message.
func (j *Job) Report(msg string, current, total int, now time.Time) error {
	if j.State.Terminal() {
		return ErrTerminal
	}
	if j.State != StateProgress {
		return &TransitionError{From: j.State, To: StateProgress}
	}
	if total > 0 {
		j.Progress.Total = total
	}
	if current > j.Progress.Total {
		current = j.Progress.Total
	}
	if current > j.Progress.Current {
		j.Progress.Current = current
	}
	j.Progress.Message = msg
	j.UpdatedAt = now
	return nil
}

// Succeed finishes the job with res.
func (j *Job) Succeed(res *pipeline.Result, now time.Time) error {
	if err := j.transition(StateSuccess, now); err != nil {
		return err
	}
	j.Result = res
	if res != nil {
		j.Errors = append(j.Errors, res.Errors...)
	}
	j.Progress.Current = j.Progress.Total
	j.Progress.Message = "done"
	return nil
}

// Fail finishes the job with a diagnostic.
func (j *Job) Fail(diagnostic string, now time.Time) error {
	if err := j.transition(StateFailure, now); err != nil {
		return err
	}
	j.Errors = append(j.Errors, diagnostic)
	j.Progress.Message = diagnostic
	return nil
}

// Revoke cancels a pending job at once. A running job is only flagged; the
// worker finishes it as revoked at the next document boundary.
func (j *Job) Revoke(now time.Time) error {
	switch j.State {
	case StatePending:
		return j.transition(StateRevoked, now)
	case StateProgress:
		j.RevokeRequested = true
		j.UpdatedAt = now
		return nil
	default:
		return &TransitionError{From: j.State, To: StateRevoked}
	}
}

// Cancelled finishes a running job whose revocation took effect.
func (j *Job) Cancelled(now time.Time) error {
	if err := j.transition(StateRevoked, now); err != nil {
		return err
	}
	j.Progress.Message = "revoked"
	return nil
}
