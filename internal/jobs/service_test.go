package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/kravscan/internal/pipeline"
)

func TestService_SubmitStatusRevoke(t *testing.T) {
	store, queue := NewMemoryStore(), NewMemoryQueue(4)
	svc := NewService(store, queue, nil)
	ctx := context.Background()

	j, err := svc.Submit(ctx, pipeline.Params{WorkDir: "/data/a", MinScore: pipeline.Score(70)})
	require.NoError(t, err)
	assert.Equal(t, StatePending, j.State)
	assert.NotEmpty(t, j.ID)

	d, err := queue.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, j.ID, d.JobID())

	got, err := svc.Status(ctx, j.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Params.MinScore)
	assert.Equal(t, 70.0, *got.Params.MinScore)

	revoked, err := svc.Revoke(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRevoked, revoked.State)

	_, err = svc.Revoke(ctx, j.ID)
	assert.ErrorIs(t, err, ErrTerminal)

	_, err = svc.Status(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_SubmitRejectsInvalidParams(t *testing.T) {
	svc := NewService(NewMemoryStore(), NewMemoryQueue(1), nil)
	_, err := svc.Submit(context.Background(), pipeline.Params{})
	assert.ErrorIs(t, err, pipeline.ErrInvalidParams)
}

type failingQueue struct{ Queue }

func (failingQueue) Enqueue(context.Context, string) error { return errors.New("broker down") }

func TestService_EnqueueFailureFailsJob(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, failingQueue{}, nil)

	_, err := svc.Submit(context.Background(), pipeline.Params{WorkDir: "/data"})
	require.ErrorContains(t, err, "broker down")

	for _, j := range store.jobs {
		assert.Equal(t, StateFailure, j.State)
	}
	assert.Len(t, store.jobs, 1)
}

type recorder struct {
	mu     sync.Mutex
	events []int
}

func (r *recorder) Report(_ context.Context, _ string, current, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, current)
}

func TestThrottle(t *testing.T) {
	rec := &recorder{}
	n := Throttle(rec, 1)
	for i := 0; i < 50; i++ {
		n.Report(context.Background(), "x", i, 100)
	}
	n.Report(context.Background(), "done", 100, 100)
	assert.Equal(t, []int{0, 100}, rec.events, "burst of one, final event always passes")

	assert.Same(t, rec, Throttle(rec, 0))
}

func TestStoreNotifier(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	j := New("j", pipeline.Params{}, t0)
	require.NoError(t, j.Start(t0))
	require.NoError(t, store.Create(ctx, j))

	n := &StoreNotifier{Store: store, JobID: "j", Now: func() time.Time { return t0 }}
	n.Report(ctx, "processing a.txt", 45, 100)
	n.Report(ctx, "processing b.txt", 20, 100)

	got, err := store.Get(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, 45, got.Progress.Current)
	assert.Equal(t, "processing b.txt", got.Progress.Message)

	// Unknown jobs are ignored.
	(&StoreNotifier{Store: store, JobID: "missing"}).Report(ctx, "x", 1, 100)
}

func TestNATSNotifier(t *testing.T) {
	nc, _ := connectJetStream(t)
	sub, err := nc.SubscribeSync(ProgressSubject("krav.jobs", "*"))
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	n := &NATSNotifier{Conn: nc, Prefix: "krav.jobs", JobID: "job-7"}
	n.Report(context.Background(), "processing a.txt", 30, 100)

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "krav.jobs.job-7.progress", msg.Subject)

	var ev ProgressEvent
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, "job-7", ev.JobID)
	assert.Equal(t, 30, ev.Current)
	assert.Equal(t, "processing a.txt", ev.Message)
}

func TestMulti_SkipsNil(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := Multi(a, nil, b)
	m.Report(context.Background(), "x", 5, 10)
	assert.Equal(t, []int{5}, a.events)
	assert.Equal(t, []int{5}, b.events)
}
