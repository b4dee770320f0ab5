package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_AckNak(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "a"))

	d, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", d.JobID())
	assert.Equal(t, 1, d.Attempt())

	require.NoError(t, d.Nak())
	d, err = q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Attempt())
	require.NoError(t, d.Ack())

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = q.Next(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueue_Close(t *testing.T) {
	q := NewMemoryQueue(1)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	_, err := q.Next(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.ErrorIs(t, q.Enqueue(context.Background(), "a"), ErrQueueClosed)
}

func newJetStreamQueue(t *testing.T, ackWait time.Duration) *JetStreamQueue {
	t.Helper()
	_, js := connectJetStream(t)
	q, err := NewJetStreamQueue(context.Background(), js, JetStreamConfig{
		Stream:     "KRAV_JOBS_TEST",
		Subject:    "krav.test.jobs.submit",
		Durable:    "krav-test-workers",
		AckWait:    ackWait,
		MaxDeliver: 3,
		FetchWait:  100 * time.Millisecond,
	})
	require.NoError(t, err)
	return q
}

func TestJetStreamQueue_DeliverAndAck(t *testing.T) {
	q := newJetStreamQueue(t, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, "job-1"))
	// Publishing the same id again is deduplicated.
	require.NoError(t, q.Enqueue(ctx, "job-1"))
	require.NoError(t, q.Enqueue(ctx, "job-2"))

	d, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", d.JobID())
	assert.Equal(t, 1, d.Attempt())
	require.NoError(t, d.Ack())

	d, err = q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-2", d.JobID())
	require.NoError(t, d.Ack())

	short, stop := context.WithTimeout(ctx, 300*time.Millisecond)
	defer stop()
	_, err = q.Next(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestJetStreamQueue_NakRedelivers(t *testing.T) {
	q := newJetStreamQueue(t, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, "job-1"))
	d, err := q.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Nak())

	d, err = q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", d.JobID())
	assert.Equal(t, 2, d.Attempt())
	require.NoError(t, d.Ack())
}

func TestJetStreamQueue_UnackedMessageIsRedelivered(t *testing.T) {
	q := newJetStreamQueue(t, 200*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, "job-crash"))
	first, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Attempt())
	// The worker "crashes": no ack, no nak.

	again, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-crash", again.JobID())
	assert.Equal(t, 2, again.Attempt())
	require.NoError(t, again.Ack())
}

func TestNewJetStreamQueue_RequiresNames(t *testing.T) {
	_, js := connectJetStream(t)
	_, err := NewJetStreamQueue(context.Background(), js, JetStreamConfig{Stream: "S"})
	assert.Error(t, err)
}
