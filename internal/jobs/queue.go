package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ErrQueueClosed is returned by Next after Close.
var ErrQueueClosed = errors.New("queue closed")

// Delivery is one handed-out job id. Ack removes it from the queue; Nak
// makes it available again.
type Delivery interface {
	JobID() string
	// Attempt is 1 on first delivery.
	Attempt() int
	Ack() error
	Nak() error
}

// Queue hands job ids to workers, at least once.
type Queue interface {
	Enqueue(ctx context.Context, id string) error
	// Next blocks until a delivery is available or ctx is done.
	Next(ctx context.Context) (Delivery, error)
	Close() error
}

// MemoryQueue is an in-process Queue. Unacked deliveries are lost with the
// process, so it suits single-process runs and tests.
type MemoryQueue struct {
	ch chan string

	mu       sync.Mutex
	attempts map[string]int
	closed   bool
	done     chan struct{}
}

// NewMemoryQueue returns a MemoryQueue holding up to size pending ids.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 128
	}
	return &MemoryQueue{
		ch:       make(chan string, size),
		attempts: make(map[string]int),
		done:     make(chan struct{}),
	}
}

// Enqueue implements Queue.
func (q *MemoryQueue) Enqueue(ctx context.Context, id string) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- id:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrQueueClosed
	}
}

// Next implements Queue.
func (q *MemoryQueue) Next(ctx context.Context) (Delivery, error) {
	select {
	case id := <-q.ch:
		q.mu.Lock()
		q.attempts[id]++
		n := q.attempts[id]
		q.mu.Unlock()
		return &memoryDelivery{q: q, id: id, attempt: n}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.done:
		return nil, ErrQueueClosed
	}
}

// Close implements Queue.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}

type memoryDelivery struct {
	q       *MemoryQueue
	id      string
	attempt int
	once    sync.Once
}

func (d *memoryDelivery) JobID() string { return d.id }
func (d *memoryDelivery) Attempt() int  { return d.attempt }

func (d *memoryDelivery) Ack() error {
	d.once.Do(func() {
		d.q.mu.Lock()
		delete(d.q.attempts, d.id)
		d.q.mu.Unlock()
	})
	return nil
}

func (d *memoryDelivery) Nak() error {
	var err error
	d.once.Do(func() {
		err = d.q.Enqueue(context.Background(), d.id)
	})
	return err
}

// JetStreamConfig configures a JetStreamQueue.
type JetStreamConfig struct {
	Stream  string
	Subject string
	Durable string
	// AckWait should exceed the hard time limit, so a live worker never
	// loses its message to redelivery.
	AckWait    time.Duration
	MaxDeliver int
	// FetchWait bounds one pull request.
	FetchWait time.Duration
}

// JetStreamQueue is a durable Queue on a work-queue stream with an explicit
// ack pull consumer.
type JetStreamQueue struct {
	js       jetstream.JetStream
	consumer jetstream.Consumer
	cfg      JetStreamConfig
}

// NewJetStreamQueue creates or updates the stream and the durable consumer.
func NewJetStreamQueue(ctx context.Context, js jetstream.JetStream, cfg JetStreamConfig) (*JetStreamQueue, error) {
	if cfg.Stream == "" || cfg.Subject == "" || cfg.Durable == "" {
		return nil, errors.New("jetstream queue: stream, subject and durable are required")
	}
	if cfg.FetchWait <= 0 {
		cfg.FetchWait = 5 * time.Second
	}
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.Stream,
		Description: "kravscan job submissions",
		Subjects:    []string{cfg.Subject},
		Retention:   jetstream.WorkQueuePolicy,
		Storage:     jetstream.FileStorage,
	}); err != nil {
		return nil, fmt.Errorf("creating stream %s: %w", cfg.Stream, err)
	}
	cons, err := js.CreateOrUpdateConsumer(ctx, cfg.Stream, jetstream.ConsumerConfig{
		Durable:       cfg.Durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		FilterSubject: cfg.Subject,
	})
	if err != nil {
		return nil, fmt.Errorf("creating consumer %s: %w", cfg.Durable, err)
	}
	return &JetStreamQueue{js: js, consumer: cons, cfg: cfg}, nil
}

// Enqueue implements Queue. The job id doubles as the message id, so a
// retried publish is deduplicated by the server.
func (q *JetStreamQueue) Enqueue(ctx context.Context, id string) error {
	if _, err := q.js.Publish(ctx, q.cfg.Subject, []byte(id), jetstream.WithMsgID(id)); err != nil {
		return fmt.Errorf("enqueueing job %s: %w", id, err)
	}
	return nil
}

// Next implements Queue.
func (q *JetStreamQueue) Next(ctx context.Context) (Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, err := q.consumer.Fetch(1, jetstream.FetchMaxWait(q.cfg.FetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrConnectionClosed) {
				return nil, ErrQueueClosed
			}
			return nil, fmt.Errorf("fetching job: %w", err)
		}
		for msg := range batch.Messages() {
			attempt := 1
			if md, err := msg.Metadata(); err == nil {
				attempt = int(md.NumDelivered)
			}
			return &jsDelivery{msg: msg, attempt: attempt}, nil
		}
		if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, jetstream.ErrNoMessages) {
			return nil, fmt.Errorf("fetching job: %w", err)
		}
	}
}

// Close implements Queue. The connection belongs to the caller.
func (q *JetStreamQueue) Close() error { return nil }

type jsDelivery struct {
	msg     jetstream.Msg
	attempt int
}

func (d *jsDelivery) JobID() string { return string(d.msg.Data()) }
func (d *jsDelivery) Attempt() int  { return d.attempt }
func (d *jsDelivery) Ack() error    { return d.msg.Ack() }
func (d *jsDelivery) Nak() error    { return d.msg.Nak() }
