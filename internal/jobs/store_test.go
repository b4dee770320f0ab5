package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/kravscan/internal/pipeline"
)

// startTestNATSServer starts an embedded JetStream-enabled NATS server.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:           "127.0.0.1",
		Port:           -1, // Random port
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
		JetStream:      true,
		StoreDir:       t.TempDir(),
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func connectJetStream(t *testing.T) (*nats.Conn, jetstream.JetStream) {
	t.Helper()
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	js, err := jetstream.New(nc)
	require.NoError(t, err)
	return nc, js
}

func newStores(t *testing.T) map[string]Store {
	t.Helper()
	_, js := connectJetStream(t)
	kv, err := NewKVStore(context.Background(), js, "krav_jobs_test")
	require.NoError(t, err)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"kv":     kv,
	}
}

func TestStore_CreateGetUpdate(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			j := New("job-1", pipeline.Params{WorkDir: "/data/job-1", Standards: []string{"NS3420"}}, t0)
			require.NoError(t, store.Create(ctx, j))
			assert.Error(t, store.Create(ctx, j), "ids are unique")

			got, err := store.Get(ctx, "job-1")
			require.NoError(t, err)
			assert.Equal(t, StatePending, got.State)
			assert.Equal(t, []string{"NS3420"}, got.Params.Standards)

			got, err = store.Update(ctx, "job-1", func(j *Job) error { return j.Start(t0) })
			require.NoError(t, err)
			assert.Equal(t, StateProgress, got.State)

			// A rejected update writes nothing.
			_, err = store.Update(ctx, "job-1", func(j *Job) error {
				j.Progress.Message = "should not stick"
				return j.Succeed(nil, t0)
			})
			require.NoError(t, err)
			_, err = store.Update(ctx, "job-1", func(j *Job) error {
				j.Progress.Message = "should not stick"
				return j.Fail("late", t0)
			})
			assert.ErrorIs(t, err, ErrTerminal)

			got, err = store.Get(ctx, "job-1")
			require.NoError(t, err)
			assert.Equal(t, StateSuccess, got.State)
			assert.Equal(t, "done", got.Progress.Message)
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "missing")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = store.Update(context.Background(), "missing", func(*Job) error { return nil })
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_ConcurrentUpdatesAreNotLost(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			j := New("job-c", pipeline.Params{}, t0)
			j.Progress.Total = 1000
			require.NoError(t, store.Create(ctx, j))
			_, err := store.Update(ctx, "job-c", func(j *Job) error { return j.Start(t0) })
			require.NoError(t, err)

			const writers = 8
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := store.Update(ctx, "job-c", func(j *Job) error {
						j.Errors = append(j.Errors, "x")
						return nil
					})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			got, err := store.Get(ctx, "job-c")
			require.NoError(t, err)
			assert.Len(t, got.Errors, writers)
		})
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Create(context.Background(), New("j", pipeline.Params{}, t0)))

	got, err := s.Get(context.Background(), "j")
	require.NoError(t, err)
	got.State = StateFailure

	again, err := s.Get(context.Background(), "j")
	require.NoError(t, err)
	assert.Equal(t, StatePending, again.State)
}
