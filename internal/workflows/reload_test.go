package workflows

import (
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectNATS(t *testing.T) *nats.Conn {
	t.Helper()
	server, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)
	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func TestReloadRoundTrip(t *testing.T) {
	nc := connectNATS(t)
	calls := 0
	sub, err := ServeReload(nc, "krav.jobs", map[string]func() (bool, error){
		"classifier": func() (bool, error) { calls++; return true, nil },
		"validator":  func() (bool, error) { return false, errors.New("artifact invalid") },
	}, nil)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	ok, err := RequestReload(nc, "krav.jobs", "classifier", 2*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, calls)

	_, err = RequestReload(nc, "krav.jobs", "validator", 2*time.Second)
	assert.EqualError(t, err, "artifact invalid")

	_, err = RequestReload(nc, "krav.jobs", "tagger", 2*time.Second)
	assert.ErrorContains(t, err, `unknown model kind "tagger"`)
}

func TestRequestReload_NoDaemon(t *testing.T) {
	nc := connectNATS(t)
	_, err := RequestReload(nc, "krav.jobs", "classifier", 200*time.Millisecond)
	assert.ErrorIs(t, err, nats.ErrNoResponders)
}
