package workflows

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ReloadSubject returns the request subject the daemon answers model reload
// requests on.
func ReloadSubject(prefix string) string {
	return prefix + ".models.reload"
}

type reloadRequest struct {
	Kind string `json:"kind"`
}

type reloadReply struct {
	Reloaded bool   `json:"reloaded"`
	Error    string `json:"error,omitempty"`
}

// RequestReload asks the daemon to reload kind and waits for its answer.
func RequestReload(nc *nats.Conn, prefix, kind string, timeout time.Duration) (bool, error) {
	data, err := json.Marshal(reloadRequest{Kind: kind})
	if err != nil {
		return false, err
	}
	msg, err := nc.Request(ReloadSubject(prefix), data, timeout)
	if err != nil {
		return false, fmt.Errorf("reload request: %w", err)
	}
	var reply reloadReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return false, fmt.Errorf("decoding reload reply: %w", err)
	}
	if reply.Error != "" {
		return reply.Reloaded, errors.New(reply.Error)
	}
	return reply.Reloaded, nil
}

// ServeReload answers reload requests with the hook registered for the
// requested kind.
func ServeReload(nc *nats.Conn, prefix string, hooks map[string]func() (bool, error), logger *zap.Logger) (*nats.Subscription, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return nc.Subscribe(ReloadSubject(prefix), func(m *nats.Msg) {
		var req reloadRequest
		var reply reloadReply
		if err := json.Unmarshal(m.Data, &req); err != nil {
			reply.Error = "invalid reload request"
		} else if hook, ok := hooks[req.Kind]; !ok {
			reply.Error = fmt.Sprintf("unknown model kind %q", req.Kind)
		} else {
			ok, err := hook()
			reply.Reloaded = ok
			if err != nil {
				reply.Error = err.Error()
			}
			logger.Info("model reload requested",
				zap.String("kind", req.Kind),
				zap.Bool("reloaded", ok),
				zap.Error(err))
		}
		data, _ := json.Marshal(reply)
		if err := m.Respond(data); err != nil {
			logger.Warn("reload reply failed", zap.Error(err))
		}
	})
}
