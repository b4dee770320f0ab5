package main

import (
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kravscan/internal/config"
)

// connectNATS dials cfg.URL, or starts an embedded JetStream server first
// when cfg.Embedded is set.
func connectNATS(cfg config.NATSConfig, logger *zap.Logger) (*natsConn, error) {
	url := cfg.URL
	var shutdown func()
	if cfg.Embedded {
		srv, err := natsserver.NewServer(&natsserver.Options{
			Host:      "127.0.0.1",
			Port:      natsserver.RANDOM_PORT,
			NoLog:     true,
			NoSigs:    true,
			JetStream: true,
			StoreDir:  cfg.StoreDir,
		})
		if err != nil {
			return nil, fmt.Errorf("creating embedded nats server: %w", err)
		}
		go srv.Start()
		if !srv.ReadyForConnections(10 * time.Second) {
			srv.Shutdown()
			return nil, fmt.Errorf("embedded nats server not ready")
		}
		url = srv.ClientURL()
		shutdown = func() {
			srv.Shutdown()
			srv.WaitForShutdown()
		}
		logger.Info("embedded nats server started", zap.String("url", url), zap.String("store_dir", cfg.StoreDir))
	}

	nc, err := nats.Connect(url,
		nats.Name("kravd"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		if shutdown != nil {
			shutdown()
		}
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return &natsConn{Conn: nc, shutdown: shutdown}, nil
}
