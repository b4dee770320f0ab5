// Retrain-worker hosts the Temporal retrain workflow: it merges review
// corrections into the corpus, runs the trainer for each model and asks the
// running kravd to reload the installed artifacts.
//
// Reload requests travel over NATS when nats.url is set. Without NATS, kravd
// picks the new artifacts up through its file watcher.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kravscan/internal/config"
	"github.com/fyrsmithlabs/kravscan/internal/logging"
	"github.com/fyrsmithlabs/kravscan/internal/review"
	"github.com/fyrsmithlabs/kravscan/internal/workflows"
)

const reloadTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadWithFile(*configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg, err := logging.FromConfig(cfg.Logging)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zl := logger.Underlying()

	logger.Info(ctx, "retrain worker starting",
		zap.String("temporal_host", cfg.Temporal.Host),
		zap.String("task_queue", cfg.Temporal.TaskQueue),
		zap.Strings("trainer", cfg.Review.TrainerCommand),
	)

	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = nats.Connect(cfg.NATS.URL, nats.Name("retrain-worker"), nats.MaxReconnects(-1))
		if err != nil {
			return fmt.Errorf("connecting to nats at %s: %w", cfg.NATS.URL, err)
		}
		defer nc.Close()
	}

	targets := []review.Target{
		{Kind: review.KindClassifier, Path: cfg.Model.ClassifierPath, Reload: remoteReload(nc, cfg.NATS.ProgressPrefix, review.KindClassifier)},
		{Kind: review.KindValidator, Path: cfg.Model.ValidatorPath, Reload: remoteReload(nc, cfg.NATS.ProgressPrefix, review.KindValidator)},
	}
	acts := &workflows.Activities{
		Merger:    review.NewMerger(cfg.Review.CorpusPath, cfg.Review.NegativesPath, zl.Named("review")),
		Retrainer: review.NewRetrainer(review.RetrainerConfigFrom(cfg.Review), targets, zl.Named("retrain")),
	}

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return fmt.Errorf("unable to create Temporal client: %w", err)
	}
	defer c.Close()

	logger.Info(ctx, "temporal client connected", zap.String("host", cfg.Temporal.Host))

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{
		// One trainer run at a time.
		MaxConcurrentActivityExecutionSize: 1,
	})
	w.RegisterWorkflow(workflows.RetrainWorkflow)
	w.RegisterActivity(acts)

	workerErrors := make(chan error, 1)
	go func() {
		logger.Info(ctx, "worker starting")
		workerErrors <- w.Run(worker.InterruptCh())
	}()

	select {
	case err := <-workerErrors:
		if err != nil {
			return fmt.Errorf("worker error: %w", err)
		}
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
		w.Stop()
	}

	logger.Info(context.Background(), "worker stopped gracefully")
	return nil
}

// remoteReload asks kravd to reload kind over NATS. Nil without a
// connection; the file watcher covers that case.
func remoteReload(nc *nats.Conn, prefix, kind string) func() (bool, error) {
	if nc == nil {
		return nil
	}
	return func() (bool, error) {
		return workflows.RequestReload(nc, prefix, kind, reloadTimeout)
	}
}
