package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/kravscan/internal/classifier"
	"github.com/fyrsmithlabs/kravscan/internal/config"
	httpserver "github.com/fyrsmithlabs/kravscan/internal/http"
	"github.com/fyrsmithlabs/kravscan/internal/jobs"
	"github.com/fyrsmithlabs/kravscan/internal/logging"
	"github.com/fyrsmithlabs/kravscan/internal/pipeline"
	"github.com/fyrsmithlabs/kravscan/internal/review"
	"github.com/fyrsmithlabs/kravscan/internal/workflows"
)

// daemon holds the wired subsystems of one kravd process.
type daemon struct {
	cfg    *config.Config
	logger *logging.Logger

	asm    *pipeline.Assembly
	store  jobs.Store
	queue  jobs.Queue
	pool   *jobs.Pool
	server *httpserver.Server

	nats    *natsConn
	closers []func() error
}

func newDaemon(ctx context.Context, cfg *config.Config, logger *logging.Logger) (d *daemon, err error) {
	zl := logger.Underlying()
	dm := &daemon{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			dm.Close()
		}
	}()
	d = dm

	d.asm, err = pipeline.Assemble(ctx, cfg, logger.Named("pipeline"))
	if err != nil {
		return nil, fmt.Errorf("assembling pipeline: %w", err)
	}
	d.closers = append(d.closers, d.asm.Close)

	var poolOpts []jobs.PoolOption
	if cfg.NATS.URL != "" || cfg.NATS.Embedded {
		d.nats, err = connectNATS(cfg.NATS, zl.Named("nats"))
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, d.nats.Close)

		if err := d.openJetStream(ctx); err != nil {
			return nil, err
		}
		conn := d.nats.Conn
		poolOpts = append(poolOpts, jobs.WithProgress(func(id string) pipeline.Notifier {
			return &jobs.NATSNotifier{Conn: conn, Prefix: cfg.NATS.ProgressPrefix, JobID: id, Logger: zl.Named("progress")}
		}))

		sub, err := workflows.ServeReload(conn, cfg.NATS.ProgressPrefix, d.asm.Reloaders(), zl.Named("reload"))
		if err != nil {
			return nil, fmt.Errorf("serving model reloads: %w", err)
		}
		d.closers = append(d.closers, sub.Unsubscribe)
	} else {
		d.store = jobs.NewMemoryStore()
		mq := jobs.NewMemoryQueue(256)
		d.queue = mq
		d.closers = append(d.closers, mq.Close)
		logger.Warn(ctx, "no NATS configured, jobs are kept in memory and lost on restart")
	}

	d.pool = jobs.NewPool(jobs.PoolConfigFrom(cfg.Worker), d.store, d.queue,
		d.newRunner,
		logger.Named("jobs"), poolOpts...)

	svc := jobs.NewService(d.store, d.queue, logger.Named("jobs"))
	merger := review.NewMerger(cfg.Review.CorpusPath, cfg.Review.NegativesPath, zl.Named("review"))
	retrainer := review.NewRetrainer(review.RetrainerConfigFrom(cfg.Review), d.targets(), zl.Named("retrain"))

	d.server, err = httpserver.NewServer(svc, zl.Named("http"), &httpserver.Config{
		Host:     cfg.Server.Host,
		Port:     cfg.Server.Port,
		WorkRoot: cfg.Storage.WorkDir,
	}, httpserver.WithReview(merger, retrainer))
	if err != nil {
		return nil, err
	}
	return d, nil
}

// openJetStream creates the job state bucket and the work-queue stream.
func (d *daemon) openJetStream(ctx context.Context) error {
	js, err := jetstream.New(d.nats.Conn)
	if err != nil {
		return fmt.Errorf("creating jetstream context: %w", err)
	}
	d.store, err = jobs.NewKVStore(ctx, js, d.cfg.NATS.KVBucket)
	if err != nil {
		return fmt.Errorf("opening job store: %w", err)
	}
	hard := d.cfg.Worker.HardTimeLimit.Duration()
	d.queue, err = jobs.NewJetStreamQueue(ctx, js, jobs.JetStreamConfig{
		Stream:     d.cfg.NATS.Stream,
		Subject:    d.cfg.NATS.Subject,
		Durable:    d.cfg.NATS.Durable,
		AckWait:    hard + hard/10,
		MaxDeliver: d.cfg.Worker.MaxDeliver,
	})
	if err != nil {
		return fmt.Errorf("opening job queue: %w", err)
	}
	return nil
}

// newRunner gives each pool worker its own pipeline. A recycled worker gets
// a fresh one.
func (d *daemon) newRunner() (jobs.Runner, error) {
	p, err := d.asm.NewPipeline()
	if err != nil {
		return nil, err
	}
	return p, nil
}

// targets are the retrainable models, reloaded in-process after install.
func (d *daemon) targets() []review.Target {
	t := []review.Target{{
		Kind:   review.KindClassifier,
		Path:   d.cfg.Model.ClassifierPath,
		Reload: d.asm.Classifier.Reload,
	}}
	if d.asm.ValidatorModel != nil {
		t = append(t, review.Target{
			Kind:   review.KindValidator,
			Path:   d.cfg.Model.ValidatorPath,
			Reload: d.asm.ValidatorModel.Reload,
		})
	}
	return t
}

// Run serves until ctx is cancelled or a subsystem fails.
func (d *daemon) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	zl := d.logger.Underlying()
	interval := d.cfg.Model.ReloadInterval.Duration()

	g.Go(func() error {
		return d.pool.Run(ctx)
	})
	g.Go(func() error {
		return ignoreCanceled(d.asm.Classifier.Watch(ctx, interval))
	})
	if d.asm.ValidatorModel != nil {
		g.Go(func() error {
			return ignoreCanceled(classifier.Watch(ctx, d.asm.ValidatorModel, d.cfg.Model.ValidatorPath, interval, zl.Named("validator")))
		})
	}
	g.Go(func() error {
		if err := d.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := d.server.Shutdown(shutdownCtx); err != nil {
			d.logger.Warn(shutdownCtx, "http shutdown failed", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}

// Close releases everything newDaemon opened, in reverse order.
func (d *daemon) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.logger.Warn(context.Background(), "close failed", zap.Error(err))
		}
	}
	d.closers = nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// natsConn is a client connection, plus the server when it runs embedded.
type natsConn struct {
	*nats.Conn
	shutdown func()
}

func (c *natsConn) Close() error {
	c.Conn.Close()
	if c.shutdown != nil {
		c.shutdown()
	}
	return nil
}
