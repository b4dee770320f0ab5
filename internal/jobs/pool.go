package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/kravscan/internal/config"
	"github.com/fyrsmithlabs/kravscan/internal/logging"
	"github.com/fyrsmithlabs/kravscan/internal/pipeline"
)

var (
	errSoftLimit = errors.New("soft time limit exceeded")
	errHardLimit = errors.New("hard time limit exceeded")
	errRevoked   = errors.New("job revoked")
)

// Runner executes one batch. *pipeline.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, p pipeline.Params, n pipeline.Notifier) (*pipeline.Result, error)
}

// RunnerFactory builds the Runner of a fresh worker. It is called again
// every time a worker is recycled.
type RunnerFactory func() (Runner, error)

// PoolConfig bounds job execution.
type PoolConfig struct {
	Concurrency   int
	SoftTimeLimit time.Duration
	HardTimeLimit time.Duration
	// MaxBatches recycles a worker after this many batches. Zero disables.
	MaxBatches int
	// MaxMemoryMB recycles a worker when the heap exceeds it. Zero disables.
	MaxMemoryMB int
	// MaxDeliver fails a job that has been started this many times.
	MaxDeliver int
	// ProgressRate caps progress events per second per job.
	ProgressRate float64
	// RevokePoll is how often a running job's revoke flag is checked.
	RevokePoll time.Duration
}

// PoolConfigFrom maps the worker section of the configuration.
func PoolConfigFrom(c config.WorkerConfig) PoolConfig {
	return PoolConfig{
		Concurrency:   c.Concurrency,
		SoftTimeLimit: c.SoftTimeLimit.Duration(),
		HardTimeLimit: c.HardTimeLimit.Duration(),
		MaxBatches:    c.MaxBatches,
		MaxMemoryMB:   c.MaxMemoryMB,
		MaxDeliver:    c.MaxDeliver,
		ProgressRate:  c.ProgressRate,
		RevokePoll:    time.Second,
	}
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithProgress adds a per-job notifier, e.g. a NATSNotifier, next to the
// store-backed one.
func WithProgress(fn func(jobID string) pipeline.Notifier) PoolOption {
	return func(p *Pool) { p.progress = fn }
}

// WithHeapProbe replaces the heap size probe used for memory recycling.
func WithHeapProbe(fn func() uint64) PoolOption {
	return func(p *Pool) { p.heap = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

// Pool consumes the queue with a fixed number of workers. One worker runs
// one batch at a time.
type Pool struct {
	cfg       PoolConfig
	store     Store
	queue     Queue
	newRunner RunnerFactory
	progress  func(jobID string) pipeline.Notifier
	heap      func() uint64
	now       func() time.Time
	logger    *logging.Logger
	metrics   *Metrics
}

// NewPool returns a Pool. A nil logger is replaced with a no-op logger.
func NewPool(cfg PoolConfig, store Store, queue Queue, newRunner RunnerFactory, logger *logging.Logger, opts ...PoolOption) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &Pool{
		cfg:       cfg,
		store:     store,
		queue:     queue,
		newRunner: newRunner,
		heap:      heapAlloc,
		now:       time.Now,
		logger:    logger,
		metrics:   NewMetrics(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func heapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// Run serves the queue until ctx is done. It fails only when a worker's
// Runner cannot be built.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	deliveries := make(chan Delivery)

	g.Go(func() error {
		defer close(deliveries)
		for {
			d, err := p.queue.Next(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
					return nil
				}
				p.logger.Warn(ctx, "fetching from queue failed", zap.Error(err))
				select {
				case <-time.After(time.Second):
					continue
				case <-ctx.Done():
					return nil
				}
			}
			select {
			case deliveries <- d:
			case <-ctx.Done():
				_ = d.Nak()
				return nil
			}
		}
	})

	for i := 0; i < p.cfg.Concurrency; i++ {
		slot := i
		g.Go(func() error { return p.slot(ctx, slot, deliveries) })
	}
	return g.Wait()
}

// slot keeps one worker alive, replacing it whenever it asks to be recycled.
func (p *Pool) slot(ctx context.Context, slot int, in <-chan Delivery) error {
	for {
		runner, err := p.newRunner()
		if err != nil {
			return fmt.Errorf("worker %d: building runner: %w", slot, err)
		}
		w := &worker{pool: p, runner: runner}
		reason, more := w.serve(ctx, in)
		if !more || ctx.Err() != nil {
			return nil
		}
		p.metrics.RecycledTotal.WithLabelValues(reason).Inc()
		p.logger.Info(ctx, "worker recycled",
			zap.Int("worker", slot),
			zap.String("reason", reason),
			zap.Int("batches", w.batches))
		debug.FreeOSMemory()
	}
}

type worker struct {
	pool    *Pool
	runner  Runner
	batches int
}

// serve handles deliveries until the worker should be recycled (more=true
// with a reason) or the input is exhausted.
func (w *worker) serve(ctx context.Context, in <-chan Delivery) (reason string, more bool) {
	p := w.pool
	for {
		select {
		case <-ctx.Done():
			return "", false
		case d, ok := <-in:
			if !ok {
				return "", false
			}
			ran, abandoned := p.handle(ctx, w.runner, d)
			if abandoned {
				return "hard_limit", true
			}
			if !ran {
				continue
			}
			w.batches++
			if p.cfg.MaxBatches > 0 && w.batches >= p.cfg.MaxBatches {
				return "max_batches", true
			}
			if p.cfg.MaxMemoryMB > 0 && p.heap() > uint64(p.cfg.MaxMemoryMB)<<20 {
				return "max_memory", true
			}
		}
	}
}

// handle processes one delivery and settles it. ran reports whether a batch
// was executed; abandoned reports a run left behind at the hard limit.
func (p *Pool) handle(ctx context.Context, runner Runner, d Delivery) (ran, abandoned bool) {
	id := d.JobID()
	ctx = logging.WithJobID(ctx, id)
	// Settling must survive pool shutdown.
	settle := context.WithoutCancel(ctx)

	if d.Attempt() > 1 {
		p.metrics.RedeliveredTotal.Inc()
	}

	j, err := p.store.Get(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		p.logger.Warn(ctx, "dropping delivery for unknown job")
		p.ack(ctx, d)
		return false, false
	case err != nil:
		p.logger.Error(ctx, "loading job failed", zap.Error(err))
		p.nak(ctx, d)
		return false, false
	case j.State.Terminal():
		p.logger.Debug(ctx, "job already finished", zap.String("state", string(j.State)))
		p.ack(ctx, d)
		return false, false
	case j.RevokeRequested:
		p.settle(settle, d, id, time.Time{}, func(j *Job) error { return j.Cancelled(p.now().UTC()) })
		return false, false
	case p.cfg.MaxDeliver > 0 && j.Attempts >= p.cfg.MaxDeliver:
		msg := fmt.Sprintf("gave up after %d attempts", j.Attempts)
		p.settle(settle, d, id, time.Time{}, func(j *Job) error { return j.Fail(msg, p.now().UTC()) })
		return false, false
	}

	if j, err = p.store.Update(ctx, id, func(j *Job) error { return j.Start(p.now().UTC()) }); err != nil {
		if errors.Is(err, ErrTerminal) {
			p.ack(ctx, d)
		} else {
			p.logger.Error(ctx, "starting job failed", zap.Error(err))
			p.nak(ctx, d)
		}
		return false, false
	}
	if j.Attempts > 1 {
		p.logger.Warn(ctx, "re-running job after redelivery", zap.Int("attempt", j.Attempts))
	}

	p.metrics.InFlight.Inc()
	defer p.metrics.InFlight.Dec()
	start := time.Now()
	p.logger.Info(ctx, "job started", zap.String("dir", j.Params.WorkDir))

	res, abandoned, err := p.execute(ctx, runner, j)

	var update func(*Job) error
	var fallbacks []func(*Job) error
	now := p.now().UTC()
	switch {
	case err == nil:
		update = func(j *Job) error { return j.Succeed(res, now) }
		fallbacks = summaryFallbacks(res, now)
	case errors.Is(err, errRevoked):
		update = func(j *Job) error { return j.Cancelled(now) }
	case errors.Is(err, errSoftLimit):
		msg := fmt.Sprintf("soft time limit of %s exceeded, aborted between documents", p.cfg.SoftTimeLimit)
		update = func(j *Job) error { return j.Fail(msg, now) }
	case errors.Is(err, errHardLimit):
		msg := fmt.Sprintf("hard time limit of %s exceeded, run abandoned", p.cfg.HardTimeLimit)
		update = func(j *Job) error { return j.Fail(msg, now) }
	case ctx.Err() != nil:
		// Shutdown: leave the job in progress for redelivery.
		p.logger.Warn(ctx, "job interrupted by shutdown")
		p.nak(settle, d)
		return true, false
	default:
		update = func(j *Job) error { return j.Fail(err.Error(), now) }
	}
	p.settle(settle, d, id, start, append([]func(*Job) error{update}, fallbacks...)...)
	return true, abandoned
}

// summaryFallbacks are the terminal updates tried when the store rejects a
// full result: success with a summary, then failure pointing at the artifact.
func summaryFallbacks(res *pipeline.Result, now time.Time) []func(*Job) error {
	if res == nil {
		return nil
	}
	summary := res.Summary()
	msg := "result not storable"
	if res.Artifact != "" {
		msg += ", see " + res.Artifact
	}
	return []func(*Job) error{
		func(j *Job) error {
			if err := j.Succeed(summary, now); err != nil {
				return err
			}
			j.Errors = append(j.Errors, res.Errors...)
			return nil
		},
		func(j *Job) error { return j.Fail(msg, now) },
	}
}

// settle stores the first terminal update the store accepts and acks the
// delivery. When none is stored the delivery is nakked so the job is not
// left in progress.
func (p *Pool) settle(ctx context.Context, d Delivery, id string, start time.Time, updates ...func(*Job) error) {
	for i, update := range updates {
		err := p.finish(ctx, id, start, update)
		if err == nil || errors.Is(err, ErrTerminal) {
			p.ack(ctx, d)
			return
		}
		p.logger.Error(ctx, "finishing job failed", zap.Int("update", i), zap.Error(err))
	}
	p.nak(ctx, d)
}

// finish applies a terminal transition and records it.
func (p *Pool) finish(ctx context.Context, id string, start time.Time, update func(*Job) error) error {
	j, err := p.store.Update(ctx, id, update)
	if err != nil {
		return err
	}
	elapsed := 0.0
	if !start.IsZero() {
		elapsed = time.Since(start).Seconds()
	}
	p.metrics.RecordFinished(j.State, elapsed)
	fields := []zap.Field{zap.String("state", string(j.State)), zap.Float64("seconds", elapsed)}
	if j.Result != nil {
		fields = append(fields, zap.Int("requirements", j.Result.NumRequirements()), zap.Int("errors", len(j.Errors)))
	}
	if j.State == StateFailure {
		p.logger.Warn(ctx, "job failed", append(fields, zap.Strings("diagnostics", j.Errors))...)
		return nil
	}
	p.logger.Info(ctx, "job finished", fields...)
	return nil
}

type outcome struct {
	res *pipeline.Result
	err error
}

// execute runs the batch under the soft and hard limits and the revoke flag.
func (p *Pool) execute(ctx context.Context, runner Runner, j *Job) (*pipeline.Result, bool, error) {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if soft := p.cfg.SoftTimeLimit; soft > 0 {
		t := time.AfterFunc(soft, func() { cancel(errSoftLimit) })
		defer t.Stop()
	}
	stopWatch := p.watchRevoke(runCtx, j.ID, cancel)
	defer stopWatch()

	n := p.notifier(j.ID)
	done := make(chan outcome, 1)
	go func() {
		res, err := runner.Run(runCtx, j.Params, n)
		done <- outcome{res: res, err: err}
	}()

	var hard <-chan time.Time
	if h := p.cfg.HardTimeLimit; h > 0 {
		t := time.NewTimer(h)
		defer t.Stop()
		hard = t.C
	}

	select {
	case o := <-done:
		if o.err != nil && runCtx.Err() != nil {
			if cause := context.Cause(runCtx); cause != nil {
				o.err = cause
			}
		}
		return o.res, false, o.err
	case <-hard:
		cancel(errHardLimit)
		p.logger.Error(ctx, "hard time limit reached, abandoning run", zap.Duration("limit", p.cfg.HardTimeLimit))
		return nil, true, errHardLimit
	}
}

func (p *Pool) notifier(id string) pipeline.Notifier {
	store := &StoreNotifier{Store: p.store, JobID: id, Logger: p.logger.Underlying(), Now: p.now}
	var extra pipeline.Notifier
	if p.progress != nil {
		extra = p.progress(id)
	}
	return Throttle(Multi(store, extra), p.cfg.ProgressRate)
}

// watchRevoke polls the job's revoke flag and cancels the run when it is
// set. The returned func stops the watcher.
func (p *Pool) watchRevoke(ctx context.Context, id string, cancel context.CancelCauseFunc) func() {
	if p.cfg.RevokePoll <= 0 {
		return func() {}
	}
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(p.cfg.RevokePoll)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				j, err := p.store.Get(ctx, id)
				if err == nil && j.RevokeRequested {
					p.logger.Info(ctx, "revoking running job")
					cancel(errRevoked)
					return
				}
			}
		}
	}()
	return func() {
		close(stop)
		wg.Wait()
	}
}

func (p *Pool) ack(ctx context.Context, d Delivery) {
	if err := d.Ack(); err != nil {
		p.logger.Warn(ctx, "ack failed", zap.Error(err))
	}
}

func (p *Pool) nak(ctx context.Context, d Delivery) {
	if err := d.Nak(); err != nil {
		p.logger.Warn(ctx, "nak failed", zap.Error(err))
	}
}
