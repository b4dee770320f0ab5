package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kravscan/internal/logging"
	"github.com/fyrsmithlabs/kravscan/internal/pipeline"
)

// Service is the submit/status/revoke surface used by the HTTP API and the
// CLI.
type Service struct {
	store   Store
	queue   Queue
	logger  *logging.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewService returns a Service. A nil logger is replaced with a no-op logger.
func NewService(store Store, queue Queue, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{store: store, queue: queue, logger: logger, metrics: NewMetrics(), now: time.Now}
}

// Submit validates p, stores a pending job and enqueues it.
func (s *Service) Submit(ctx context.Context, p pipeline.Params) (*Job, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	j := New(uuid.NewString(), p, s.now().UTC())
	ctx = logging.WithJobID(ctx, j.ID)

	if err := s.store.Create(ctx, j); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	if err := s.queue.Enqueue(ctx, j.ID); err != nil {
		// Leave no pending job behind that nothing will ever pick up.
		_, ferr := s.store.Update(ctx, j.ID, func(j *Job) error {
			return j.Fail("enqueue failed: "+err.Error(), s.now().UTC())
		})
		if ferr != nil {
			s.logger.Error(ctx, "failing unqueued job", zap.Error(ferr))
		}
		return nil, fmt.Errorf("enqueueing job: %w", err)
	}
	s.metrics.SubmittedTotal.Inc()
	s.logger.Info(ctx, "job submitted", zap.String("dir", p.WorkDir), zap.Strings("standards", p.Standards))
	return j, nil
}

// Status returns the current job record.
func (s *Service) Status(ctx context.Context, id string) (*Job, error) {
	return s.store.Get(ctx, id)
}

// Revoke cancels a pending job or flags a running one. Revoking a terminal
// job fails with ErrTerminal.
func (s *Service) Revoke(ctx context.Context, id string) (*Job, error) {
	ctx = logging.WithJobID(ctx, id)
	j, err := s.store.Update(ctx, id, func(j *Job) error {
		return j.Revoke(s.now().UTC())
	})
	if err != nil {
		return nil, err
	}
	if j.State == StateRevoked {
		s.metrics.RecordFinished(StateRevoked, 0)
	}
	s.logger.Info(ctx, "job revoke requested", zap.String("state", string(j.State)))
	return j, nil
}
