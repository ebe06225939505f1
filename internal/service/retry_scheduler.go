package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/kursadbilgin/notification-engine/internal/domain"
	"github.com/kursadbilgin/notification-engine/internal/observability"
	"github.com/kursadbilgin/notification-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRetryPollInterval = 15 * time.Second
	defaultRetryDrainBatch   = 100
	defaultRetryConcurrency  = 8
	defaultRetryLease        = 5 * time.Minute
)

// Retrier is the engine's retry entry point.
type Retrier interface {
	Retry(ctx context.Context, task domain.RetryTask) (*DispatchOutcome, error)
	// RecoverStaleSending moves expired SENDING records without a task back
	// to the retry path.
	RecoverStaleSending(ctx context.Context) (int, error)
}

type RetrySchedulerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int
	// Lease is how long a task may stay IN_FLIGHT before Start recovers it.
	Lease time.Duration
	// ReleaseDelay is how far a failed task is pushed back when released.
	ReleaseDelay time.Duration
}

func (c RetrySchedulerConfig) withDefaults() RetrySchedulerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultRetryPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultRetryDrainBatch
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultRetryConcurrency
	}
	if c.Lease <= 0 {
		c.Lease = defaultRetryLease
	}
	if c.ReleaseDelay <= 0 {
		c.ReleaseDelay = defaultRetryBaseDelay
	}
	return c
}

// RetryScheduler drains due retry tasks in (next_attempt_at, seq) order and
// hands each to the engine.
type RetryScheduler struct {
	tasks   repository.RetryTaskRepository
	retrier Retrier
	metrics *observability.Metrics
	logger  *zap.Logger
	cfg     RetrySchedulerConfig
	now     func() time.Time
}

func NewRetryScheduler(
	tasks repository.RetryTaskRepository,
	retrier Retrier,
	cfg RetrySchedulerConfig,
	logger *zap.Logger,
) (*RetryScheduler, error) {
	if tasks == nil {
		return nil, fmt.Errorf("retry task repository is required")
	}
	if retrier == nil {
		return nil, fmt.Errorf("retrier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScheduler{
		tasks:   tasks,
		retrier: retrier,
		logger:  logger,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
	}, nil
}

func (s *RetryScheduler) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Enqueue inserts a PENDING task. A second active task for the same
// notification is a programming error and returns ErrDuplicateRetry.
func (s *RetryScheduler) Enqueue(ctx context.Context, task *domain.RetryTask) error {
	if err := s.tasks.Enqueue(ctx, task); err != nil {
		if errors.Is(err, domain.ErrDuplicateRetry) {
			s.logger.Error("duplicate retry task",
				zap.String("notificationId", task.NotificationID),
				zap.Error(err),
			)
		}
		return err
	}
	return nil
}

// DrainDue claims due tasks page by page and yields them in order. Each
// yielded task is already IN_FLIGHT. The sequence is finite and cannot be
// restarted; tasks claimed but not consumed after an early stop are released.
func (s *RetryScheduler) DrainDue(ctx context.Context, now time.Time) iter.Seq2[domain.RetryTask, error] {
	return func(yield func(domain.RetryTask, error) bool) {
		for {
			batch, err := s.tasks.ClaimDue(ctx, now, s.cfg.BatchSize)
			if err != nil {
				yield(domain.RetryTask{}, fmt.Errorf("failed to claim due retries: %w", err))
				return
			}

			for i := range batch {
				if !yield(batch[i], nil) {
					s.releaseUnconsumed(ctx, batch[i+1:])
					return
				}
			}

			if len(batch) < s.cfg.BatchSize {
				return
			}
		}
	}
}

func (s *RetryScheduler) releaseUnconsumed(ctx context.Context, tasks []domain.RetryTask) {
	for i := range tasks {
		if err := s.tasks.Release(ctx, tasks[i].ID, tasks[i].NextAttemptAt); err != nil {
			s.logger.Error("failed to release unconsumed retry task",
				zap.String("taskId", tasks[i].ID),
				zap.Error(err),
			)
		}
	}
}

// RunOnce recovers stale SENDING records, then drains every task due now and
// retries them on a bounded pool. It returns the number of tasks handed to
// the engine.
func (s *RetryScheduler) RunOnce(ctx context.Context) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := s.retrier.RecoverStaleSending(ctx); err != nil {
		s.logger.Error("failed to recover stale sending records", zap.Error(err))
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)

	drained := 0
	var drainErr error
	for task, err := range s.DrainDue(ctx, s.now().UTC()) {
		if err != nil {
			drainErr = err
			break
		}
		drained++
		g.Go(func() error {
			s.process(ctx, task)
			return nil
		})
	}
	_ = g.Wait()

	s.metrics.AddRetriesDrained(drained)
	return drained, drainErr
}

func (s *RetryScheduler) process(ctx context.Context, task domain.RetryTask) {
	outcome, err := s.retrier.Retry(ctx, task)
	if err == nil {
		s.logger.Debug("retry processed",
			zap.String("taskId", task.ID),
			zap.String("notificationId", task.NotificationID),
			zap.String("outcome", string(outcome.Kind)),
		)
		return
	}

	s.logger.Error("retry failed, releasing task",
		zap.String("taskId", task.ID),
		zap.String("notificationId", task.NotificationID),
		zap.Error(err),
	)

	next := s.now().UTC().Add(s.cfg.ReleaseDelay)
	if releaseErr := s.tasks.Release(ctx, task.ID, next); releaseErr != nil {
		if errors.Is(releaseErr, domain.ErrConflict) {
			return
		}
		s.logger.Error("failed to release retry task",
			zap.String("taskId", task.ID),
			zap.Error(releaseErr),
		)
		return
	}
	s.metrics.IncRetryReleased()
}

// Start recovers stale in-flight tasks, drains once and then polls until the
// context is cancelled.
func (s *RetryScheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	now := s.now().UTC()
	recovered, err := s.tasks.RecoverInFlight(ctx, now.Add(-s.cfg.Lease), now)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Error("failed to recover in-flight retries", zap.Error(err))
	} else if recovered > 0 {
		s.metrics.AddRetriesRecovered(recovered)
		s.logger.Warn("recovered stale in-flight retries", zap.Int64("count", recovered))
	}

	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry scheduler initial drain failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry scheduler drain failed", zap.Error(err))
			}
		}
	}
}
