package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/notification-engine/internal/domain"
	"github.com/kursadbilgin/notification-engine/internal/observability"
	"github.com/kursadbilgin/notification-engine/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// EventSubmitter is the event service's synchronous entry point.
type EventSubmitter interface {
	SubmitEvent(ctx context.Context, event domain.Event) (*EventResult, error)
}

// EventWorker consumes the events queue and submits each event for rule evaluation.
type EventWorker struct {
	consumer    queue.Consumer
	events      EventSubmitter
	metrics     *observability.Metrics
	logger      *zap.Logger
	concurrency int
}

func NewEventWorker(
	consumer queue.Consumer,
	events EventSubmitter,
	concurrency int,
	logger *zap.Logger,
) (*EventWorker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("queue consumer is required")
	}
	if events == nil {
		return nil, fmt.Errorf("event submitter is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EventWorker{
		consumer:    consumer,
		events:      events,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

func (w *EventWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start runs the configured number of consumers until context cancellation.
func (w *EventWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := range w.concurrency {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("event worker started", zap.Int("workerId", workerID))

			if err := w.consumer.Consume(groupCtx, queue.EventsQueue, w.processMessage); err != nil {
				w.logger.Error("event worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("event worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

// processMessage returns nil to ack, an ErrValidation error to dead-letter and
// any other error to requeue.
func (w *EventWorker) processMessage(ctx context.Context, msg queue.EventMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}
	logger := observability.ContextLogger(ctx, w.logger)

	result, err := w.events.SubmitEvent(ctx, msg.ToDomain())
	switch {
	case err == nil:
		w.metrics.IncEventProcessed("queue", "processed")
		logger.Debug("event consumed",
			zap.String("eventId", msg.EventID),
			zap.Int("dispatched", len(result.Outcomes)),
		)
		return nil
	case errors.Is(err, domain.ErrConflict) && result == nil:
		// Redelivery of an event that was already processed.
		w.metrics.IncEventProcessed("queue", "duplicate")
		logger.Info("skipping already processed event", zap.String("eventId", msg.EventID))
		return nil
	case errors.Is(err, domain.ErrValidation):
		w.metrics.IncEventProcessed("queue", "rejected")
		return err
	default:
		w.metrics.IncEventProcessed("queue", "failed")
		return err
	}
}
