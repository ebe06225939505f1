package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/notification-engine/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type deliveryAction int

const (
	actionAck deliveryAction = iota
	// actionRetry republishes the message with the attempt header bumped and
	// acks the original so it moves to the back of the queue.
	actionRetry
	actionDeadLetter
)

func (a deliveryAction) String() string {
	switch a {
	case actionAck:
		return "ack"
	case actionRetry:
		return "retry"
	case actionDeadLetter:
		return "dead-letter"
	}
	return "unknown"
}

// decideDelivery maps a handler result to what happens to the delivery.
func decideDelivery(handlerErr error, attempt int) deliveryAction {
	switch {
	case handlerErr == nil:
		return actionAck
	case errors.Is(handlerErr, domain.ErrValidation):
		return actionDeadLetter
	case attempt >= MaxDeliveries:
		return actionDeadLetter
	default:
		return actionRetry
	}
}

// deliveryAttempt reads the attempt header. Messages without one are on their
// first delivery.
func deliveryAttempt(headers amqp.Table) int {
	switch v := headers[attemptHeader].(type) {
	case int32:
		return max(int(v), 1)
	case int64:
		return max(int(v), 1)
	case int:
		return max(v, 1)
	}
	return 1
}

type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Consume delivers messages from queue to handler until ctx is cancelled,
// re-subscribing with backoff when the channel drops.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	wait := initialBackoff
	for {
		err := c.subscribe(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			wait = initialBackoff
			continue
		}

		c.logger.Warn("event subscription dropped", zap.String("queue", queue), zap.Duration("retryIn", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		wait = nextBackoff(wait)
	}
}

func (c *RabbitMQConsumer) subscribe(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := c.handleDelivery(ctx, ch, d, handler); err != nil {
				return err
			}
		}
	}
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, ch *amqp.Channel, d amqp.Delivery, handler MessageHandler) error {
	var msg EventMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.logger.Warn("dead-lettering message: invalid JSON", zap.String("messageId", d.MessageId), zap.Error(err))
		return d.Reject(false)
	}
	if err := msg.Validate(); err != nil {
		c.logger.Warn("dead-lettering message: invalid event", zap.String("eventId", msg.EventID), zap.Error(err))
		return d.Reject(false)
	}

	attempt := deliveryAttempt(d.Headers)
	handlerErr := handler(ctx, msg)
	action := decideDelivery(handlerErr, attempt)
	if handlerErr != nil {
		c.logger.Warn("event handler failed",
			zap.String("eventId", msg.EventID),
			zap.Int("attempt", attempt),
			zap.Stringer("action", action),
			zap.Error(handlerErr),
		)
	}

	switch action {
	case actionAck:
		if err := d.Ack(false); err != nil {
			return fmt.Errorf("failed to ack delivery: %w", err)
		}
	case actionDeadLetter:
		if err := d.Nack(false, false); err != nil {
			return fmt.Errorf("failed to dead-letter delivery: %w", err)
		}
	case actionRetry:
		publishing, err := newPublishing(msg, attempt+1)
		if err != nil {
			return d.Nack(false, false)
		}
		if err := ch.PublishWithContext(ctx, d.Exchange, d.RoutingKey, false, false, publishing); err != nil {
			// Fall back to a plain requeue; the attempt count is lost for this hop.
			if nackErr := d.Nack(false, true); nackErr != nil {
				return fmt.Errorf("retry publish failed and nack failed: %w", nackErr)
			}
			return fmt.Errorf("failed to republish event %s: %w", msg.EventID, err)
		}
		if err := d.Ack(false); err != nil {
			return fmt.Errorf("failed to ack retried delivery: %w", err)
		}
	}

	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
