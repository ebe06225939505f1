package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/notification-engine/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

var errPublishNacked = errors.New("broker did not confirm publish")

// RabbitMQPublisher publishes to EventsExchange on a confirm-mode channel and
// waits for the broker ack, so a nil error means the event is durable.
type RabbitMQPublisher struct {
	client *RabbitMQ

	mu sync.Mutex
	ch *amqp.Channel
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, msg EventMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("%w: invalid event message: %v", domain.ErrValidation, err)
	}

	publishing, err := newPublishing(msg, 1)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.confirmChannelLocked(ctx)
	if err != nil {
		return err
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, EventsExchange, RoutingKey(msg.EventType), false, false, publishing)
	if err != nil {
		p.resetLocked()
		return fmt.Errorf("failed to publish event %s: %w", msg.EventID, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		p.resetLocked()
		return fmt.Errorf("failed to confirm event %s: %w", msg.EventID, err)
	}
	if !acked {
		return fmt.Errorf("event %s: %w", msg.EventID, errPublishNacked)
	}
	return nil
}

func (p *RabbitMQPublisher) confirmChannelLocked(ctx context.Context) (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	p.ch = ch
	return ch, nil
}

func (p *RabbitMQPublisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	p.mu.Lock()
	p.resetLocked()
	p.mu.Unlock()
	return nil
}

// newPublishing builds a persistent JSON message carrying the delivery attempt header.
func newPublishing(msg EventMessage, attempt int) (amqp.Publishing, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal event message: %w", err)
	}

	return amqp.Publishing{
		Headers:       amqp.Table{attemptHeader: int32(attempt)},
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		MessageId:     msg.EventID,
		CorrelationId: msg.CorrelationID,
		Type:          msg.EventType,
		Body:          payload,
	}, nil
}
