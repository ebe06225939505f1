package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dlxExchangeName  = "notification.dlx"
	initialBackoff   = time.Second
	maxBackoff       = 30 * time.Second
	dialTimeout      = 15 * time.Second
	eventsBindingKey = "#"
)

// RabbitMQ owns one broker connection. Channels are opened on demand and the
// connection is re-dialled with exponential backoff once it drops. Topology is
// declared once per connection.
type RabbitMQ struct {
	url  string
	dial func(url string) (*amqp.Connection, error)

	mu       sync.Mutex
	conn     *amqp.Connection
	declared *amqp.Connection
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url, dial: amqp.Dial}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if _, err := r.channel(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.declared = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// channel returns a fresh channel on a live connection with the topology in place.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; ; attempt++ {
		conn, err := r.connectLocked(ctx)
		if err != nil {
			return nil, err
		}

		ch, err := conn.Channel()
		if err != nil {
			// The connection died between the liveness check and Channel().
			_ = conn.Close()
			r.conn = nil
			if attempt > 0 {
				return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
			}
			continue
		}

		if r.declared != conn {
			if err := declareTopology(ch); err != nil {
				_ = ch.Close()
				return nil, err
			}
			r.declared = conn
		}
		return ch, nil
	}
}

func (r *RabbitMQ) connectLocked(ctx context.Context) (*amqp.Connection, error) {
	if r.conn != nil && !r.conn.IsClosed() {
		return r.conn, nil
	}

	wait := initialBackoff
	for {
		conn, err := r.dial(r.url)
		if err == nil {
			r.conn = conn
			return conn, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rabbitmq connect canceled: %w (last error: %v)", ctx.Err(), err)
		case <-time.After(wait):
		}
		wait = nextBackoff(wait)
	}
}

func nextBackoff(current time.Duration) time.Duration {
	if current <= 0 {
		return initialBackoff
	}
	return min(current*2, maxBackoff)
}

// declareTopology sets up:
//
//	events (topic) --#--> events queue --dead letter--> notification.dlx (direct) --events--> dlq.events
func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(dlxExchangeName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlx exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(EventsExchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare events exchange: %w", err)
	}

	dlqName := DLQName(EventsQueue)
	if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlq %q: %w", dlqName, err)
	}
	if err := ch.QueueBind(dlqName, EventsQueue, dlxExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind dlq %q: %w", dlqName, err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    dlxExchangeName,
		"x-dead-letter-routing-key": EventsQueue,
	}
	if _, err := ch.QueueDeclare(EventsQueue, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", EventsQueue, err)
	}
	if err := ch.QueueBind(EventsQueue, eventsBindingKey, EventsExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %q: %w", EventsQueue, err)
	}

	return nil
}
