// Package queue carries activity events between the HTTP surface and the
// event worker pool over RabbitMQ.
package queue

import (
	"context"
	"strings"
)

const (
	// EventsExchange is the topic exchange events are published to, keyed by
	// RoutingKey(eventType).
	EventsExchange = "events"
	// EventsQueue is the work queue consumed by the event worker pool. It is
	// bound to every routing key of EventsExchange.
	EventsQueue = "events"

	// MaxDeliveries is how many times a message is handed to the handler
	// before a failing message is dead-lettered.
	MaxDeliveries = 5

	attemptHeader = "x-notification-attempt"
)

type Publisher interface {
	Publish(ctx context.Context, msg EventMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message. Returning an error wrapping
// domain.ErrValidation dead-letters the message; any other error retries it
// until MaxDeliveries is reached.
type MessageHandler func(ctx context.Context, msg EventMessage) error

type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.events.
func DLQName(queue string) string {
	return "dlq." + queue
}

// RoutingKey maps an event type to its topic key, e.g. "Login Failed" to
// "event.login_failed".
func RoutingKey(eventType string) string {
	key := strings.ToLower(strings.TrimSpace(eventType))
	key = strings.Join(strings.Fields(key), "_")
	if key == "" {
		key = "unknown"
	}
	return "event." + key
}
