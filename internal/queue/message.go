package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notification-engine/internal/domain"
)

// EventMessage is the broker payload for an activity event awaiting rule evaluation.
type EventMessage struct {
	EventID       string         `json:"eventId"`
	CorrelationID string         `json:"correlationId,omitempty"`
	UserID        string         `json:"userId"`
	EventType     string         `json:"eventType"`
	Payload       map[string]any `json:"payload,omitempty"`
	OccurredAt    time.Time      `json:"occurredAt"`
}

func (m EventMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return fmt.Errorf("eventId is required")
	}
	if strings.TrimSpace(m.UserID) == "" {
		return fmt.Errorf("userId is required")
	}
	if strings.TrimSpace(m.EventType) == "" {
		return fmt.Errorf("eventType is required")
	}
	if m.OccurredAt.IsZero() {
		return fmt.Errorf("occurredAt is required")
	}
	return nil
}

// ToDomain converts the message to the event evaluated by the rule engine.
func (m EventMessage) ToDomain() domain.Event {
	return domain.Event{
		ID:         m.EventID,
		UserID:     m.UserID,
		EventType:  m.EventType,
		Payload:    m.Payload,
		OccurredAt: m.OccurredAt,
	}
}

// EventMessageFromDomain builds the broker payload for e.
func EventMessageFromDomain(e domain.Event, correlationID string) EventMessage {
	return EventMessage{
		EventID:       e.ID,
		CorrelationID: correlationID,
		UserID:        e.UserID,
		EventType:     e.EventType,
		Payload:       e.Payload,
		OccurredAt:    e.OccurredAt,
	}
}
