package domain

import (
	"fmt"
	"strings"
	"time"
)

// Rule is a declarative trigger turning events into notifications.
type Rule struct {
	ID                string
	Name              string
	EventType         string
	TriggerCondition  string
	TimeWindowMinutes *int
	MessageTemplate   string
	Channel           Channel
	Priority          Priority
	Active            bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (r *Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: rule name is required", ErrValidation)
	}
	if strings.TrimSpace(r.EventType) == "" {
		return fmt.Errorf("%w: event type is required", ErrValidation)
	}
	if strings.TrimSpace(r.TriggerCondition) == "" {
		return fmt.Errorf("%w: trigger condition is required", ErrValidation)
	}
	if strings.TrimSpace(r.MessageTemplate) == "" {
		return fmt.Errorf("%w: message template is required", ErrValidation)
	}
	if r.TimeWindowMinutes != nil && *r.TimeWindowMinutes <= 0 {
		return fmt.Errorf("%w: time window must be positive", ErrValidation)
	}
	if !r.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, r.Channel)
	}
	if !r.Priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", ErrValidation, r.Priority)
	}
	return nil
}

// Event is a user activity fed to the rule evaluator.
type Event struct {
	ID         string
	UserID     string
	EventType  string
	Payload    map[string]any
	OccurredAt time.Time
	// ProcessedAt is set once every rule the event fired has been dispatched.
	ProcessedAt *time.Time
}

func (e *Event) Validate() error {
	if strings.TrimSpace(e.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if strings.TrimSpace(e.EventType) == "" {
		return fmt.Errorf("%w: event type is required", ErrValidation)
	}
	return nil
}
