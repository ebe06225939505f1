// Package rule turns incoming events into send requests for the dispatch engine.
package rule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notification-engine/internal/domain"
	"go.uber.org/zap"
)

// Aggregator counts a user's events of one type inside a time range (inclusive).
type Aggregator interface {
	CountEvents(ctx context.Context, userID string, eventType string, from time.Time, to time.Time) (int64, error)
}

// Evaluator decides which rules fire for an event. It never dispatches.
type Evaluator struct {
	aggregator Aggregator
	renderer   Renderer
	logger     *zap.Logger
}

func NewEvaluator(aggregator Aggregator, renderer Renderer, logger *zap.Logger) (*Evaluator, error) {
	if aggregator == nil {
		return nil, fmt.Errorf("event aggregator is required")
	}
	if renderer == nil {
		renderer = PlaceholderRenderer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Evaluator{
		aggregator: aggregator,
		renderer:   renderer,
		logger:     logger,
	}, nil
}

// Evaluate returns one send request per rule that matches the event type,
// is active and whose condition holds. Rules with unparsable conditions are
// skipped and logged.
func (e *Evaluator) Evaluate(ctx context.Context, event domain.Event, rules []domain.Rule) ([]domain.SendRequest, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	eventType := strings.TrimSpace(event.EventType)
	requests := make([]domain.SendRequest, 0, len(rules))

	for i := range rules {
		rule := rules[i]
		if !rule.Active || rule.EventType != eventType {
			continue
		}

		condition, err := ParseCondition(rule.TriggerCondition)
		if err != nil {
			e.logger.Warn("skipping rule with invalid trigger condition",
				zap.String("ruleId", rule.ID),
				zap.String("condition", rule.TriggerCondition),
				zap.Error(err),
			)
			continue
		}

		count, err := e.aggregate(ctx, event, rule)
		if err != nil {
			return nil, fmt.Errorf("failed to aggregate events for rule %s: %w", rule.ID, err)
		}

		if !condition.Matches(count) {
			continue
		}

		message, err := e.renderer.Render(rule.MessageTemplate, templateData(event, count))
		if err != nil {
			return nil, fmt.Errorf("failed to render template for rule %s: %w", rule.ID, err)
		}

		ruleID := rule.ID
		request := domain.SendRequest{
			UserID:   event.UserID,
			Channel:  rule.Channel,
			Priority: rule.Priority,
			Message:  message,
			RuleID:   &ruleID,
		}
		if event.ID != "" {
			eventID := event.ID
			request.EventID = &eventID
		}
		requests = append(requests, request)
	}

	return requests, nil
}

// aggregate counts matching events in the trailing window ending at the event,
// or treats the current event alone when the rule has no window.
func (e *Evaluator) aggregate(ctx context.Context, event domain.Event, rule domain.Rule) (int64, error) {
	if rule.TimeWindowMinutes == nil || *rule.TimeWindowMinutes <= 0 {
		return 1, nil
	}

	to := event.OccurredAt
	from := to.Add(-time.Duration(*rule.TimeWindowMinutes) * time.Minute)
	return e.aggregator.CountEvents(ctx, event.UserID, rule.EventType, from, to)
}

func templateData(event domain.Event, count int64) map[string]any {
	data := make(map[string]any, len(event.Payload)+3)
	for k, v := range event.Payload {
		data[k] = v
	}
	data["eventType"] = event.EventType
	data["userId"] = event.UserID
	data["count"] = count
	return data
}
