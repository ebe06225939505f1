package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-engine/internal/domain"
	"github.com/kursadbilgin/notification-engine/internal/observability"
	"github.com/kursadbilgin/notification-engine/internal/queue"
	"github.com/kursadbilgin/notification-engine/internal/repository"
	"github.com/kursadbilgin/notification-engine/internal/rule"
	"go.uber.org/zap"
)

// Dispatcher is the engine's send entry point.
type Dispatcher interface {
	Send(ctx context.Context, req domain.SendRequest) (*DispatchOutcome, error)
}

// EventResult summarizes what one event produced.
type EventResult struct {
	EventID  string
	Outcomes []*DispatchOutcome
	// Rejected counts firing rules whose send request failed validation.
	Rejected int
	// Skipped counts firing rules that already produced a notification on an
	// earlier delivery of the same event.
	Skipped int
}

// EventService records activity events, evaluates rules against them and
// dispatches the resulting send requests.
type EventService struct {
	events     repository.EventRepository
	rules      repository.RuleRepository
	evaluator  *rule.Evaluator
	dispatcher Dispatcher
	publisher  queue.Publisher
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string
}

func NewEventService(
	events repository.EventRepository,
	rules repository.RuleRepository,
	evaluator *rule.Evaluator,
	dispatcher Dispatcher,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*EventService, error) {
	if events == nil {
		return nil, fmt.Errorf("event repository is required")
	}
	if rules == nil {
		return nil, fmt.Errorf("rule repository is required")
	}
	if evaluator == nil {
		return nil, fmt.Errorf("rule evaluator is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EventService{
		events:     events,
		rules:      rules,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		publisher:  publisher,
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}, nil
}

func (s *EventService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// SubmitEvent records the event and dispatches every rule it fires. A send
// request rejected by validation is logged and counted; other dispatch
// errors abort the submission and leave the event unprocessed, so a later
// submission with the same id resumes it. Rules that already dispatched for
// the event are skipped. Once every rule is handled the event is marked
// processed and further submissions fail with ErrConflict.
func (s *EventService) SubmitEvent(ctx context.Context, event domain.Event) (*EventResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.prepare(&event)
	if err := event.Validate(); err != nil {
		return nil, err
	}

	stored, err := s.record(ctx, event)
	if err != nil {
		return nil, err
	}
	event = *stored

	rules, err := s.rules.ListActiveByEventType(ctx, event.EventType)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	requests, err := s.evaluator.Evaluate(ctx, event, rules)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate rules: %w", err)
	}

	result := &EventResult{EventID: event.ID, Outcomes: make([]*DispatchOutcome, 0, len(requests))}
	for _, req := range requests {
		outcome, err := s.dispatcher.Send(ctx, req)
		if errors.Is(err, domain.ErrDuplicateDispatch) {
			result.Skipped++
			s.logger.Info("rule already dispatched for event",
				zap.String("eventId", event.ID),
				zap.Stringp("ruleId", req.RuleID),
			)
			continue
		}
		if errors.Is(err, domain.ErrValidation) {
			result.Rejected++
			s.logger.Warn("rule fired but send request was rejected",
				zap.String("eventId", event.ID),
				zap.String("userId", event.UserID),
				zap.Stringp("ruleId", req.RuleID),
				zap.Error(err),
			)
			continue
		}
		if err != nil {
			return result, fmt.Errorf("failed to dispatch rule %s: %w", deref(req.RuleID), err)
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}

	if err := s.events.MarkProcessed(ctx, event.ID, s.now().UTC()); err != nil {
		return result, fmt.Errorf("failed to mark event %s processed: %w", event.ID, err)
	}

	s.logger.Info("event processed",
		zap.String("eventId", event.ID),
		zap.String("eventType", event.EventType),
		zap.Int("rules", len(rules)),
		zap.Int("fired", len(requests)),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// record stores a new event. An event id seen before resumes from the stored
// copy unless that copy is already processed.
func (s *EventService) record(ctx context.Context, event domain.Event) (*domain.Event, error) {
	err := s.events.Create(ctx, &event)
	if err == nil {
		return &event, nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return nil, fmt.Errorf("failed to record event: %w", err)
	}

	stored, getErr := s.events.GetByID(ctx, event.ID)
	if getErr != nil {
		return nil, fmt.Errorf("failed to load recorded event %s: %w", event.ID, getErr)
	}
	if stored.ProcessedAt != nil {
		return nil, fmt.Errorf("%w: event %s already processed", domain.ErrConflict, event.ID)
	}

	s.logger.Info("resuming unprocessed event",
		zap.String("eventId", stored.ID),
		zap.String("eventType", stored.EventType),
	)
	return stored, nil
}

// PublishEvent hands the event to the events queue for the worker pool.
func (s *EventService) PublishEvent(ctx context.Context, event domain.Event, correlationID string) (string, error) {
	if s.publisher == nil {
		return "", fmt.Errorf("event queue is not configured")
	}

	s.prepare(&event)
	if err := event.Validate(); err != nil {
		return "", err
	}

	if err := s.publisher.Publish(ctx, queue.EventMessageFromDomain(event, correlationID)); err != nil {
		return "", fmt.Errorf("failed to publish event: %w", err)
	}
	s.metrics.IncEventProcessed("http", "queued")
	return event.ID, nil
}

func (s *EventService) prepare(event *domain.Event) {
	event.ID = strings.TrimSpace(event.ID)
	if event.ID == "" {
		event.ID = s.newID()
	}
	event.UserID = strings.TrimSpace(event.UserID)
	event.EventType = strings.TrimSpace(event.EventType)
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now().UTC()
	}
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
