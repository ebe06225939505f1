package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kursadbilgin/notification-engine/internal/domain"
	"github.com/kursadbilgin/notification-engine/internal/queue"
	"github.com/kursadbilgin/notification-engine/internal/rule"
	"go.uber.org/zap"
)

type fakeEventRepo struct {
	createFn        func(ctx context.Context, e *domain.Event) error
	getByIDFn       func(ctx context.Context, id string) (*domain.Event, error)
	markProcessedFn func(ctx context.Context, id string, at time.Time) error
	countFn         func(ctx context.Context, userID string, eventType string, from time.Time, to time.Time) (int64, error)
}

func (f *fakeEventRepo) Create(ctx context.Context, e *domain.Event) error {
	if f.createFn != nil {
		return f.createFn(ctx, e)
	}
	return nil
}

func (f *fakeEventRepo) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeEventRepo) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	if f.markProcessedFn != nil {
		return f.markProcessedFn(ctx, id, at)
	}
	return nil
}

func (f *fakeEventRepo) CountEvents(ctx context.Context, userID string, eventType string, from time.Time, to time.Time) (int64, error) {
	if f.countFn != nil {
		return f.countFn(ctx, userID, eventType, from, to)
	}
	return 1, nil
}

type fakeRuleRepo struct {
	createFn     func(ctx context.Context, r *domain.Rule) error
	getByIDFn    func(ctx context.Context, id string) (*domain.Rule, error)
	listActiveFn func(ctx context.Context, eventType string) ([]domain.Rule, error)
	deactivateFn func(ctx context.Context, id string) error
}

func (f *fakeRuleRepo) Create(ctx context.Context, r *domain.Rule) error {
	if f.createFn != nil {
		return f.createFn(ctx, r)
	}
	return nil
}

func (f *fakeRuleRepo) GetByID(ctx context.Context, id string) (*domain.Rule, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeRuleRepo) ListActiveByEventType(ctx context.Context, eventType string) ([]domain.Rule, error) {
	if f.listActiveFn != nil {
		return f.listActiveFn(ctx, eventType)
	}
	return nil, nil
}

func (f *fakeRuleRepo) Deactivate(ctx context.Context, id string) error {
	if f.deactivateFn != nil {
		return f.deactivateFn(ctx, id)
	}
	return nil
}

type fakeDispatcher struct {
	sendFn func(ctx context.Context, req domain.SendRequest) (*DispatchOutcome, error)
}

func (f *fakeDispatcher) Send(ctx context.Context, req domain.SendRequest) (*DispatchOutcome, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, req)
	}
	return &DispatchOutcome{RecordID: "n1", Kind: OutcomeSent, Status: domain.StatusSent}, nil
}

func failedLoginRule() domain.Rule {
	window := 10
	return domain.Rule{
		ID:                "r1",
		Name:              "failed logins",
		EventType:         "login_failed",
		TriggerCondition:  "count >= 3",
		TimeWindowMinutes: &window,
		MessageTemplate:   "{{count}} failed logins for {{userId}}",
		Channel:           domain.ChannelEmail,
		Priority:          domain.PriorityHigh,
		Active:            true,
	}
}

func newTestEventService(t *testing.T, events *fakeEventRepo, rules *fakeRuleRepo, dispatcher Dispatcher, publisher queue.Publisher) *EventService {
	t.Helper()

	evaluator, err := rule.NewEvaluator(events, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("rule.NewEvaluator() error = %v", err)
	}
	svc, err := NewEventService(events, rules, evaluator, dispatcher, publisher, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEventService() error = %v", err)
	}
	svc.now = func() time.Time { return afternoon }
	svc.newID = func() string { return "event-1" }
	return svc
}

func TestEventServiceSubmitEventDispatchesFiringRules(t *testing.T) {
	t.Parallel()

	var recorded *domain.Event
	events := &fakeEventRepo{
		createFn: func(ctx context.Context, e *domain.Event) error {
			recorded = e
			return nil
		},
		countFn: func(ctx context.Context, userID string, eventType string, from time.Time, to time.Time) (int64, error) {
			if !to.Equal(afternoon) || !from.Equal(afternoon.Add(-10*time.Minute)) {
				t.Errorf("window = [%v, %v], want the 10 minutes before the event", from, to)
			}
			return 3, nil
		},
	}
	rules := &fakeRuleRepo{
		listActiveFn: func(ctx context.Context, eventType string) ([]domain.Rule, error) {
			if eventType != "login_failed" {
				t.Errorf("eventType = %q, want login_failed", eventType)
			}
			return []domain.Rule{failedLoginRule()}, nil
		},
	}

	var sent []domain.SendRequest
	dispatcher := &fakeDispatcher{
		sendFn: func(ctx context.Context, req domain.SendRequest) (*DispatchOutcome, error) {
			sent = append(sent, req)
			return &DispatchOutcome{RecordID: "n1", Kind: OutcomeSent}, nil
		},
	}

	svc := newTestEventService(t, events, rules, dispatcher, nil)
	result, err := svc.SubmitEvent(context.Background(), domain.Event{UserID: " u1 ", EventType: "login_failed"})
	if err != nil {
		t.Fatalf("SubmitEvent() error = %v", err)
	}

	if recorded == nil || recorded.ID != "event-1" || !recorded.OccurredAt.Equal(afternoon) {
		t.Fatalf("recorded event = %+v, want generated id and time", recorded)
	}
	if result.EventID != "event-1" || len(result.Outcomes) != 1 {
		t.Fatalf("result = %+v, want one outcome", result)
	}
	if len(sent) != 1 {
		t.Fatalf("dispatched %d requests, want 1", len(sent))
	}
	if sent[0].Message != "3 failed logins for u1" {
		t.Fatalf("Message = %q", sent[0].Message)
	}
	if sent[0].RuleID == nil || *sent[0].RuleID != "r1" || sent[0].EventID == nil || *sent[0].EventID != "event-1" {
		t.Fatalf("request ids = %v/%v, want r1/event-1", sent[0].RuleID, sent[0].EventID)
	}
}

func TestEventServiceSubmitEventBelowThreshold(t *testing.T) {
	t.Parallel()

	events := &fakeEventRepo{
		countFn: func(ctx context.Context, userID string, eventType string, from time.Time, to time.Time) (int64, error) {
			return 2, nil
		},
	}
	rules := &fakeRuleRepo{
		listActiveFn: func(ctx context.Context, eventType string) ([]domain.Rule, error) {
			return []domain.Rule{failedLoginRule()}, nil
		},
	}
	dispatcher := &fakeDispatcher{
		sendFn: func(ctx context.Context, req domain.SendRequest) (*DispatchOutcome, error) {
			t.Fatal("Send() should not be called below the threshold")
			return nil, nil
		},
	}

	svc := newTestEventService(t, events, rules, dispatcher, nil)
	result, err := svc.SubmitEvent(context.Background(), domain.Event{UserID: "u1", EventType: "login_failed"})
	if err != nil {
		t.Fatalf("SubmitEvent() error = %v", err)
	}
	if len(result.Outcomes) != 0 {
		t.Fatalf("outcomes = %d, want 0", len(result.Outcomes))
	}
}

func TestEventServiceSubmitEventRejectedRequestIsCounted(t *testing.T) {
	t.Parallel()

	events := &fakeEventRepo{
		countFn: func(ctx context.Context, userID string, eventType string, from time.Time, to time.Time) (int64, error) {
			return 5, nil
		},
	}
	rules := &fakeRuleRepo{
		listActiveFn: func(ctx context.Context, eventType string) ([]domain.Rule, error) {
			return []domain.Rule{failedLoginRule()}, nil
		},
	}
	dispatcher := &fakeDispatcher{
		sendFn: func(ctx context.Context, req domain.SendRequest) (*DispatchOutcome, error) {
			return nil, fmt.Errorf("%w: user u1 has no EMAIL address", domain.ErrValidation)
		},
	}

	svc := newTestEventService(t, events, rules, dispatcher, nil)
	result, err := svc.SubmitEvent(context.Background(), domain.Event{UserID: "u1", EventType: "login_failed"})
	if err != nil {
		t.Fatalf("SubmitEvent() error = %v", err)
	}
	if result.Rejected != 1 {
		t.Fatalf("Rejected = %d, want 1", result.Rejected)
	}
}

func TestEventServiceSubmitEventDispatchError(t *testing.T) {
	t.Parallel()

	rules := &fakeRuleRepo{
		listActiveFn: func(ctx context.Context, eventType string) ([]domain.Rule, error) {
			r := failedLoginRule()
			r.TimeWindowMinutes = nil
			r.TriggerCondition = "count >= 1"
			return []domain.Rule{r}, nil
		},
	}
	dispatchErr := errors.New("database unavailable")
	dispatcher := &fakeDispatcher{
		sendFn: func(ctx context.Context, req domain.SendRequest) (*DispatchOutcome, error) {
			return nil, dispatchErr
		},
	}

	svc := newTestEventService(t, &fakeEventRepo{}, rules, dispatcher, nil)
	_, err := svc.SubmitEvent(context.Background(), domain.Event{UserID: "u1", EventType: "login_failed"})
	if !errors.Is(err, dispatchErr) {
		t.Fatalf("SubmitEvent() error = %v, want %v", err, dispatchErr)
	}
}

// eventTable backs fakeEventRepo with a map so redelivered events see what
// earlier submissions stored.
type eventTable struct {
	mu     sync.Mutex
	events map[string]domain.Event
}

func newEventTable() *eventTable {
	return &eventTable{events: make(map[string]domain.Event)}
}

func (tb *eventTable) repo(countFn func(ctx context.Context, userID string, eventType string, from time.Time, to time.Time) (int64, error)) *fakeEventRepo {
	return &fakeEventRepo{
		createFn: func(ctx context.Context, e *domain.Event) error {
			tb.mu.Lock()
			defer tb.mu.Unlock()
			if _, ok := tb.events[e.ID]; ok {
				return fmt.Errorf("%w: event %s already recorded", domain.ErrConflict, e.ID)
			}
			tb.events[e.ID] = *e
			return nil
		},
		getByIDFn: func(ctx context.Context, id string) (*domain.Event, error) {
			tb.mu.Lock()
			defer tb.mu.Unlock()
			e, ok := tb.events[id]
			if !ok {
				return nil, domain.ErrNotFound
			}
			return &e, nil
		},
		markProcessedFn: func(ctx context.Context, id string, at time.Time) error {
			tb.mu.Lock()
			defer tb.mu.Unlock()
			e, ok := tb.events[id]
			if !ok {
				return domain.ErrNotFound
			}
			e.ProcessedAt = &at
			tb.events[id] = e
			return nil
		},
		countFn: countFn,
	}
}

func (tb *eventTable) get(id string) domain.Event {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.events[id]
}

func TestEventServiceRedeliveryAfterFailureDispatches(t *testing.T) {
	t.Parallel()

	table := newEventTable()
	events := table.repo(func(ctx context.Context, userID string, eventType string, from time.Time, to time.Time) (int64, error) {
		return 3, nil
	})

	loads := 0
	rules := &fakeRuleRepo{
		listActiveFn: func(ctx context.Context, eventType string) ([]domain.Rule, error) {
			loads++
			if loads == 1 {
				return nil, errors.New("connection reset by peer")
			}
			return []domain.Rule{failedLoginRule()}, nil
		},
	}
	sends := 0
	dispatcher := &fakeDispatcher{
		sendFn: func(ctx context.Context, req domain.SendRequest) (*DispatchOutcome, error) {
			sends++
			return &DispatchOutcome{RecordID: "n1", Kind: OutcomeSent}, nil
		},
	}

	svc := newTestEventService(t, events, rules, dispatcher, nil)
	event := domain.Event{ID: "e1", UserID: "u1", EventType: "login_failed", OccurredAt: afternoon}

	if _, err := svc.SubmitEvent(context.Background(), event); err == nil {
		t.Fatal("first SubmitEvent() error = nil, want rule load failure")
	}
	if got := table.get("e1"); got.ProcessedAt != nil {
		t.Fatalf("ProcessedAt = %v after failed submission, want nil", got.ProcessedAt)
	}

	result, err := svc.SubmitEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("redelivered SubmitEvent() error = %v", err)
	}
	if len(result.Outcomes) != 1 || sends != 1 {
		t.Fatalf("outcomes = %d, sends = %d, want 1 and 1", len(result.Outcomes), sends)
	}
	if got := table.get("e1"); got.ProcessedAt == nil || !got.ProcessedAt.Equal(afternoon) {
		t.Fatalf("ProcessedAt = %v, want %v", got.ProcessedAt, afternoon)
	}

	result, err = svc.SubmitEvent(context.Background(), event)
	if !errors.Is(err, domain.ErrConflict) || result != nil {
		t.Fatalf("SubmitEvent() on processed event = %+v, %v, want nil result and ErrConflict", result, err)
	}
	if sends != 1 {
		t.Fatalf("sends = %d after processed duplicate, want 1", sends)
	}
}

func TestEventWorkerAcksRedeliveryOfProcessedEvent(t *testing.T) {
	t.Parallel()

	table := newEventTable()
	processedAt := afternoon.Add(-time.Minute)
	table.events["e1"] = domain.Event{ID: "e1", UserID: "u1", EventType: "login_failed", OccurredAt: afternoon, ProcessedAt: &processedAt}

	dispatcher := &fakeDispatcher{
		sendFn: func(ctx context.Context, req domain.SendRequest) (*DispatchOutcome, error) {
			t.Error("Send() should not be called for a processed event")
			return nil, nil
		},
	}
	rules := &fakeRuleRepo{
		listActiveFn: func(ctx context.Context, eventType string) ([]domain.Rule, error) {
			t.Error("rules should not be loaded for a processed event")
			return nil, nil
		},
	}
	svc := newTestEventService(t, table.repo(nil), rules, dispatcher, nil)

	worker, err := NewEventWorker(&fakeConsumer{}, svc, 1, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEventWorker() error = %v", err)
	}
	err = worker.processMessage(context.Background(), queue.EventMessage{
		EventID:    "e1",
		UserID:     "u1",
		EventType:  "login_failed",
		OccurredAt: afternoon,
	})
	if err != nil {
		t.Fatalf("processMessage() error = %v, want nil", err)
	}
}

func TestEventServiceSkipsRulesAlreadyDispatched(t *testing.T) {
	t.Parallel()

	table := newEventTable()
	events := table.repo(func(ctx context.Context, userID string, eventType string, from time.Time, to time.Time) (int64, error) {
		return 3, nil
	})
	table.events["e1"] = domain.Event{ID: "e1", UserID: "u1", EventType: "login_failed", OccurredAt: afternoon}

	second := failedLoginRule()
	second.ID = "r2"
	rules := &fakeRuleRepo{
		listActiveFn: func(ctx context.Context, eventType string) ([]domain.Rule, error) {
			return []domain.Rule{failedLoginRule(), second}, nil
		},
	}
	var dispatched []string
	dispatcher := &fakeDispatcher{
		sendFn: func(ctx context.Context, req domain.SendRequest) (*DispatchOutcome, error) {
			if *req.RuleID == "r1" {
				return nil, fmt.Errorf("failed to create notification record: %w", domain.ErrDuplicateDispatch)
			}
			dispatched = append(dispatched, *req.RuleID)
			return &DispatchOutcome{RecordID: "n2", Kind: OutcomeSent}, nil
		},
	}

	svc := newTestEventService(t, events, rules, dispatcher, nil)
	result, err := svc.SubmitEvent(context.Background(), domain.Event{ID: "e1", UserID: "u1", EventType: "login_failed", OccurredAt: afternoon})
	if err != nil {
		t.Fatalf("SubmitEvent() error = %v", err)
	}
	if result.Skipped != 1 || len(result.Outcomes) != 1 {
		t.Fatalf("result = %+v, want 1 skipped and 1 outcome", result)
	}
	if len(dispatched) != 1 || dispatched[0] != "r2" {
		t.Fatalf("dispatched = %v, want [r2]", dispatched)
	}
	if table.get("e1").ProcessedAt == nil {
		t.Fatal("ProcessedAt = nil, want the event marked processed")
	}
}

func TestEventServiceMarkProcessedErrorIsReturned(t *testing.T) {
	t.Parallel()

	markErr := errors.New("write timeout")
	events := &fakeEventRepo{
		markProcessedFn: func(ctx context.Context, id string, at time.Time) error {
			return markErr
		},
	}
	rules := &fakeRuleRepo{
		listActiveFn: func(ctx context.Context, eventType string) ([]domain.Rule, error) {
			return nil, nil
		},
	}

	svc := newTestEventService(t, events, rules, &fakeDispatcher{}, nil)
	result, err := svc.SubmitEvent(context.Background(), domain.Event{UserID: "u1", EventType: "login_failed"})
	if !errors.Is(err, markErr) {
		t.Fatalf("SubmitEvent() error = %v, want %v", err, markErr)
	}
	if result == nil {
		t.Fatal("result = nil, want the partial result")
	}
}

func TestEventServiceSubmitEventValidation(t *testing.T) {
	t.Parallel()

	events := &fakeEventRepo{
		createFn: func(ctx context.Context, e *domain.Event) error {
			t.Fatal("Create() should not be called for an invalid event")
			return nil
		},
	}

	svc := newTestEventService(t, events, &fakeRuleRepo{}, &fakeDispatcher{}, nil)
	_, err := svc.SubmitEvent(context.Background(), domain.Event{EventType: "login_failed"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("SubmitEvent() error = %v, want ErrValidation", err)
	}
}

func TestEventServicePublishEvent(t *testing.T) {
	t.Parallel()

	var published queue.EventMessage
	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, msg queue.EventMessage) error {
			published = msg
			return nil
		},
	}

	svc := newTestEventService(t, &fakeEventRepo{}, &fakeRuleRepo{}, &fakeDispatcher{}, publisher)
	id, err := svc.PublishEvent(context.Background(), domain.Event{
		UserID:    "u1",
		EventType: "order_shipped",
		Payload:   map[string]any{"orderId": "o-9"},
	}, "cid-1")
	if err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}
	if id != "event-1" {
		t.Fatalf("id = %q, want event-1", id)
	}
	if published.EventID != "event-1" || published.CorrelationID != "cid-1" || !published.OccurredAt.Equal(afternoon) {
		t.Fatalf("published = %+v", published)
	}
	if published.Payload["orderId"] != "o-9" {
		t.Fatalf("payload = %v", published.Payload)
	}
}

func TestEventServicePublishEventWithoutQueue(t *testing.T) {
	t.Parallel()

	svc := newTestEventService(t, &fakeEventRepo{}, &fakeRuleRepo{}, &fakeDispatcher{}, nil)
	if _, err := svc.PublishEvent(context.Background(), domain.Event{UserID: "u1", EventType: "x"}, ""); err == nil {
		t.Fatal("PublishEvent() expected error without a publisher")
	}
}

type fakeEventSubmitter struct {
	submitFn func(ctx context.Context, event domain.Event) (*EventResult, error)
}

func (f *fakeEventSubmitter) SubmitEvent(ctx context.Context, event domain.Event) (*EventResult, error) {
	if f.submitFn != nil {
		return f.submitFn(ctx, event)
	}
	return &EventResult{EventID: event.ID}, nil
}

func TestEventWorkerProcessMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		submitFn func(ctx context.Context, event domain.Event) (*EventResult, error)
		wantErr  error
	}{
		{
			name: "processed",
		},
		{
			name: "duplicate event acked",
			submitFn: func(ctx context.Context, event domain.Event) (*EventResult, error) {
				return nil, fmt.Errorf("%w: event e1 already processed", domain.ErrConflict)
			},
		},
		{
			name: "invalid event dead-lettered",
			submitFn: func(ctx context.Context, event domain.Event) (*EventResult, error) {
				return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
			},
			wantErr: domain.ErrValidation,
		},
		{
			name: "infrastructure error requeued",
			submitFn: func(ctx context.Context, event domain.Event) (*EventResult, error) {
				return nil, context.DeadlineExceeded
			},
			wantErr: context.DeadlineExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			worker, err := NewEventWorker(&fakeConsumer{}, &fakeEventSubmitter{submitFn: tt.submitFn}, 1, zap.NewNop())
			if err != nil {
				t.Fatalf("NewEventWorker() error = %v", err)
			}

			err = worker.processMessage(context.Background(), queue.EventMessage{
				EventID:    "e1",
				UserID:     "u1",
				EventType:  "login_failed",
				OccurredAt: afternoon,
			})
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("processMessage() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("processMessage() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEventWorkerStartRunsConsumers(t *testing.T) {
	t.Parallel()

	var started atomic.Int32
	consumer := &fakeConsumer{
		consumeFn: func(ctx context.Context, queueName string, handler queue.MessageHandler) error {
			if queueName != queue.EventsQueue {
				t.Errorf("queue = %q, want %q", queueName, queue.EventsQueue)
			}
			started.Add(1)
			return nil
		},
	}

	worker, err := NewEventWorker(consumer, &fakeEventSubmitter{}, 3, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEventWorker() error = %v", err)
	}
	if err := worker.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := started.Load(); got != 3 {
		t.Fatalf("consumers started = %d, want 3", got)
	}
}

func TestEventWorkerStartPropagatesConsumerError(t *testing.T) {
	t.Parallel()

	consumeErr := errors.New("consume failed")
	consumer := &fakeConsumer{
		consumeFn: func(ctx context.Context, queueName string, handler queue.MessageHandler) error {
			return consumeErr
		},
	}

	worker, err := NewEventWorker(consumer, &fakeEventSubmitter{}, 2, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEventWorker() error = %v", err)
	}

	if err := worker.Start(context.Background()); !errors.Is(err, consumeErr) {
		t.Fatalf("Start() error = %v, want %v", err, consumeErr)
	}
}

func TestRuleServiceCreate(t *testing.T) {
	t.Parallel()

	var stored *domain.Rule
	rules := &fakeRuleRepo{
		createFn: func(ctx context.Context, r *domain.Rule) error {
			stored = r
			return nil
		},
	}
	svc, err := NewRuleService(rules, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRuleService() error = %v", err)
	}
	svc.newID = func() string { return "rule-1" }

	r := failedLoginRule()
	r.ID = ""
	r.Active = false
	r.Priority = ""

	created, err := svc.Create(context.Background(), &r)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if stored == nil || created.ID != "rule-1" || !created.Active || created.Priority != domain.PriorityNormal {
		t.Fatalf("created = %+v", created)
	}
}

func TestRuleServiceCreateRejectsBadCondition(t *testing.T) {
	t.Parallel()

	rules := &fakeRuleRepo{
		createFn: func(ctx context.Context, r *domain.Rule) error {
			t.Fatal("Create() should not persist an invalid rule")
			return nil
		},
	}
	svc, err := NewRuleService(rules, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRuleService() error = %v", err)
	}

	r := failedLoginRule()
	r.TriggerCondition = "count is big"
	_, err = svc.Create(context.Background(), &r)
	if !errors.Is(err, domain.ErrInvalidCondition) {
		t.Fatalf("Create() error = %v, want ErrInvalidCondition", err)
	}
}

type fakeRuleCanceller struct {
	cancelFn func(ctx context.Context, ruleID string) (int, error)
}

func (f *fakeRuleCanceller) CancelForRule(ctx context.Context, ruleID string) (int, error) {
	if f.cancelFn != nil {
		return f.cancelFn(ctx, ruleID)
	}
	return 0, nil
}

func TestRuleServiceDeactivateCancelsRetries(t *testing.T) {
	t.Parallel()

	deactivated := false
	rules := &fakeRuleRepo{
		deactivateFn: func(ctx context.Context, id string) error {
			deactivated = id == "r1"
			return nil
		},
	}
	canceller := &fakeRuleCanceller{
		cancelFn: func(ctx context.Context, ruleID string) (int, error) {
			return 4, nil
		},
	}
	svc, err := NewRuleService(rules, canceller, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRuleService() error = %v", err)
	}

	n, err := svc.Deactivate(context.Background(), " r1 ")
	if err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
	if !deactivated || n != 4 {
		t.Fatalf("Deactivate() = %d (deactivated=%v), want 4 and deactivated", n, deactivated)
	}
}

func TestRuleServiceDeactivateNotFound(t *testing.T) {
	t.Parallel()

	rules := &fakeRuleRepo{
		deactivateFn: func(ctx context.Context, id string) error {
			return domain.ErrNotFound
		},
	}
	canceller := &fakeRuleCanceller{
		cancelFn: func(ctx context.Context, ruleID string) (int, error) {
			t.Fatal("CancelForRule() should not run for an unknown rule")
			return 0, nil
		},
	}
	svc, err := NewRuleService(rules, canceller, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRuleService() error = %v", err)
	}

	if _, err := svc.Deactivate(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Deactivate() error = %v, want ErrNotFound", err)
	}
}
