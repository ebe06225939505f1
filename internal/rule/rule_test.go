package rule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/notification-engine/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeAggregator struct {
	countFn func(ctx context.Context, userID string, eventType string, from time.Time, to time.Time) (int64, error)
	calls   int
}

func (f *fakeAggregator) CountEvents(ctx context.Context, userID string, eventType string, from time.Time, to time.Time) (int64, error) {
	f.calls++
	if f.countFn != nil {
		return f.countFn(ctx, userID, eventType, from, to)
	}
	return 0, nil
}

func intPtr(v int) *int { return &v }

func TestParseCondition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Condition
		wantErr bool
	}{
		{name: "gte", input: "count >= 3", want: Condition{Operand: "count", Operator: OpGTE, Threshold: 3}},
		{name: "gt without spaces", input: "count>10", want: Condition{Operand: "count", Operator: OpGT, Threshold: 10}},
		{name: "lte", input: " count <= 0 ", want: Condition{Operand: "count", Operator: OpLTE, Threshold: 0}},
		{name: "lt", input: "count < 5", want: Condition{Operand: "count", Operator: OpLT, Threshold: 5}},
		{name: "eq", input: "count == 1", want: Condition{Operand: "count", Operator: OpEQ, Threshold: 1}},
		{name: "single equals", input: "count = 1", wantErr: true},
		{name: "unknown operand", input: "total >= 3", wantErr: true},
		{name: "negative threshold", input: "count >= -1", wantErr: true},
		{name: "signed threshold", input: "count >= +3", wantErr: true},
		{name: "negative zero threshold", input: "count == -0", wantErr: true},
		{name: "threshold overflow", input: "count >= 99999999999999999999", wantErr: true},
		{name: "non-integer threshold", input: "count >= 2.5", wantErr: true},
		{name: "reversed operator", input: "count => 3", wantErr: true},
		{name: "empty", input: "   ", wantErr: true},
		{name: "no operator", input: "count 3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseCondition(tt.input)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrInvalidCondition) {
					t.Fatalf("ParseCondition(%q) error = %v, want ErrInvalidCondition", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCondition(%q) unexpected error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Fatalf("ParseCondition(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestConditionMatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		op    Operator
		count int64
		want  bool
	}{
		{OpGTE, 2, false}, {OpGTE, 3, true}, {OpGTE, 4, true},
		{OpGT, 3, false}, {OpGT, 4, true},
		{OpLTE, 3, true}, {OpLTE, 4, false},
		{OpLT, 2, true}, {OpLT, 3, false},
		{OpEQ, 3, true}, {OpEQ, 2, false},
	}

	for _, tt := range tests {
		c := Condition{Operand: CounterName, Operator: tt.op, Threshold: 3}
		if got := c.Matches(tt.count); got != tt.want {
			t.Fatalf("%s.Matches(%d) = %v, want %v", c, tt.count, got, tt.want)
		}
	}
}

func TestPlaceholderRenderer(t *testing.T) {
	t.Parallel()

	got, err := PlaceholderRenderer{}.Render("{{count}} failed logins for {{userId}} from {{ip}} {{missing}}", map[string]any{
		"count":  int64(3),
		"userId": "u1",
		"ip":     "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	want := "3 failed logins for u1 from 10.0.0.1 {{missing}}"
	if got != want {
		t.Fatalf("Render() = %q, want %q", got, want)
	}
}

func TestEvaluatorFiltersByTypeAndActive(t *testing.T) {
	t.Parallel()

	aggregator := &fakeAggregator{}
	evaluator, err := NewEvaluator(aggregator, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}

	rules := []domain.Rule{
		{ID: "r-match", EventType: "order_shipped", TriggerCondition: "count >= 1", MessageTemplate: "order shipped", Channel: domain.ChannelPush, Priority: domain.PriorityNormal, Active: true},
		{ID: "r-inactive", EventType: "order_shipped", TriggerCondition: "count >= 1", MessageTemplate: "inactive", Channel: domain.ChannelEmail, Priority: domain.PriorityNormal, Active: false},
		{ID: "r-other-type", EventType: "login_failed", TriggerCondition: "count >= 1", MessageTemplate: "other", Channel: domain.ChannelSMS, Priority: domain.PriorityHigh, Active: true},
	}

	requests, err := evaluator.Evaluate(context.Background(), domain.Event{
		ID:         "e1",
		UserID:     "u1",
		EventType:  "order_shipped",
		OccurredAt: time.Unix(1_700_000_000, 0),
	}, rules)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	if len(requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(requests))
	}
	got := requests[0]
	if got.RuleID == nil || *got.RuleID != "r-match" {
		t.Fatalf("RuleID = %v, want r-match", got.RuleID)
	}
	if got.EventID == nil || *got.EventID != "e1" {
		t.Fatalf("EventID = %v, want e1", got.EventID)
	}
	if got.Channel != domain.ChannelPush || got.UserID != "u1" || got.Message != "order shipped" {
		t.Fatalf("unexpected request: %+v", got)
	}
	if aggregator.calls != 0 {
		t.Fatalf("aggregator calls = %d, want 0 for rules without window", aggregator.calls)
	}
}

func TestEvaluatorWindowedAggregate(t *testing.T) {
	t.Parallel()

	occurredAt := time.Unix(1_700_000_000, 0).UTC()
	aggregator := &fakeAggregator{
		countFn: func(ctx context.Context, userID string, eventType string, from time.Time, to time.Time) (int64, error) {
			if userID != "u1" || eventType != "login_failed" {
				t.Fatalf("CountEvents(%s, %s), want u1 login_failed", userID, eventType)
			}
			if !to.Equal(occurredAt) {
				t.Fatalf("to = %v, want %v", to, occurredAt)
			}
			if want := occurredAt.Add(-10 * time.Minute); !from.Equal(want) {
				t.Fatalf("from = %v, want %v", from, want)
			}
			return 3, nil
		},
	}

	evaluator, err := NewEvaluator(aggregator, PlaceholderRenderer{}, nil)
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}

	rules := []domain.Rule{
		{ID: "r-three", EventType: "login_failed", TriggerCondition: "count >= 3", TimeWindowMinutes: intPtr(10), MessageTemplate: "{{count}} failed logins from {{ip}}", Channel: domain.ChannelEmail, Priority: domain.PriorityHigh, Active: true},
		{ID: "r-five", EventType: "login_failed", TriggerCondition: "count >= 5", TimeWindowMinutes: intPtr(10), MessageTemplate: "lockout", Channel: domain.ChannelSMS, Priority: domain.PriorityHigh, Active: true},
	}

	event := domain.Event{
		UserID:     "u1",
		EventType:  "login_failed",
		Payload:    map[string]any{"ip": "10.0.0.1"},
		OccurredAt: occurredAt,
	}

	first, err := evaluator.Evaluate(context.Background(), event, rules)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("requests = %d, want 1", len(first))
	}
	if first[0].Message != "3 failed logins from 10.0.0.1" {
		t.Fatalf("message = %q", first[0].Message)
	}
	if first[0].EventID != nil {
		t.Fatalf("EventID = %v, want nil for event without id", *first[0].EventID)
	}

	second, err := evaluator.Evaluate(context.Background(), event, rules)
	if err != nil {
		t.Fatalf("Evaluate() second call error = %v", err)
	}
	if len(second) != len(first) || second[0].Message != first[0].Message {
		t.Fatal("Evaluate() should be idempotent for the same snapshot")
	}
}

func TestEvaluatorSkipsInvalidCondition(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.WarnLevel)
	evaluator, err := NewEvaluator(&fakeAggregator{}, nil, zap.New(core))
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}

	rules := []domain.Rule{
		{ID: "r-bad", EventType: "ping", TriggerCondition: "count ~ 3", MessageTemplate: "bad", Channel: domain.ChannelEmail, Priority: domain.PriorityNormal, Active: true},
		{ID: "r-good", EventType: "ping", TriggerCondition: "count == 1", MessageTemplate: "good", Channel: domain.ChannelEmail, Priority: domain.PriorityNormal, Active: true},
	}

	requests, err := evaluator.Evaluate(context.Background(), domain.Event{UserID: "u1", EventType: "ping"}, rules)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(requests) != 1 || *requests[0].RuleID != "r-good" {
		t.Fatalf("requests = %+v, want only r-good", requests)
	}
	if recorded.Len() != 1 {
		t.Fatalf("warn entries = %d, want 1", recorded.Len())
	}
}

func TestEvaluatorAggregatorError(t *testing.T) {
	t.Parallel()

	aggregator := &fakeAggregator{
		countFn: func(ctx context.Context, userID string, eventType string, from time.Time, to time.Time) (int64, error) {
			return 0, errors.New("db unavailable")
		},
	}
	evaluator, err := NewEvaluator(aggregator, nil, nil)
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}

	_, err = evaluator.Evaluate(context.Background(), domain.Event{UserID: "u1", EventType: "ping", OccurredAt: time.Now()}, []domain.Rule{
		{ID: "r1", EventType: "ping", TriggerCondition: "count >= 1", TimeWindowMinutes: intPtr(5), MessageTemplate: "x", Channel: domain.ChannelEmail, Priority: domain.PriorityNormal, Active: true},
	})
	if err == nil {
		t.Fatal("Evaluate() expected aggregator error")
	}
}

func TestEvaluatorRejectsInvalidEvent(t *testing.T) {
	t.Parallel()

	evaluator, err := NewEvaluator(&fakeAggregator{}, nil, nil)
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}

	_, err = evaluator.Evaluate(context.Background(), domain.Event{EventType: "ping"}, nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Evaluate() error = %v, want ErrValidation", err)
	}
}

func TestNewEvaluatorRequiresAggregator(t *testing.T) {
	t.Parallel()

	if _, err := NewEvaluator(nil, nil, nil); err == nil {
		t.Fatal("expected error when aggregator is nil")
	}
}
