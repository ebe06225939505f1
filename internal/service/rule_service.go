package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-engine/internal/domain"
	"github.com/kursadbilgin/notification-engine/internal/repository"
	"github.com/kursadbilgin/notification-engine/internal/rule"
	"go.uber.org/zap"
)

// RuleCanceller cancels the pending retries a rule created.
type RuleCanceller interface {
	CancelForRule(ctx context.Context, ruleID string) (int, error)
}

type RuleService struct {
	rules     repository.RuleRepository
	canceller RuleCanceller
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

func NewRuleService(rules repository.RuleRepository, canceller RuleCanceller, logger *zap.Logger) (*RuleService, error) {
	if rules == nil {
		return nil, fmt.Errorf("rule repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RuleService{
		rules:     rules,
		canceller: canceller,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

// Create validates the rule, including its trigger condition, and stores it active.
func (s *RuleService) Create(ctx context.Context, r *domain.Rule) (*domain.Rule, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: rule is required", domain.ErrValidation)
	}

	r.ID = s.newID()
	r.Name = strings.TrimSpace(r.Name)
	r.EventType = strings.TrimSpace(r.EventType)
	r.TriggerCondition = strings.TrimSpace(r.TriggerCondition)
	if r.Priority == "" {
		r.Priority = domain.PriorityNormal
	}
	r.Active = true
	r.CreatedAt = s.now().UTC()
	r.UpdatedAt = r.CreatedAt

	if err := r.Validate(); err != nil {
		return nil, err
	}
	if _, err := rule.ParseCondition(r.TriggerCondition); err != nil {
		return nil, err
	}

	if err := s.rules.Create(ctx, r); err != nil {
		return nil, err
	}

	s.logger.Info("rule created",
		zap.String("ruleId", r.ID),
		zap.String("eventType", r.EventType),
		zap.String("channel", strings.ToLower(r.Channel.String())),
	)
	return r, nil
}

func (s *RuleService) Get(ctx context.Context, id string) (*domain.Rule, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: rule id is required", domain.ErrValidation)
	}
	return s.rules.GetByID(ctx, strings.TrimSpace(id))
}

// Deactivate stops the rule from firing and cancels its pending retries. It
// returns the number of cancelled notifications.
func (s *RuleService) Deactivate(ctx context.Context, id string) (int, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return 0, fmt.Errorf("%w: rule id is required", domain.ErrValidation)
	}

	if err := s.rules.Deactivate(ctx, id); err != nil {
		return 0, err
	}

	cancelled := 0
	if s.canceller != nil {
		n, err := s.canceller.CancelForRule(ctx, id)
		if err != nil {
			return n, fmt.Errorf("rule deactivated but cancelling retries failed: %w", err)
		}
		cancelled = n
	}

	s.logger.Info("rule deactivated", zap.String("ruleId", id), zap.Int("cancelledRetries", cancelled))
	return cancelled, nil
}
