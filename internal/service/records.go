package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/notification-engine/internal/domain"
	"github.com/kursadbilgin/notification-engine/internal/observability"
	"github.com/kursadbilgin/notification-engine/internal/repository"
	"go.uber.org/zap"
)

func (e *Engine) GetRecord(ctx context.Context, id string) (*domain.Notification, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	return e.notifications.GetByID(ctx, strings.TrimSpace(id))
}

// GetAttempts returns the transport audit trail of a record, oldest first.
func (e *Engine) GetAttempts(ctx context.Context, id string) ([]domain.NotificationAttempt, error) {
	if e.attempts == nil {
		return nil, nil
	}
	return e.attempts.GetByNotificationID(ctx, strings.TrimSpace(id))
}

// ListRecords returns records newest first.
func (e *Engine) ListRecords(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error) {
	return e.notifications.List(ctx, params)
}

// CancelRetry cancels a record that has not reached a terminal status along
// with its pending retry task.
func (e *Engine) CancelRetry(ctx context.Context, id string) (*domain.Notification, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}

	cancelled, err := e.notifications.CancelWithTask(ctx, id, e.now().UTC())
	if err != nil {
		return nil, err
	}

	e.logger.Info("notification cancelled",
		observability.DispatchFields(cancelled.ID, cancelled.UserID, cancelled.Channel.String())...)
	return cancelled, nil
}

// CancelForUser cancels every pending retry of the user and returns how many
// records were cancelled.
func (e *Engine) CancelForUser(ctx context.Context, userID string) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	tasks, err := e.tasks.ListPendingByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending retries for user: %w", err)
	}
	return e.cancelTasks(ctx, tasks, zap.String("userId", userID))
}

// CancelForRule cancels every pending retry of notifications created by the rule.
func (e *Engine) CancelForRule(ctx context.Context, ruleID string) (int, error) {
	ruleID = strings.TrimSpace(ruleID)
	if ruleID == "" {
		return 0, fmt.Errorf("%w: rule id is required", domain.ErrValidation)
	}

	tasks, err := e.tasks.ListPendingByRule(ctx, ruleID)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending retries for rule: %w", err)
	}
	return e.cancelTasks(ctx, tasks, zap.String("ruleId", ruleID))
}

func (e *Engine) cancelTasks(ctx context.Context, tasks []domain.RetryTask, scope zap.Field) (int, error) {
	cancelled := 0
	for i := range tasks {
		_, err := e.notifications.CancelWithTask(ctx, tasks[i].NotificationID, e.now().UTC())
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return cancelled, fmt.Errorf("failed to cancel notification %s: %w", tasks[i].NotificationID, err)
		}
		cancelled++
	}

	if cancelled > 0 {
		e.logger.Info("pending retries cancelled", scope, zap.Int("count", cancelled))
	}
	return cancelled, nil
}
