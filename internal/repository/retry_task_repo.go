package repository

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/kursadbilgin/notification-engine/internal/domain"
	"gorm.io/gorm"
)

var activeRetryStatuses = []domain.RetryStatus{domain.RetryStatusPending, domain.RetryStatusInFlight}

type RetryTaskRepository interface {
	Enqueue(ctx context.Context, t *domain.RetryTask) error
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.RetryTask, error)
	Release(ctx context.Context, taskID string, nextAttemptAt time.Time) error
	Close(ctx context.Context, taskID string, status domain.RetryStatus, now time.Time) error
	RecoverInFlight(ctx context.Context, staleBefore time.Time, now time.Time) (int64, error)
	GetActiveByNotificationID(ctx context.Context, notificationID string) (*domain.RetryTask, error)
	ListPendingByUser(ctx context.Context, userID string) ([]domain.RetryTask, error)
	ListPendingByRule(ctx context.Context, ruleID string) ([]domain.RetryTask, error)
}

type GormRetryTaskRepo struct {
	db *gorm.DB
}

func NewGormRetryTaskRepo(db *gorm.DB) *GormRetryTaskRepo {
	return &GormRetryTaskRepo{db: db}
}

// Enqueue inserts a PENDING task. A second active task for the same
// notification violates idx_retry_tasks_active_notification.
func (r *GormRetryTaskRepo) Enqueue(ctx context.Context, t *domain.RetryTask) error {
	if t == nil {
		return domain.ErrValidation
	}
	if t.Status == "" {
		t.Status = domain.RetryStatusPending
	}
	if err := t.Validate(); err != nil {
		return err
	}

	model := retryTaskModelFromDomain(t)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateRetry
		}
		return err
	}
	*t = *retryTaskModelToDomain(model)
	return nil
}

const claimDueSQL = `
UPDATE retry_tasks SET status = ?, updated_at = ?
WHERE id IN (
	SELECT id FROM retry_tasks
	WHERE status = ? AND next_attempt_at <= ?
	ORDER BY next_attempt_at ASC, seq ASC
	LIMIT ?
	FOR UPDATE SKIP LOCKED
)
RETURNING *`

// ClaimDue moves up to limit due PENDING tasks to IN_FLIGHT in one statement
// and returns them in (next_attempt_at, seq) order.
func (r *GormRetryTaskRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.RetryTask, error) {
	if limit <= 0 {
		return nil, nil
	}

	var models []RetryTaskModel
	err := r.db.WithContext(ctx).
		Raw(claimDueSQL, domain.RetryStatusInFlight, now, domain.RetryStatusPending, now, limit).
		Scan(&models).Error
	if err != nil {
		return nil, err
	}

	// RETURNING does not preserve the subquery order.
	slices.SortFunc(models, func(a, b RetryTaskModel) int {
		if c := a.NextAttemptAt.Compare(b.NextAttemptAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})

	tasks := make([]domain.RetryTask, 0, len(models))
	for i := range models {
		tasks = append(tasks, *retryTaskModelToDomain(&models[i]))
	}
	return tasks, nil
}

// Release returns an IN_FLIGHT task to PENDING.
func (r *GormRetryTaskRepo) Release(ctx context.Context, taskID string, nextAttemptAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&RetryTaskModel{}).
		Where("id = ? AND status = ?", taskID, domain.RetryStatusInFlight).
		Updates(map[string]any{
			"status":          domain.RetryStatusPending,
			"next_attempt_at": nextAttemptAt,
			"updated_at":      time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// Close moves an active task to a terminal status.
func (r *GormRetryTaskRepo) Close(ctx context.Context, taskID string, status domain.RetryStatus, now time.Time) error {
	if !status.IsValid() || status.IsActive() {
		return domain.ErrValidation
	}

	result := r.db.WithContext(ctx).
		Model(&RetryTaskModel{}).
		Where("id = ? AND status IN ?", taskID, activeRetryStatuses).
		Updates(map[string]any{"status": status, "updated_at": now})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// RecoverInFlight returns tasks claimed before staleBefore to PENDING. It runs
// when the scheduler starts so a crash between claim and commit loses nothing.
func (r *GormRetryTaskRepo) RecoverInFlight(ctx context.Context, staleBefore time.Time, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&RetryTaskModel{}).
		Where("status = ? AND updated_at < ?", domain.RetryStatusInFlight, staleBefore).
		Updates(map[string]any{"status": domain.RetryStatusPending, "updated_at": now})
	return result.RowsAffected, result.Error
}

func (r *GormRetryTaskRepo) GetActiveByNotificationID(ctx context.Context, notificationID string) (*domain.RetryTask, error) {
	var model RetryTaskModel
	err := r.db.WithContext(ctx).
		Where("notification_id = ? AND status IN ?", notificationID, activeRetryStatuses).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return retryTaskModelToDomain(&model), nil
}

func (r *GormRetryTaskRepo) ListPendingByUser(ctx context.Context, userID string) ([]domain.RetryTask, error) {
	return r.listPendingJoined(ctx, "notifications.user_id = ?", userID)
}

func (r *GormRetryTaskRepo) ListPendingByRule(ctx context.Context, ruleID string) ([]domain.RetryTask, error) {
	return r.listPendingJoined(ctx, "notifications.rule_id = ?", ruleID)
}

func (r *GormRetryTaskRepo) listPendingJoined(ctx context.Context, where string, arg string) ([]domain.RetryTask, error) {
	var models []RetryTaskModel
	err := r.db.WithContext(ctx).
		Model(&RetryTaskModel{}).
		Select("retry_tasks.*").
		Joins("JOIN notifications ON notifications.id = retry_tasks.notification_id").
		Where(where, arg).
		Where("retry_tasks.status = ?", domain.RetryStatusPending).
		Order("retry_tasks.next_attempt_at ASC").
		Order("retry_tasks.seq ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	tasks := make([]domain.RetryTask, 0, len(models))
	for i := range models {
		tasks = append(tasks, *retryTaskModelToDomain(&models[i]))
	}
	return tasks, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
