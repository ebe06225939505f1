package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/notification-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ListParams struct {
	UserID   *string
	Status   *domain.Status
	Page     int
	PageSize int
}

// RetryAction tells CommitAttempt what to do with the notification's active retry task.
type RetryAction int

const (
	RetryActionNone RetryAction = iota
	// RetryActionSchedule creates the task or reschedules the active one in place.
	RetryActionSchedule
	RetryActionComplete
	RetryActionExhaust
	RetryActionCancel
)

// AttemptCommit describes the result of one dispatch attempt. Notification
// carries the desired state and, in Version, the version the caller read.
type AttemptCommit struct {
	Notification   *domain.Notification
	ExpectedStatus domain.Status
	// Attempt is nil when no transport call happened, e.g. on suppression.
	Attempt       *domain.NotificationAttempt
	RetryAction   RetryAction
	TaskID        string
	NextAttemptAt time.Time
	RetriesLeft   int
	Now           time.Time
}

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	List(ctx context.Context, params ListParams) ([]domain.Notification, int64, error)
	UpdateIf(ctx context.Context, n *domain.Notification, expected domain.Status) error
	CommitAttempt(ctx context.Context, commit AttemptCommit) (*domain.Notification, error)
	CancelWithTask(ctx context.Context, id string, now time.Time) (*domain.Notification, error)
	ListStaleSending(ctx context.Context, staleBefore time.Time, limit int) ([]domain.Notification, error)
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	model := notificationModelFromDomain(n)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			if model.EventID != nil && model.RuleID != nil {
				return fmt.Errorf("%w: rule %s, event %s", domain.ErrDuplicateDispatch, *model.RuleID, *model.EventID)
			}
			return fmt.Errorf("%w: notification %s already exists", domain.ErrConflict, model.ID)
		}
		return err
	}
	if n != nil {
		*n = *notificationModelToDomain(model)
	}
	return nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

// ListStaleSending returns SENDING records last touched before staleBefore
// that have no active retry task, oldest first. Records with an active task
// are recovered through the retry path instead.
func (r *GormNotificationRepo) ListStaleSending(ctx context.Context, staleBefore time.Time, limit int) ([]domain.Notification, error) {
	if limit < 1 {
		limit = 100
	}

	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", domain.StatusSending, staleBefore).
		Where("NOT EXISTS (SELECT 1 FROM retry_tasks t WHERE t.notification_id = notifications.id AND t.status IN ?)", activeRetryStatuses).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}
	return notifications, nil
}

func (r *GormNotificationRepo) List(ctx context.Context, params ListParams) ([]domain.Notification, int64, error) {
	query := r.db.WithContext(ctx).Model(&NotificationModel{})

	if params.UserID != nil {
		query = query.Where("user_id = ?", *params.UserID)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []NotificationModel
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}

	return notifications, total, nil
}

// UpdateIf writes n's status and last error iff the stored row still has the
// expected status and n.Version. On success n.Version is advanced.
func (r *GormNotificationRepo) UpdateIf(ctx context.Context, n *domain.Notification, expected domain.Status) error {
	if n == nil {
		return fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}

	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND version = ? AND status = ?", n.ID, n.Version, expected).
		Updates(map[string]any{
			"status":     n.Status,
			"last_error": n.LastError,
			"version":    gorm.Expr("version + 1"),
			"updated_at": n.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.missOrConflict(ctx, r.db, n.ID)
	}

	n.Version++
	return nil
}

// CommitAttempt applies the record transition, the attempt audit row and the
// retry task change in one transaction. If the record was cancelled while the
// transport ran, the attempt is still counted, the record stays CANCELLED and
// any active task is cancelled.
func (r *GormNotificationRepo) CommitAttempt(ctx context.Context, commit AttemptCommit) (*domain.Notification, error) {
	n := commit.Notification
	if n == nil {
		return nil, fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}

	var committed *domain.Notification
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&NotificationModel{}).
			Where("id = ? AND version = ? AND status = ?", n.ID, n.Version, commit.ExpectedStatus).
			Updates(map[string]any{
				"status":        n.Status,
				"attempts_made": n.AttemptsMade,
				"last_error":    n.LastError,
				"version":       gorm.Expr("version + 1"),
				"updated_at":    commit.Now,
			})
		if result.Error != nil {
			return result.Error
		}

		action := commit.RetryAction
		if result.RowsAffected == 0 {
			var current NotificationModel
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&current, "id = ?", n.ID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			if err != nil {
				return err
			}
			if current.Status != domain.StatusCancelled {
				return domain.ErrConflict
			}

			if commit.Attempt != nil {
				err := tx.Model(&NotificationModel{}).
					Where("id = ?", n.ID).
					Updates(map[string]any{
						"attempts_made": gorm.Expr("LEAST(attempts_made + 1, max_attempts)"),
						"last_error":    n.LastError,
						"version":       gorm.Expr("version + 1"),
						"updated_at":    commit.Now,
					}).Error
				if err != nil {
					return err
				}
			}
			action = RetryActionCancel
		}

		if commit.Attempt != nil {
			if err := tx.Create(attemptModelFromDomain(commit.Attempt)).Error; err != nil {
				return fmt.Errorf("failed to record attempt: %w", err)
			}
		}

		if err := applyRetryAction(tx, n.ID, action, commit); err != nil {
			return err
		}

		var stored NotificationModel
		if err := tx.First(&stored, "id = ?", n.ID).Error; err != nil {
			return err
		}
		committed = notificationModelToDomain(&stored)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return committed, nil
}

// CancelWithTask moves a non-terminal record to CANCELLED and cancels its
// active retry task in the same transaction.
func (r *GormNotificationRepo) CancelWithTask(ctx context.Context, id string, now time.Time) (*domain.Notification, error) {
	var cancelled *domain.Notification
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model NotificationModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if model.Status.IsTerminal() {
			return fmt.Errorf("%w: notification is already %s", domain.ErrConflict, model.Status)
		}

		err = tx.Model(&NotificationModel{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"status":     domain.StatusCancelled,
				"version":    gorm.Expr("version + 1"),
				"updated_at": now,
			}).Error
		if err != nil {
			return err
		}

		err = tx.Model(&RetryTaskModel{}).
			Where("notification_id = ? AND status IN ?", id, activeRetryStatuses).
			Updates(map[string]any{"status": domain.RetryStatusCancelled, "updated_at": now}).Error
		if err != nil {
			return err
		}

		model.Status = domain.StatusCancelled
		model.Version++
		model.UpdatedAt = now
		cancelled = notificationModelToDomain(&model)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return cancelled, nil
}

func (r *GormNotificationRepo) missOrConflict(ctx context.Context, db *gorm.DB, id string) error {
	var count int64
	if err := db.WithContext(ctx).Model(&NotificationModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

func applyRetryAction(tx *gorm.DB, notificationID string, action RetryAction, commit AttemptCommit) error {
	var closeStatus domain.RetryStatus
	switch action {
	case RetryActionNone:
		return nil
	case RetryActionSchedule:
		return scheduleRetry(tx, notificationID, commit)
	case RetryActionComplete:
		closeStatus = domain.RetryStatusCompleted
	case RetryActionExhaust:
		closeStatus = domain.RetryStatusExhausted
	case RetryActionCancel:
		closeStatus = domain.RetryStatusCancelled
	default:
		return fmt.Errorf("unknown retry action %d", action)
	}

	return tx.Model(&RetryTaskModel{}).
		Where("notification_id = ? AND status IN ?", notificationID, activeRetryStatuses).
		Updates(map[string]any{"status": closeStatus, "updated_at": commit.Now}).Error
}

func scheduleRetry(tx *gorm.DB, notificationID string, commit AttemptCommit) error {
	var active RetryTaskModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("notification_id = ? AND status IN ?", notificationID, activeRetryStatuses).
		First(&active).Error
	if err == nil {
		return tx.Model(&RetryTaskModel{}).
			Where("id = ?", active.ID).
			Updates(map[string]any{
				"status":          domain.RetryStatusPending,
				"next_attempt_at": commit.NextAttemptAt,
				"retries_left":    commit.RetriesLeft,
				"updated_at":      commit.Now,
			}).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	task := &RetryTaskModel{
		ID:             commit.TaskID,
		NotificationID: notificationID,
		NextAttemptAt:  commit.NextAttemptAt,
		RetriesLeft:    commit.RetriesLeft,
		Status:         domain.RetryStatusPending,
		CreatedAt:      commit.Now,
		UpdatedAt:      commit.Now,
	}
	if err := tx.Create(task).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateRetry
		}
		return err
	}
	return nil
}
