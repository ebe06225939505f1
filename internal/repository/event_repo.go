package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/notification-engine/internal/domain"
	"gorm.io/gorm"
)

type EventRepository interface {
	Create(ctx context.Context, e *domain.Event) error
	GetByID(ctx context.Context, id string) (*domain.Event, error)
	MarkProcessed(ctx context.Context, id string, at time.Time) error
	CountEvents(ctx context.Context, userID string, eventType string, from time.Time, to time.Time) (int64, error)
}

type GormEventRepo struct {
	db *gorm.DB
}

func NewGormEventRepo(db *gorm.DB) *GormEventRepo {
	return &GormEventRepo{db: db}
}

func (r *GormEventRepo) Create(ctx context.Context, e *domain.Event) error {
	model, err := eventModelFromDomain(e)
	if err != nil {
		return fmt.Errorf("%w: event payload is not serializable: %v", domain.ErrValidation, err)
	}
	if model == nil {
		return fmt.Errorf("%w: event is required", domain.ErrValidation)
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: event %s already recorded", domain.ErrConflict, e.ID)
		}
		return err
	}
	return nil
}

func (r *GormEventRepo) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	var model EventModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return eventModelToDomain(&model)
}

// MarkProcessed stamps processed_at once. A second call leaves the first
// timestamp in place.
func (r *GormEventRepo) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&EventModel{}).
		Where("id = ? AND processed_at IS NULL", id).
		Update("processed_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&EventModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrNotFound
		}
	}
	return nil
}

// CountEvents counts events with occurred_at in [from, to].
func (r *GormEventRepo) CountEvents(ctx context.Context, userID string, eventType string, from time.Time, to time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&EventModel{}).
		Where("user_id = ? AND event_type = ? AND occurred_at BETWEEN ? AND ?", userID, eventType, from, to).
		Count(&count).Error
	return count, err
}
