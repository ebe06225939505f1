package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/notification-engine/internal/domain"
	"gorm.io/gorm"
)

type RuleRepository interface {
	Create(ctx context.Context, r *domain.Rule) error
	GetByID(ctx context.Context, id string) (*domain.Rule, error)
	ListActiveByEventType(ctx context.Context, eventType string) ([]domain.Rule, error)
	Deactivate(ctx context.Context, id string) error
}

type GormRuleRepo struct {
	db *gorm.DB
}

func NewGormRuleRepo(db *gorm.DB) *GormRuleRepo {
	return &GormRuleRepo{db: db}
}

func (r *GormRuleRepo) Create(ctx context.Context, rule *domain.Rule) error {
	model := ruleModelFromDomain(rule)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if rule != nil {
		*rule = *ruleModelToDomain(model)
	}
	return nil
}

func (r *GormRuleRepo) GetByID(ctx context.Context, id string) (*domain.Rule, error) {
	var model RuleModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ruleModelToDomain(&model), nil
}

func (r *GormRuleRepo) ListActiveByEventType(ctx context.Context, eventType string) ([]domain.Rule, error) {
	var models []RuleModel
	err := r.db.WithContext(ctx).
		Where("event_type = ? AND active = ?", eventType, true).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	rules := make([]domain.Rule, 0, len(models))
	for i := range models {
		rules = append(rules, *ruleModelToDomain(&models[i]))
	}
	return rules, nil
}

func (r *GormRuleRepo) Deactivate(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&RuleModel{}).
		Where("id = ?", id).
		Updates(map[string]any{"active": false, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
