package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/notification-engine/internal/domain"
	"gorm.io/gorm"
)

const defaultTimezone = "UTC"

// UserDirectory is the read-only view of recipients the engine needs.
type UserDirectory interface {
	Exists(ctx context.Context, userID string) (bool, error)
	GetQuietHours(ctx context.Context, userID string) (domain.QuietHours, string, error)
	ResolveRecipient(ctx context.Context, userID string, channel domain.Channel) (string, error)
	PreferredChannel(ctx context.Context, userID string) (domain.Channel, error)
}

type GormUserDirectory struct {
	db *gorm.DB
}

func NewGormUserDirectory(db *gorm.DB) *GormUserDirectory {
	return &GormUserDirectory{db: db}
}

func (r *GormUserDirectory) Exists(ctx context.Context, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", userID).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetQuietHours returns the user's quiet hours and IANA timezone.
func (r *GormUserDirectory) GetQuietHours(ctx context.Context, userID string) (domain.QuietHours, string, error) {
	user, err := r.get(ctx, userID)
	if err != nil {
		return domain.QuietHours{}, "", err
	}

	timezone := strings.TrimSpace(user.Timezone)
	if timezone == "" {
		timezone = defaultTimezone
	}
	return user.QuietHours(), timezone, nil
}

func (r *GormUserDirectory) ResolveRecipient(ctx context.Context, userID string, channel domain.Channel) (string, error) {
	user, err := r.get(ctx, userID)
	if err != nil {
		return "", err
	}

	address := strings.TrimSpace(user.Address(channel))
	if address == "" {
		return "", fmt.Errorf("%w: user %s has no %s address", domain.ErrValidation, userID, channel)
	}
	return address, nil
}

// PreferredChannel returns the channel the user picked, or "" when none is set.
func (r *GormUserDirectory) PreferredChannel(ctx context.Context, userID string) (domain.Channel, error) {
	user, err := r.get(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.PreferredChannel, nil
}

func (r *GormUserDirectory) get(ctx context.Context, userID string) (*domain.User, error) {
	var model UserModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return userModelToDomain(&model), nil
}
