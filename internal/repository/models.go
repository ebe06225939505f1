package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/notification-engine/internal/domain"
)

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID           string          `gorm:"type:uuid;primaryKey"`
	UserID       string          `gorm:"type:varchar(64);not null"`
	RuleID       *string         `gorm:"type:uuid"`
	EventID      *string         `gorm:"type:uuid"`
	Channel      domain.Channel  `gorm:"type:varchar(10);not null"`
	Priority     domain.Priority `gorm:"type:varchar(10);not null"`
	Recipient    string          `gorm:"type:varchar(255);not null"`
	Message      string          `gorm:"type:text;not null"`
	Status       domain.Status   `gorm:"type:varchar(20);not null"`
	AttemptsMade int             `gorm:"not null;default:0"`
	MaxAttempts  int             `gorm:"not null;default:3"`
	LastError    *string         `gorm:"type:text"`
	Version      int64           `gorm:"not null;default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// NotificationAttemptModel is the persistence model for notification_attempts.
type NotificationAttemptModel struct {
	ID                string  `gorm:"type:uuid;primaryKey"`
	NotificationID    string  `gorm:"type:uuid;not null"`
	AttemptNumber     int     `gorm:"not null"`
	ProviderMessageID *string `gorm:"type:varchar(255)"`
	Error             *string `gorm:"type:text"`
	CreatedAt         time.Time
}

func (NotificationAttemptModel) TableName() string {
	return "notification_attempts"
}

// RetryTaskModel is the persistence model for retry_tasks. Seq is assigned by
// the database and never written by the application.
type RetryTaskModel struct {
	ID             string             `gorm:"type:uuid;primaryKey"`
	NotificationID string             `gorm:"type:uuid;not null"`
	NextAttemptAt  time.Time          `gorm:"type:timestamptz;not null"`
	RetriesLeft    int                `gorm:"not null"`
	Status         domain.RetryStatus `gorm:"type:varchar(20);not null"`
	Seq            int64              `gorm:"type:bigserial;autoIncrement;not null;<-:false"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (RetryTaskModel) TableName() string {
	return "retry_tasks"
}

// RuleModel is the persistence model for notification_rules.
type RuleModel struct {
	ID                string          `gorm:"type:uuid;primaryKey"`
	Name              string          `gorm:"type:varchar(255);not null"`
	EventType         string          `gorm:"type:varchar(100);not null"`
	TriggerCondition  string          `gorm:"type:varchar(255);not null"`
	TimeWindowMinutes *int            `gorm:"type:int"`
	MessageTemplate   string          `gorm:"type:text;not null"`
	Channel           domain.Channel  `gorm:"type:varchar(10);not null"`
	Priority          domain.Priority `gorm:"type:varchar(10);not null"`
	Active            bool            `gorm:"not null;default:true"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (RuleModel) TableName() string {
	return "notification_rules"
}

// EventModel is the persistence model for activity_events.
type EventModel struct {
	ID         string    `gorm:"type:uuid;primaryKey"`
	UserID     string    `gorm:"type:varchar(64);not null"`
	EventType  string    `gorm:"type:varchar(100);not null"`
	Payload     string     `gorm:"type:jsonb;not null;default:'{}'"`
	OccurredAt  time.Time  `gorm:"type:timestamptz;not null"`
	ProcessedAt *time.Time `gorm:"type:timestamptz"`
}

func (EventModel) TableName() string {
	return "activity_events"
}

// UserModel is the read-only projection of the users table owned by the account service.
type UserModel struct {
	ID               string         `gorm:"type:varchar(64);primaryKey"`
	Email            string         `gorm:"type:varchar(255)"`
	Phone            string         `gorm:"type:varchar(32)"`
	PushToken        string         `gorm:"type:varchar(512)"`
	PreferredChannel domain.Channel `gorm:"type:varchar(10)"`
	DNDStart         *string        `gorm:"column:dnd_start;type:varchar(8)"`
	DNDEnd           *string        `gorm:"column:dnd_end;type:varchar(8)"`
	Timezone         string         `gorm:"type:varchar(64);not null;default:'UTC'"`
	CreatedAt        time.Time
}

func (UserModel) TableName() string {
	return "users"
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:           n.ID,
		UserID:       n.UserID,
		RuleID:       n.RuleID,
		EventID:      n.EventID,
		Channel:      n.Channel,
		Priority:     n.Priority,
		Recipient:    n.Recipient,
		Message:      n.Message,
		Status:       n.Status,
		AttemptsMade: n.AttemptsMade,
		MaxAttempts:  n.MaxAttempts,
		LastError:    n.LastError,
		Version:      n.Version,
		CreatedAt:    n.CreatedAt,
		UpdatedAt:    n.UpdatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:           m.ID,
		UserID:       m.UserID,
		RuleID:       m.RuleID,
		EventID:      m.EventID,
		Channel:      m.Channel,
		Priority:     m.Priority,
		Recipient:    m.Recipient,
		Message:      m.Message,
		Status:       m.Status,
		AttemptsMade: m.AttemptsMade,
		MaxAttempts:  m.MaxAttempts,
		LastError:    m.LastError,
		Version:      m.Version,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.NotificationAttempt) *NotificationAttemptModel {
	if a == nil {
		return nil
	}

	return &NotificationAttemptModel{
		ID:                a.ID,
		NotificationID:    a.NotificationID,
		AttemptNumber:     a.AttemptNumber,
		ProviderMessageID: a.ProviderMessageID,
		Error:             a.Error,
		CreatedAt:         a.CreatedAt,
	}
}

func attemptModelToDomain(m *NotificationAttemptModel) *domain.NotificationAttempt {
	if m == nil {
		return nil
	}

	return &domain.NotificationAttempt{
		ID:                m.ID,
		NotificationID:    m.NotificationID,
		AttemptNumber:     m.AttemptNumber,
		ProviderMessageID: m.ProviderMessageID,
		Error:             m.Error,
		CreatedAt:         m.CreatedAt,
	}
}

func retryTaskModelFromDomain(t *domain.RetryTask) *RetryTaskModel {
	if t == nil {
		return nil
	}

	return &RetryTaskModel{
		ID:             t.ID,
		NotificationID: t.NotificationID,
		NextAttemptAt:  t.NextAttemptAt,
		RetriesLeft:    t.RetriesLeft,
		Status:         t.Status,
		Seq:            t.Seq,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func retryTaskModelToDomain(m *RetryTaskModel) *domain.RetryTask {
	if m == nil {
		return nil
	}

	return &domain.RetryTask{
		ID:             m.ID,
		NotificationID: m.NotificationID,
		NextAttemptAt:  m.NextAttemptAt,
		RetriesLeft:    m.RetriesLeft,
		Status:         m.Status,
		Seq:            m.Seq,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func ruleModelFromDomain(r *domain.Rule) *RuleModel {
	if r == nil {
		return nil
	}

	return &RuleModel{
		ID:                r.ID,
		Name:              r.Name,
		EventType:         r.EventType,
		TriggerCondition:  r.TriggerCondition,
		TimeWindowMinutes: r.TimeWindowMinutes,
		MessageTemplate:   r.MessageTemplate,
		Channel:           r.Channel,
		Priority:          r.Priority,
		Active:            r.Active,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func ruleModelToDomain(m *RuleModel) *domain.Rule {
	if m == nil {
		return nil
	}

	return &domain.Rule{
		ID:                m.ID,
		Name:              m.Name,
		EventType:         m.EventType,
		TriggerCondition:  m.TriggerCondition,
		TimeWindowMinutes: m.TimeWindowMinutes,
		MessageTemplate:   m.MessageTemplate,
		Channel:           m.Channel,
		Priority:          m.Priority,
		Active:            m.Active,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func eventModelFromDomain(e *domain.Event) (*EventModel, error) {
	if e == nil {
		return nil, nil
	}

	payload := []byte("{}")
	if len(e.Payload) > 0 {
		encoded, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, err
		}
		payload = encoded
	}

	return &EventModel{
		ID:         e.ID,
		UserID:     e.UserID,
		EventType:  e.EventType,
		Payload:     string(payload),
		OccurredAt:  e.OccurredAt,
		ProcessedAt: e.ProcessedAt,
	}, nil
}

func eventModelToDomain(m *EventModel) (*domain.Event, error) {
	if m == nil {
		return nil, nil
	}

	var payload map[string]any
	if m.Payload != "" {
		if err := json.Unmarshal([]byte(m.Payload), &payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload of event %s: %w", m.ID, err)
		}
	}

	return &domain.Event{
		ID:          m.ID,
		UserID:      m.UserID,
		EventType:   m.EventType,
		Payload:     payload,
		OccurredAt:  m.OccurredAt,
		ProcessedAt: m.ProcessedAt,
	}, nil
}

func userModelToDomain(m *UserModel) *domain.User {
	if m == nil {
		return nil
	}

	return &domain.User{
		ID:               m.ID,
		Email:            m.Email,
		Phone:            m.Phone,
		PushToken:        m.PushToken,
		PreferredChannel: m.PreferredChannel,
		DNDStart:         m.DNDStart,
		DNDEnd:           m.DNDEnd,
		Timezone:         m.Timezone,
		CreatedAt:        m.CreatedAt,
	}
}
