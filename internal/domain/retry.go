package domain

import (
	"fmt"
	"strings"
	"time"
)

// RetryStatus represents the state of a pending retry.
type RetryStatus string

const (
	RetryStatusPending   RetryStatus = "PENDING"
	RetryStatusInFlight  RetryStatus = "IN_FLIGHT"
	RetryStatusCompleted RetryStatus = "COMPLETED"
	RetryStatusExhausted RetryStatus = "EXHAUSTED"
	RetryStatusCancelled RetryStatus = "CANCELLED"
)

func (s RetryStatus) String() string { return string(s) }

func (s RetryStatus) IsValid() bool {
	switch s {
	case RetryStatusPending, RetryStatusInFlight, RetryStatusCompleted, RetryStatusExhausted, RetryStatusCancelled:
		return true
	}
	return false
}

// IsActive reports whether the task still counts against the
// one-active-retry-per-notification invariant.
func (s RetryStatus) IsActive() bool {
	return s == RetryStatusPending || s == RetryStatusInFlight
}

// RetryTask schedules the next attempt of a failed notification. The
// notification record stays the durable anchor; the task only references it.
type RetryTask struct {
	ID             string
	NotificationID string
	NextAttemptAt  time.Time
	RetriesLeft    int
	Status         RetryStatus
	Seq            int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (t *RetryTask) Validate() error {
	if strings.TrimSpace(t.NotificationID) == "" {
		return fmt.Errorf("%w: notification id is required", ErrValidation)
	}
	if t.RetriesLeft < 0 {
		return fmt.Errorf("%w: retries left must be >= 0", ErrValidation)
	}
	if t.NextAttemptAt.IsZero() {
		return fmt.Errorf("%w: next attempt time is required", ErrValidation)
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("%w: invalid retry status %q", ErrValidation, t.Status)
	}
	return nil
}

// NotificationAttempt records a single physical transport call for a notification.
type NotificationAttempt struct {
	ID                string
	NotificationID    string
	AttemptNumber     int
	ProviderMessageID *string
	Error             *string
	CreatedAt         time.Time
}
