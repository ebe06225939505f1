package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a notification record.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusSending    Status = "SENDING"
	StatusSent       Status = "SENT"
	StatusSuppressed Status = "SUPPRESSED"
	StatusFailed     Status = "FAILED"
	StatusExhausted  Status = "EXHAUSTED"
	StatusCancelled  Status = "CANCELLED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusSending, StatusSent, StatusSuppressed, StatusFailed, StatusExhausted, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further automatic transition leaves s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSent, StatusSuppressed, StatusExhausted, StatusCancelled:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Channel represents the delivery channel.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
	ChannelPush  Channel = "PUSH"
)

// Channels lists every supported delivery channel.
var Channels = []Channel{ChannelEmail, ChannelSMS, ChannelPush}

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelPush:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// Priority represents the message priority level.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// ParsePriorityFromString parses a priority, defaulting an empty value to NORMAL.
func ParsePriorityFromString(s string) (Priority, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return PriorityNormal, nil
	}
	pr := Priority(strings.ToUpper(trimmed))
	if !pr.IsValid() {
		return "", fmt.Errorf("%w: invalid priority %q", ErrValidation, s)
	}
	return pr, nil
}

// Content limits per channel (in characters).
const (
	MaxSMSContent   = 160
	MaxPushContent  = 240
	MaxEmailContent = 10000
)

// Notification is the durable record of one delivery attempt-group. Physical
// retries share the record; AttemptsMade counts them.
type Notification struct {
	ID           string
	UserID       string
	RuleID       *string
	EventID      *string
	Channel      Channel
	Priority     Priority
	Recipient    string
	Message      string
	Status       Status
	AttemptsMade int
	MaxAttempts  int
	LastError    *string
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ValidateContent checks channel, priority and per-channel message limits.
func ValidateContent(channel Channel, priority Priority, message string) error {
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	if !channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, channel)
	}
	if !priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", ErrValidation, priority)
	}

	contentLen := len([]rune(message))
	switch channel {
	case ChannelSMS:
		if contentLen > MaxSMSContent {
			return fmt.Errorf("%w: SMS content exceeds %d characters (got %d)", ErrValidation, MaxSMSContent, contentLen)
		}
	case ChannelPush:
		if contentLen > MaxPushContent {
			return fmt.Errorf("%w: push content exceeds %d characters (got %d)", ErrValidation, MaxPushContent, contentLen)
		}
	case ChannelEmail:
		if contentLen > MaxEmailContent {
			return fmt.Errorf("%w: email content exceeds %d characters (got %d)", ErrValidation, MaxEmailContent, contentLen)
		}
	}

	return nil
}

func (n *Notification) Validate() error {
	if strings.TrimSpace(n.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if strings.TrimSpace(n.Recipient) == "" {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if n.AttemptsMade < 0 {
		return fmt.Errorf("%w: attempts made must be >= 0", ErrValidation)
	}
	if n.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be >= 1", ErrValidation)
	}
	return ValidateContent(n.Channel, n.Priority, n.Message)
}

// SendRequest asks the dispatch engine to deliver a message to a user.
type SendRequest struct {
	UserID   string
	Channel  Channel
	Priority Priority
	Message  string
	RuleID   *string
	EventID  *string
}
