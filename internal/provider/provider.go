package provider

import (
	"context"

	"github.com/kursadbilgin/notification-engine/internal/domain"
)

// ChannelSender delivers a rendered message to a resolved recipient address.
type ChannelSender interface {
	Send(ctx context.Context, channel domain.Channel, recipient string, message string) (*Receipt, error)
}

// Receipt stores provider call metadata for the attempt audit trail.
type Receipt struct {
	StatusCode int
	MessageID  string
}
