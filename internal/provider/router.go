package provider

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/notification-engine/internal/domain"
)

// Router dispatches to the sender configured for each channel.
type Router struct {
	email ChannelSender
	sms   ChannelSender
	push  ChannelSender
}

func NewRouter(email, sms, push ChannelSender) *Router {
	return &Router{email: email, sms: sms, push: push}
}

func (r *Router) Send(ctx context.Context, channel domain.Channel, recipient string, message string) (*Receipt, error) {
	var sender ChannelSender
	switch channel {
	case domain.ChannelEmail:
		sender = r.email
	case domain.ChannelSMS:
		sender = r.sms
	case domain.ChannelPush:
		sender = r.push
	default:
		return nil, &ProviderError{Message: fmt.Sprintf("unsupported channel %q", channel)}
	}

	if sender == nil {
		return nil, &ProviderError{Message: fmt.Sprintf("no sender configured for channel %s", channel)}
	}
	return sender.Send(ctx, channel, recipient, message)
}
