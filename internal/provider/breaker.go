package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/notification-engine/internal/domain"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	defaultBreakerFailureThreshold = 5
	defaultBreakerOpenTimeout      = 30 * time.Second
)

type BreakerSettings struct {
	FailureThreshold uint32
	OpenTimeout      time.Duration
	// OnStateChange is called after a channel breaker changes state.
	OnStateChange func(channel domain.Channel, state gobreaker.State)
}

// BreakerSender wraps a ChannelSender with one circuit breaker per channel.
// Only transient failures count against the breaker.
type BreakerSender struct {
	next     ChannelSender
	breakers map[domain.Channel]*gobreaker.CircuitBreaker[*Receipt]
	logger   *zap.Logger
}

func NewBreakerSender(next ChannelSender, settings BreakerSettings, logger *zap.Logger) (*BreakerSender, error) {
	if next == nil {
		return nil, fmt.Errorf("channel sender is required")
	}
	if settings.FailureThreshold == 0 {
		settings.FailureThreshold = defaultBreakerFailureThreshold
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = defaultBreakerOpenTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &BreakerSender{
		next:     next,
		breakers: make(map[domain.Channel]*gobreaker.CircuitBreaker[*Receipt], len(domain.Channels)),
		logger:   logger,
	}

	for _, channel := range domain.Channels {
		channel := channel
		s.breakers[channel] = gobreaker.NewCircuitBreaker[*Receipt](gobreaker.Settings{
			Name:        "sender-" + string(channel),
			MaxRequests: 1,
			Timeout:     settings.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= settings.FailureThreshold
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !IsTransient(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("channel circuit breaker state changed",
					zap.String("channel", string(channel)),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
				if settings.OnStateChange != nil {
					settings.OnStateChange(channel, to)
				}
			},
		})
	}

	return s, nil
}

func (s *BreakerSender) Send(ctx context.Context, channel domain.Channel, recipient string, message string) (*Receipt, error) {
	cb, ok := s.breakers[channel]
	if !ok {
		return s.next.Send(ctx, channel, recipient, message)
	}

	receipt, err := cb.Execute(func() (*Receipt, error) {
		return s.next.Send(ctx, channel, recipient, message)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, transientError(fmt.Sprintf("circuit open for channel %s", channel), err)
	}
	return receipt, err
}

// State reports the breaker state of a channel.
func (s *BreakerSender) State(channel domain.Channel) gobreaker.State {
	if cb, ok := s.breakers[channel]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}
