package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ProviderError is a failed channel transport call. Transient failures are
// retried with backoff; anything else exhausts the record immediately.
type ProviderError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func transientError(message string, cause error) *ProviderError {
	return &ProviderError{Message: message, Transient: true, Cause: cause}
}

func permanentError(message string, cause error) *ProviderError {
	return &ProviderError{Message: message, Cause: cause}
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	msg := e.Message
	if msg == "" {
		msg = "send failed"
	}
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return "provider: " + msg
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a send failure is worth another attempt.
// Caller cancellation never is; deadlines and network timeouts always are.
func IsTransient(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// FailureKind is the metrics label for a send failure.
func FailureKind(err error) string {
	if err == nil {
		return "none"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
