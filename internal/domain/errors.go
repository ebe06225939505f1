package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	// ErrInvalidTimeFormat is returned for malformed quiet-hours bounds or timezones.
	ErrInvalidTimeFormat = fmt.Errorf("%w: invalid time format", ErrValidation)
	// ErrInvalidCondition is returned when a rule trigger condition cannot be parsed.
	ErrInvalidCondition = fmt.Errorf("%w: invalid trigger condition", ErrValidation)

	// ErrDuplicateRetry signals an attempt to create a second active retry task
	// for a notification that already has one.
	ErrDuplicateRetry = errors.New("duplicate retry task for notification")
	// ErrDuplicateDispatch signals that a rule already produced a notification
	// for the same event.
	ErrDuplicateDispatch = fmt.Errorf("%w: rule already dispatched for event", ErrConflict)
)

// Outcome errors. A DispatchOutcome exposes one of these through Err so callers
// can use errors.Is to tell policy outcomes apart from delivery failures.
var (
	ErrPolicySuppressed = errors.New("notification suppressed by quiet hours")
	ErrTransportFailure = errors.New("channel transport failed")
	ErrRetryExhausted   = errors.New("retry budget exhausted")
)
