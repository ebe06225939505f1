// Package dnd decides whether a recipient's quiet hours suppress delivery.
package dnd

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // zone database for images without /usr/share/zoneinfo

	"github.com/kursadbilgin/notification-engine/internal/domain"
)

const secondsPerDay = 24 * 60 * 60

// TimeOfDay is a wall-clock time expressed in seconds since local midnight.
type TimeOfDay int

func NewTimeOfDay(hour, minute, second int) TimeOfDay {
	return TimeOfDay(hour*3600 + minute*60 + second)
}

// FromTime returns the time of day of t in t's location.
func FromTime(t time.Time) TimeOfDay {
	return NewTimeOfDay(t.Hour(), t.Minute(), t.Second())
}

func (t TimeOfDay) String() string {
	s := int(t)
	if s%60 != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
	}
	return fmt.Sprintf("%02d:%02d", s/3600, (s%3600)/60)
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS" in 24-hour notation.
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	trimmed := strings.TrimSpace(value)
	parts := strings.Split(trimmed, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("%w: %q is not HH:MM", domain.ErrInvalidTimeFormat, value)
	}

	limits := []int{23, 59, 59}
	fields := make([]int, 3)
	for i, part := range parts {
		if len(part) != 2 || !isDigit(part[0]) || !isDigit(part[1]) {
			return 0, fmt.Errorf("%w: %q is not HH:MM", domain.ErrInvalidTimeFormat, value)
		}
		n, err := strconv.Atoi(part)
		if err != nil || n > limits[i] {
			return 0, fmt.Errorf("%w: %q is not HH:MM", domain.ErrInvalidTimeFormat, value)
		}
		fields[i] = n
	}

	return NewTimeOfDay(fields[0], fields[1], fields[2]), nil
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// IsSuppressed reports whether now falls inside the [start, end) window.
// A window with start >= end wraps past midnight. A missing bound never suppresses.
func IsSuppressed(now TimeOfDay, start, end *TimeOfDay) bool {
	if start == nil || end == nil {
		return false
	}
	if *start < *end {
		return *start <= now && now < *end
	}
	return now >= *start || now < *end
}

// Evaluator resolves quiet hours against the recipient's local clock.
type Evaluator struct {
	defaultLocation *time.Location
}

func NewEvaluator(defaultLocation *time.Location) *Evaluator {
	if defaultLocation == nil {
		defaultLocation = time.UTC
	}
	return &Evaluator{defaultLocation: defaultLocation}
}

// Suppressed converts now into timezone and checks it against qh. An empty
// timezone uses the evaluator's default location.
func (e *Evaluator) Suppressed(now time.Time, qh domain.QuietHours, timezone string) (bool, error) {
	start, end, err := ParseQuietHours(qh)
	if err != nil {
		return false, err
	}
	if start == nil || end == nil {
		return false, nil
	}

	loc, err := e.location(timezone)
	if err != nil {
		return false, err
	}

	return IsSuppressed(FromTime(now.In(loc)), start, end), nil
}

// ParseQuietHours parses both bounds. A nil or blank bound stays nil.
func ParseQuietHours(qh domain.QuietHours) (*TimeOfDay, *TimeOfDay, error) {
	start, err := parseOptional(qh.Start)
	if err != nil {
		return nil, nil, err
	}
	end, err := parseOptional(qh.End)
	if err != nil {
		return nil, nil, err
	}
	return start, end, nil
}

// Validate checks that quiet hours and timezone are well formed.
func (e *Evaluator) Validate(qh domain.QuietHours, timezone string) error {
	if _, _, err := ParseQuietHours(qh); err != nil {
		return err
	}
	_, err := e.location(timezone)
	return err
}

func (e *Evaluator) location(timezone string) (*time.Location, error) {
	name := strings.TrimSpace(timezone)
	if name == "" {
		return e.defaultLocation, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", domain.ErrInvalidTimeFormat, timezone)
	}
	return loc, nil
}

func parseOptional(value *string) (*TimeOfDay, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	parsed, err := ParseTimeOfDay(*value)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
