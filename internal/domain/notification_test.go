package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestParseStatusFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Status
		wantErr bool
	}{
		{name: "valid uppercase", input: "SENT", want: StatusSent},
		{name: "valid lowercase with spaces", input: " suppressed ", want: StatusSuppressed},
		{name: "exhausted", input: "exhausted", want: StatusExhausted},
		{name: "invalid", input: "retried", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseStatusFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseStatusFromString() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseStatusFromString() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseStatusFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStatusIsTerminal(t *testing.T) {
	t.Parallel()

	terminal := map[Status]bool{
		StatusQueued:     false,
		StatusSending:    false,
		StatusFailed:     false,
		StatusSent:       true,
		StatusSuppressed: true,
		StatusExhausted:  true,
		StatusCancelled:  true,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Fatalf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestParseChannelAndPriority(t *testing.T) {
	t.Parallel()

	channels := map[string]Channel{" sms ": ChannelSMS, "Email": ChannelEmail, "PUSH": ChannelPush}
	for in, want := range channels {
		if got, err := ParseChannelFromString(in); err != nil || got != want {
			t.Fatalf("ParseChannelFromString(%q) = %s, %v, want %s", in, got, err, want)
		}
	}
	if _, err := ParseChannelFromString("fax"); !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseChannelFromString(fax) error = %v, want ErrValidation", err)
	}

	priorities := map[string]Priority{" high ": PriorityHigh, "": PriorityNormal, "low": PriorityLow}
	for in, want := range priorities {
		if got, err := ParsePriorityFromString(in); err != nil || got != want {
			t.Fatalf("ParsePriorityFromString(%q) = %s, %v, want %s", in, got, err, want)
		}
	}
	if _, err := ParsePriorityFromString("urgent"); !errors.Is(err, ErrValidation) {
		t.Fatalf("ParsePriorityFromString(urgent) error = %v, want ErrValidation", err)
	}
}

func TestNotificationValidate(t *testing.T) {
	t.Parallel()

	valid := func() Notification {
		return Notification{
			UserID:      "u1",
			Channel:     ChannelSMS,
			Priority:    PriorityNormal,
			Recipient:   "+905551112233",
			Message:     "hello",
			MaxAttempts: 3,
		}
	}

	rejected := map[string]func(*Notification){
		"blank user":        func(n *Notification) { n.UserID = " " },
		"no recipient":      func(n *Notification) { n.Recipient = "" },
		"no message":        func(n *Notification) { n.Message = "" },
		"negative attempts": func(n *Notification) { n.AttemptsMade = -1 },
		"zero budget":       func(n *Notification) { n.MaxAttempts = 0 },
		"unknown channel":   func(n *Notification) { n.Channel = Channel("VOICE") },
		"long sms":          func(n *Notification) { n.Message = strings.Repeat("a", MaxSMSContent+1) },
		"long push": func(n *Notification) {
			n.Channel = ChannelPush
			n.Message = strings.Repeat("a", MaxPushContent+1)
		},
	}
	for name, mutate := range rejected {
		n := valid()
		mutate(&n)
		if err := n.Validate(); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: Validate() error = %v, want ErrValidation", name, err)
		}
	}

	n := valid()
	if err := n.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}
	// Length limits count runes, not bytes.
	n.Message = strings.Repeat("ğ", MaxSMSContent)
	if err := n.Validate(); err != nil {
		t.Fatalf("Validate(multibyte sms) error = %v, want nil", err)
	}
}

func TestRuleValidate(t *testing.T) {
	t.Parallel()

	window := 0
	rule := Rule{
		Name:              "failed logins",
		EventType:         "login_failed",
		TriggerCondition:  "count >= 3",
		TimeWindowMinutes: &window,
		MessageTemplate:   "{{count}} failed logins",
		Channel:           ChannelEmail,
		Priority:          PriorityHigh,
	}
	if err := rule.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation for zero window", err)
	}

	rule.TimeWindowMinutes = nil
	if err := rule.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error = %v", err)
	}
}

func TestOutcomeErrorsAreDistinct(t *testing.T) {
	t.Parallel()

	if errors.Is(ErrPolicySuppressed, ErrTransportFailure) {
		t.Fatal("suppression must not be classified as transport failure")
	}
	if !errors.Is(ErrInvalidTimeFormat, ErrValidation) {
		t.Fatal("ErrInvalidTimeFormat should wrap ErrValidation")
	}
	if !errors.Is(ErrInvalidCondition, ErrValidation) {
		t.Fatal("ErrInvalidCondition should wrap ErrValidation")
	}
}
