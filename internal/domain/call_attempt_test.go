package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseCallStatusFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    CallStatus
		wantErr bool
	}{
		{name: "valid lowercase", input: "scheduled", want: CallStatusScheduled},
		{name: "valid uppercase with spaces", input: " TIMEOUT ", want: CallStatusTimeout},
		{name: "invalid", input: "ringing", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseCallStatusFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseCallStatusFromString() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseCallStatusFromString() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseCallStatusFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseCallTypeFromString(t *testing.T) {
	t.Parallel()

	got, err := ParseCallTypeFromString("")
	if err != nil {
		t.Fatalf("ParseCallTypeFromString() unexpected error = %v", err)
	}
	if got != CallTypeDailyReckoning {
		t.Fatalf("ParseCallTypeFromString() = %s, want %s", got, CallTypeDailyReckoning)
	}

	_, err = ParseCallTypeFromString("weekly_review")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseCallTypeFromString() error = %v, want ErrValidation", err)
	}
}

func TestParseRetryReasonFromString(t *testing.T) {
	t.Parallel()

	got, err := ParseRetryReasonFromString(" Declined ")
	if err != nil {
		t.Fatalf("ParseRetryReasonFromString() unexpected error = %v", err)
	}
	if got != RetryReasonDeclined {
		t.Fatalf("ParseRetryReasonFromString() = %s, want %s", got, RetryReasonDeclined)
	}

	_, err = ParseRetryReasonFromString("busy")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseRetryReasonFromString() error = %v, want ErrValidation", err)
	}
}

func TestUrgencyLadder(t *testing.T) {
	t.Parallel()

	want := []Urgency{UrgencyHigh, UrgencyCritical, UrgencyEmergency}
	for i, expected := range want {
		got := UrgencyForAttempt(i + 1)
		if got != expected {
			t.Fatalf("UrgencyForAttempt(%d) = %s, want %s", i+1, got, expected)
		}
	}

	if got := UrgencyForAttempt(7); got != UrgencyEmergency {
		t.Fatalf("UrgencyForAttempt(7) = %s, want %s", got, UrgencyEmergency)
	}

	for attempt := 1; attempt < 6; attempt++ {
		if UrgencyForAttempt(attempt+1).Rank() < UrgencyForAttempt(attempt).Rank() {
			t.Fatalf("urgency decreased between attempt %d and %d", attempt, attempt+1)
		}
	}
}

func TestRetryDelay(t *testing.T) {
	t.Parallel()

	want := []time.Duration{10 * time.Minute, 30 * time.Minute, 60 * time.Minute}
	for i, expected := range want {
		if got := RetryDelay(i + 1); got != expected {
			t.Fatalf("RetryDelay(%d) = %s, want %s", i+1, got, expected)
		}
	}

	if got := RetryDelay(9); got != 60*time.Minute {
		t.Fatalf("RetryDelay(9) = %s, want 1h", got)
	}
	if got := RetryDelay(0); got != 10*time.Minute {
		t.Fatalf("RetryDelay(0) = %s, want 10m", got)
	}
}

func TestCallAttemptValidate(t *testing.T) {
	t.Parallel()

	createdAt := time.Date(2026, time.March, 10, 19, 0, 0, 0, time.UTC)
	originalID := "call-original"
	high := UrgencyHigh
	critical := UrgencyCritical
	missed := RetryReasonMissed

	base := CallAttempt{
		UserID:         "user-1",
		CallType:       CallTypeDailyReckoning,
		ConversationID: "call-1",
		Status:         CallStatusScheduled,
		TimeoutAt:      createdAt.Add(DefaultCallTimeout),
		CreatedAt:      createdAt,
	}

	tests := []struct {
		name    string
		mutate  func(*CallAttempt)
		wantErr bool
	}{
		{
			name:   "valid original",
			mutate: func(c *CallAttempt) {},
		},
		{
			name: "missing user",
			mutate: func(c *CallAttempt) {
				c.UserID = " "
			},
			wantErr: true,
		},
		{
			name: "timeout not after creation",
			mutate: func(c *CallAttempt) {
				c.TimeoutAt = c.CreatedAt
			},
			wantErr: true,
		},
		{
			name: "original with attempt number",
			mutate: func(c *CallAttempt) {
				c.RetryAttemptNumber = 1
			},
			wantErr: true,
		},
		{
			name: "valid retry",
			mutate: func(c *CallAttempt) {
				c.IsRetry = true
				c.RetryAttemptNumber = 1
				c.OriginalCallID = &originalID
				c.RetryReason = &missed
				c.Urgency = &high
			},
		},
		{
			name: "retry beyond cap",
			mutate: func(c *CallAttempt) {
				c.IsRetry = true
				c.RetryAttemptNumber = MaxRetryAttempts + 1
				c.OriginalCallID = &originalID
			},
			wantErr: true,
		},
		{
			name: "retry without original",
			mutate: func(c *CallAttempt) {
				c.IsRetry = true
				c.RetryAttemptNumber = 1
			},
			wantErr: true,
		},
		{
			name: "urgency out of ladder",
			mutate: func(c *CallAttempt) {
				c.IsRetry = true
				c.RetryAttemptNumber = 1
				c.OriginalCallID = &originalID
				c.Urgency = &critical
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			current := base
			tt.mutate(&current)

			err := current.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("Validate() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Validate() unexpected error = %v", err)
			}
		})
	}
}

func TestChainRoot(t *testing.T) {
	t.Parallel()

	original := &CallAttempt{ConversationID: "call-1"}
	if got := original.ChainRoot(); got != "call-1" {
		t.Fatalf("ChainRoot() = %q, want call-1", got)
	}

	retry := &CallAttempt{ConversationID: "call-2", RootCallID: "call-1"}
	if got := retry.ChainRoot(); got != "call-1" {
		t.Fatalf("ChainRoot() = %q, want call-1", got)
	}
}
