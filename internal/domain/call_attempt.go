package domain

import (
	"fmt"
	"strings"
	"time"
)

// MaxRetryAttempts caps the number of retries in a single chain.
const MaxRetryAttempts = 3

// DefaultCallTimeout is how long an original call may ring before the sweep treats it as missed.
const DefaultCallTimeout = 10 * time.Minute

// retryDelays is indexed by min(attempt-1, len-1).
var retryDelays = [...]time.Duration{10 * time.Minute, 30 * time.Minute, 60 * time.Minute}

// CallType identifies the kind of accountability call.
type CallType string

const (
	CallTypeDailyReckoning CallType = "daily_reckoning"
)

func (t CallType) String() string { return string(t) }

func (t CallType) IsValid() bool {
	switch t {
	case CallTypeDailyReckoning:
		return true
	}
	return false
}

func ParseCallTypeFromString(s string) (CallType, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	if normalized == "" {
		return CallTypeDailyReckoning, nil
	}
	ct := CallType(normalized)
	if !ct.IsValid() {
		return "", fmt.Errorf("%w: invalid call type %q", ErrValidation, s)
	}
	return ct, nil
}

// CallStatus is the lifecycle state of a call attempt.
type CallStatus string

const (
	CallStatusScheduled    CallStatus = "scheduled"
	CallStatusTimeout      CallStatus = "timeout"
	CallStatusAcknowledged CallStatus = "acknowledged"
)

func (s CallStatus) String() string { return string(s) }

func (s CallStatus) IsValid() bool {
	switch s {
	case CallStatusScheduled, CallStatusTimeout, CallStatusAcknowledged:
		return true
	}
	return false
}

func ParseCallStatusFromString(s string) (CallStatus, error) {
	st := CallStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid call status %q", ErrValidation, s)
	}
	return st, nil
}

// Urgency is the escalation level carried by a call push.
type Urgency string

const (
	UrgencyHigh      Urgency = "high"
	UrgencyCritical  Urgency = "critical"
	UrgencyEmergency Urgency = "emergency"
)

func (u Urgency) String() string { return string(u) }

func (u Urgency) IsValid() bool {
	switch u {
	case UrgencyHigh, UrgencyCritical, UrgencyEmergency:
		return true
	}
	return false
}

// Rank orders urgencies along the escalation ladder, 0 for unknown values.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyHigh:
		return 1
	case UrgencyCritical:
		return 2
	case UrgencyEmergency:
		return 3
	}
	return 0
}

// UrgencyForAttempt maps a retry attempt number onto the urgency ladder.
func UrgencyForAttempt(attempt int) Urgency {
	switch {
	case attempt <= 1:
		return UrgencyHigh
	case attempt == 2:
		return UrgencyCritical
	default:
		return UrgencyEmergency
	}
}

// RetryDelay returns how long a retry attempt stays open before it counts as missed.
func RetryDelay(attempt int) time.Duration {
	idx := min(max(attempt-1, 0), len(retryDelays)-1)
	return retryDelays[idx]
}

// RetryReason explains why a retry was created.
type RetryReason string

const (
	RetryReasonMissed   RetryReason = "missed"
	RetryReasonDeclined RetryReason = "declined"
	RetryReasonFailed   RetryReason = "failed"
)

func (r RetryReason) String() string { return string(r) }

func (r RetryReason) IsValid() bool {
	switch r {
	case RetryReasonMissed, RetryReasonDeclined, RetryReasonFailed:
		return true
	}
	return false
}

func ParseRetryReasonFromString(s string) (RetryReason, error) {
	r := RetryReason(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", fmt.Errorf("%w: invalid retry reason %q", ErrValidation, s)
	}
	return r, nil
}

// PushType discriminates push payloads on the client.
type PushType string

const (
	PushTypeCall      PushType = "accountability_call"
	PushTypeCallRetry PushType = "accountability_call_retry"
)

func (p PushType) String() string { return string(p) }

// CallAttempt is one persisted dispatched or retried accountability call.
type CallAttempt struct {
	ID                 string
	UserID             string
	CallType           CallType
	ConversationID     string
	RootCallID         string
	Status             CallStatus
	Mood               string
	IsRetry            bool
	RetryAttemptNumber int
	OriginalCallID     *string
	RetryReason        *RetryReason
	Urgency            *Urgency
	Acknowledged       bool
	AcknowledgedAt     *time.Time
	TimeoutAt          time.Time
	CreatedAt          time.Time
}

// ChainRoot returns the conversation id of the original call this attempt belongs to.
func (c *CallAttempt) ChainRoot() string {
	if c == nil {
		return ""
	}
	if root := strings.TrimSpace(c.RootCallID); root != "" {
		return root
	}
	return c.ConversationID
}

func (c *CallAttempt) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if strings.TrimSpace(c.ConversationID) == "" {
		return fmt.Errorf("%w: conversation id is required", ErrValidation)
	}
	if !c.CallType.IsValid() {
		return fmt.Errorf("%w: invalid call type %q", ErrValidation, c.CallType)
	}
	if !c.Status.IsValid() {
		return fmt.Errorf("%w: invalid call status %q", ErrValidation, c.Status)
	}
	if !c.TimeoutAt.After(c.CreatedAt) {
		return fmt.Errorf("%w: timeout must be after creation time", ErrValidation)
	}

	if !c.IsRetry {
		if c.RetryAttemptNumber != 0 {
			return fmt.Errorf("%w: original call cannot carry a retry attempt number", ErrValidation)
		}
		return nil
	}

	if c.RetryAttemptNumber < 1 || c.RetryAttemptNumber > MaxRetryAttempts {
		return fmt.Errorf("%w: retry attempt number must be between 1 and %d (got %d)", ErrValidation, MaxRetryAttempts, c.RetryAttemptNumber)
	}
	if c.OriginalCallID == nil || strings.TrimSpace(*c.OriginalCallID) == "" {
		return fmt.Errorf("%w: retry requires an original call id", ErrValidation)
	}
	if c.RetryReason != nil && !c.RetryReason.IsValid() {
		return fmt.Errorf("%w: invalid retry reason %q", ErrValidation, *c.RetryReason)
	}
	if c.Urgency != nil && *c.Urgency != UrgencyForAttempt(c.RetryAttemptNumber) {
		return fmt.Errorf("%w: urgency %q does not match attempt %d", ErrValidation, *c.Urgency, c.RetryAttemptNumber)
	}

	return nil
}
