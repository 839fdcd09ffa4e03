package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/accountability-dispatch/internal/domain"
)

// AckOutcome is what the client reports for a ringing call.
type AckOutcome string

const (
	AckOutcomeAnswered AckOutcome = "answered"
	AckOutcomeDeclined AckOutcome = "declined"
	AckOutcomeFailed   AckOutcome = "failed"
)

func (o AckOutcome) IsValid() bool {
	switch o {
	case AckOutcomeAnswered, AckOutcomeDeclined, AckOutcomeFailed:
		return true
	}
	return false
}

// AckMessage is the broker payload for client call outcomes.
type AckMessage struct {
	CallUUID string     `json:"callUUID"`
	Outcome  AckOutcome `json:"outcome"`
}

func (m AckMessage) Validate() error {
	if strings.TrimSpace(m.CallUUID) == "" {
		return fmt.Errorf("callUUID is required")
	}
	if !m.Outcome.IsValid() {
		return fmt.Errorf("invalid outcome %q", m.Outcome)
	}
	return nil
}

// EventType names a call lifecycle transition.
type EventType string

const (
	EventCallDispatched   EventType = "call.dispatched"
	EventCallAcknowledged EventType = "call.acknowledged"
	EventRetryScheduled   EventType = "call.retry_scheduled"
	EventRetryCapReached  EventType = "call.retry_cap_reached"
)

func (t EventType) IsValid() bool {
	switch t {
	case EventCallDispatched, EventCallAcknowledged, EventRetryScheduled, EventRetryCapReached:
		return true
	}
	return false
}

// CallEvent is the broker payload published on every call transition.
type CallEvent struct {
	Type          EventType       `json:"type"`
	CallUUID      string          `json:"callUUID"`
	UserID        string          `json:"userId"`
	CallType      domain.CallType `json:"callType"`
	AttemptNumber int             `json:"attemptNumber,omitempty"`
	Urgency       domain.Urgency  `json:"urgency,omitempty"`
	Mood          string          `json:"mood,omitempty"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

func (e CallEvent) Validate() error {
	if !e.Type.IsValid() {
		return fmt.Errorf("invalid event type %q", e.Type)
	}
	if strings.TrimSpace(e.CallUUID) == "" {
		return fmt.Errorf("callUUID is required")
	}
	if strings.TrimSpace(e.UserID) == "" {
		return fmt.Errorf("userId is required")
	}
	return nil
}
