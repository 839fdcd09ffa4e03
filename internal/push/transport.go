package push

import (
	"context"
	"time"

	"github.com/kursadbilgin/accountability-dispatch/internal/domain"
)

// Transport delivers a call push to a device destination.
type Transport interface {
	Send(ctx context.Context, destination string, payload Payload) error
}

// Payload is the data block the mobile client uses to ring the user.
type Payload struct {
	UserID        string             `json:"userId"`
	CallType      domain.CallType    `json:"callType"`
	Type          domain.PushType    `json:"type"`
	CallUUID      string             `json:"callUUID"`
	Urgency       domain.Urgency     `json:"urgency"`
	Mood          string             `json:"mood,omitempty"`
	SessionToken  string             `json:"sessionToken,omitempty"`
	RoomName      string             `json:"roomName,omitempty"`
	AttemptNumber int                `json:"attemptNumber,omitempty"`
	RetryReason   domain.RetryReason `json:"retryReason,omitempty"`
	Message       string             `json:"message,omitempty"`
	Metadata      Metadata           `json:"metadata"`
}

type Metadata struct {
	GeneratedAt time.Time `json:"generatedAt"`
	Version     string    `json:"version"`
}
