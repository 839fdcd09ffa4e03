package media

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ParticipantMetadata is attached to the callee's access token.
type ParticipantMetadata struct {
	UserID   string `json:"userId"`
	Name     string `json:"name,omitempty"`
	CallUUID string `json:"callUUID"`
	CallType string `json:"callType"`
	Mood     string `json:"mood,omitempty"`
}

// Session is a joinable real-time room for one call.
type Session struct {
	RoomName  string
	Token     string
	URL       string
	ExpiresAt time.Time
}

// SessionProvider creates the real-time room a call connects to.
type SessionProvider interface {
	CreateSession(ctx context.Context, roomName string, participant ParticipantMetadata) (*Session, error)
}

// RoomName derives the room used by a call.
func RoomName(userID, callUUID string) string {
	return fmt.Sprintf("accountability-%s-%s", strings.TrimSpace(userID), strings.TrimSpace(callUUID))
}
