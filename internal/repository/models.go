package repository

import (
	"time"

	"github.com/kursadbilgin/accountability-dispatch/internal/domain"
)

// CallAttemptModel is the persistence model for the call_attempts table.
type CallAttemptModel struct {
	ID                 string              `gorm:"type:uuid;primaryKey"`
	UserID             string              `gorm:"type:uuid;not null"`
	CallType           domain.CallType     `gorm:"type:varchar(32);not null"`
	ConversationID     string              `gorm:"type:varchar(64);not null"`
	RootCallID         string              `gorm:"type:varchar(64);not null"`
	Status             domain.CallStatus   `gorm:"type:varchar(20);not null"`
	Mood               string              `gorm:"type:varchar(32)"`
	IsRetry            bool                `gorm:"not null;default:false"`
	RetryAttemptNumber int                 `gorm:"not null;default:0"`
	OriginalCallID     *string             `gorm:"type:varchar(64)"`
	RetryReason        *domain.RetryReason `gorm:"type:varchar(20)"`
	Urgency            *domain.Urgency     `gorm:"type:varchar(20)"`
	Acknowledged       bool                `gorm:"not null;default:false"`
	AcknowledgedAt     *time.Time          `gorm:"type:timestamptz"`
	TimeoutAt          time.Time           `gorm:"type:timestamptz;not null"`
	CreatedAt          time.Time
}

func (CallAttemptModel) TableName() string {
	return "call_attempts"
}

// UserModel is the read side of the users table.
type UserModel struct {
	ID        string  `gorm:"type:uuid;primaryKey"`
	Name      string  `gorm:"type:varchar(255);not null"`
	PushToken *string `gorm:"type:varchar(512)"`
	Timezone  string  `gorm:"type:varchar(64);not null;default:'UTC'"`
	CallTime  string  `gorm:"type:varchar(5);not null;default:'20:00'"`
	Active    bool    `gorm:"not null;default:true"`
	CreatedAt time.Time
}

func (UserModel) TableName() string {
	return "users"
}

// PromiseModel is the read side of the promises table.
type PromiseModel struct {
	ID          string               `gorm:"type:uuid;primaryKey"`
	UserID      string               `gorm:"type:uuid;not null"`
	Status      domain.PromiseStatus `gorm:"type:varchar(20);not null"`
	PromiseDate time.Time            `gorm:"type:date;not null"`
	CreatedAt   time.Time
}

func (PromiseModel) TableName() string {
	return "promises"
}

func callAttemptModelFromDomain(c *domain.CallAttempt) *CallAttemptModel {
	if c == nil {
		return nil
	}

	return &CallAttemptModel{
		ID:                 c.ID,
		UserID:             c.UserID,
		CallType:           c.CallType,
		ConversationID:     c.ConversationID,
		RootCallID:         c.ChainRoot(),
		Status:             c.Status,
		Mood:               c.Mood,
		IsRetry:            c.IsRetry,
		RetryAttemptNumber: c.RetryAttemptNumber,
		OriginalCallID:     c.OriginalCallID,
		RetryReason:        c.RetryReason,
		Urgency:            c.Urgency,
		Acknowledged:       c.Acknowledged,
		AcknowledgedAt:     c.AcknowledgedAt,
		TimeoutAt:          c.TimeoutAt,
		CreatedAt:          c.CreatedAt,
	}
}

func callAttemptModelToDomain(m *CallAttemptModel) *domain.CallAttempt {
	if m == nil {
		return nil
	}

	return &domain.CallAttempt{
		ID:                 m.ID,
		UserID:             m.UserID,
		CallType:           m.CallType,
		ConversationID:     m.ConversationID,
		RootCallID:         m.RootCallID,
		Status:             m.Status,
		Mood:               m.Mood,
		IsRetry:            m.IsRetry,
		RetryAttemptNumber: m.RetryAttemptNumber,
		OriginalCallID:     m.OriginalCallID,
		RetryReason:        m.RetryReason,
		Urgency:            m.Urgency,
		Acknowledged:       m.Acknowledged,
		AcknowledgedAt:     m.AcknowledgedAt,
		TimeoutAt:          m.TimeoutAt,
		CreatedAt:          m.CreatedAt,
	}
}

func callAttemptModelsToDomain(models []CallAttemptModel) []domain.CallAttempt {
	calls := make([]domain.CallAttempt, 0, len(models))
	for i := range models {
		calls = append(calls, *callAttemptModelToDomain(&models[i]))
	}
	return calls
}

func userModelToDomain(m *UserModel) *domain.User {
	if m == nil {
		return nil
	}

	user := &domain.User{
		ID:        m.ID,
		Name:      m.Name,
		Timezone:  m.Timezone,
		CallTime:  m.CallTime,
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
	}
	if m.PushToken != nil {
		user.PushToken = *m.PushToken
	}
	return user
}
