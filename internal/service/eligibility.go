package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/accountability-dispatch/internal/domain"
	"go.uber.org/zap"
)

const (
	wakingHoursStart = 8 * 60
	wakingHoursEnd   = 21 * 60
	minutesPerDay    = 24 * 60

	defaultEligibilityWindow = 17 * time.Minute
)

// CandidateSource lists users together with their call history summary.
type CandidateSource interface {
	ListCallCandidates(ctx context.Context, callType domain.CallType) ([]domain.CallCandidate, error)
}

// Eligibility decides which users are due a call at a given instant.
type Eligibility struct {
	source   CandidateSource
	callType domain.CallType
	window   time.Duration
	logger   *zap.Logger
}

// NewEligibility builds an eligibility provider. window should match the
// dispatch tick interval so every preferred call time falls into one tick.
func NewEligibility(source CandidateSource, callType domain.CallType, window time.Duration, logger *zap.Logger) (*Eligibility, error) {
	if source == nil {
		return nil, fmt.Errorf("candidate source is required")
	}
	if !callType.IsValid() {
		return nil, fmt.Errorf("invalid call type %q", callType)
	}
	if window <= 0 {
		window = defaultEligibilityWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Eligibility{
		source:   source,
		callType: callType,
		window:   window,
		logger:   logger,
	}, nil
}

// GetUsersDueNow splits due users into never-called users inside waking
// hours and returning users whose preferred call time has come.
func (e *Eligibility) GetUsersDueNow(ctx context.Context, now time.Time) (domain.DueUsers, error) {
	candidates, err := e.source.ListCallCandidates(ctx, e.callType)
	if err != nil {
		return domain.DueUsers{}, fmt.Errorf("failed to list call candidates: %w", err)
	}

	var due domain.DueUsers
	for i := range candidates {
		candidate := candidates[i]
		user := candidate.User
		if !user.Active || !user.HasPushDestination() {
			continue
		}

		loc, err := user.Location()
		if err != nil {
			e.logger.Warn("unknown user timezone, falling back to UTC",
				zap.String("userId", user.ID),
				zap.String("timezone", user.Timezone),
			)
		}
		local := now.In(loc)

		if candidate.LastOriginalAt != nil && !candidate.LastOriginalAt.Before(user.LocalDayStart(now)) {
			continue
		}

		minuteOfDay := local.Hour()*60 + local.Minute()
		if !candidate.HasAnyCall {
			if minuteOfDay >= wakingHoursStart && minuteOfDay < wakingHoursEnd {
				due.FirstDay = append(due.FirstDay, user)
			}
			continue
		}

		callAt, err := domain.ParseCallTime(user.CallTime)
		if err != nil {
			e.logger.Warn("invalid preferred call time, skipping user",
				zap.String("userId", user.ID),
				zap.String("callTime", user.CallTime),
			)
			continue
		}
		if e.inWindow(minuteOfDay, callAt) {
			due.Recurring = append(due.Recurring, user)
		}
	}

	return due, nil
}

func (e *Eligibility) inWindow(minuteOfDay, callAt int) bool {
	elapsed := (minuteOfDay - callAt + minutesPerDay) % minutesPerDay
	return time.Duration(elapsed)*time.Minute < e.window
}
