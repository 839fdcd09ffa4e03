package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/accountability-dispatch/internal/domain"
	"github.com/kursadbilgin/accountability-dispatch/internal/observability"
	"github.com/kursadbilgin/accountability-dispatch/internal/queue"
	"github.com/kursadbilgin/accountability-dispatch/internal/repository"
	"go.uber.org/zap"
)

// RetryEscalation is the part of the escalator the tracker drives.
type RetryEscalation interface {
	HandleMissed(ctx context.Context, missed MissedCall) (*domain.CallAttempt, error)
	ClearRetries(ctx context.Context, userID string, callType domain.CallType) (int64, error)
}

// TrackParams describes an original call that was just pushed.
type TrackParams struct {
	UserID   string
	CallUUID string
	CallType domain.CallType
	Mood     string
}

const (
	clearRetryAttempts = 3
	clearRetryBackoff  = 200 * time.Millisecond
)

// Tracker owns the call_attempts lifecycle of original calls.
type Tracker struct {
	calls       repository.CallAttemptRepository
	retries     RetryEscalation
	publisher   queue.EventPublisher
	metrics     *observability.Metrics
	logger      *zap.Logger
	callTimeout time.Duration
	now         func() time.Time
	newID       func() string
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewTracker(
	calls repository.CallAttemptRepository,
	retries RetryEscalation,
	publisher queue.EventPublisher,
	metrics *observability.Metrics,
	callTimeout time.Duration,
	logger *zap.Logger,
) (*Tracker, error) {
	if calls == nil {
		return nil, fmt.Errorf("call attempt repository is required")
	}
	if retries == nil {
		return nil, fmt.Errorf("retry escalation is required")
	}
	if publisher == nil {
		publisher = queue.NopEventPublisher{}
	}
	if callTimeout <= 0 {
		callTimeout = domain.DefaultCallTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Tracker{
		calls:       calls,
		retries:     retries,
		publisher:   publisher,
		metrics:     metrics,
		logger:      logger,
		callTimeout: callTimeout,
		now:         time.Now,
		newID:       uuid.NewString,
		sleep:       sleepContext,
	}, nil
}

// Track records a scheduled original call that times out after the call timeout.
func (t *Tracker) Track(ctx context.Context, params TrackParams) (*domain.CallAttempt, error) {
	now := t.now().UTC()
	attempt := &domain.CallAttempt{
		ID:             t.newID(),
		UserID:         strings.TrimSpace(params.UserID),
		CallType:       params.CallType,
		ConversationID: strings.TrimSpace(params.CallUUID),
		RootCallID:     strings.TrimSpace(params.CallUUID),
		Status:         domain.CallStatusScheduled,
		Mood:           params.Mood,
		TimeoutAt:      now.Add(t.callTimeout),
		CreatedAt:      now,
	}
	if err := attempt.Validate(); err != nil {
		return nil, err
	}

	if err := t.calls.Create(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to record call attempt: %w", err)
	}
	return attempt, nil
}

// Acknowledge marks the call answered and clears any retry chain for the
// user. It reports false when the call is unknown or was already acknowledged.
func (t *Tracker) Acknowledge(ctx context.Context, callUUID string) (bool, error) {
	callUUID = strings.TrimSpace(callUUID)
	if callUUID == "" {
		return false, fmt.Errorf("%w: callUUID is required", domain.ErrValidation)
	}

	updated, err := t.calls.Acknowledge(ctx, callUUID, t.now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to acknowledge call: %w", err)
	}
	if updated == nil {
		return false, nil
	}

	logger := t.logger.With(
		zap.String("userId", updated.UserID),
		zap.String("callUUID", callUUID),
		zap.String("callType", updated.CallType.String()),
	)
	logger.Info("call acknowledged")
	t.metrics.IncCallAcknowledged()

	// A redelivered ack updates no row, so clearing is retried here rather
	// than by requeueing. If it still fails the escalator sees the answered
	// chain and closes it on its next pass.
	cleared, err := t.clearRetries(ctx, updated.UserID, updated.CallType)
	if err != nil {
		logger.Error("failed to clear retry chain", zap.Error(err))
	} else if cleared > 0 {
		logger.Info("retry chain cleared", zap.Int64("cleared", cleared))
	}

	t.publish(ctx, queue.CallEvent{
		Type:          queue.EventCallAcknowledged,
		CallUUID:      callUUID,
		UserID:        updated.UserID,
		CallType:      updated.CallType,
		AttemptNumber: updated.RetryAttemptNumber,
		Mood:          updated.Mood,
	})
	return true, nil
}

// Decline escalates a call the user rejected and stamps it timed out
// afterwards, so a failed escalation leaves the call due for the sweep. It
// reports false when the call was acknowledged or already fully handled.
func (t *Tracker) Decline(ctx context.Context, callUUID string, reason domain.RetryReason) (bool, error) {
	callUUID = strings.TrimSpace(callUUID)
	if callUUID == "" {
		return false, fmt.Errorf("%w: callUUID is required", domain.ErrValidation)
	}
	if reason != domain.RetryReasonDeclined && reason != domain.RetryReasonFailed {
		return false, fmt.Errorf("%w: invalid decline reason %q", domain.ErrValidation, reason)
	}

	call, err := t.calls.GetByConversationID(ctx, callUUID)
	if err != nil {
		return false, err
	}
	if call.Acknowledged {
		return false, nil
	}

	retry, err := t.retries.HandleMissed(ctx, MissedCall{
		UserID:   call.UserID,
		CallType: call.CallType,
		CallUUID: callUUID,
		Reason:   reason,
	})
	capReached := errors.Is(err, domain.ErrRetryCapExceeded)
	if err != nil && !capReached {
		return false, fmt.Errorf("failed to escalate declined call: %w", err)
	}

	stamped, err := t.calls.MarkTimedOut(ctx, callUUID)
	if err != nil {
		return true, fmt.Errorf("failed to stamp declined call: %w", err)
	}
	return retry != nil || capReached || stamped, nil
}

// GetByUUID returns a single call attempt.
func (t *Tracker) GetByUUID(ctx context.Context, callUUID string) (*domain.CallAttempt, error) {
	callUUID = strings.TrimSpace(callUUID)
	if callUUID == "" {
		return nil, fmt.Errorf("%w: callUUID is required", domain.ErrValidation)
	}
	return t.calls.GetByConversationID(ctx, callUUID)
}

// Chain returns every attempt of the chain the call belongs to, original first.
func (t *Tracker) Chain(ctx context.Context, callUUID string) ([]domain.CallAttempt, error) {
	call, err := t.GetByUUID(ctx, callUUID)
	if err != nil {
		return nil, err
	}
	return t.calls.ListChain(ctx, call.ChainRoot())
}

func (t *Tracker) ListPending(ctx context.Context, limit int) ([]domain.CallAttempt, error) {
	return t.calls.ListPending(ctx, limit)
}

func (t *Tracker) publish(ctx context.Context, event queue.CallEvent) {
	event.OccurredAt = t.now().UTC()
	publishEvent(ctx, t.publisher, t.logger, event)
}

func (t *Tracker) clearRetries(ctx context.Context, userID string, callType domain.CallType) (int64, error) {
	var err error
	for attempt := 1; attempt <= clearRetryAttempts; attempt++ {
		var cleared int64
		cleared, err = t.retries.ClearRetries(ctx, userID, callType)
		if err == nil {
			return cleared, nil
		}
		if attempt == clearRetryAttempts {
			break
		}
		if sleepErr := t.sleep(ctx, time.Duration(attempt)*clearRetryBackoff); sleepErr != nil {
			return 0, sleepErr
		}
	}
	return 0, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
