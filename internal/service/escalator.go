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
	"github.com/kursadbilgin/accountability-dispatch/internal/push"
	"github.com/kursadbilgin/accountability-dispatch/internal/queue"
	"github.com/kursadbilgin/accountability-dispatch/internal/repository"
	"github.com/kursadbilgin/accountability-dispatch/internal/tone"
	"go.uber.org/zap"
)

// UserDirectory resolves a user and their push destination.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
}

// BehaviorProvider loads the promise history the tone scorer reads.
type BehaviorProvider interface {
	GetBehavioralContext(ctx context.Context, userID string) (*domain.BehavioralContext, error)
}

// MissedCall identifies an attempt that was not answered.
type MissedCall struct {
	UserID   string
	CallType domain.CallType
	CallUUID string
	Reason   domain.RetryReason
}

// Escalator grows the retry chain of missed calls.
type Escalator struct {
	calls     repository.CallAttemptRepository
	users     UserDirectory
	behavior  BehaviorProvider
	transport push.Transport
	scorer    tone.Scorer
	publisher queue.EventPublisher
	metrics   *observability.Metrics
	logger    *zap.Logger
	version   string
	now       func() time.Time
	newID     func() string
}

func NewEscalator(
	calls repository.CallAttemptRepository,
	users UserDirectory,
	behavior BehaviorProvider,
	transport push.Transport,
	scorer tone.Scorer,
	publisher queue.EventPublisher,
	metrics *observability.Metrics,
	version string,
	logger *zap.Logger,
) (*Escalator, error) {
	if calls == nil {
		return nil, fmt.Errorf("call attempt repository is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user directory is required")
	}
	if behavior == nil {
		return nil, fmt.Errorf("behavior provider is required")
	}
	if transport == nil {
		return nil, fmt.Errorf("push transport is required")
	}
	if publisher == nil {
		publisher = queue.NopEventPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Escalator{
		calls:     calls,
		users:     users,
		behavior:  behavior,
		transport: transport,
		scorer:    scorer,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		version:   version,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

// HandleMissed records the next retry of the missed call's chain and pushes
// it. It returns nil, nil when any attempt of the chain was acknowledged or
// the missed call was already escalated, and ErrRetryCapExceeded once the
// chain is exhausted.
func (e *Escalator) HandleMissed(ctx context.Context, missed MissedCall) (*domain.CallAttempt, error) {
	if strings.TrimSpace(missed.CallUUID) == "" {
		return nil, fmt.Errorf("%w: callUUID is required", domain.ErrValidation)
	}
	if !missed.Reason.IsValid() {
		return nil, fmt.Errorf("%w: invalid retry reason %q", domain.ErrValidation, missed.Reason)
	}

	logger := e.logger.With(
		zap.String("userId", missed.UserID),
		zap.String("callUUID", missed.CallUUID),
		zap.String("callType", missed.CallType.String()),
	)

	call, err := e.calls.GetByConversationID(ctx, missed.CallUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to load missed call: %w", err)
	}

	root := call.ChainRoot()
	chain, err := e.calls.ListChain(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("failed to load retry chain: %w", err)
	}
	if chainAnswered(chain) {
		logger.Info("chain was acknowledged, skipping escalation")
		e.closeChain(ctx, logger, missed.UserID, missed.CallType)
		return nil, nil
	}
	if escalatedFrom(chain, missed.CallUUID) {
		logger.Info("missed call was already escalated")
		return nil, nil
	}

	next := 1
	previous, err := e.calls.LatestOpenRetry(ctx, missed.UserID, missed.CallType, root)
	switch {
	case err == nil:
		next = previous.RetryAttemptNumber + 1
	case errors.Is(err, domain.ErrNotFound):
	default:
		return nil, fmt.Errorf("failed to load previous retry: %w", err)
	}

	if next > domain.MaxRetryAttempts {
		logger.Info("retry cap reached, ending chain", zap.Int("attemptNumber", next))
		e.metrics.IncRetryCapReached()
		e.publish(ctx, queue.CallEvent{
			Type:          queue.EventRetryCapReached,
			CallUUID:      missed.CallUUID,
			UserID:        missed.UserID,
			CallType:      missed.CallType,
			AttemptNumber: next - 1,
		})
		return nil, fmt.Errorf("%w: chain %s", domain.ErrRetryCapExceeded, root)
	}

	urgency := domain.UrgencyForAttempt(next)
	behavior := e.behavioralContext(ctx, logger, missed.UserID)
	mood := e.retryMood(call, behavior, next)

	now := e.now().UTC()
	originalID := missed.CallUUID
	reason := missed.Reason
	retry := &domain.CallAttempt{
		ID:                 e.newID(),
		UserID:             missed.UserID,
		CallType:           missed.CallType,
		ConversationID:     e.newID(),
		RootCallID:         root,
		Status:             domain.CallStatusScheduled,
		Mood:               mood.String(),
		IsRetry:            true,
		RetryAttemptNumber: next,
		OriginalCallID:     &originalID,
		RetryReason:        &reason,
		Urgency:            &urgency,
		TimeoutAt:          now.Add(domain.RetryDelay(next)),
		CreatedAt:          now,
	}
	if err := retry.Validate(); err != nil {
		return nil, err
	}
	if err := e.calls.Create(ctx, retry); err != nil {
		return nil, fmt.Errorf("failed to record retry: %w", err)
	}

	logger = logger.With(
		zap.String("retryCallUUID", retry.ConversationID),
		zap.Int("attemptNumber", next),
		zap.String("urgency", urgency.String()),
	)

	// An acknowledgment between the chain check and Create cleared retries
	// before this one existed.
	answered, err := e.isChainAnswered(ctx, root)
	if err != nil {
		logger.Warn("failed to recheck retry chain", zap.Error(err))
	}
	if answered {
		logger.Info("chain acknowledged during escalation, retry cancelled")
		e.closeChain(ctx, logger, missed.UserID, missed.CallType)
		return nil, nil
	}

	logger.Info("retry scheduled", zap.Time("timeoutAt", retry.TimeoutAt))
	e.metrics.IncRetryCreated(urgency.String())
	e.publish(ctx, queue.CallEvent{
		Type:          queue.EventRetryScheduled,
		CallUUID:      retry.ConversationID,
		UserID:        retry.UserID,
		CallType:      retry.CallType,
		AttemptNumber: next,
		Urgency:       urgency,
		Mood:          retry.Mood,
	})

	if err := e.sendRetryPush(ctx, retry, behavior.Name); err != nil {
		e.logSendFailure(logger, err)
	}
	return retry, nil
}

// FireRetry re-sends the push of a pending retry whose timeout passed. It
// reports false without sending when the chain was acknowledged meanwhile.
func (e *Escalator) FireRetry(ctx context.Context, retry domain.CallAttempt) (bool, error) {
	if !retry.IsRetry || retry.Urgency == nil || retry.RetryReason == nil {
		return false, fmt.Errorf("%w: %s is not a retry attempt", domain.ErrValidation, retry.ConversationID)
	}

	logger := e.logger.With(
		zap.String("userId", retry.UserID),
		zap.String("callUUID", retry.ConversationID),
		zap.String("callType", retry.CallType.String()),
		zap.Int("attemptNumber", retry.RetryAttemptNumber),
		zap.String("urgency", retry.Urgency.String()),
	)

	answered, err := e.isChainAnswered(ctx, retry.ChainRoot())
	if err != nil {
		return false, fmt.Errorf("failed to load retry chain: %w", err)
	}
	if answered {
		logger.Info("chain was acknowledged, retry not fired")
		e.closeChain(ctx, logger, retry.UserID, retry.CallType)
		return false, nil
	}

	if err := e.sendRetryPush(ctx, &retry, ""); err != nil {
		return false, err
	}
	logger.Info("pending retry fired")
	return true, nil
}

// ClearRetries cancels every open retry of the user's chain.
func (e *Escalator) ClearRetries(ctx context.Context, userID string, callType domain.CallType) (int64, error) {
	cleared, err := e.calls.ClearRetries(ctx, userID, callType, e.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to clear retries: %w", err)
	}
	return cleared, nil
}

func (e *Escalator) isChainAnswered(ctx context.Context, root string) (bool, error) {
	chain, err := e.calls.ListChain(ctx, root)
	if err != nil {
		return false, err
	}
	return chainAnswered(chain), nil
}

// closeChain makes sure no retry of an answered chain stays open. Failures
// are logged; the next escalation attempt tries again.
func (e *Escalator) closeChain(ctx context.Context, logger *zap.Logger, userID string, callType domain.CallType) {
	cleared, err := e.ClearRetries(ctx, userID, callType)
	if err != nil {
		logger.Error("failed to close answered chain", zap.Error(err))
		return
	}
	if cleared > 0 {
		logger.Info("open retries of answered chain closed", zap.Int64("cleared", cleared))
	}
}

// sendRetryPush pushes a retry to the user's device. It returns
// ErrNoPushToken when the user has no destination and a wrapped
// ErrTransport when the send failed.
func (e *Escalator) sendRetryPush(ctx context.Context, retry *domain.CallAttempt, name string) error {
	user, err := e.users.GetUser(ctx, retry.UserID)
	if err != nil {
		return fmt.Errorf("failed to load user for retry push: %w", err)
	}
	if !user.HasPushDestination() {
		return domain.ErrNoPushToken
	}
	if name == "" {
		name = user.Name
	}

	payload := push.Payload{
		UserID:        retry.UserID,
		CallType:      retry.CallType,
		Type:          domain.PushTypeCallRetry,
		CallUUID:      retry.ConversationID,
		Urgency:       *retry.Urgency,
		Mood:          retry.Mood,
		AttemptNumber: retry.RetryAttemptNumber,
		RetryReason:   *retry.RetryReason,
		Message:       escalationMessage(retry.RetryAttemptNumber, name),
		Metadata: push.Metadata{
			GeneratedAt: e.now().UTC(),
			Version:     e.version,
		},
	}
	if err := e.transport.Send(ctx, user.PushToken, payload); err != nil {
		e.metrics.IncCallFailed("transport")
		return fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}
	return nil
}

func (e *Escalator) logSendFailure(logger *zap.Logger, err error) {
	if errors.Is(err, domain.ErrNoPushToken) {
		logger.Warn("user has no push destination, retry recorded without push")
		e.metrics.IncCallFailed("no_push_token")
		return
	}
	logger.Error("retry push failed", zap.Bool("transient", push.IsTransient(err)), zap.Error(err))
}

func (e *Escalator) behavioralContext(ctx context.Context, logger *zap.Logger, userID string) domain.BehavioralContext {
	behavior, err := e.behavior.GetBehavioralContext(ctx, userID)
	if err != nil || behavior == nil {
		logger.Warn("behavioral context unavailable, using empty history", zap.Error(err))
		return domain.BehavioralContext{}
	}
	return *behavior
}

// retryMood recomputes the tone and only moves away from the previous
// attempt's mood when the hysteresis guard allows it.
func (e *Escalator) retryMood(previous *domain.CallAttempt, behavior domain.BehavioralContext, attempt int) tone.Mood {
	analysis := e.scorer.Analyze(behavior.RecentOutcomes, behavior.StreakDays)
	current, err := tone.ParseMoodFromString(previous.Mood)
	if err != nil {
		return analysis.RecommendedMood
	}
	if tone.CanOverride(current, analysis.RecommendedMood, analysis.ConfidenceScore, attempt >= domain.MaxRetryAttempts) {
		return analysis.RecommendedMood
	}
	return current
}

func (e *Escalator) publish(ctx context.Context, event queue.CallEvent) {
	event.OccurredAt = e.now().UTC()
	publishEvent(ctx, e.publisher, e.logger, event)
}

func escalationMessage(attempt int, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Hey"
	}

	switch attempt {
	case 1:
		return fmt.Sprintf("%s, you missed your check-in. First warning: pick up and own your day.", name)
	case 2:
		return fmt.Sprintf("%s, this is getting serious. You made a promise and you are dodging it.", name)
	default:
		return fmt.Sprintf("%s, final warning. Silence is an answer too, and it is the wrong one.", name)
	}
}

func chainAnswered(chain []domain.CallAttempt) bool {
	for _, c := range chain {
		if c.Acknowledged && c.Status == domain.CallStatusAcknowledged {
			return true
		}
	}
	return false
}

// escalatedFrom reports whether a retry was already recorded for callUUID.
func escalatedFrom(chain []domain.CallAttempt, callUUID string) bool {
	for _, c := range chain {
		if c.IsRetry && c.OriginalCallID != nil && *c.OriginalCallID == callUUID {
			return true
		}
	}
	return false
}
