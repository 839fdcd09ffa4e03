package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/accountability-dispatch/internal/domain"
	"github.com/kursadbilgin/accountability-dispatch/internal/media"
	"github.com/kursadbilgin/accountability-dispatch/internal/observability"
	"github.com/kursadbilgin/accountability-dispatch/internal/push"
	"github.com/kursadbilgin/accountability-dispatch/internal/queue"
	"github.com/kursadbilgin/accountability-dispatch/internal/tone"
	"go.uber.org/zap"
)

// DailyCallLog answers whether an original call already went out.
type DailyCallLog interface {
	HasOriginalSince(ctx context.Context, userID string, callType domain.CallType, since time.Time) (bool, error)
}

// CallRecorder persists a pushed original call.
type CallRecorder interface {
	Track(ctx context.Context, params TrackParams) (*domain.CallAttempt, error)
}

// DispatchResult describes an original call that was pushed and recorded.
type DispatchResult struct {
	CallUUID string
	Attempt  *domain.CallAttempt
	Analysis tone.Analysis
	Session  *media.Session
}

// Dispatcher places the first call of the day.
type Dispatcher struct {
	users     UserDirectory
	behavior  BehaviorProvider
	history   DailyCallLog
	recorder  CallRecorder
	sessions  media.SessionProvider
	transport push.Transport
	scorer    tone.Scorer
	publisher queue.EventPublisher
	metrics   *observability.Metrics
	logger    *zap.Logger
	version   string
	now       func() time.Time
	newID     func() string
}

// NewDispatcher builds a dispatcher. sessions may be nil, in which case
// calls go out without a media room.
func NewDispatcher(
	users UserDirectory,
	behavior BehaviorProvider,
	history DailyCallLog,
	recorder CallRecorder,
	sessions media.SessionProvider,
	transport push.Transport,
	scorer tone.Scorer,
	publisher queue.EventPublisher,
	metrics *observability.Metrics,
	version string,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if users == nil {
		return nil, fmt.Errorf("user directory is required")
	}
	if behavior == nil {
		return nil, fmt.Errorf("behavior provider is required")
	}
	if history == nil {
		return nil, fmt.Errorf("call history is required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("call recorder is required")
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

	return &Dispatcher{
		users:     users,
		behavior:  behavior,
		history:   history,
		recorder:  recorder,
		sessions:  sessions,
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

// DispatchByID loads the user and dispatches a call to them.
func (d *Dispatcher) DispatchByID(ctx context.Context, userID string, callType domain.CallType) (*DispatchResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}
	if !callType.IsValid() {
		return nil, fmt.Errorf("%w: invalid call type %q", domain.ErrValidation, callType)
	}

	user, err := d.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return d.Dispatch(ctx, *user, callType)
}

// Dispatch pushes an original call to the user and records it. Nothing is
// recorded when the push fails.
func (d *Dispatcher) Dispatch(ctx context.Context, user domain.User, callType domain.CallType) (*DispatchResult, error) {
	logger := d.logger.With(
		zap.String("userId", user.ID),
		zap.String("callType", callType.String()),
	)

	if !user.HasPushDestination() {
		logger.Warn("user has no push destination")
		d.metrics.IncCallFailed("no_push_token")
		return nil, domain.ErrNoPushToken
	}

	now := d.now()
	exists, err := d.history.HasOriginalSince(ctx, user.ID, callType, user.LocalDayStart(now))
	if err != nil {
		d.metrics.IncCallFailed("persistence")
		return nil, fmt.Errorf("failed to check call history: %w", err)
	}
	if exists {
		logger.Info("call already dispatched today")
		d.metrics.IncCallFailed("duplicate")
		return nil, domain.ErrDuplicateCall
	}

	callUUID := d.newID()
	logger = logger.With(zap.String("callUUID", callUUID))

	analysis := d.analyze(ctx, logger, user.ID)
	mood := analysis.RecommendedMood

	payload := push.Payload{
		UserID:   user.ID,
		CallType: callType,
		Type:     domain.PushTypeCall,
		CallUUID: callUUID,
		Urgency:  domain.UrgencyHigh,
		Mood:     mood.String(),
		Metadata: push.Metadata{
			GeneratedAt: now.UTC(),
			Version:     d.version,
		},
	}

	session := d.createSession(ctx, logger, user, callUUID, callType, mood)
	if session != nil {
		payload.SessionToken = session.Token
		payload.RoomName = session.RoomName
	}

	if err := d.transport.Send(ctx, user.PushToken, payload); err != nil {
		logger.Error("call push failed", zap.Bool("transient", push.IsTransient(err)), zap.Error(err))
		d.metrics.IncCallFailed("transport")
		return nil, fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}

	attempt, err := d.recorder.Track(ctx, TrackParams{
		UserID:   user.ID,
		CallUUID: callUUID,
		CallType: callType,
		Mood:     mood.String(),
	})
	if err != nil {
		logger.Error("call pushed but not recorded", zap.Error(err))
		d.metrics.IncCallFailed("persistence")
		return nil, err
	}

	logger.Info("call dispatched",
		zap.String("mood", mood.String()),
		zap.Float64("confidence", analysis.ConfidenceScore),
		zap.Bool("session", session != nil),
	)
	d.metrics.IncCallDispatched()
	publishEvent(ctx, d.publisher, d.logger, queue.CallEvent{
		Type:       queue.EventCallDispatched,
		CallUUID:   callUUID,
		UserID:     user.ID,
		CallType:   callType,
		Urgency:    domain.UrgencyHigh,
		Mood:       mood.String(),
		OccurredAt: now.UTC(),
	})

	return &DispatchResult{
		CallUUID: callUUID,
		Attempt:  attempt,
		Analysis: analysis,
		Session:  session,
	}, nil
}

func (d *Dispatcher) analyze(ctx context.Context, logger *zap.Logger, userID string) tone.Analysis {
	behavior, err := d.behavior.GetBehavioralContext(ctx, userID)
	if err != nil || behavior == nil {
		logger.Warn("behavioral context unavailable, using empty history", zap.Error(err))
		return d.scorer.Analyze(nil, 0)
	}
	return d.scorer.Analyze(behavior.RecentOutcomes, behavior.StreakDays)
}

func (d *Dispatcher) createSession(
	ctx context.Context,
	logger *zap.Logger,
	user domain.User,
	callUUID string,
	callType domain.CallType,
	mood tone.Mood,
) *media.Session {
	if d.sessions == nil {
		return nil
	}

	session, err := d.sessions.CreateSession(ctx, media.RoomName(user.ID, callUUID), media.ParticipantMetadata{
		UserID:   user.ID,
		Name:     user.Name,
		CallUUID: callUUID,
		CallType: callType.String(),
		Mood:     mood.String(),
	})
	if err != nil {
		logger.Warn("media session unavailable, dispatching without room", zap.Error(err))
		return nil
	}
	return session
}
