package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/accountability-dispatch/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultDispatchBatchSize = 10

const (
	LaneFirstDay  = "first_day"
	LaneRecurring = "recurring"
)

// EligibilityProvider returns the users due a call at now.
type EligibilityProvider interface {
	GetUsersDueNow(ctx context.Context, now time.Time) (domain.DueUsers, error)
}

// CallDispatcher places one original call.
type CallDispatcher interface {
	Dispatch(ctx context.Context, user domain.User, callType domain.CallType) (*DispatchResult, error)
}

// DispatchOutcome is the per-user result of a dispatch tick.
type DispatchOutcome struct {
	UserID   string
	Lane     string
	Success  bool
	CallUUID string
	Err      error
}

// TickReport summarizes one dispatch tick.
type TickReport struct {
	StartedAt time.Time
	FirstDay  []DispatchOutcome
	Recurring []DispatchOutcome
}

func (r *TickReport) Succeeded() int {
	return r.count(true)
}

func (r *TickReport) Failed() int {
	return r.count(false)
}

func (r *TickReport) count(success bool) int {
	n := 0
	for _, lane := range [][]DispatchOutcome{r.FirstDay, r.Recurring} {
		for _, outcome := range lane {
			if outcome.Success == success {
				n++
			}
		}
	}
	return n
}

// Orchestrator dispatches every due user in bounded concurrent batches.
type Orchestrator struct {
	eligibility EligibilityProvider
	dispatcher  CallDispatcher
	callType    domain.CallType
	batchSize   int
	logger      *zap.Logger
	now         func() time.Time
}

func NewOrchestrator(
	eligibility EligibilityProvider,
	dispatcher CallDispatcher,
	callType domain.CallType,
	batchSize int,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if eligibility == nil {
		return nil, fmt.Errorf("eligibility provider is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("call dispatcher is required")
	}
	if !callType.IsValid() {
		return nil, fmt.Errorf("invalid call type %q", callType)
	}
	if batchSize <= 0 {
		batchSize = defaultDispatchBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		eligibility: eligibility,
		dispatcher:  dispatcher,
		callType:    callType,
		batchSize:   batchSize,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// RunTick dispatches first-day users before recurring users. Per-user
// failures are reported in the TickReport and never abort the tick.
func (o *Orchestrator) RunTick(ctx context.Context) (*TickReport, error) {
	report := &TickReport{StartedAt: o.now().UTC()}

	due, err := o.eligibility.GetUsersDueNow(ctx, report.StartedAt)
	if err != nil {
		return report, fmt.Errorf("failed to resolve due users: %w", err)
	}

	report.FirstDay, err = o.runLane(ctx, LaneFirstDay, due.FirstDay)
	if err != nil {
		return report, err
	}
	report.Recurring, err = o.runLane(ctx, LaneRecurring, due.Recurring)
	if err != nil {
		return report, err
	}

	o.logger.Info("dispatch tick completed",
		zap.Int("firstDay", len(report.FirstDay)),
		zap.Int("recurring", len(report.Recurring)),
		zap.Int("succeeded", report.Succeeded()),
		zap.Int("failed", report.Failed()),
	)
	return report, nil
}

func (o *Orchestrator) runLane(ctx context.Context, lane string, users []domain.User) ([]DispatchOutcome, error) {
	outcomes := make([]DispatchOutcome, 0, len(users))
	for start := 0; start < len(users); start += o.batchSize {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		end := min(start+o.batchSize, len(users))
		batch := make([]DispatchOutcome, end-start)

		var g errgroup.Group
		for i, user := range users[start:end] {
			g.Go(func() error {
				batch[i] = o.dispatchOne(ctx, lane, user)
				return nil
			})
		}
		_ = g.Wait()

		outcomes = append(outcomes, batch...)
	}
	return outcomes, nil
}

func (o *Orchestrator) dispatchOne(ctx context.Context, lane string, user domain.User) (outcome DispatchOutcome) {
	outcome = DispatchOutcome{UserID: user.ID, Lane: lane}
	defer func() {
		if r := recover(); r != nil {
			outcome.Success = false
			outcome.Err = fmt.Errorf("dispatch panicked: %v", r)
			o.logger.Error("dispatch panicked", zap.String("userId", user.ID), zap.Any("panic", r))
		}
	}()

	result, err := o.dispatcher.Dispatch(ctx, user, o.callType)
	if err != nil {
		outcome.Err = err
		o.logger.Warn("dispatch failed",
			zap.String("userId", user.ID),
			zap.String("lane", lane),
			zap.Error(err),
		)
		return outcome
	}

	outcome.Success = true
	outcome.CallUUID = result.CallUUID
	return outcome
}
