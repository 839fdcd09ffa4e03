package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/accountability-dispatch/internal/domain"
	"github.com/kursadbilgin/accountability-dispatch/internal/observability"
	"github.com/kursadbilgin/accountability-dispatch/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSweepLimit       = 50
	defaultSweepConcurrency = 10

	SweepCategoryOriginals = "originals"
	SweepCategoryRetries   = "retries"
)

const (
	sweepResultEscalated   = "escalated"
	sweepResultFired       = "fired"
	sweepResultCapReached  = "cap_reached"
	sweepResultSkipped     = "skipped"
	sweepResultNoPushToken = "no_push_token"
	sweepResultFailed      = "failed"
)

// MissedCallHandler escalates a call nobody answered and fires pending retries.
type MissedCallHandler interface {
	HandleMissed(ctx context.Context, missed MissedCall) (*domain.CallAttempt, error)
	FireRetry(ctx context.Context, retry domain.CallAttempt) (bool, error)
}

// SweepCategoryReport counts what happened to the rows of one scan.
type SweepCategoryReport struct {
	Scanned    int
	Escalated  int
	Fired      int
	CapReached int
	Skipped    int
	Failed     int
	// Expired counts last-rung retries stamped without a send.
	Expired int
}

// SweepReport summarizes one sweep tick.
type SweepReport struct {
	Originals SweepCategoryReport
	Retries   SweepCategoryReport
}

// Sweep escalates calls whose timeout passed without an acknowledgment.
type Sweep struct {
	calls       repository.CallAttemptRepository
	escalator   MissedCallHandler
	metrics     *observability.Metrics
	logger      *zap.Logger
	limit       int
	concurrency int
	now         func() time.Time
}

func NewSweep(
	calls repository.CallAttemptRepository,
	escalator MissedCallHandler,
	metrics *observability.Metrics,
	limit int,
	logger *zap.Logger,
) (*Sweep, error) {
	if calls == nil {
		return nil, fmt.Errorf("call attempt repository is required")
	}
	if escalator == nil {
		return nil, fmt.Errorf("missed call handler is required")
	}
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sweep{
		calls:       calls,
		escalator:   escalator,
		metrics:     metrics,
		logger:      logger,
		limit:       limit,
		concurrency: defaultSweepConcurrency,
		now:         time.Now,
	}, nil
}

// RunTick runs the originals scan and the retries scan. A failing scan does
// not prevent the other one.
func (s *Sweep) RunTick(ctx context.Context) (*SweepReport, error) {
	now := s.now().UTC()
	report := &SweepReport{}

	var errs []error
	originals, err := s.calls.GetDueOriginals(ctx, now, s.limit)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to fetch due originals: %w", err))
	} else {
		report.Originals = s.sweepRows(ctx, SweepCategoryOriginals, originals, s.escalateOriginal)
	}

	retries, err := s.calls.GetDueRetries(ctx, now, s.limit)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to fetch due retries: %w", err))
	} else {
		report.Retries = s.sweepRows(ctx, SweepCategoryRetries, retries, s.fireRetry)
	}

	expired, err := s.calls.ExpireFinalRetries(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to expire final retries: %w", err))
	}
	report.Retries.Expired = int(expired)

	if report.Originals.Scanned > 0 || report.Retries.Scanned > 0 || expired > 0 {
		s.logger.Info("sweep tick completed",
			zap.Int("originals", report.Originals.Scanned),
			zap.Int("retries", report.Retries.Scanned),
			zap.Int("escalated", report.Originals.Escalated),
			zap.Int("fired", report.Retries.Fired),
			zap.Int("expired", report.Retries.Expired),
			zap.Int("failed", report.Originals.Failed+report.Retries.Failed),
		)
	}
	return report, errors.Join(errs...)
}

type sweepRowFunc func(ctx context.Context, logger *zap.Logger, row domain.CallAttempt) string

func (s *Sweep) sweepRows(ctx context.Context, category string, rows []domain.CallAttempt, handle sweepRowFunc) SweepCategoryReport {
	report := SweepCategoryReport{Scanned: len(rows)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range rows {
		row := rows[i]
		g.Go(func() error {
			logger := s.logger.With(
				zap.String("category", category),
				zap.String("userId", row.UserID),
				zap.String("callUUID", row.ConversationID),
				zap.String("callType", row.CallType.String()),
				zap.Int("attemptNumber", row.RetryAttemptNumber),
			)
			result := handle(ctx, logger, row)
			if result != sweepResultFailed {
				if _, err := s.calls.MarkTimedOut(ctx, row.ConversationID); err != nil {
					logger.Error("failed to stamp call timeout", zap.Error(err))
					result = sweepResultFailed
				}
			}
			s.metrics.IncSweepRow(category, result)

			mu.Lock()
			defer mu.Unlock()
			switch result {
			case sweepResultEscalated:
				report.Escalated++
			case sweepResultFired:
				report.Fired++
			case sweepResultCapReached:
				report.CapReached++
			case sweepResultSkipped, sweepResultNoPushToken:
				report.Skipped++
			default:
				report.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	return report
}

// escalateOriginal hands a missed original to the escalator. A failure
// leaves the row due for the next tick.
func (s *Sweep) escalateOriginal(ctx context.Context, logger *zap.Logger, row domain.CallAttempt) string {
	retry, err := s.escalator.HandleMissed(ctx, MissedCall{
		UserID:   row.UserID,
		CallType: row.CallType,
		CallUUID: row.ConversationID,
		Reason:   domain.RetryReasonMissed,
	})
	switch {
	case errors.Is(err, domain.ErrRetryCapExceeded):
		return sweepResultCapReached
	case err != nil:
		logger.Error("failed to escalate missed call", zap.Error(err))
		return sweepResultFailed
	case retry == nil:
		return sweepResultSkipped
	}
	return sweepResultEscalated
}

// fireRetry re-sends a pending retry whose time came. No record is created;
// a transport failure leaves the row due so the next tick sends again.
func (s *Sweep) fireRetry(ctx context.Context, logger *zap.Logger, row domain.CallAttempt) string {
	fired, err := s.escalator.FireRetry(ctx, row)
	switch {
	case errors.Is(err, domain.ErrNoPushToken):
		logger.Warn("user has no push destination, retry expires unsent")
		return sweepResultNoPushToken
	case err != nil:
		logger.Error("failed to fire pending retry", zap.Error(err))
		return sweepResultFailed
	case !fired:
		return sweepResultSkipped
	}
	return sweepResultFired
}
