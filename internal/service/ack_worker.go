package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/accountability-dispatch/internal/domain"
	"github.com/kursadbilgin/accountability-dispatch/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minAckWorkerConcurrency = 1

// AckTracker applies client call outcomes.
type AckTracker interface {
	Acknowledge(ctx context.Context, callUUID string) (bool, error)
	Decline(ctx context.Context, callUUID string, reason domain.RetryReason) (bool, error)
}

// AckWorker consumes client call outcomes from the broker.
type AckWorker struct {
	consumer    queue.AckConsumer
	tracker     AckTracker
	concurrency int
	logger      *zap.Logger
}

func NewAckWorker(consumer queue.AckConsumer, tracker AckTracker, concurrency int, logger *zap.Logger) (*AckWorker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("ack consumer is required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("ack tracker is required")
	}
	if concurrency < minAckWorkerConcurrency {
		concurrency = minAckWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AckWorker{
		consumer:    consumer,
		tracker:     tracker,
		concurrency: concurrency,
		logger:      logger,
	}, nil
}

// Start runs the configured number of consumers until ctx is cancelled.
func (w *AckWorker) Start(ctx context.Context) error {
	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("ack worker started", zap.Int("workerId", workerID))

			if err := w.consumer.ConsumeAcks(groupCtx, w.handle); err != nil {
				w.logger.Error("ack worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("ack worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (w *AckWorker) handle(ctx context.Context, msg queue.AckMessage) error {
	logger := w.logger.With(
		zap.String("callUUID", msg.CallUUID),
		zap.String("outcome", string(msg.Outcome)),
	)

	var (
		applied bool
		err     error
	)
	switch msg.Outcome {
	case queue.AckOutcomeAnswered:
		applied, err = w.tracker.Acknowledge(ctx, msg.CallUUID)
	case queue.AckOutcomeDeclined:
		applied, err = w.tracker.Decline(ctx, msg.CallUUID, domain.RetryReasonDeclined)
	case queue.AckOutcomeFailed:
		applied, err = w.tracker.Decline(ctx, msg.CallUUID, domain.RetryReasonFailed)
	default:
		logger.Warn("unknown ack outcome, dropping")
		return nil
	}

	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrValidation) {
			logger.Warn("ack for unknown or invalid call, dropping", zap.Error(err))
			return nil
		}
		return fmt.Errorf("failed to apply call outcome: %w", err)
	}
	if !applied {
		logger.Info("call outcome already applied")
	}
	return nil
}
