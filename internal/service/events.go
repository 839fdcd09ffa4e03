package service

import (
	"context"

	"github.com/kursadbilgin/accountability-dispatch/internal/queue"
	"go.uber.org/zap"
)

// publishEvent is best effort: a broker outage never fails a call transition.
func publishEvent(ctx context.Context, publisher queue.EventPublisher, logger *zap.Logger, event queue.CallEvent) {
	if err := publisher.PublishEvent(ctx, event); err != nil {
		logger.Warn("failed to publish call event",
			zap.String("event", string(event.Type)),
			zap.String("userId", event.UserID),
			zap.String("callUUID", event.CallUUID),
			zap.Error(err),
		)
	}
}
