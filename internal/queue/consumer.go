package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

// ConsumeAcks reconnects with backoff until ctx is done.
func (c *RabbitMQConsumer) ConsumeAcks(ctx context.Context, handler AckHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if handler == nil {
		return fmt.Errorf("ack handler is required")
	}

	backoff := redialFirst
	for {
		err := c.consumeOnce(ctx, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = redialFirst
			continue
		}

		c.logger.Warn("ack consumer interrupted, reconnecting",
			zap.Error(err),
			zap.Duration("backoff", backoff),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff = min(backoff*2, redialCap)
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, handler AckHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(AckQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", AckQueue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

// handleDelivery rejects malformed payloads to the DLQ and requeues handler failures.
func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler AckHandler) error {
	var msg AckMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.logger.Warn("rejecting ack: invalid JSON",
			zap.Error(err),
			zap.String("messageId", d.MessageId),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject invalid message: %w", rejectErr)
		}
		return nil
	}

	if err := msg.Validate(); err != nil {
		c.logger.Warn("rejecting ack: validation failed",
			zap.Error(err),
			zap.String("callUUID", msg.CallUUID),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject invalid payload: %w", rejectErr)
		}
		return nil
	}

	if err := handler(ctx, msg); err != nil {
		if d.Redelivered {
			c.logger.Error("ack handler failed twice, dead-lettering",
				zap.Error(err),
				zap.String("callUUID", msg.CallUUID),
			)
			if rejectErr := d.Reject(false); rejectErr != nil {
				return fmt.Errorf("handler failed and reject failed: %w", rejectErr)
			}
			return nil
		}
		if nackErr := d.Nack(false, true); nackErr != nil {
			return fmt.Errorf("handler failed and nack failed: %w", nackErr)
		}
		return nil
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack delivery: %w", err)
	}

	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
