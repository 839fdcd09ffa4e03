package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitMQPublisher struct {
	client *RabbitMQ
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

func (p *RabbitMQPublisher) PublishEvent(ctx context.Context, event CallEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid call event: %w", err)
	}
	return p.publish(ctx, EventQueue, event.CallUUID, string(event.Type), PriorityValue(event.Urgency), event)
}

// PublishAck enqueues a client outcome, used by ops tooling and clients without a direct HTTP path.
func (p *RabbitMQPublisher) PublishAck(ctx context.Context, msg AckMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid ack message: %w", err)
	}
	return p.publish(ctx, AckQueue, msg.CallUUID, string(msg.Outcome), 0, msg)
}

func (p *RabbitMQPublisher) publish(ctx context.Context, queue, messageID, kind string, priority uint8, body any) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", queue, err)
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    messageID,
		Type:         kind,
		Priority:     priority,
		Body:         payload,
	}

	if err := ch.PublishWithContext(ctx, "", queue, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish message to queue %q: %w", queue, err)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
