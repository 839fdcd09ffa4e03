package queue

import (
	"context"

	"github.com/kursadbilgin/accountability-dispatch/internal/domain"
)

const (
	// AckQueue carries client call outcomes into the tracker.
	AckQueue = "call.acks"
	// EventQueue carries call lifecycle events for downstream consumers.
	EventQueue = "call.events"

	// queueMaxPriority is the RabbitMQ x-max-priority value for the event queue.
	queueMaxPriority int32 = 3
)

// EventPublisher publishes call lifecycle events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event CallEvent) error
}

// AckHandler handles a consumed acknowledgment message.
type AckHandler func(ctx context.Context, msg AckMessage) error

// AckConsumer consumes acknowledgment messages until ctx is done.
type AckConsumer interface {
	ConsumeAcks(ctx context.Context, handler AckHandler) error
	Close() error
}

// DLQName returns the dead-letter queue name, e.g. dlq.call.acks.
func DLQName(queue string) string {
	return "dlq." + queue
}

// QueueNames returns every work queue declared by the topology.
func QueueNames() []string {
	return []string{AckQueue, EventQueue}
}

// DLQNames returns every dead-letter queue declared by the topology.
func DLQNames() []string {
	queues := QueueNames()
	dlqs := make([]string, 0, len(queues))
	for _, q := range queues {
		dlqs = append(dlqs, DLQName(q))
	}
	return dlqs
}

// PriorityValue maps urgency to RabbitMQ message priority. Originals carry no urgency and get 0.
func PriorityValue(urgency domain.Urgency) uint8 {
	return uint8(urgency.Rank())
}

// NopEventPublisher drops events when no broker is configured.
type NopEventPublisher struct{}

func (NopEventPublisher) PublishEvent(context.Context, CallEvent) error { return nil }
