package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// deadLetterExchange routes rejected acks and events to dlq.<queue>.
	deadLetterExchange = "calls.dead-letter"

	dialTimeout = 15 * time.Second
	redialFirst = time.Second
	redialCap   = 30 * time.Second
)

// queueSpec is one work queue of the call pipeline and its dead-letter queue.
type queueSpec struct {
	name       string
	deadLetter string
	args       amqp.Table
}

func topology() []queueSpec {
	names := QueueNames()
	specs := make([]queueSpec, 0, len(names))
	for _, name := range names {
		specs = append(specs, queueSpec{name: name, deadLetter: DLQName(name), args: queueArgs(name)})
	}
	return specs
}

// queueArgs dead-letters under the queue's own name. Only the event queue is
// a priority queue, so emergency retries overtake routine events.
func queueArgs(name string) amqp.Table {
	args := amqp.Table{
		"x-dead-letter-exchange":    deadLetterExchange,
		"x-dead-letter-routing-key": name,
	}
	if name == EventQueue {
		args["x-max-priority"] = queueMaxPriority
	}
	return args
}

// RabbitMQ is the broker session the event publisher and the ack consumer
// share. A dropped connection is redialed on the next channel request.
type RabbitMQ struct {
	url  string
	dial func(url string) (*amqp.Connection, error)

	mu   sync.Mutex
	conn *amqp.Connection
}

func NewRabbitMQ(ctx context.Context, url string) (*RabbitMQ, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	b := &RabbitMQ{url: url, dial: amqp.Dial}

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if _, err := b.connection(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// connection hands out the live connection, redialing with doubling pauses
// up to redialCap until ctx ends.
func (b *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil && !b.conn.IsClosed() {
		return b.conn, nil
	}

	pause := redialFirst
	for {
		conn, err := b.dial(b.url)
		if err == nil {
			b.conn = conn
			return conn, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rabbitmq unreachable: %w", errors.Join(err, ctx.Err()))
		case <-time.After(pause):
		}
		pause = min(2*pause, redialCap)
	}
}

// channel opens a channel with the call topology declared. When the broker
// refuses the channel the connection is dropped and dialed once more.
func (b *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	conn, err := b.connection(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		b.discard(conn)
		if conn, err = b.connection(ctx); err != nil {
			return nil, err
		}
		if ch, err = conn.Channel(); err != nil {
			return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
		}
	}

	if err := declareTopology(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

func (b *RabbitMQ) discard(conn *amqp.Connection) {
	b.mu.Lock()
	if b.conn == conn {
		b.conn = nil
	}
	b.mu.Unlock()
	_ = conn.Close()
}

func (b *RabbitMQ) Close() error {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

func declareTopology(ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(deadLetterExchange, amqp.ExchangeDirect, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", deadLetterExchange, err)
	}

	for _, q := range topology() {
		if _, err := ch.QueueDeclare(q.deadLetter, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare %s: %w", q.deadLetter, err)
		}
		if err := ch.QueueBind(q.deadLetter, q.name, deadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind %s to %s: %w", q.deadLetter, deadLetterExchange, err)
		}
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("failed to declare %s: %w", q.name, err)
		}
	}
	return nil
}
