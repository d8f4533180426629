package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dlxExchangeName = "pushengine.dlx"
	dialTimeout     = 15 * time.Second
)

// RabbitMQ owns one broker connection and re-dials it lazily. Every channel
// it hands out has the work queues and their dead-letter queues declared.
type RabbitMQ struct {
	url    string
	queues []string

	mu   sync.Mutex
	conn *amqp.Connection
}

func NewRabbitMQ(url string, queues ...string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	if len(queues) == 0 {
		queues = []string{DefaultIngressQueue}
	}
	for _, q := range queues {
		if strings.TrimSpace(q) == "" {
			return nil, fmt.Errorf("queue name is required")
		}
	}

	r := &RabbitMQ{url: url, queues: queues}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if _, err := r.connection(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// channel opens a channel on the live connection. A failed open discards the
// connection and retries once on a fresh one.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	for attempt := 0; ; attempt++ {
		conn, err := r.connection(ctx)
		if err != nil {
			return nil, err
		}

		ch, err := conn.Channel()
		if err != nil {
			if attempt > 0 {
				return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
			}
			r.discard(conn)
			continue
		}

		if err := declareTopology(ch, r.queues); err != nil {
			_ = ch.Close()
			return nil, err
		}
		return ch, nil
	}
}

// connection returns the current connection, dialing with backoff until one
// succeeds or ctx ends. Concurrent callers wait on the same dial.
func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil && !r.conn.IsClosed() {
		return r.conn, nil
	}

	b := newBackoff()
	for {
		conn, dialErr := amqp.Dial(r.url)
		if dialErr == nil {
			r.conn = conn
			return conn, nil
		}
		if err := sleepContext(ctx, b.next()); err != nil {
			return nil, fmt.Errorf("rabbitmq dial canceled (last error: %v): %w", dialErr, err)
		}
	}
}

func (r *RabbitMQ) discard(conn *amqp.Connection) {
	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	r.mu.Unlock()

	if !conn.IsClosed() {
		_ = conn.Close()
	}
}

// topologyDeclarer is the subset of *amqp.Channel used to declare queues.
type topologyDeclarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// declareTopology declares one durable priority queue per name. Rejected
// messages dead-letter through the shared direct exchange into dlq.<name>,
// routed by the original queue name.
func declareTopology(ch topologyDeclarer, queues []string) error {
	const (
		durable    = true
		autoDelete = false
		internal   = false
		exclusive  = false
		noWait     = false
	)

	if err := ch.ExchangeDeclare(dlxExchangeName, amqp.ExchangeDirect, durable, autoDelete, internal, noWait, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", dlxExchangeName, err)
	}

	for _, name := range queues {
		dlq := DLQName(name)
		if _, err := ch.QueueDeclare(dlq, durable, autoDelete, exclusive, noWait, nil); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", dlq, err)
		}
		if err := ch.QueueBind(dlq, name, dlxExchangeName, noWait, nil); err != nil {
			return fmt.Errorf("failed to bind queue %q: %w", dlq, err)
		}

		args := amqp.Table{
			"x-dead-letter-exchange":    dlxExchangeName,
			"x-dead-letter-routing-key": name,
			"x-max-priority":            queueMaxPriority,
		}
		if _, err := ch.QueueDeclare(name, durable, autoDelete, exclusive, noWait, args); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", name, err)
		}
	}
	return nil
}
