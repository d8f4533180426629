package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/service"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Enqueuer is the part of service.Producer the consumer needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, req service.EnqueueRequest) (string, error)
}

// NewEnqueueHandler returns a MessageHandler that hands every message to enq.
func NewEnqueueHandler(enq Enqueuer, logger *zap.Logger) MessageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, msg EnqueueMessage) error {
		id, err := enq.Enqueue(ctx, msg.EnqueueRequest())
		if err != nil {
			return err
		}
		logger.Debug("enqueued entry from broker", zap.String("entryId", id), zap.String("kind", msg.Kind))
		return nil
	}
}

var _ Consumer = (*RabbitMQConsumer)(nil)

// RabbitMQConsumer feeds broker deliveries to a MessageHandler, one channel
// per consume session, and resumes after broker failures.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RabbitMQConsumer{
		client:   client,
		prefetch: max(prefetch, 1),
		logger:   logger,
	}
}

// Consume blocks until ctx is done. Broken sessions are reopened with
// exponential backoff; a session that ends cleanly resets it.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	switch {
	case c == nil || c.client == nil:
		return fmt.Errorf("consumer is not initialized")
	case queue == "":
		return fmt.Errorf("queue name is required")
	case handler == nil:
		return fmt.Errorf("message handler is required")
	}

	b := newBackoff()
	for ctx.Err() == nil {
		err := c.session(ctx, queue, handler)
		if err == nil {
			b.reset()
			continue
		}
		if ctx.Err() != nil {
			break
		}

		wait := b.next()
		c.logger.Warn("consumer session ended, reconnecting",
			zap.String("queue", queue),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if sleepContext(ctx, wait) != nil {
			break
		}
	}
	return nil
}

func (c *RabbitMQConsumer) session(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	const (
		autoAck   = false
		exclusive = false
		noLocal   = false
		noWait    = false
	)
	deliveries, err := ch.Consume(queue, "", autoAck, exclusive, noLocal, noWait, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %q closed", queue)
			}
			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

type disposition int

const (
	dispositionAck disposition = iota
	dispositionDeadLetter
	dispositionRequeue
)

// handleDelivery settles d exactly once. Messages that can never succeed
// go to the dead-letter queue; transient failures are requeued.
func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	disp, reason := c.process(ctx, d, handler)

	var err error
	switch disp {
	case dispositionAck:
		err = d.Ack(false)
	case dispositionDeadLetter:
		c.logger.Warn("dead-lettering message", zap.String("messageId", d.MessageId), zap.Error(reason))
		err = d.Reject(false)
	case dispositionRequeue:
		c.logger.Error("enqueue failed, requeueing message", zap.String("messageId", d.MessageId), zap.Error(reason))
		err = d.Nack(false, true)
	}
	if err != nil {
		return fmt.Errorf("failed to settle delivery %d: %w", d.DeliveryTag, err)
	}
	return nil
}

func (c *RabbitMQConsumer) process(ctx context.Context, d amqp.Delivery, handler MessageHandler) (disposition, error) {
	var msg EnqueueMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return dispositionDeadLetter, fmt.Errorf("decode message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return dispositionDeadLetter, err
	}

	err := handler(ctx, msg)
	switch {
	case err == nil:
		return dispositionAck, nil
	case errors.Is(err, domain.ErrInvalidArgument):
		return dispositionDeadLetter, err
	default:
		return dispositionRequeue, err
	}
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
