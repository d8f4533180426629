package queue

import (
	"context"

	"github.com/kursadbilgin/push-engine/internal/domain"
)

// DefaultIngressQueue is where producers publish enqueue requests when no
// queue is configured.
const DefaultIngressQueue = "push.enqueue"

// queueMaxPriority bounds x-max-priority on work queues; it equals the
// broker priority of urgent messages.
const queueMaxPriority int32 = 4

// Publisher sends enqueue requests to a broker queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg EnqueueMessage) error
	Close() error
}

// MessageHandler processes one decoded and validated broker message.
// Errors wrapping domain.ErrInvalidArgument dead-letter the message.
type MessageHandler func(ctx context.Context, msg EnqueueMessage) error

// Consumer runs a MessageHandler over a broker queue until its context ends.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

var brokerPriorities = map[domain.Priority]uint8{
	domain.PriorityLow:    1,
	domain.PriorityNormal: 2,
	"":                    2,
	domain.PriorityHigh:   3,
	domain.PriorityUrgent: uint8(queueMaxPriority),
}

// DLQName names the dead-letter queue paired with queue.
func DLQName(queue string) string {
	return "dlq." + queue
}

// PriorityValue returns the broker message priority for p, or 0 when p is
// not a known priority.
func PriorityValue(p domain.Priority) uint8 {
	return brokerPriorities[p]
}
