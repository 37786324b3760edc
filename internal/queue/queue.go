package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// SendQueueName is the work queue consumed by send workers.
	SendQueueName = "cc.send"
	// DelayQueueName holds delayed re-publications until their TTL dead-letters them back to SendQueueName.
	DelayQueueName = "cc.send.delay"
	// DLQName receives jobs that exceeded the delivery limit or were rejected as malformed.
	DLQName = "dlq.cc.send"

	deliveryCountHeader = "x-delivery-count"
)

// ErrRedeliver asks the transport to redeliver the job (nack with requeue).
var ErrRedeliver = errors.New("redeliver job")

// ErrDeadLetter asks the transport to give up on the job (reject without requeue).
var ErrDeadLetter = errors.New("dead-letter job")

// Publisher publishes dispatch jobs onto the send queue.
type Publisher interface {
	Publish(ctx context.Context, msg DispatchMessage) error
	// PublishDelayed re-publishes msg unchanged so it becomes visible after delay.
	PublishDelayed(ctx context.Context, msg DispatchMessage, delay time.Duration) error
	Close() error
}

// MessageHandler handles a consumed dispatch job.
type MessageHandler func(ctx context.Context, job DispatchJob) error

// Consumer consumes dispatch jobs from the send queue.
type Consumer interface {
	Consume(ctx context.Context, handler MessageHandler) error
	Close() error
}

// DeliveryLimit converts a max delivery attempt count into the quorum queue x-delivery-limit,
// which counts redeliveries rather than deliveries.
func DeliveryLimit(maxDeliveryAttempts int) int64 {
	if maxDeliveryAttempts < 1 {
		return 0
	}
	return int64(maxDeliveryAttempts - 1)
}

// deliveryCount is 1 on first delivery; the broker reports prior returns in x-delivery-count.
func deliveryCount(headers map[string]any) int {
	raw, ok := headers[deliveryCountHeader]
	if !ok {
		return 1
	}

	switch v := raw.(type) {
	case int64:
		return int(v) + 1
	case int32:
		return int(v) + 1
	case int:
		return v + 1
	default:
		return 1
	}
}

func expirationMillis(delay time.Duration) (string, error) {
	if delay <= 0 {
		return "", fmt.Errorf("delay must be positive, got %s", delay)
	}
	return fmt.Sprintf("%d", delay.Milliseconds()), nil
}
