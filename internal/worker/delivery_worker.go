package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kassa/internal/amqp"
	"kassa/internal/delivery"
	"kassa/internal/log"
	"kassa/internal/metrics"
)

// DeliveryWorker sends queued notification messages to their chats.
type DeliveryWorker struct {
	sender  delivery.Sender
	maxWait time.Duration
	metrics *metrics.Metrics
	logger  *log.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewDeliveryWorker returns a worker that, when the transport is still
// rate limiting after the sender's own retries, waits up to maxWait before
// handing the message back to the broker.
func NewDeliveryWorker(sender delivery.Sender, maxWait time.Duration, m *metrics.Metrics, logger *log.Logger) *DeliveryWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	if maxWait <= 0 {
		maxWait = time.Minute
	}
	return &DeliveryWorker{
		sender:  sender,
		maxWait: maxWait,
		metrics: m,
		logger:  logger.WithComponent(log.ComponentWorker),
		sleep:   sleepContext,
	}
}

// HandleNotification processes a single notification message from AMQP.
// A message the transport refused for good is acknowledged and counted as
// dropped; anything else that fails is returned so the broker redelivers it.
// A rate-limited message is held for the server's retry hint, capped at
// maxWait, before it goes back, so redelivery never hammers the transport.
func (w *DeliveryWorker) HandleNotification(ctx context.Context, msg *amqp.NotificationMessage) error {
	w.logger.DebugContext(ctx, "Processing notification message",
		log.FieldChatID, msg.ChatID,
		log.FieldKind, msg.Kind)

	err := w.sender.Send(ctx, msg.ChatID, msg.Text)
	var rl *delivery.RateLimitError
	switch {
	case err == nil:
		w.metrics.Notification(msg.Kind, "sent")
		return nil
	case errors.Is(err, delivery.ErrDropped):
		w.metrics.Notification(msg.Kind, "dropped")
		w.logger.WarnContext(ctx, "Notification dropped",
			log.FieldChatID, msg.ChatID,
			log.FieldKind, msg.Kind,
			log.FieldError, err)
		return nil
	case errors.As(err, &rl):
		wait := min(max(rl.RetryAfter, time.Second), w.maxWait)
		w.metrics.Notification(msg.Kind, "requeued")
		w.logger.InfoContext(ctx, "Rate limited, holding message before requeue",
			log.FieldChatID, msg.ChatID,
			log.FieldKind, msg.Kind,
			"retry_after", rl.RetryAfter.String(),
			"wait", wait.String())
		if serr := w.sleep(ctx, wait); serr != nil {
			return fmt.Errorf("deliver %s to %d: %w", msg.Kind, msg.ChatID, errors.Join(err, serr))
		}
		return fmt.Errorf("deliver %s to %d: %w", msg.Kind, msg.ChatID, err)
	default:
		w.metrics.Notification(msg.Kind, "requeued")
		return fmt.Errorf("deliver %s to %d: %w", msg.Kind, msg.ChatID, err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
