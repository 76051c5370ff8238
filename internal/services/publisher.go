package services

import (
	"context"

	"kassa/internal/amqp"
	"kassa/internal/delivery"
)

// Publisher hands a rendered message chunk to whatever delivers it.
type Publisher interface {
	Publish(ctx context.Context, chatID int64, text, kind string) error
}

// SenderPublisher delivers in-process through a Sender.
type SenderPublisher struct {
	Sender delivery.Sender
}

func (p SenderPublisher) Publish(ctx context.Context, chatID int64, text, _ string) error {
	return p.Sender.Send(ctx, chatID, text)
}

// NotificationPublisher is the subset of the AMQP client used here.
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, msg *amqp.NotificationMessage) error
}

// QueuePublisher enqueues messages for the delivery worker.
type QueuePublisher struct {
	Client NotificationPublisher
}

func (p QueuePublisher) Publish(ctx context.Context, chatID int64, text, kind string) error {
	return p.Client.PublishNotification(ctx, amqp.NewNotificationMessage(chatID, text, kind))
}
