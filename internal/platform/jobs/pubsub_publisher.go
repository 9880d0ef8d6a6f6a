package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/greenbasket/api/internal/services"
)

// PubSubJobPublisher publishes background job messages to Pub/Sub topics.
// Order notifications and reservation sweeps use separate topics so their
// workers scale independently.
type PubSubJobPublisher struct {
	notifications *pubsub.Topic
	sweeps        *pubsub.Topic
	marshal       func(any) ([]byte, error)
}

// NewPubSubJobPublisher constructs a Pub/Sub backed job publisher.
func NewPubSubJobPublisher(notifications, sweeps *pubsub.Topic) (*PubSubJobPublisher, error) {
	if notifications == nil {
		return nil, errors.New("pubsub job publisher: notification topic is required")
	}
	if sweeps == nil {
		return nil, errors.New("pubsub job publisher: reservation sweep topic is required")
	}
	return &PubSubJobPublisher{
		notifications: notifications,
		sweeps:        sweeps,
		marshal:       json.Marshal,
	}, nil
}

// PublishOrderNotification enqueues an order notification message.
func (p *PubSubJobPublisher) PublishOrderNotification(ctx context.Context, message services.OrderNotificationMessage) (string, error) {
	if p == nil || p.notifications == nil {
		return "", errors.New("pubsub job publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal order notification: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "messageId", message.MessageID)
	setAttr(attrs, "orderId", message.OrderID)
	setAttr(attrs, "orderNumber", message.OrderNumber)
	setAttr(attrs, "event", message.Event)

	result := p.notifications.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish order notification: %w", err)
	}
	return id, nil
}

// PublishReservationSweep enqueues a reservation sweep message.
func (p *PubSubJobPublisher) PublishReservationSweep(ctx context.Context, message services.ReservationSweepMessage) (string, error) {
	if p == nil || p.sweeps == nil {
		return "", errors.New("pubsub job publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal reservation sweep: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "messageId", message.MessageID)
	setAttr(attrs, "orderCount", strconv.Itoa(len(message.OrderIDs)))

	result := p.sweeps.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish reservation sweep: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
