package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	jobEventNotificationQueued = "jobs.order_notification.queued"
	jobEventSweepQueued        = "jobs.reservation_sweep.queued"
)

// ErrJobInvalidInput indicates required fields were missing from the payload.
var ErrJobInvalidInput = errors.New("background jobs: invalid input")

// JobPublisher publishes background job messages to the queue.
type JobPublisher interface {
	PublishOrderNotification(ctx context.Context, message OrderNotificationMessage) (string, error)
	PublishReservationSweep(ctx context.Context, message ReservationSweepMessage) (string, error)
}

// OrderNotificationMessage is the payload delivered to notification workers via Pub/Sub.
type OrderNotificationMessage struct {
	MessageID   string    `json:"messageId"`
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	Event       string    `json:"event"`
	Email       string    `json:"email,omitempty"`
	AmountPaise int64     `json:"amountPaise"`
	QueuedAt    time.Time `json:"queuedAt"`
}

// ReservationSweepMessage asks a worker to re-check reserved stock for orders
// whose conversion or cancellation could not restore it inline.
type ReservationSweepMessage struct {
	MessageID string    `json:"messageId"`
	OrderIDs  []string  `json:"orderIds"`
	QueuedAt  time.Time `json:"queuedAt"`
}

// BackgroundJobDispatcherDeps enumerates collaborators required to construct the dispatcher.
type BackgroundJobDispatcherDeps struct {
	Publisher   JobPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type backgroundJobDispatcher struct {
	publisher JobPublisher
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewBackgroundJobDispatcher wires dependencies into a BackgroundJobDispatcher implementation.
func NewBackgroundJobDispatcher(deps BackgroundJobDispatcherDeps) (BackgroundJobDispatcher, error) {
	if deps.Publisher == nil {
		return nil, errors.New("background job dispatcher: publisher is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &backgroundJobDispatcher{
		publisher: deps.Publisher,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (d *backgroundJobDispatcher) EnqueueOrderNotification(ctx context.Context, payload OrderNotificationPayload) error {
	orderID := strings.TrimSpace(payload.OrderID)
	event := strings.TrimSpace(payload.Event)
	if orderID == "" || event == "" {
		return fmt.Errorf("%w: order id and event are required", ErrJobInvalidInput)
	}

	message := OrderNotificationMessage{
		MessageID:   "msg_" + d.newID(),
		OrderID:     orderID,
		OrderNumber: strings.TrimSpace(payload.OrderNumber),
		Event:       event,
		Email:       strings.TrimSpace(payload.Email),
		AmountPaise: payload.AmountPaise,
		QueuedAt:    d.clock(),
	}

	publishedID, err := d.publisher.PublishOrderNotification(ctx, message)
	if err != nil {
		return fmt.Errorf("background jobs: publish order notification: %w", err)
	}

	d.logger(ctx, jobEventNotificationQueued, map[string]any{
		"messageId":   message.MessageID,
		"publishedId": publishedID,
		"orderId":     orderID,
		"event":       event,
	})
	return nil
}

func (d *backgroundJobDispatcher) EnqueueReservationSweep(ctx context.Context, payload ReservationSweepPayload) error {
	orderIDs := make([]string, 0, len(payload.OrderIDs))
	for _, id := range payload.OrderIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			orderIDs = append(orderIDs, trimmed)
		}
	}
	if len(orderIDs) == 0 {
		return fmt.Errorf("%w: at least one order id is required", ErrJobInvalidInput)
	}

	message := ReservationSweepMessage{
		MessageID: "msg_" + d.newID(),
		OrderIDs:  orderIDs,
		QueuedAt:  d.clock(),
	}

	publishedID, err := d.publisher.PublishReservationSweep(ctx, message)
	if err != nil {
		return fmt.Errorf("background jobs: publish reservation sweep: %w", err)
	}

	d.logger(ctx, jobEventSweepQueued, map[string]any{
		"messageId":   message.MessageID,
		"publishedId": publishedID,
		"orderCount":  len(orderIDs),
	})
	return nil
}
