package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/greenbasket/api/internal/services"
)

func newTestPublisher(t *testing.T) (*PubSubJobPublisher, *pstest.Server) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() {
		_ = srv.Close()
	})

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})

	notifications, err := client.CreateTopic(ctx, "order-notifications")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	sweeps, err := client.CreateTopic(ctx, "reservation-sweeps")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubJobPublisher(notifications, sweeps)
	if err != nil {
		t.Fatalf("NewPubSubJobPublisher: %v", err)
	}
	return publisher, srv
}

func TestPublishOrderNotification(t *testing.T) {
	ctx := context.Background()
	publisher, srv := newTestPublisher(t)

	msg := services.OrderNotificationMessage{
		MessageID:   "msg_test1",
		OrderID:     "ord_test1",
		OrderNumber: "GB-2026-000042",
		Event:       "order.created",
		Email:       "asha@example.com",
		AmountPaise: 98500,
		QueuedAt:    time.Date(2026, 9, 1, 10, 30, 0, 0, time.UTC),
	}

	if _, err := publisher.PublishOrderNotification(ctx, msg); err != nil {
		t.Fatalf("PublishOrderNotification: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.OrderNotificationMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != msg.OrderID || payload.AmountPaise != msg.AmountPaise {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["event"]; attr != "order.created" {
		t.Fatalf("expected event attribute, got %q", attr)
	}
	if _, ok := messages[0].Attributes["email"]; ok {
		t.Fatalf("email must not leak into attributes")
	}
}

func TestPublishReservationSweep(t *testing.T) {
	ctx := context.Background()
	publisher, srv := newTestPublisher(t)

	msg := services.ReservationSweepMessage{
		MessageID: "msg_test2",
		OrderIDs:  []string{"ord_a", "ord_b"},
		QueuedAt:  time.Date(2026, 9, 1, 10, 45, 0, 0, time.UTC),
	}

	if _, err := publisher.PublishReservationSweep(ctx, msg); err != nil {
		t.Fatalf("PublishReservationSweep: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if attr := messages[0].Attributes["orderCount"]; attr != "2" {
		t.Fatalf("expected orderCount attribute 2, got %q", attr)
	}

	var payload services.ReservationSweepMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if len(payload.OrderIDs) != 2 || payload.OrderIDs[0] != "ord_a" {
		t.Fatalf("unexpected payload %#v", payload)
	}
}

func TestNewPubSubJobPublisherRequiresTopics(t *testing.T) {
	if _, err := NewPubSubJobPublisher(nil, nil); err == nil {
		t.Fatal("expected error when topics are missing")
	}
}
