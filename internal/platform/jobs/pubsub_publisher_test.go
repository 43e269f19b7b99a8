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

	domain "github.com/digital-play/api/internal/domain"
	"github.com/digital-play/api/internal/services"
)

func newTestPublisher(t *testing.T) (*PubSubEventPublisher, *pstest.Server) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	orders, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic orders: %v", err)
	}
	carts, err := client.CreateTopic(ctx, "cart-events")
	if err != nil {
		t.Fatalf("CreateTopic carts: %v", err)
	}
	inventory, err := client.CreateTopic(ctx, "inventory-events")
	if err != nil {
		t.Fatalf("CreateTopic inventory: %v", err)
	}

	publisher, err := NewPubSubEventPublisher(PubSubEventPublisherConfig{
		Orders:    orders,
		Carts:     carts,
		Inventory: inventory,
	})
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}
	return publisher, srv
}

func TestPubSubEventPublisherPublishesOrderEvent(t *testing.T) {
	publisher, srv := newTestPublisher(t)
	ctx := context.Background()

	occurredAt := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	event := services.OrderEvent{
		Type:        "order.created",
		OrderID:     "ord_test",
		OrderNumber: "DP-2026-000042",
		UserID:      "user-1",
		TotalAmount: 66600,
		Currency:    "XAF",
		Status:      domain.OrderStatusPending,
		Contact:     services.OrderContact{Name: "Ama", Email: "ama@example.com"},
		Items: []services.OrderEventItem{
			{Name: "Netflix Premium", Quantity: 2, UnitPrice: 21600},
		},
		Summary:    "Nouvelle commande DP-2026-000042",
		OccurredAt: occurredAt,
	}

	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload orderEventPayload
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != event.OrderID || payload.OrderNumber != event.OrderNumber {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if payload.TotalAmount != 66600 {
		t.Fatalf("expected total 66600, got %d", payload.TotalAmount)
	}
	if attr := messages[0].Attributes["orderNumber"]; attr != "DP-2026-000042" {
		t.Fatalf("expected order number attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["status"]; attr != "pending" {
		t.Fatalf("expected status attribute, got %q", attr)
	}
}

func TestPubSubEventPublisherPublishesInventoryEvent(t *testing.T) {
	publisher, srv := newTestPublisher(t)
	ctx := context.Background()

	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	event := services.InventoryEvent{
		Type:    "inventory.decremented",
		OrderID: "ord_test",
		Movements: []services.StockMovement{
			{ProductID: "prod_a", Delta: -3, Reason: "checkout", OrderID: "ord_test", At: at},
		},
		OccurredAt: at,
	}

	if err := publisher.PublishInventoryEvent(ctx, event); err != nil {
		t.Fatalf("PublishInventoryEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload inventoryEventPayload
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if len(payload.Movements) != 1 || payload.Movements[0].Delta != -3 {
		t.Fatalf("unexpected movements %#v", payload.Movements)
	}
	if attr := messages[0].Attributes["type"]; attr != "inventory.decremented" {
		t.Fatalf("expected type attribute, got %q", attr)
	}
}

func TestPubSubEventPublisherSkipsUnconfiguredTopic(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() { _ = client.Close() }()

	orders, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubEventPublisher(PubSubEventPublisherConfig{Orders: orders})
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}

	if err := publisher.PublishCartEvent(ctx, services.CartEvent{Type: "cart.item_added", UserID: "u"}); err != nil {
		t.Fatalf("expected nil topic publish to be a no-op, got %v", err)
	}
	if got := len(srv.Messages()); got != 0 {
		t.Fatalf("expected no messages, got %d", got)
	}
}
