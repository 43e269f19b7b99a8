package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/digital-play/api/internal/services"
)

// PubSubEventPublisher fans order, cart, and inventory events out to their
// Pub/Sub topics. Topics may be nil individually; publishing to a missing
// topic is a silent no-op so a deployment can subscribe to only the event
// classes it cares about.
type PubSubEventPublisher struct {
	orders    *pubsub.Topic
	carts     *pubsub.Topic
	inventory *pubsub.Topic
	marshal   func(any) ([]byte, error)
}

// PubSubEventPublisherConfig names the topics per event class.
type PubSubEventPublisherConfig struct {
	Orders    *pubsub.Topic
	Carts     *pubsub.Topic
	Inventory *pubsub.Topic
}

// NewPubSubEventPublisher constructs a Pub/Sub backed event publisher. At
// least one topic must be configured.
func NewPubSubEventPublisher(cfg PubSubEventPublisherConfig) (*PubSubEventPublisher, error) {
	if cfg.Orders == nil && cfg.Carts == nil && cfg.Inventory == nil {
		return nil, errors.New("pubsub event publisher: at least one topic is required")
	}
	return &PubSubEventPublisher{
		orders:    cfg.Orders,
		carts:     cfg.Carts,
		inventory: cfg.Inventory,
		marshal:   json.Marshal,
	}, nil
}

// PublishOrderEvent enqueues an order lifecycle event.
func (p *PubSubEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil {
		return errors.New("pubsub event publisher: not initialised")
	}
	if p.orders == nil {
		return nil
	}

	items := make([]orderEventItemPayload, 0, len(event.Items))
	for _, item := range event.Items {
		items = append(items, orderEventItemPayload{
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	payload := orderEventPayload{
		Type:        event.Type,
		OrderID:     event.OrderID,
		OrderNumber: event.OrderNumber,
		UserID:      event.UserID,
		TotalAmount: event.TotalAmount,
		Currency:    event.Currency,
		Status:      string(event.Status),
		Contact: orderContactPayload{
			Name:  event.Contact.Name,
			Email: event.Contact.Email,
			Phone: event.Contact.Phone,
		},
		Items:      items,
		Summary:    event.Summary,
		OccurredAt: event.OccurredAt,
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "orderNumber", event.OrderNumber)
	setAttr(attrs, "status", string(event.Status))

	return p.publish(ctx, p.orders, "order event", payload, attrs)
}

// PublishCartEvent enqueues a cart change event.
func (p *PubSubEventPublisher) PublishCartEvent(ctx context.Context, event services.CartEvent) error {
	if p == nil {
		return errors.New("pubsub event publisher: not initialised")
	}
	if p.carts == nil {
		return nil
	}

	payload := cartEventPayload{
		Type:       event.Type,
		UserID:     event.UserID,
		ProductID:  event.ProductID,
		ItemCount:  event.ItemCount,
		OccurredAt: event.OccurredAt,
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "userId", event.UserID)
	setAttr(attrs, "productId", event.ProductID)

	return p.publish(ctx, p.carts, "cart event", payload, attrs)
}

// PublishInventoryEvent enqueues a stock movement event.
func (p *PubSubEventPublisher) PublishInventoryEvent(ctx context.Context, event services.InventoryEvent) error {
	if p == nil {
		return errors.New("pubsub event publisher: not initialised")
	}
	if p.inventory == nil {
		return nil
	}

	movements := make([]stockMovementPayload, 0, len(event.Movements))
	for _, movement := range event.Movements {
		movements = append(movements, stockMovementPayload{
			ProductID: movement.ProductID,
			Delta:     movement.Delta,
			Reason:    movement.Reason,
			OrderID:   movement.OrderID,
			ActorID:   movement.ActorID,
			At:        movement.At,
		})
	}
	payload := inventoryEventPayload{
		Type:       event.Type,
		OrderID:    event.OrderID,
		Movements:  movements,
		OccurredAt: event.OccurredAt,
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", event.OrderID)

	return p.publish(ctx, p.inventory, "inventory event", payload, attrs)
}

func (p *PubSubEventPublisher) publish(ctx context.Context, topic *pubsub.Topic, kind string, payload any, attrs map[string]string) error {
	data, err := p.marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}

	result := topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

type orderEventPayload struct {
	Type        string                  `json:"type"`
	OrderID     string                  `json:"orderId"`
	OrderNumber string                  `json:"orderNumber"`
	UserID      string                  `json:"userId"`
	TotalAmount int64                   `json:"totalAmount"`
	Currency    string                  `json:"currency"`
	Status      string                  `json:"status"`
	Contact     orderContactPayload     `json:"contact"`
	Items       []orderEventItemPayload `json:"items"`
	Summary     string                  `json:"summary,omitempty"`
	OccurredAt  time.Time               `json:"occurredAt"`
}

type orderContactPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type orderEventItemPayload struct {
	Name      string `json:"name"`
	Quantity  int64  `json:"qty"`
	UnitPrice int64  `json:"unitPrice"`
}

type cartEventPayload struct {
	Type       string    `json:"type"`
	UserID     string    `json:"userId"`
	ProductID  string    `json:"productId,omitempty"`
	ItemCount  int       `json:"itemCount"`
	OccurredAt time.Time `json:"occurredAt"`
}

type inventoryEventPayload struct {
	Type       string                 `json:"type"`
	OrderID    string                 `json:"orderId,omitempty"`
	Movements  []stockMovementPayload `json:"movements"`
	OccurredAt time.Time              `json:"occurredAt"`
}

type stockMovementPayload struct {
	ProductID string    `json:"productId"`
	Delta     int64     `json:"delta"`
	Reason    string    `json:"reason"`
	OrderID   string    `json:"orderId,omitempty"`
	ActorID   string    `json:"actorId,omitempty"`
	At        time.Time `json:"at"`
}

var (
	_ services.OrderEventPublisher     = (*PubSubEventPublisher)(nil)
	_ services.CartEventPublisher      = (*PubSubEventPublisher)(nil)
	_ services.InventoryEventPublisher = (*PubSubEventPublisher)(nil)
)
