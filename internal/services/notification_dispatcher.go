package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/digital-play/api/internal/domain"
)

// NotificationDispatcherDeps enumerates the transports the dispatcher fans
// out to. Any transport may be nil; its event class is then dropped.
type NotificationDispatcherDeps struct {
	Orders    OrderEventPublisher
	Carts     CartEventPublisher
	Inventory InventoryEventPublisher
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

// NotificationDispatcher decorates outgoing events before they reach the
// transport: order events get a human-readable summary for the admin
// channel, rendered in the storefront's French locale.
type NotificationDispatcher struct {
	orders    OrderEventPublisher
	carts     CartEventPublisher
	inventory InventoryEventPublisher
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
	printer   *message.Printer
}

// NewNotificationDispatcher wires the dispatcher. All transports nil is
// valid and yields a dispatcher that drops everything, which keeps local
// development working without a broker.
func NewNotificationDispatcher(deps NotificationDispatcherDeps) (*NotificationDispatcher, error) {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &NotificationDispatcher{
		orders:    deps.Orders,
		carts:     deps.Carts,
		inventory: deps.Inventory,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:  logger,
		printer: message.NewPrinter(language.French),
	}, nil
}

// PublishOrderEvent fills in the admin summary and forwards the event.
func (d *NotificationDispatcher) PublishOrderEvent(ctx context.Context, event OrderEvent) error {
	if d == nil || d.orders == nil {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = d.clock()
	}
	if strings.TrimSpace(event.Summary) == "" {
		event.Summary = d.renderOrderSummary(event)
	}
	if err := d.orders.PublishOrderEvent(ctx, event); err != nil {
		d.logger(ctx, "notification.order_publish_failed", map[string]any{
			"type":    event.Type,
			"orderId": event.OrderID,
			"error":   err.Error(),
		})
		return err
	}
	return nil
}

// PublishCartEvent forwards a cart change event.
func (d *NotificationDispatcher) PublishCartEvent(ctx context.Context, event CartEvent) error {
	if d == nil || d.carts == nil {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = d.clock()
	}
	if err := d.carts.PublishCartEvent(ctx, event); err != nil {
		d.logger(ctx, "notification.cart_publish_failed", map[string]any{
			"type":   event.Type,
			"userId": event.UserID,
			"error":  err.Error(),
		})
		return err
	}
	return nil
}

// PublishInventoryEvent forwards a stock movement event.
func (d *NotificationDispatcher) PublishInventoryEvent(ctx context.Context, event InventoryEvent) error {
	if d == nil || d.inventory == nil {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = d.clock()
	}
	if err := d.inventory.PublishInventoryEvent(ctx, event); err != nil {
		d.logger(ctx, "notification.inventory_publish_failed", map[string]any{
			"type":    event.Type,
			"orderId": event.OrderID,
			"error":   err.Error(),
		})
		return err
	}
	return nil
}

func (d *NotificationDispatcher) renderOrderSummary(event OrderEvent) string {
	var b strings.Builder

	number := strings.TrimSpace(event.OrderNumber)
	if number == "" {
		number = strings.TrimSpace(event.OrderID)
	}

	switch {
	case event.Type == orderEventCreated:
		fmt.Fprintf(&b, "Nouvelle commande %s", number)
	case event.Status == domain.OrderStatusCancelled:
		fmt.Fprintf(&b, "Commande %s annulée", number)
	case event.Status == domain.OrderStatusCompleted:
		fmt.Fprintf(&b, "Commande %s terminée", number)
	default:
		fmt.Fprintf(&b, "Commande %s: %s", number, event.Status)
	}

	if name := strings.TrimSpace(event.Contact.Name); name != "" {
		fmt.Fprintf(&b, "\nClient: %s", name)
		if email := strings.TrimSpace(event.Contact.Email); email != "" {
			fmt.Fprintf(&b, " (%s)", email)
		}
	}
	if phone := strings.TrimSpace(event.Contact.Phone); phone != "" {
		fmt.Fprintf(&b, "\nTéléphone: %s", phone)
	}

	for _, item := range event.Items {
		fmt.Fprintf(&b, "\n- %d x %s à %s", item.Quantity, item.Name, d.formatAmount(item.UnitPrice, event.Currency))
	}

	fmt.Fprintf(&b, "\nTotal: %s", d.formatAmount(event.TotalAmount, event.Currency))
	return b.String()
}

func (d *NotificationDispatcher) formatAmount(amount int64, currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" || currency == "XAF" {
		currency = "FCFA"
	}
	return d.printer.Sprintf("%d %s", amount, currency)
}

var (
	_ OrderEventPublisher     = (*NotificationDispatcher)(nil)
	_ CartEventPublisher      = (*NotificationDispatcher)(nil)
	_ InventoryEventPublisher = (*NotificationDispatcher)(nil)
)
