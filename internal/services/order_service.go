package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/digital-play/api/internal/domain"
	"github.com/digital-play/api/internal/repositories"
)

const (
	orderIDPrefix = "ord_"

	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status_changed"

	counterOrderNumber = "orders"
)

var (
	// ErrOrderInvalidInput indicates the caller supplied invalid arguments.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderEmptyCart indicates checkout was attempted with no cart lines.
	ErrOrderEmptyCart = errors.New("order: cart is empty")
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the requester may not access the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderIllegalTransition indicates the requested status change violates the state machine.
	ErrOrderIllegalTransition = errors.New("order: illegal status transition")
	// ErrOrderUnavailable indicates the backing store could not serve the request.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

// IllegalTransitionError reports the offending pair so admin tooling can show
// exactly which move was rejected.
type IllegalTransitionError struct {
	From domain.OrderStatus
	To   domain.OrderStatus
}

// Error implements the error interface.
func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("cannot transition order from %s to %s", e.From, e.To)
}

// Unwrap ties the typed error into the package sentinel.
func (e *IllegalTransitionError) Unwrap() error {
	return ErrOrderIllegalTransition
}

// orderStateTransitions is the complete transition table. Terminal states have
// no entry: every transition out of them is illegal.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusCompleted, domain.OrderStatusCancelled},
}

func canTransition(current, target domain.OrderStatus) bool {
	return slices.Contains(orderStateTransitions[current], target)
}

var knownOrderStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusProcessing,
	domain.OrderStatusCompleted,
	domain.OrderStatusCancelled,
}

// OrderServiceDeps bundles the collaborators required to construct an order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Carts       repositories.CartRepository
	Inventory   InventoryService
	Counters    repositories.CounterRepository
	UnitOfWork  repositories.UnitOfWork
	Events      OrderEventPublisher
	Audit       AuditLogService
	Clock       func() time.Time
	IDGenerator func() string
	Currency    string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	carts      repositories.CartRepository
	inventory  InventoryService
	counters   repositories.CounterRepository
	unitOfWork repositories.UnitOfWork
	events     OrderEventPublisher
	audit      AuditLogService
	clock      func() time.Time
	newID      func() string
	currency   string
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	unitOfWork := deps.UnitOfWork
	if unitOfWork == nil {
		unitOfWork = noopUnitOfWork{}
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "XAF"
	}

	return &orderService{
		orders:     deps.Orders,
		carts:      deps.Carts,
		inventory:  deps.Inventory,
		counters:   deps.Counters,
		unitOfWork: unitOfWork,
		events:     deps.Events,
		audit:      deps.Audit,
		clock:      func() time.Time { return clock().UTC() },
		newID:      idGen,
		currency:   currency,
		logger:     logger,
	}, nil
}

// Checkout converts the caller's cart into a pending order. The stock
// decrement, the order insert and the cart clear run in one unit of work, so
// a failed checkout leaves no partial state behind.
func (s *orderService) Checkout(ctx context.Context, cmd CheckoutCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.IdempotencyKey) == "" {
		return Order{}, fmt.Errorf("%w: idempotency key is required", ErrOrderInvalidInput)
	}
	paymentMethod := strings.TrimSpace(cmd.PaymentMethod)
	if paymentMethod == "" {
		return Order{}, fmt.Errorf("%w: payment method is required", ErrOrderInvalidInput)
	}

	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return Order{}, ErrOrderEmptyCart
		}
		return Order{}, s.mapRepositoryError(err)
	}
	if cart.IsEmpty() {
		return Order{}, ErrOrderEmptyCart
	}

	now := s.clock()
	orderID := orderIDPrefix + s.newID()

	lines := make([]InventoryLine, 0, len(cart.Items))
	for _, item := range cart.Items {
		lines = append(lines, InventoryLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	order := domain.Order{
		ID:            orderID,
		UserID:        userID,
		Contact:       normaliseContact(cmd.Contact),
		Items:         buildOrderItems(cart.Items),
		Currency:      cart.Currency,
		PaymentMethod: paymentMethod,
		Status:        domain.OrderStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if order.Currency == "" {
		order.Currency = s.currency
	}
	for _, item := range order.Items {
		order.TotalAmount += item.Subtotal()
	}

	number, err := s.nextOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}
	order.Number = number

	// One unit of work: the decrement reads every stock line before the
	// first write, then the stock updates, the order insert and the cart
	// clear commit together or not at all.
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.inventory.ReserveAndDecrement(txCtx, StockDecrementCommand{
			OrderID: orderID,
			Reason:  reasonCheckout,
			Lines:   lines,
		}); err != nil {
			return err
		}
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.carts.Clear(txCtx, userID, now); err != nil && !isRepoNotFound(err) {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, orderEventCreated, order)
	return order, nil
}

// GetOrder returns one order; non-admin requesters only see their own.
func (s *orderService) GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !cmd.IsAdmin && order.UserID != strings.TrimSpace(cmd.RequesterID) {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderForbidden, orderID)
	}
	return order, nil
}

// ListOrders pages through a user's orders, or every order for admins.
func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	repoFilter := repositories.OrderListFilter{
		Status:     filter.Status,
		Pagination: filter.Pagination,
	}
	if filter.IsAdmin && strings.TrimSpace(filter.UserID) == "" {
		page, err := s.orders.List(ctx, repoFilter)
		if err != nil {
			return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
		}
		return page, nil
	}

	userID := strings.TrimSpace(filter.UserID)
	if userID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.ListByUser(ctx, userID, repoFilter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// TransitionStatus validates the move against the transition table and applies
// it. Entering cancelled restocks every line quantity; terminal states reject
// all further transitions.
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	actor := strings.TrimSpace(cmd.ActorID)
	if orderID == "" || actor == "" {
		return Order{}, fmt.Errorf("%w: order id and actor are required", ErrOrderInvalidInput)
	}
	if !slices.Contains(knownOrderStatuses, cmd.Target) {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Target)
	}

	now := s.clock()
	update := repositories.OrderStatusUpdate{
		OrderID: orderID,
		Status:  cmd.Target,
		Now:     now,
	}
	switch cmd.Target {
	case domain.OrderStatusProcessing:
		update.ProcessingAt = &now
	case domain.OrderStatusCompleted:
		update.CompletedAt = &now
	case domain.OrderStatusCancelled:
		update.CancelledAt = &now
	}

	// The order read, the cancellation restock and the status write share one
	// unit of work; the restock precedes the write so every read lands first.
	var order domain.Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if !canTransition(current.Status, cmd.Target) {
			return &IllegalTransitionError{From: current.Status, To: cmd.Target}
		}
		order = current
		if cmd.Target == domain.OrderStatusCancelled {
			lines := make([]InventoryLine, 0, len(current.Items))
			for _, item := range current.Items {
				lines = append(lines, InventoryLine{ProductID: item.ProductID, Quantity: item.Quantity})
			}
			if err := s.inventory.Restock(txCtx, StockRestockCommand{
				OrderID: current.ID,
				Reason:  reasonCancellation,
				Lines:   lines,
			}); err != nil {
				return err
			}
		}
		if _, err := s.orders.UpdateStatus(txCtx, update); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	previous := order.Status
	order.Status = cmd.Target
	order.UpdatedAt = now
	switch cmd.Target {
	case domain.OrderStatusProcessing:
		order.ProcessingAt = &now
	case domain.OrderStatusCompleted:
		order.CompletedAt = &now
	case domain.OrderStatusCancelled:
		order.CancelledAt = &now
	}

	s.recordAudit(ctx, actor, "order.status_changed", order.ID,
		map[string]any{"status": string(previous)},
		map[string]any{"status": string(order.Status)})
	if order.Status.IsTerminal() {
		s.publishEvent(ctx, orderEventStatusChanged, order)
	}
	return order, nil
}

// DeleteOrder purges the order and its item snapshots. Deletion never
// restocks; cancellation is the operation with stock semantics.
func (s *orderService) DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) error {
	orderID := strings.TrimSpace(cmd.OrderID)
	actor := strings.TrimSpace(cmd.ActorID)
	if orderID == "" || actor == "" {
		return fmt.Errorf("%w: order id and actor are required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if err := s.orders.Delete(ctx, orderID); err != nil {
		return s.mapRepositoryError(err)
	}

	s.recordAudit(ctx, actor, "order.deleted", orderID, map[string]any{"status": string(order.Status)}, nil)
	return nil
}

func (s *orderService) nextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	if s.counters == nil {
		// Injected generators may produce short IDs; never slice past the end.
		id := s.newID()
		if len(id) > 10 {
			id = id[:10]
		}
		return "DP-" + id, nil
	}
	seq, err := s.counters.Next(ctx, counterOrderNumber)
	if err != nil {
		return "", s.mapRepositoryError(err)
	}
	return fmt.Sprintf("DP-%04d-%06d", now.Year(), seq), nil
}

func (s *orderService) publishEvent(ctx context.Context, eventType string, order Order) {
	if s.events == nil {
		return
	}
	items := make([]OrderEventItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderEventItem{
			Name:      item.ProductName,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	err := s.events.PublishOrderEvent(ctx, OrderEvent{
		Type:        eventType,
		OrderID:     order.ID,
		OrderNumber: order.Number,
		UserID:      order.UserID,
		TotalAmount: order.TotalAmount,
		Currency:    order.Currency,
		Status:      order.Status,
		Contact:     order.Contact,
		Items:       items,
		OccurredAt:  s.clock(),
	})
	if err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{
			"type":    eventType,
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) recordAudit(ctx context.Context, actor, action, orderID string, before, after map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, AuditRecordCommand{
		ActorID:   actor,
		Action:    action,
		TargetRef: "/orders/" + orderID,
		Before:    before,
		After:     after,
	})
	if err != nil {
		s.logger(ctx, "order.audit_record_failed", map[string]any{
			"orderId": orderID,
			"action":  action,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
}

func buildOrderItems(items []domain.CartItem) []domain.OrderItem {
	out := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		options := make(map[string]string, len(item.SelectedOptions))
		for key, value := range item.SelectedOptions {
			options[key] = value
		}
		out = append(out, domain.OrderItem{
			ProductID:       item.ProductID,
			ProductName:     item.NameSnapshot,
			UnitPrice:       item.UnitPrice,
			Quantity:        item.Quantity,
			SelectedOptions: options,
		})
	}
	return out
}

func normaliseContact(contact OrderContact) OrderContact {
	return OrderContact{
		Name:  strings.TrimSpace(contact.Name),
		Email: strings.TrimSpace(contact.Email),
		Phone: strings.TrimSpace(contact.Phone),
	}
}

type noopUnitOfWork struct{}

// RunInTx executes fn without any transactional guarantees.
func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// NoopUnitOfWork returns a pass-through unit of work for stores that lack
// multi-repository transactions.
func NoopUnitOfWork() repositories.UnitOfWork {
	return noopUnitOfWork{}
}
