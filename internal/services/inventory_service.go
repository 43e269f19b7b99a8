package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/digital-play/api/internal/domain"
	"github.com/digital-play/api/internal/repositories"
)

const (
	eventInventoryDecrement = "inventory.decremented"
	eventInventoryRestock   = "inventory.restocked"

	reasonCheckout     = "checkout"
	reasonCancellation = "cancellation"
	reasonAdminEdit    = "admin_edit"
)

var (
	// ErrInventoryInvalidInput signals the caller provided invalid arguments.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryInsufficientStock indicates the requested quantity exceeds the on-hand count.
	ErrInventoryInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInventoryStockNotFound indicates the product has no stock record.
	ErrInventoryStockNotFound = errors.New("inventory: stock not found")
	// ErrInventoryUnavailable indicates the backing store could not serve the request.
	ErrInventoryUnavailable = errors.New("inventory: unavailable")
)

// InsufficientStockError carries the product that could not be decremented so
// callers can surface which line failed.
type InsufficientStockError struct {
	ProductID string
}

// Error implements the error interface.
func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s", e.ProductID)
}

// Unwrap ties the typed error into the package sentinel.
func (e *InsufficientStockError) Unwrap() error {
	return ErrInventoryInsufficientStock
}

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Inventory repositories.InventoryRepository
	Events    InventoryEventPublisher
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	repo   repositories.InventoryRepository
	events InventoryEventPublisher
	now    func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory service: inventory repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &inventoryService{
		repo:   deps.Inventory,
		events: deps.Events,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// ReserveAndDecrement applies every line as one atomic conditional update.
// Lines are aggregated per product and sorted by product ID so concurrent
// checkouts touch stock rows in the same order. Any line with insufficient
// stock fails the whole batch; the repository guarantees no partial decrement
// survives a failed call.
func (s *inventoryService) ReserveAndDecrement(ctx context.Context, cmd StockDecrementCommand) error {
	lines, err := normaliseStockLines(cmd.Lines)
	if err != nil {
		return err
	}

	now := s.now()
	_, err = s.repo.Decrement(ctx, repositories.StockDecrementRequest{
		Lines:   lines,
		OrderID: strings.TrimSpace(cmd.OrderID),
		Reason:  defaultReason(cmd.Reason, reasonCheckout),
		Now:     now,
	})
	if err != nil {
		return s.mapRepositoryError(err)
	}

	s.emitMovementEvent(ctx, eventInventoryDecrement, cmd.OrderID, lines, -1, now)
	return nil
}

// Restock is the compensating increment used when an order is cancelled or a
// checkout attempt is rolled back. It is the only path besides administrative
// edits through which stock increases.
func (s *inventoryService) Restock(ctx context.Context, cmd StockRestockCommand) error {
	lines, err := normaliseStockLines(cmd.Lines)
	if err != nil {
		return err
	}

	now := s.now()
	_, err = s.repo.Increment(ctx, repositories.StockIncrementRequest{
		Lines:   lines,
		OrderID: strings.TrimSpace(cmd.OrderID),
		Reason:  defaultReason(cmd.Reason, reasonCancellation),
		Now:     now,
	})
	if err != nil {
		return s.mapRepositoryError(err)
	}

	s.emitMovementEvent(ctx, eventInventoryRestock, cmd.OrderID, lines, 1, now)
	return nil
}

// GetStock reads the current counter for one product.
func (s *inventoryService) GetStock(ctx context.Context, productID string) (StockLevel, error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return StockLevel{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	level, err := s.repo.GetStock(ctx, id)
	if err != nil {
		return StockLevel{}, s.mapRepositoryError(err)
	}
	return level, nil
}

// SetStock performs an administrative absolute stock edit.
func (s *inventoryService) SetStock(ctx context.Context, cmd SetStockCommand) (StockLevel, error) {
	id := strings.TrimSpace(cmd.ProductID)
	if id == "" {
		return StockLevel{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if cmd.Quantity < 0 {
		return StockLevel{}, fmt.Errorf("%w: quantity must not be negative", ErrInventoryInvalidInput)
	}

	level, err := s.repo.SetStock(ctx, id, cmd.Quantity, s.now())
	if err != nil {
		return StockLevel{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "inventory.stock_set", map[string]any{
		"productId": id,
		"quantity":  cmd.Quantity,
		"actorId":   cmd.ActorID,
	})
	return level, nil
}

// ListLowStock returns products whose counter is at or below the threshold.
func (s *inventoryService) ListLowStock(ctx context.Context, filter LowStockFilter) (domain.CursorPage[StockLevel], error) {
	page, err := s.repo.ListLowStock(ctx, repositories.LowStockQuery{
		Threshold:  filter.Threshold,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[StockLevel]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *inventoryService) emitMovementEvent(ctx context.Context, eventType, orderID string, lines []repositories.StockLine, sign int64, now time.Time) {
	if s.events == nil {
		return
	}
	movements := make([]domain.StockMovement, 0, len(lines))
	for _, line := range lines {
		movements = append(movements, domain.StockMovement{
			ProductID: line.ProductID,
			Delta:     sign * line.Quantity,
			OrderID:   orderID,
			At:        now,
		})
	}
	err := s.events.PublishInventoryEvent(ctx, InventoryEvent{
		Type:       eventType,
		OrderID:    orderID,
		Movements:  movements,
		OccurredAt: now,
	})
	if err != nil {
		s.logger(ctx, "inventory.event_publish_failed", map[string]any{
			"type":    eventType,
			"orderId": orderID,
			"error":   err.Error(),
		})
	}
}

func (s *inventoryService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return &InsufficientStockError{ProductID: invErr.ProductID}
		case repositories.InventoryErrorStockNotFound:
			return fmt.Errorf("%w: %s", ErrInventoryStockNotFound, invErr.ProductID)
		}
	}
	if isRepoNotFound(err) {
		return fmt.Errorf("%w: %v", ErrInventoryStockNotFound, err)
	}
	return fmt.Errorf("%w: %v", ErrInventoryUnavailable, err)
}

// normaliseStockLines validates, aggregates duplicate products and sorts by
// product ID for deterministic lock ordering.
func normaliseStockLines(lines []InventoryLine) ([]repositories.StockLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrInventoryInvalidInput)
	}
	aggregated := make(map[string]int64, len(lines))
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" {
			return nil, fmt.Errorf("%w: line product id is required", ErrInventoryInvalidInput)
		}
		if line.Quantity < 1 {
			return nil, fmt.Errorf("%w: line quantity must be at least 1", ErrInventoryInvalidInput)
		}
		aggregated[id] += line.Quantity
	}

	out := make([]repositories.StockLine, 0, len(aggregated))
	for id, quantity := range aggregated {
		out = append(out, repositories.StockLine{ProductID: id, Quantity: quantity})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func defaultReason(reason, fallback string) string {
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		return trimmed
	}
	return fallback
}
