package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/digital-play/api/internal/domain"
	"github.com/digital-play/api/internal/repositories"
)

type stubInventoryRepo struct {
	decrementFn func(ctx context.Context, req repositories.StockDecrementRequest) (repositories.StockMutationResult, error)
	incrementFn func(ctx context.Context, req repositories.StockIncrementRequest) (repositories.StockMutationResult, error)
	getStockFn  func(ctx context.Context, productID string) (domain.StockLevel, error)
	setStockFn  func(ctx context.Context, productID string, quantity int64, now time.Time) (domain.StockLevel, error)
	listLowFn   func(ctx context.Context, query repositories.LowStockQuery) (domain.CursorPage[domain.StockLevel], error)
}

func (s *stubInventoryRepo) Decrement(ctx context.Context, req repositories.StockDecrementRequest) (repositories.StockMutationResult, error) {
	if s.decrementFn != nil {
		return s.decrementFn(ctx, req)
	}
	return repositories.StockMutationResult{}, nil
}

func (s *stubInventoryRepo) Increment(ctx context.Context, req repositories.StockIncrementRequest) (repositories.StockMutationResult, error) {
	if s.incrementFn != nil {
		return s.incrementFn(ctx, req)
	}
	return repositories.StockMutationResult{}, nil
}

func (s *stubInventoryRepo) GetStock(ctx context.Context, productID string) (domain.StockLevel, error) {
	if s.getStockFn != nil {
		return s.getStockFn(ctx, productID)
	}
	return domain.StockLevel{}, errRepoNotFound
}

func (s *stubInventoryRepo) SetStock(ctx context.Context, productID string, quantity int64, now time.Time) (domain.StockLevel, error) {
	if s.setStockFn != nil {
		return s.setStockFn(ctx, productID, quantity, now)
	}
	return domain.StockLevel{ProductID: productID, OnHand: quantity, UpdatedAt: now}, nil
}

func (s *stubInventoryRepo) ListLowStock(ctx context.Context, query repositories.LowStockQuery) (domain.CursorPage[domain.StockLevel], error) {
	if s.listLowFn != nil {
		return s.listLowFn(ctx, query)
	}
	return domain.CursorPage[domain.StockLevel]{}, nil
}

type captureInventoryEvents struct {
	events []InventoryEvent
}

func (c *captureInventoryEvents) PublishInventoryEvent(_ context.Context, event InventoryEvent) error {
	c.events = append(c.events, event)
	return nil
}

func newTestInventoryService(t *testing.T, repo repositories.InventoryRepository, events InventoryEventPublisher) InventoryService {
	t.Helper()
	svc, err := NewInventoryService(InventoryServiceDeps{
		Inventory: repo,
		Events:    events,
		Clock: func() time.Time {
			return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}
	return svc
}

func TestInventoryServiceDecrementAggregatesAndSortsLines(t *testing.T) {
	repo := &stubInventoryRepo{}
	events := &captureInventoryEvents{}
	var captured repositories.StockDecrementRequest
	repo.decrementFn = func(_ context.Context, req repositories.StockDecrementRequest) (repositories.StockMutationResult, error) {
		captured = req
		return repositories.StockMutationResult{}, nil
	}
	svc := newTestInventoryService(t, repo, events)

	err := svc.ReserveAndDecrement(context.Background(), StockDecrementCommand{
		OrderID: "ord-1",
		Lines: []InventoryLine{
			{ProductID: "prod-b", Quantity: 1},
			{ProductID: "prod-a", Quantity: 2},
			{ProductID: "prod-b", Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("reserve and decrement: %v", err)
	}
	if len(captured.Lines) != 2 {
		t.Fatalf("expected 2 aggregated lines, got %d", len(captured.Lines))
	}
	if captured.Lines[0].ProductID != "prod-a" || captured.Lines[0].Quantity != 2 {
		t.Fatalf("unexpected first line %+v", captured.Lines[0])
	}
	if captured.Lines[1].ProductID != "prod-b" || captured.Lines[1].Quantity != 3 {
		t.Fatalf("unexpected second line %+v", captured.Lines[1])
	}
	if captured.Reason != "checkout" {
		t.Fatalf("expected default reason checkout, got %q", captured.Reason)
	}

	if len(events.events) != 1 {
		t.Fatalf("expected one event, got %d", len(events.events))
	}
	event := events.events[0]
	if event.Type != eventInventoryDecrement || event.OrderID != "ord-1" {
		t.Fatalf("unexpected event %+v", event)
	}
	if len(event.Movements) != 2 {
		t.Fatalf("expected 2 movements, got %d", len(event.Movements))
	}
	if event.Movements[0].Delta != -2 || event.Movements[1].Delta != -3 {
		t.Fatalf("expected negative deltas, got %+v", event.Movements)
	}
}

func TestInventoryServiceDecrementMapsInsufficientStock(t *testing.T) {
	repo := &stubInventoryRepo{
		decrementFn: func(context.Context, repositories.StockDecrementRequest) (repositories.StockMutationResult, error) {
			return repositories.StockMutationResult{}, repositories.NewInventoryError(
				repositories.InventoryErrorInsufficientStock, "prod-a", "insufficient stock for prod-a: have 1, want 3", nil)
		},
	}
	svc := newTestInventoryService(t, repo, nil)

	err := svc.ReserveAndDecrement(context.Background(), StockDecrementCommand{
		OrderID: "ord-1",
		Lines:   []InventoryLine{{ProductID: "prod-a", Quantity: 3}},
	})
	if !errors.Is(err, ErrInventoryInsufficientStock) {
		t.Fatalf("expected insufficient stock sentinel, got %v", err)
	}
	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) || stockErr.ProductID != "prod-a" {
		t.Fatalf("expected typed error naming prod-a, got %v", err)
	}
}

func TestInventoryServiceRestockEmitsPositiveMovements(t *testing.T) {
	repo := &stubInventoryRepo{}
	events := &captureInventoryEvents{}
	var captured repositories.StockIncrementRequest
	repo.incrementFn = func(_ context.Context, req repositories.StockIncrementRequest) (repositories.StockMutationResult, error) {
		captured = req
		return repositories.StockMutationResult{}, nil
	}
	svc := newTestInventoryService(t, repo, events)

	err := svc.Restock(context.Background(), StockRestockCommand{
		OrderID: "ord-1",
		Lines:   []InventoryLine{{ProductID: "prod-a", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("restock: %v", err)
	}
	if captured.Reason != "cancellation" {
		t.Fatalf("expected default reason cancellation, got %q", captured.Reason)
	}
	if len(events.events) != 1 || events.events[0].Type != eventInventoryRestock {
		t.Fatalf("unexpected events %+v", events.events)
	}
	if events.events[0].Movements[0].Delta != 2 {
		t.Fatalf("expected positive delta, got %+v", events.events[0].Movements)
	}
}

func TestInventoryServiceRestockKeepsExplicitReason(t *testing.T) {
	repo := &stubInventoryRepo{}
	var captured repositories.StockIncrementRequest
	repo.incrementFn = func(_ context.Context, req repositories.StockIncrementRequest) (repositories.StockMutationResult, error) {
		captured = req
		return repositories.StockMutationResult{}, nil
	}
	svc := newTestInventoryService(t, repo, nil)

	err := svc.Restock(context.Background(), StockRestockCommand{
		OrderID: "ord-1",
		Reason:  "manual_adjustment",
		Lines:   []InventoryLine{{ProductID: "prod-a", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("restock: %v", err)
	}
	if captured.Reason != "manual_adjustment" {
		t.Fatalf("expected explicit reason, got %q", captured.Reason)
	}
}

func TestInventoryServiceRejectsInvalidLines(t *testing.T) {
	svc := newTestInventoryService(t, &stubInventoryRepo{}, nil)
	ctx := context.Background()

	cases := []struct {
		name  string
		lines []InventoryLine
	}{
		{"no lines", nil},
		{"blank product", []InventoryLine{{ProductID: "  ", Quantity: 1}}},
		{"zero quantity", []InventoryLine{{ProductID: "prod-a", Quantity: 0}}},
		{"negative quantity", []InventoryLine{{ProductID: "prod-a", Quantity: -2}}},
	}
	for _, tc := range cases {
		err := svc.ReserveAndDecrement(ctx, StockDecrementCommand{OrderID: "ord-1", Lines: tc.lines})
		if !errors.Is(err, ErrInventoryInvalidInput) {
			t.Fatalf("%s: expected invalid input, got %v", tc.name, err)
		}
	}
}

func TestInventoryServiceGetStockNotFound(t *testing.T) {
	repo := &stubInventoryRepo{
		getStockFn: func(context.Context, string) (domain.StockLevel, error) {
			return domain.StockLevel{}, repositories.NewInventoryError(
				repositories.InventoryErrorStockNotFound, "prod-ghost", "", nil)
		},
	}
	svc := newTestInventoryService(t, repo, nil)

	_, err := svc.GetStock(context.Background(), "prod-ghost")
	if !errors.Is(err, ErrInventoryStockNotFound) {
		t.Fatalf("expected stock not found, got %v", err)
	}
}

func TestInventoryServiceSetStockValidatesInput(t *testing.T) {
	svc := newTestInventoryService(t, &stubInventoryRepo{}, nil)
	ctx := context.Background()

	if _, err := svc.SetStock(ctx, SetStockCommand{ProductID: "", Quantity: 5}); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected invalid input for blank id, got %v", err)
	}
	if _, err := svc.SetStock(ctx, SetStockCommand{ProductID: "prod-a", Quantity: -1}); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected invalid input for negative quantity, got %v", err)
	}

	level, err := svc.SetStock(ctx, SetStockCommand{ProductID: "prod-a", Quantity: 7, ActorID: "admin-1"})
	if err != nil {
		t.Fatalf("set stock: %v", err)
	}
	if level.ProductID != "prod-a" || level.OnHand != 7 {
		t.Fatalf("unexpected level %+v", level)
	}
}

func TestInventoryServiceListLowStockPassesFilter(t *testing.T) {
	var captured repositories.LowStockQuery
	repo := &stubInventoryRepo{
		listLowFn: func(_ context.Context, query repositories.LowStockQuery) (domain.CursorPage[domain.StockLevel], error) {
			captured = query
			return domain.CursorPage[domain.StockLevel]{
				Items: []domain.StockLevel{{ProductID: "prod-a", OnHand: 1}},
			}, nil
		},
	}
	svc := newTestInventoryService(t, repo, nil)

	page, err := svc.ListLowStock(context.Background(), LowStockFilter{
		Threshold:  3,
		Pagination: Pagination{PageSize: 20},
	})
	if err != nil {
		t.Fatalf("list low stock: %v", err)
	}
	if captured.Threshold != 3 || captured.Pagination.PageSize != 20 {
		t.Fatalf("unexpected query %+v", captured)
	}
	if len(page.Items) != 1 || page.Items[0].ProductID != "prod-a" {
		t.Fatalf("unexpected page %+v", page)
	}
}
