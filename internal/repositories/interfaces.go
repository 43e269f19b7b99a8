package repositories

import (
	"context"
	"time"

	domain "github.com/digital-play/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Categories() CategoryRepository
	Carts() CartRepository
	Inventory() InventoryRepository
	Orders() OrderRepository
	AuditLogs() AuditLogRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository persists catalog products. Stock fields on the product
// document are owned by the InventoryRepository; writes here never touch them.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	Delete(ctx context.Context, productID string) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindBySlug(ctx context.Context, slug string) (domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
	CountByCategory(ctx context.Context, categoryID string) (int64, error)
}

// ProductListFilter narrows product listings.
type ProductListFilter struct {
	CategoryID string
	Featured   *bool
	Query      string
	Pagination domain.Pagination
}

// CategoryRepository persists product categories.
type CategoryRepository interface {
	Insert(ctx context.Context, category domain.Category) error
	Update(ctx context.Context, category domain.Category) error
	Delete(ctx context.Context, categoryID string) error
	FindByID(ctx context.Context, categoryID string) (domain.Category, error)
	FindBySlug(ctx context.Context, slug string) (domain.Category, error)
	List(ctx context.Context) ([]domain.Category, error)
}

// CartRepository owns cart header + items persistence.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	ReplaceItems(ctx context.Context, userID string, items []domain.CartItem, now time.Time) (domain.Cart, error)
	Clear(ctx context.Context, userID string, now time.Time) error
}

// InventoryRepository is the only component allowed to mutate stock counters.
// Decrement applies every line inside a single store transaction: a line whose
// on-hand count is below the requested quantity fails the whole transaction
// with an insufficient-stock error, so the decrement is never a read-then-write
// pair observable by concurrent checkouts.
type InventoryRepository interface {
	Decrement(ctx context.Context, req StockDecrementRequest) (StockMutationResult, error)
	Increment(ctx context.Context, req StockIncrementRequest) (StockMutationResult, error)
	GetStock(ctx context.Context, productID string) (domain.StockLevel, error)
	SetStock(ctx context.Context, productID string, quantity int64, now time.Time) (domain.StockLevel, error)
	ListLowStock(ctx context.Context, query LowStockQuery) (domain.CursorPage[domain.StockLevel], error)
}

// StockLine pairs a product with a quantity for a ledger mutation.
type StockLine struct {
	ProductID string
	Quantity  int64
}

// StockDecrementRequest carries an ordered, aggregated set of decrement lines.
type StockDecrementRequest struct {
	Lines   []StockLine
	OrderID string
	Reason  string
	Now     time.Time
}

// StockIncrementRequest carries compensating restock lines.
type StockIncrementRequest struct {
	Lines   []StockLine
	OrderID string
	Reason  string
	Now     time.Time
}

// StockMutationResult returns the post-mutation stock levels keyed by product ID.
type StockMutationResult struct {
	Levels map[string]domain.StockLevel
}

// LowStockQuery filters the low-stock listing.
type LowStockQuery struct {
	Threshold  int64
	Pagination domain.Pagination
}

// OrderRepository persists orders and their immutable item snapshots.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	UpdateStatus(ctx context.Context, update OrderStatusUpdate) (domain.Order, error)
	Delete(ctx context.Context, orderID string) error
	ListByUser(ctx context.Context, userID string, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderStatusUpdate mutates an order's lifecycle state and status timestamps.
type OrderStatusUpdate struct {
	OrderID      string
	Status       domain.OrderStatus
	Now          time.Time
	ProcessingAt *time.Time
	CompletedAt  *time.Time
	CancelledAt  *time.Time
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	Status     domain.OrderStatus
	Pagination domain.Pagination
}

// AuditLogRepository appends administrative audit entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

// AuditLogFilter narrows audit listings.
type AuditLogFilter struct {
	ActorID    string
	TargetRef  string
	Pagination domain.Pagination
}

// CounterRepository allocates monotonically increasing sequence values.
type CounterRepository interface {
	Next(ctx context.Context, name string) (int64, error)
}

// HealthRepository aggregates dependency probe results for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
