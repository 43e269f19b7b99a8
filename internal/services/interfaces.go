package services

import (
	"context"
	"time"

	domain "github.com/digital-play/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Category           = domain.Category
	CategoryKind       = domain.CategoryKind
	Product            = domain.Product
	Cart               = domain.Cart
	CartItem           = domain.CartItem
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	OrderContact       = domain.OrderContact
	StockLevel         = domain.StockLevel
	StockMovement      = domain.StockMovement
	AuditLogEntry      = domain.AuditLogEntry
	SystemHealthReport = domain.SystemHealthReport
)

// CatalogService manages products and categories for the storefront and admin panel.
type CatalogService interface {
	ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error)
	GetProduct(ctx context.Context, idOrSlug string) (Product, error)
	CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	DeleteProduct(ctx context.Context, cmd DeleteProductCommand) error
	ListCategories(ctx context.Context) ([]Category, error)
	CreateCategory(ctx context.Context, cmd UpsertCategoryCommand) (Category, error)
	UpdateCategory(ctx context.Context, cmd UpsertCategoryCommand) (Category, error)
	DeleteCategory(ctx context.Context, cmd DeleteCategoryCommand) error
}

// ProductListFilter narrows catalog listings.
type ProductListFilter struct {
	CategoryID string
	Featured   *bool
	Query      string
	Pagination Pagination
}

// UpsertProductCommand carries product mutation input from admin handlers.
type UpsertProductCommand struct {
	ProductID   string
	ActorID     string
	Slug        string
	Name        string
	Description string
	BasePrice   int64
	CategoryID  string
	IsPhysical  bool
	IsFeatured  bool
	ImageURL    string
}

// DeleteProductCommand removes a product from the catalog.
type DeleteProductCommand struct {
	ProductID string
	ActorID   string
}

// UpsertCategoryCommand carries category mutation input from admin handlers.
type UpsertCategoryCommand struct {
	CategoryID  string
	ActorID     string
	Slug        string
	Name        string
	Description string
	Kind        CategoryKind
	ImageURL    string
}

// DeleteCategoryCommand removes a category; rejected while products reference it.
type DeleteCategoryCommand struct {
	CategoryID string
	ActorID    string
}

// CartService manages per-customer mutable cart state.
type CartService interface {
	GetCart(ctx context.Context, userID string) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	UpdateItem(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	Clear(ctx context.Context, userID string) error
}

// AddCartItemCommand adds a product line to the cart. Product may be referenced
// by ID or slug.
type AddCartItemCommand struct {
	UserID          string
	ProductID       string
	ProductSlug     string
	Quantity        int64
	SelectedOptions map[string]string
}

// UpdateCartItemCommand mutates quantity and/or options of an existing line.
// Quantity <= 0 removes the line. Options == nil keeps the current options.
type UpdateCartItemCommand struct {
	UserID          string
	ItemID          string
	Quantity        int64
	SelectedOptions map[string]string
}

// RemoveCartItemCommand deletes one line from the cart.
type RemoveCartItemCommand struct {
	UserID string
	ItemID string
}

// InventoryService is the sole owner of stock counters.
type InventoryService interface {
	ReserveAndDecrement(ctx context.Context, cmd StockDecrementCommand) error
	Restock(ctx context.Context, cmd StockRestockCommand) error
	GetStock(ctx context.Context, productID string) (StockLevel, error)
	SetStock(ctx context.Context, cmd SetStockCommand) (StockLevel, error)
	ListLowStock(ctx context.Context, filter LowStockFilter) (domain.CursorPage[StockLevel], error)
}

// InventoryLine pairs a product with the quantity to decrement or restock.
type InventoryLine struct {
	ProductID string
	Quantity  int64
}

// StockDecrementCommand decrements stock for every line atomically.
type StockDecrementCommand struct {
	OrderID string
	Reason  string
	Lines   []InventoryLine
}

// StockRestockCommand applies compensating increments.
type StockRestockCommand struct {
	OrderID string
	Reason  string
	Lines   []InventoryLine
}

// SetStockCommand is an administrative absolute stock edit.
type SetStockCommand struct {
	ProductID string
	Quantity  int64
	ActorID   string
}

// LowStockFilter narrows the low-stock listing.
type LowStockFilter struct {
	Threshold  int64
	Pagination Pagination
}

// OrderService converts carts into orders and drives the order state machine.
type OrderService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (Order, error)
	GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) error
}

// CheckoutCommand converts the caller's cart into an order.
type CheckoutCommand struct {
	UserID         string
	Contact        OrderContact
	PaymentMethod  string
	IdempotencyKey string
}

// GetOrderCommand reads a single order; non-admin requesters only see their own.
type GetOrderCommand struct {
	OrderID     string
	RequesterID string
	IsAdmin     bool
}

// OrderListFilter narrows order listings. UserID empty with IsAdmin set lists
// every order.
type OrderListFilter struct {
	UserID     string
	IsAdmin    bool
	Status     OrderStatus
	Pagination Pagination
}

// OrderStatusTransitionCommand moves an order to a new lifecycle state.
type OrderStatusTransitionCommand struct {
	OrderID string
	Target  OrderStatus
	ActorID string
}

// DeleteOrderCommand purges an order record. Deletion never restocks; that is
// what cancellation is for.
type DeleteOrderCommand struct {
	OrderID string
	ActorID string
}

// CartEventPublisher receives fire-and-forget cart change notifications.
type CartEventPublisher interface {
	PublishCartEvent(ctx context.Context, event CartEvent) error
}

// CartEvent describes one cart mutation for UI refresh fan-out.
type CartEvent struct {
	Type       string
	UserID     string
	ProductID  string
	ItemCount  int
	OccurredAt time.Time
}

// OrderEventPublisher receives best-effort order lifecycle notifications.
// Implementations must never block or fail the triggering operation beyond
// returning an error for the caller to log.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent is the payload delivered to the notification dispatcher.
type OrderEvent struct {
	Type        string
	OrderID     string
	OrderNumber string
	UserID      string
	TotalAmount int64
	Currency    string
	Status      OrderStatus
	Contact     OrderContact
	Items       []OrderEventItem
	Summary     string
	OccurredAt  time.Time
}

// OrderEventItem is one line of the notification payload.
type OrderEventItem struct {
	Name      string
	Quantity  int64
	UnitPrice int64
}

// InventoryEventPublisher receives stock movement events.
type InventoryEventPublisher interface {
	PublishInventoryEvent(ctx context.Context, event InventoryEvent) error
}

// InventoryEvent describes one ledger mutation.
type InventoryEvent struct {
	Type       string
	OrderID    string
	Movements  []StockMovement
	OccurredAt time.Time
}

// AuditLogService records administrative mutations.
type AuditLogService interface {
	Record(ctx context.Context, cmd AuditRecordCommand) error
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
}

// AuditRecordCommand captures one administrative action.
type AuditRecordCommand struct {
	ActorID   string
	Action    string
	TargetRef string
	Before    map[string]any
	After     map[string]any
}

// AuditLogFilter narrows audit listings.
type AuditLogFilter struct {
	ActorID    string
	TargetRef  string
	Pagination Pagination
}

// SystemService exposes operational health information.
type SystemService interface {
	Health(ctx context.Context) (SystemHealthReport, error)
}
