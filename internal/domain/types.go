package domain

import "time"

// Category groups products that share a pricing rule and a set of
// customer-supplied fields.
type Category struct {
	ID          string
	Slug        string
	Name        string
	Description string
	Kind        CategoryKind
	ImageURL    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CategoryKind selects the pricing rule applied to products in a category.
type CategoryKind string

const (
	CategoryKindSubscription CategoryKind = "subscription"
	CategoryKindTopUp        CategoryKind = "topup"
	CategoryKindGiftCard     CategoryKind = "giftcard"
	CategoryKindPhysical     CategoryKind = "physical"
	CategoryKindStandard     CategoryKind = "standard"
)

// Product is a catalog entry. BasePrice is in minor currency units (FCFA has
// no subunit, so minor units equal whole francs). Stock is authoritative and
// mutated only through the inventory ledger.
type Product struct {
	ID          string
	Slug        string
	Name        string
	Description string
	BasePrice   int64
	Stock       int64
	CategoryID  string
	IsPhysical  bool
	IsFeatured  bool
	ImageURL    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CartItem is one product line in a customer's cart. UnitPrice is the price
// snapshot produced by the pricing engine when the line was added or last
// updated; it is carried into the order unchanged at checkout.
type CartItem struct {
	ID              string
	ProductID       string
	ProductSlug     string
	NameSnapshot    string
	Quantity        int64
	SelectedOptions map[string]string
	UnitPrice       int64
	AddedAt         time.Time
	UpdatedAt       time.Time
}

// Subtotal returns the line total in minor units.
func (i CartItem) Subtotal() int64 {
	return i.UnitPrice * i.Quantity
}

// Cart is the per-customer mutable collection of line items. One cart per
// user; the cart document ID equals the user ID.
type Cart struct {
	ID        string
	UserID    string
	Items     []CartItem
	Currency  string
	UpdatedAt time.Time
}

// Subtotal sums the line totals of every item in the cart.
func (c Cart) Subtotal() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.Subtotal()
	}
	return total
}

// IsEmpty reports whether the cart holds no line items.
func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// OrderStatus is the order lifecycle state.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed from the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// OrderContact is the customer contact snapshot captured at checkout.
type OrderContact struct {
	Name  string
	Email string
	Phone string
}

// OrderItem is an immutable line snapshot. Product edits after checkout never
// change it.
type OrderItem struct {
	ProductID       string
	ProductName     string
	UnitPrice       int64
	Quantity        int64
	SelectedOptions map[string]string
}

// Subtotal returns the line total in minor units.
func (i OrderItem) Subtotal() int64 {
	return i.UnitPrice * i.Quantity
}

// Order is a durable record created from a cart at checkout. TotalAmount is
// computed once at creation and never recalculated.
type Order struct {
	ID            string
	Number        string
	UserID        string
	Contact       OrderContact
	Items         []OrderItem
	TotalAmount   int64
	Currency      string
	PaymentMethod string
	Status        OrderStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ProcessingAt  *time.Time
	CompletedAt   *time.Time
	CancelledAt   *time.Time
}

// StockLevel is the inventory ledger's view of one product's stock counter.
type StockLevel struct {
	ProductID string
	OnHand    int64
	UpdatedAt time.Time
}

// StockMovement records one ledger mutation for audit trails and events.
type StockMovement struct {
	ProductID string
	Delta     int64
	Reason    string
	OrderID   string
	ActorID   string
	At        time.Time
}

// AuditLogEntry records one administrative mutation for later review.
type AuditLogEntry struct {
	ID        string
	ActorID   string
	Action    string
	TargetRef string
	Before    map[string]any
	After     map[string]any
	CreatedAt time.Time
}

// HealthStatus classifies the outcome of a dependency probe.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// SystemHealthCheck records a single dependency probe result.
type SystemHealthCheck struct {
	Status    HealthStatus
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency probe results for readiness endpoints.
type SystemHealthReport struct {
	Status      HealthStatus
	Checks      map[string]SystemHealthCheck
	GeneratedAt time.Time
}

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of results together with the next cursor token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
