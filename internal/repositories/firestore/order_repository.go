package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/digital-play/api/internal/domain"
	pfirestore "github.com/digital-play/api/internal/platform/firestore"
	"github.com/digital-play/api/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists orders with their immutable item snapshots
// embedded in the order document.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	return &OrderRepository{provider: provider, base: base}, nil
}

// Insert creates the order document, failing when the ID already exists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}

	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		if err := tx.Create(ref, newOrderDocument(order)); err != nil {
			return pfirestore.WrapError("orders.insert", err)
		}
		return nil
	}
	if _, err := ref.Create(ctx, newOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// FindByID loads one order by document ID.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// UpdateStatus writes the new lifecycle state and its timestamps, then
// returns the refreshed order.
func (r *OrderRepository) UpdateStatus(ctx context.Context, update repositories.OrderStatusUpdate) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(update.OrderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	now := update.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	updates := []firestore.Update{
		{Path: "status", Value: string(update.Status)},
		{Path: "updatedAt", Value: now},
	}
	if update.ProcessingAt != nil {
		updates = append(updates, firestore.Update{Path: "processingAt", Value: update.ProcessingAt.UTC()})
	}
	if update.CompletedAt != nil {
		updates = append(updates, firestore.Update{Path: "completedAt", Value: update.CompletedAt.UTC()})
	}
	if update.CancelledAt != nil {
		updates = append(updates, firestore.Update{Path: "cancelledAt", Value: update.CancelledAt.UTC()})
	}

	if _, err := r.base.Update(ctx, id, updates); err != nil {
		return domain.Order{}, err
	}
	if _, ok := pfirestore.TxFromContext(ctx); ok {
		// Reads are forbidden after writes inside a transaction; the caller
		// patches its own snapshot instead of a refreshed load.
		return domain.Order{}, nil
	}
	return r.FindByID(ctx, id)
}

// Delete removes the order document and its embedded snapshots.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}

	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("orders.delete", err)
	}
	return nil
}

// ListByUser pages through one customer's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository: user id is required")
	}
	return r.list(ctx, uid, filter)
}

// List pages through all orders, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	return r.list(ctx, "", filter)
}

func (r *OrderRepository) list(ctx context.Context, userID string, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}

	query := client.Collection(orderCollection).Query
	if userID != "" {
		query = query.Where("userId", "==", userID)
	}
	if filter.Status != "" {
		query = query.Where("status", "==", string(filter.Status))
	}
	query = query.OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeCatalogPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeCatalogPageToken(catalogPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{
		Items:         orders,
		NextPageToken: nextToken,
	}, nil
}

type orderDocument struct {
	Number        string               `firestore:"number"`
	UserID        string               `firestore:"userId"`
	Contact       orderContactDocument `firestore:"contact"`
	Items         []orderItemDocument  `firestore:"items"`
	TotalAmount   int64                `firestore:"totalAmount"`
	Currency      string               `firestore:"currency"`
	PaymentMethod string               `firestore:"paymentMethod"`
	Status        string               `firestore:"status"`
	CreatedAt     time.Time            `firestore:"createdAt"`
	UpdatedAt     time.Time            `firestore:"updatedAt"`
	ProcessingAt  *time.Time           `firestore:"processingAt,omitempty"`
	CompletedAt   *time.Time           `firestore:"completedAt,omitempty"`
	CancelledAt   *time.Time           `firestore:"cancelledAt,omitempty"`
}

type orderContactDocument struct {
	Name  string `firestore:"name"`
	Email string `firestore:"email"`
	Phone string `firestore:"phone,omitempty"`
}

type orderItemDocument struct {
	ProductID       string            `firestore:"productId"`
	ProductName     string            `firestore:"productName"`
	UnitPrice       int64             `firestore:"unitPrice"`
	Quantity        int64             `firestore:"qty"`
	SelectedOptions map[string]string `firestore:"selectedOptions,omitempty"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductID:       strings.TrimSpace(item.ProductID),
			ProductName:     item.ProductName,
			UnitPrice:       item.UnitPrice,
			Quantity:        item.Quantity,
			SelectedOptions: cloneStringMap(item.SelectedOptions),
		}
	}
	return orderDocument{
		Number:        strings.TrimSpace(order.Number),
		UserID:        strings.TrimSpace(order.UserID),
		Contact:       orderContactDocument{Name: strings.TrimSpace(order.Contact.Name), Email: strings.TrimSpace(order.Contact.Email), Phone: strings.TrimSpace(order.Contact.Phone)},
		Items:         items,
		TotalAmount:   order.TotalAmount,
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		PaymentMethod: strings.TrimSpace(order.PaymentMethod),
		Status:        string(order.Status),
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
		ProcessingAt:  order.ProcessingAt,
		CompletedAt:   order.CompletedAt,
		CancelledAt:   order.CancelledAt,
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductID:       strings.TrimSpace(item.ProductID),
			ProductName:     item.ProductName,
			UnitPrice:       item.UnitPrice,
			Quantity:        item.Quantity,
			SelectedOptions: cloneStringMap(item.SelectedOptions),
		}
	}
	return domain.Order{
		ID:            id,
		Number:        strings.TrimSpace(d.Number),
		UserID:        strings.TrimSpace(d.UserID),
		Contact:       domain.OrderContact{Name: strings.TrimSpace(d.Contact.Name), Email: strings.TrimSpace(d.Contact.Email), Phone: strings.TrimSpace(d.Contact.Phone)},
		Items:         items,
		TotalAmount:   d.TotalAmount,
		Currency:      strings.ToUpper(strings.TrimSpace(d.Currency)),
		PaymentMethod: strings.TrimSpace(d.PaymentMethod),
		Status:        domain.OrderStatus(strings.TrimSpace(d.Status)),
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		ProcessingAt:  d.ProcessingAt,
		CompletedAt:   d.CompletedAt,
		CancelledAt:   d.CancelledAt,
	}
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
