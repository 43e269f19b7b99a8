package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/digital-play/api/internal/domain"
	pfirestore "github.com/digital-play/api/internal/platform/firestore"
	"github.com/digital-play/api/internal/repositories"
)

const cartCollection = "carts"

// CartRepository persists carts keyed by user ID: one cart per customer,
// line items embedded in the cart document.
type CartRepository struct {
	base     *pfirestore.BaseRepository[cartDocument]
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil)
	return &CartRepository{
		base:     base,
		provider: provider,
	}, nil
}

// GetCart loads the cart for the given user ID.
func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.Data.toDomain(doc.ID, doc.UpdateTime), nil
}

// UpsertCart writes the whole cart document under the user ID.
func (r *CartRepository) UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}

	uid := strings.TrimSpace(cart.UserID)
	if uid == "" {
		uid = strings.TrimSpace(cart.ID)
	}
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc := newCartDocument(cart)
	result, err := r.base.Set(ctx, uid, doc)
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.toDomain(uid, result.UpdateTime), nil
}

// ReplaceItems swaps the cart's line items for the given set, creating the
// cart document when it does not exist yet. Other cart fields are preserved.
func (r *CartRepository) ReplaceItems(ctx context.Context, userID string, items []domain.CartItem, now time.Time) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	at := now.UTC()
	if at.IsZero() {
		at = time.Now().UTC()
	}

	docs := make([]cartItemDocument, len(items))
	for i, item := range items {
		docs[i] = newCartItemDocument(item)
	}

	ref, err := r.base.DocumentRef(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}
	payload := map[string]any{
		"items":      docs,
		"itemsCount": len(docs),
		"updatedAt":  at,
	}
	if _, err := ref.Set(ctx, payload, firestore.MergeAll); err != nil {
		return domain.Cart{}, pfirestore.WrapError("carts.replaceItems", err)
	}

	return r.GetCart(ctx, uid)
}

// Clear empties the cart's line items in place. A missing cart document is
// already empty and not an error.
func (r *CartRepository) Clear(ctx context.Context, userID string, now time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return errors.New("cart repository: user id is required")
	}

	at := now.UTC()
	if at.IsZero() {
		at = time.Now().UTC()
	}

	ref, err := r.base.DocumentRef(ctx, uid)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"items":      []cartItemDocument{},
		"itemsCount": 0,
		"updatedAt":  at,
	}
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		if err := tx.Set(ref, payload, firestore.MergeAll); err != nil {
			return pfirestore.WrapError("carts.clear", err)
		}
		return nil
	}
	if _, err := ref.Set(ctx, payload, firestore.MergeAll); err != nil {
		return pfirestore.WrapError("carts.clear", err)
	}
	return nil
}

type cartDocument struct {
	Currency   string             `firestore:"currency,omitempty"`
	Items      []cartItemDocument `firestore:"items"`
	ItemsCount int                `firestore:"itemsCount"`
	UpdatedAt  time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ID              string            `firestore:"id"`
	ProductID       string            `firestore:"productId"`
	ProductSlug     string            `firestore:"productSlug,omitempty"`
	NameSnapshot    string            `firestore:"nameSnapshot"`
	Quantity        int64             `firestore:"qty"`
	SelectedOptions map[string]string `firestore:"selectedOptions,omitempty"`
	UnitPrice       int64             `firestore:"unitPrice"`
	AddedAt         time.Time         `firestore:"addedAt"`
	UpdatedAt       time.Time         `firestore:"updatedAt"`
}

func newCartDocument(cart domain.Cart) cartDocument {
	items := make([]cartItemDocument, len(cart.Items))
	for i, item := range cart.Items {
		items[i] = newCartItemDocument(item)
	}
	updatedAt := cart.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	return cartDocument{
		Currency:   strings.ToUpper(strings.TrimSpace(cart.Currency)),
		Items:      items,
		ItemsCount: len(items),
		UpdatedAt:  updatedAt,
	}
}

func newCartItemDocument(item domain.CartItem) cartItemDocument {
	return cartItemDocument{
		ID:              strings.TrimSpace(item.ID),
		ProductID:       strings.TrimSpace(item.ProductID),
		ProductSlug:     strings.TrimSpace(item.ProductSlug),
		NameSnapshot:    item.NameSnapshot,
		Quantity:        item.Quantity,
		SelectedOptions: cloneStringMap(item.SelectedOptions),
		UnitPrice:       item.UnitPrice,
		AddedAt:         item.AddedAt.UTC(),
		UpdatedAt:       item.UpdatedAt.UTC(),
	}
}

func (d cartDocument) toDomain(userID string, updateTime time.Time) domain.Cart {
	items := make([]domain.CartItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.CartItem{
			ID:              strings.TrimSpace(item.ID),
			ProductID:       strings.TrimSpace(item.ProductID),
			ProductSlug:     strings.TrimSpace(item.ProductSlug),
			NameSnapshot:    item.NameSnapshot,
			Quantity:        item.Quantity,
			SelectedOptions: cloneStringMap(item.SelectedOptions),
			UnitPrice:       item.UnitPrice,
			AddedAt:         item.AddedAt,
			UpdatedAt:       item.UpdatedAt,
		}
	}

	updatedAt := d.UpdatedAt
	if !updateTime.IsZero() {
		updatedAt = updateTime
	}
	return domain.Cart{
		ID:        userID,
		UserID:    userID,
		Items:     items,
		Currency:  strings.ToUpper(strings.TrimSpace(d.Currency)),
		UpdatedAt: updatedAt,
	}
}

func cloneStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

var _ repositories.CartRepository = (*CartRepository)(nil)
