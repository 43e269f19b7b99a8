package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/digital-play/api/internal/domain"
	"github.com/digital-play/api/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: repository is required")
	errCartCatalogRequired    = errors.New("cart service: product repository is required")
	errCartPricingRequired    = errors.New("cart service: pricing engine is required")
	errCartClockRequired      = errors.New("cart service: clock is required")
)

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartItemNotFound indicates the referenced cart line does not exist.
var ErrCartItemNotFound = errors.New("cart service: item not found")

// ErrCartProductNotFound indicates the referenced product does not exist.
var ErrCartProductNotFound = errors.New("cart service: product not found")

// ErrCartStockExceeded indicates the requested quantity exceeds the current
// stock reading. Advisory only; the authoritative check runs at checkout.
var ErrCartStockExceeded = errors.New("cart service: quantity exceeds available stock")

const maxCartLineQuantity = 100

// CartServiceDeps wires the repositories and pricing dependencies for cart operations.
type CartServiceDeps struct {
	Repository      repositories.CartRepository
	Products        repositories.ProductRepository
	Categories      repositories.CategoryRepository
	Pricing         *PricingEngine
	Events          CartEventPublisher
	Clock           func() time.Time
	DefaultCurrency string
	Logger          func(context.Context, string, map[string]any)
	IDGenerator     func() string
}

type cartService struct {
	repo       repositories.CartRepository
	products   repositories.ProductRepository
	categories repositories.CategoryRepository
	pricing    *PricingEngine
	events     CartEventPublisher
	newID      func() string
	now        func() time.Time
	currency   string
	logger     func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Products == nil {
		return nil, errCartCatalogRequired
	}
	if deps.Pricing == nil {
		return nil, errCartPricingRequired
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = "XAF"
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &cartService{
		repo:       deps.Repository,
		products:   deps.Products,
		categories: deps.Categories,
		pricing:    deps.Pricing,
		events:     deps.Events,
		newID:      idGen,
		now:        func() time.Time { return deps.Clock().UTC() },
		currency:   currency,
		logger:     logger,
	}, nil
}

// GetCart loads the active cart for the user, returning an empty cart when
// none has been persisted yet.
func (s *cartService) GetCart(ctx context.Context, userID string) (Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	cart, err := s.repo.GetCart(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return s.normaliseCart(s.newCart(uid), uid), nil
		}
		return Cart{}, s.translateRepoError(err)
	}
	return s.normaliseCart(cart, uid), nil
}

// AddItem prices the product through the rule engine and appends or merges the
// line. Identical product + options lines merge quantities instead of
// duplicating.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity < 1 {
		return Cart{}, fmt.Errorf("%w: quantity must be at least 1", ErrCartInvalidInput)
	}
	if cmd.Quantity > maxCartLineQuantity {
		return Cart{}, fmt.Errorf("%w: quantity exceeds limit of %d", ErrCartInvalidInput, maxCartLineQuantity)
	}

	product, err := s.resolveProduct(ctx, cmd.ProductID, cmd.ProductSlug)
	if err != nil {
		return Cart{}, err
	}
	category, err := s.resolveCategory(ctx, product.CategoryID)
	if err != nil {
		return Cart{}, err
	}

	quote, err := s.pricing.Quote(product, category, cmd.SelectedOptions)
	if err != nil {
		return Cart{}, err
	}

	cart, err := s.GetCart(ctx, uid)
	if err != nil {
		return Cart{}, err
	}

	now := s.now()
	merged := false
	for i := range cart.Items {
		if cart.Items[i].ProductID == product.ID && optionsEqual(cart.Items[i].SelectedOptions, quote.Options) {
			newQuantity := cart.Items[i].Quantity + cmd.Quantity
			if err := checkStock(product, newQuantity); err != nil {
				return Cart{}, err
			}
			cart.Items[i].Quantity = newQuantity
			cart.Items[i].UnitPrice = quote.UnitPrice
			cart.Items[i].UpdatedAt = now
			merged = true
			break
		}
	}
	if !merged {
		if err := checkStock(product, cmd.Quantity); err != nil {
			return Cart{}, err
		}
		cart.Items = append(cart.Items, domain.CartItem{
			ID:              s.newID(),
			ProductID:       product.ID,
			ProductSlug:     product.Slug,
			NameSnapshot:    product.Name,
			Quantity:        cmd.Quantity,
			SelectedOptions: quote.Options,
			UnitPrice:       quote.UnitPrice,
			AddedAt:         now,
			UpdatedAt:       now,
		})
	}

	saved, err := s.repo.ReplaceItems(ctx, uid, cart.Items, now)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	s.publishCartEvent(ctx, "cart.item_added", uid, product.ID, len(saved.Items))
	return s.normaliseCart(saved, uid), nil
}

// UpdateItem changes quantity and/or options on an existing line. A quantity
// of zero or less removes the line. When options change, the line is re-priced
// and its snapshot refreshed.
func (s *cartService) UpdateItem(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error) {
	uid := strings.TrimSpace(cmd.UserID)
	itemID := strings.TrimSpace(cmd.ItemID)
	if uid == "" || itemID == "" {
		return Cart{}, fmt.Errorf("%w: user id and item id are required", ErrCartInvalidInput)
	}

	if cmd.Quantity <= 0 {
		return s.RemoveItem(ctx, RemoveCartItemCommand{UserID: uid, ItemID: itemID})
	}
	if cmd.Quantity > maxCartLineQuantity {
		return Cart{}, fmt.Errorf("%w: quantity exceeds limit of %d", ErrCartInvalidInput, maxCartLineQuantity)
	}

	cart, err := s.GetCart(ctx, uid)
	if err != nil {
		return Cart{}, err
	}

	index := -1
	for i := range cart.Items {
		if cart.Items[i].ID == itemID {
			index = i
			break
		}
	}
	if index < 0 {
		return Cart{}, fmt.Errorf("%w: %s", ErrCartItemNotFound, itemID)
	}

	product, err := s.resolveProduct(ctx, cart.Items[index].ProductID, "")
	if err != nil {
		return Cart{}, err
	}
	if err := checkStock(product, cmd.Quantity); err != nil {
		return Cart{}, err
	}

	now := s.now()
	cart.Items[index].Quantity = cmd.Quantity
	if cmd.SelectedOptions != nil {
		category, err := s.resolveCategory(ctx, product.CategoryID)
		if err != nil {
			return Cart{}, err
		}
		quote, err := s.pricing.Quote(product, category, cmd.SelectedOptions)
		if err != nil {
			return Cart{}, err
		}
		cart.Items[index].SelectedOptions = quote.Options
		cart.Items[index].UnitPrice = quote.UnitPrice
	}
	cart.Items[index].UpdatedAt = now

	saved, err := s.repo.ReplaceItems(ctx, uid, cart.Items, now)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	s.publishCartEvent(ctx, "cart.item_updated", uid, product.ID, len(saved.Items))
	return s.normaliseCart(saved, uid), nil
}

// RemoveItem deletes one line from the cart.
func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	uid := strings.TrimSpace(cmd.UserID)
	itemID := strings.TrimSpace(cmd.ItemID)
	if uid == "" || itemID == "" {
		return Cart{}, fmt.Errorf("%w: user id and item id are required", ErrCartInvalidInput)
	}

	cart, err := s.GetCart(ctx, uid)
	if err != nil {
		return Cart{}, err
	}

	remaining := make([]domain.CartItem, 0, len(cart.Items))
	var removedProduct string
	for _, item := range cart.Items {
		if item.ID == itemID {
			removedProduct = item.ProductID
			continue
		}
		remaining = append(remaining, item)
	}
	if removedProduct == "" {
		return Cart{}, fmt.Errorf("%w: %s", ErrCartItemNotFound, itemID)
	}

	now := s.now()
	saved, err := s.repo.ReplaceItems(ctx, uid, remaining, now)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	s.publishCartEvent(ctx, "cart.item_removed", uid, removedProduct, len(saved.Items))
	return s.normaliseCart(saved, uid), nil
}

// Clear drops every line from the user's cart.
func (s *cartService) Clear(ctx context.Context, userID string) error {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if err := s.repo.Clear(ctx, uid, s.now()); err != nil && !isRepoNotFound(err) {
		return s.translateRepoError(err)
	}
	s.publishCartEvent(ctx, "cart.cleared", uid, "", 0)
	return nil
}

func (s *cartService) resolveProduct(ctx context.Context, productID, slug string) (Product, error) {
	id := strings.TrimSpace(productID)
	if id != "" {
		product, err := s.products.FindByID(ctx, id)
		if err == nil {
			return product, nil
		}
		if !isRepoNotFound(err) {
			return Product{}, s.translateRepoError(err)
		}
	}
	// Slug lookup fallback for storefront links that carry only the slug.
	lookup := strings.TrimSpace(slug)
	if lookup == "" {
		lookup = id
	}
	if lookup == "" {
		return Product{}, fmt.Errorf("%w: product reference is required", ErrCartInvalidInput)
	}
	product, err := s.products.FindBySlug(ctx, lookup)
	if err != nil {
		if isRepoNotFound(err) {
			return Product{}, fmt.Errorf("%w: %s", ErrCartProductNotFound, lookup)
		}
		return Product{}, s.translateRepoError(err)
	}
	return product, nil
}

func (s *cartService) resolveCategory(ctx context.Context, categoryID string) (Category, error) {
	if s.categories == nil || strings.TrimSpace(categoryID) == "" {
		return Category{Kind: domain.CategoryKindStandard}, nil
	}
	category, err := s.categories.FindByID(ctx, categoryID)
	if err != nil {
		if isRepoNotFound(err) {
			return Category{Kind: domain.CategoryKindStandard}, nil
		}
		return Category{}, s.translateRepoError(err)
	}
	return category, nil
}

func (s *cartService) newCart(userID string) Cart {
	return Cart{
		ID:        userID,
		UserID:    userID,
		Currency:  s.currency,
		UpdatedAt: s.now(),
	}
}

func (s *cartService) normaliseCart(cart Cart, userID string) Cart {
	cart.ID = userID
	cart.UserID = userID
	if cart.Currency == "" {
		cart.Currency = s.currency
	}
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	return cart
}

// publishCartEvent is fire-and-forget: failures are logged and carry no
// business meaning.
func (s *cartService) publishCartEvent(ctx context.Context, eventType, userID, productID string, itemCount int) {
	if s.events == nil {
		return
	}
	err := s.events.PublishCartEvent(ctx, CartEvent{
		Type:       eventType,
		UserID:     userID,
		ProductID:  productID,
		ItemCount:  itemCount,
		OccurredAt: s.now(),
	})
	if err != nil {
		s.logger(ctx, "cart.event_publish_failed", map[string]any{
			"userID": userID,
			"type":   eventType,
			"error":  err.Error(),
		})
	}
}

func (s *cartService) translateRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case isRepoNotFound(err):
		return fmt.Errorf("%w: %v", ErrCartItemNotFound, err)
	case isRepoUnavailable(err):
		return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
}

func checkStock(product Product, quantity int64) error {
	if quantity > product.Stock {
		return fmt.Errorf("%w: product %s has %d in stock", ErrCartStockExceeded, product.ID, product.Stock)
	}
	return nil
}
