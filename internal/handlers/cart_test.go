package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/digital-play/api/internal/platform/auth"
	"github.com/digital-play/api/internal/services"
)

type stubCartService struct {
	getFn    func(ctx context.Context, userID string) (services.Cart, error)
	addFn    func(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error)
	updateFn func(ctx context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error)
	removeFn func(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error)
	clearFn  func(ctx context.Context, userID string) error
}

func (s *stubCartService) GetCart(ctx context.Context, userID string) (services.Cart, error) {
	if s.getFn != nil {
		return s.getFn(ctx, userID)
	}
	return services.Cart{ID: userID, UserID: userID, Currency: "XAF"}, nil
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
	if s.addFn != nil {
		return s.addFn(ctx, cmd)
	}
	return services.Cart{ID: cmd.UserID, UserID: cmd.UserID, Currency: "XAF"}, nil
}

func (s *stubCartService) UpdateItem(ctx context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Cart{ID: cmd.UserID, UserID: cmd.UserID, Currency: "XAF"}, nil
}

func (s *stubCartService) RemoveItem(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error) {
	if s.removeFn != nil {
		return s.removeFn(ctx, cmd)
	}
	return services.Cart{ID: cmd.UserID, UserID: cmd.UserID, Currency: "XAF"}, nil
}

func (s *stubCartService) Clear(ctx context.Context, userID string) error {
	if s.clearFn != nil {
		return s.clearFn(ctx, userID)
	}
	return nil
}

func newCartRouter(service services.CartService) chi.Router {
	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)
	return router
}

func authenticatedRequest(method, target, body string, uid string, roles ...string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: roles}))
}

func TestCartHandlersGetCartSuccess(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	service := &stubCartService{
		getFn: func(ctx context.Context, userID string) (services.Cart, error) {
			if userID != "user-7" {
				t.Fatalf("unexpected user id %q", userID)
			}
			return services.Cart{
				ID:       "user-7",
				UserID:   "user-7",
				Currency: "xaf",
				Items: []services.CartItem{
					{
						ID:           "item-1",
						ProductID:    "prod-1",
						ProductSlug:  "netflix-premium",
						NameSnapshot: "Netflix Premium",
						Quantity:     2,
						UnitPrice:    8000,
						SelectedOptions: map[string]string{
							services.OptionDuration: "1-month",
						},
						AddedAt: now,
					},
				},
				UpdatedAt: now,
			}, nil
		},
	}

	router := newCartRouter(service)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authenticatedRequest(http.MethodGet, "/cart", "", "user-7"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if cc := rr.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Fatalf("expected Cache-Control no-store, got %q", cc)
	}
	if rr.Header().Get("ETag") == "" {
		t.Fatalf("expected ETag header")
	}
	if rr.Header().Get("Last-Modified") == "" {
		t.Fatalf("expected Last-Modified header")
	}

	var resp cartResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Cart.ID != "user-7" {
		t.Fatalf("expected cart id user-7, got %q", resp.Cart.ID)
	}
	if resp.Cart.Currency != "XAF" {
		t.Fatalf("expected currency XAF, got %q", resp.Cart.Currency)
	}
	if resp.Cart.ItemsCount != 1 || len(resp.Cart.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", resp.Cart.ItemsCount)
	}
	if resp.Cart.Subtotal != 16000 {
		t.Fatalf("expected subtotal 16000, got %d", resp.Cart.Subtotal)
	}
	if resp.Cart.Items[0].Subtotal != 16000 {
		t.Fatalf("expected line subtotal 16000, got %d", resp.Cart.Items[0].Subtotal)
	}
}

func TestCartHandlersGetCartUnauthenticated(t *testing.T) {
	router := newCartRouter(&stubCartService{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/cart", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestCartHandlersGetCartServiceUnavailable(t *testing.T) {
	handler := NewCartHandlers(nil, nil)
	rr := httptest.NewRecorder()
	handler.getCart(rr, authenticatedRequest(http.MethodGet, "/cart", "", "user-1"))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestCartHandlersAddItemForwardsCommand(t *testing.T) {
	var captured services.AddCartItemCommand
	service := &stubCartService{
		addFn: func(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
			captured = cmd
			return services.Cart{ID: cmd.UserID, UserID: cmd.UserID, Currency: "XAF"}, nil
		},
	}

	body := `{"product_slug":"netflix-premium","quantity":2,"selected_options":{"duration":"3-months"}}`
	router := newCartRouter(service)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authenticatedRequest(http.MethodPost, "/cart/items", body, "user-3"))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-3" {
		t.Fatalf("expected user-3, got %q", captured.UserID)
	}
	if captured.ProductSlug != "netflix-premium" || captured.ProductID != "" {
		t.Fatalf("unexpected product reference %q / %q", captured.ProductID, captured.ProductSlug)
	}
	if captured.Quantity != 2 {
		t.Fatalf("expected quantity 2, got %d", captured.Quantity)
	}
	if captured.SelectedOptions[services.OptionDuration] != "3-months" {
		t.Fatalf("expected duration option, got %#v", captured.SelectedOptions)
	}
}

func TestCartHandlersAddItemRequiresProductReference(t *testing.T) {
	router := newCartRouter(&stubCartService{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authenticatedRequest(http.MethodPost, "/cart/items", `{"quantity":1}`, "user-1"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCartHandlersAddItemStockExceeded(t *testing.T) {
	service := &stubCartService{
		addFn: func(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
			return services.Cart{}, services.ErrCartStockExceeded
		},
	}

	router := newCartRouter(service)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authenticatedRequest(http.MethodPost, "/cart/items", `{"product_id":"prod-1","quantity":99}`, "user-1"))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if payload["error"] != "insufficient_stock" {
		t.Fatalf("expected insufficient_stock code, got %v", payload["error"])
	}
}

func TestCartHandlersAddItemPricingFieldError(t *testing.T) {
	service := &stubCartService{
		addFn: func(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
			return services.Cart{}, &services.FieldError{Field: services.OptionDuration, Message: "unknown duration"}
		},
	}

	router := newCartRouter(service)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authenticatedRequest(http.MethodPost, "/cart/items", `{"product_id":"prod-1","quantity":1}`, "user-1"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if payload["error"] != "validation_failed" {
		t.Fatalf("expected validation_failed code, got %v", payload["error"])
	}
	if payload["field"] != services.OptionDuration {
		t.Fatalf("expected field detail, got %v", payload["field"])
	}
}

func TestCartHandlersUpdateItemRequiresQuantity(t *testing.T) {
	router := newCartRouter(&stubCartService{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authenticatedRequest(http.MethodPatch, "/cart/items/item-1", `{"selected_options":{}}`, "user-1"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCartHandlersUpdateItemNotFound(t *testing.T) {
	service := &stubCartService{
		updateFn: func(ctx context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error) {
			if cmd.ItemID != "ghost" {
				t.Fatalf("unexpected item id %q", cmd.ItemID)
			}
			return services.Cart{}, services.ErrCartItemNotFound
		},
	}

	router := newCartRouter(service)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authenticatedRequest(http.MethodPatch, "/cart/items/ghost", `{"quantity":3}`, "user-1"))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestCartHandlersRemoveItemSuccess(t *testing.T) {
	var captured services.RemoveCartItemCommand
	service := &stubCartService{
		removeFn: func(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error) {
			captured = cmd
			return services.Cart{ID: cmd.UserID, UserID: cmd.UserID, Currency: "XAF", UpdatedAt: time.Now()}, nil
		},
	}

	router := newCartRouter(service)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authenticatedRequest(http.MethodDelete, "/cart/items/item-9", "", "user-4"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.UserID != "user-4" || captured.ItemID != "item-9" {
		t.Fatalf("unexpected command %#v", captured)
	}
}

func TestCartHandlersClearCart(t *testing.T) {
	cleared := ""
	service := &stubCartService{
		clearFn: func(ctx context.Context, userID string) error {
			cleared = userID
			return nil
		},
	}

	router := newCartRouter(service)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authenticatedRequest(http.MethodDelete, "/cart", "", "user-2"))

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if cleared != "user-2" {
		t.Fatalf("expected clear for user-2, got %q", cleared)
	}
}

func TestCartHandlersTranslatesUnavailable(t *testing.T) {
	router := newCartRouter(&stubCartService{
		getFn: func(ctx context.Context, userID string) (services.Cart, error) {
			return services.Cart{}, services.ErrCartUnavailable
		},
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authenticatedRequest(http.MethodGet, "/cart", "", "user-1"))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
