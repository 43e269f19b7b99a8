package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/digital-play/api/internal/domain"
	"github.com/digital-play/api/internal/services"
)

func newCheckoutRouter(service services.OrderService) chi.Router {
	handler := NewCheckoutHandlers(nil, service, nil, 0)
	router := chi.NewRouter()
	router.Route("/checkout", handler.Routes)
	return router
}

const checkoutBody = `{"contact":{"name":"Awa Ndiaye","email":"awa@example.com","phone":"+237600000000"},"payment_method":"orange-money"}`

func TestCheckoutHandlersCreatesOrder(t *testing.T) {
	var captured services.CheckoutCommand
	service := &stubOrderService{
		checkoutFn: func(ctx context.Context, cmd services.CheckoutCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(), nil
		},
	}

	router := newCheckoutRouter(service)
	req := authenticatedRequest(http.MethodPost, "/checkout", checkoutBody, "user-1")
	req.Header.Set(headerIdempotencyKey, "key-123")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-1" {
		t.Fatalf("expected user-1, got %q", captured.UserID)
	}
	if captured.IdempotencyKey != "key-123" {
		t.Fatalf("expected idempotency key forwarded, got %q", captured.IdempotencyKey)
	}
	if captured.Contact.Name != "Awa Ndiaye" || captured.Contact.Phone != "+237600000000" {
		t.Fatalf("unexpected contact %#v", captured.Contact)
	}
	if captured.PaymentMethod != "orange-money" {
		t.Fatalf("expected payment method orange-money, got %q", captured.PaymentMethod)
	}

	var resp checkoutResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Order.Number != "DP-2026-000042" || resp.Order.Status != string(domain.OrderStatusPending) {
		t.Fatalf("unexpected order payload %#v", resp.Order)
	}
}

func TestCheckoutHandlersRequiresIdempotencyKey(t *testing.T) {
	router := newCheckoutRouter(&stubOrderService{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authenticatedRequest(http.MethodPost, "/checkout", checkoutBody, "user-1"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if payload["error"] != "idempotency_key_required" {
		t.Fatalf("expected idempotency_key_required, got %v", payload["error"])
	}
}

func TestCheckoutHandlersEmptyCart(t *testing.T) {
	service := &stubOrderService{
		checkoutFn: func(ctx context.Context, cmd services.CheckoutCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderEmptyCart
		},
	}

	router := newCheckoutRouter(service)
	req := authenticatedRequest(http.MethodPost, "/checkout", checkoutBody, "user-1")
	req.Header.Set(headerIdempotencyKey, "key-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if payload["error"] != "empty_cart" {
		t.Fatalf("expected empty_cart, got %v", payload["error"])
	}
}

func TestCheckoutHandlersInsufficientStockDetails(t *testing.T) {
	service := &stubOrderService{
		checkoutFn: func(ctx context.Context, cmd services.CheckoutCommand) (services.Order, error) {
			return services.Order{}, &services.InsufficientStockError{ProductID: "prod-gift"}
		},
	}

	router := newCheckoutRouter(service)
	req := authenticatedRequest(http.MethodPost, "/checkout", checkoutBody, "user-1")
	req.Header.Set(headerIdempotencyKey, "key-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if payload["error"] != "insufficient_stock" {
		t.Fatalf("expected insufficient_stock, got %v", payload["error"])
	}
	if payload["product_id"] != "prod-gift" {
		t.Fatalf("expected product_id detail, got %v", payload["product_id"])
	}
}

func TestCheckoutHandlersValidationFailed(t *testing.T) {
	service := &stubOrderService{
		checkoutFn: func(ctx context.Context, cmd services.CheckoutCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: contact email is required", services.ErrOrderInvalidInput)
		},
	}

	router := newCheckoutRouter(service)
	req := authenticatedRequest(http.MethodPost, "/checkout", `{"payment_method":"orange-money"}`, "user-1")
	req.Header.Set(headerIdempotencyKey, "key-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCheckoutHandlersRateLimitsRepeatedAttempts(t *testing.T) {
	service := &stubOrderService{
		checkoutFn: func(ctx context.Context, cmd services.CheckoutCommand) (services.Order, error) {
			return sampleOrder(), nil
		},
	}

	router := newCheckoutRouter(service)
	var last int
	for i := 0; i < checkoutRateLimit+1; i++ {
		req := authenticatedRequest(http.MethodPost, "/checkout", checkoutBody, "user-1")
		req.Header.Set(headerIdempotencyKey, fmt.Sprintf("key-%d", i))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		last = rr.Code
	}

	if last != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 after %d attempts, got %d", checkoutRateLimit+1, last)
	}
}

func TestCheckoutHandlersHonoursConfiguredRateLimit(t *testing.T) {
	service := &stubOrderService{
		checkoutFn: func(ctx context.Context, cmd services.CheckoutCommand) (services.Order, error) {
			return sampleOrder(), nil
		},
	}

	handler := NewCheckoutHandlers(nil, service, nil, 1)
	router := chi.NewRouter()
	router.Route("/checkout", handler.Routes)

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := authenticatedRequest(http.MethodPost, "/checkout", checkoutBody, "user-1")
		req.Header.Set(headerIdempotencyKey, fmt.Sprintf("key-%d", i))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}

	if codes[0] != http.StatusCreated || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("expected 201 then 429 with a limit of one per window, got %v", codes)
	}
}

func TestCheckoutHandlersUnauthenticated(t *testing.T) {
	router := newCheckoutRouter(&stubOrderService{})
	req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
	req.Header.Set(headerIdempotencyKey, "key-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}
