package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/digital-play/api/internal/platform/auth"
	"github.com/digital-play/api/internal/platform/httpx"
	"github.com/digital-play/api/internal/services"
)

const (
	maxCheckoutRequestBody = 8 * 1024
	headerIdempotencyKey   = "Idempotency-Key"

	checkoutRateLimit  = 5
	checkoutRateWindow = time.Minute
)

// CheckoutHandlers converts the authenticated user's cart into an order. The
// endpoint is wrapped by the idempotency middleware so retried submissions
// replay the stored response instead of creating duplicate orders.
type CheckoutHandlers struct {
	authn   *auth.Authenticator
	orders  services.OrderService
	idem    func(http.Handler) http.Handler
	limiter rateLimiter
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase
// authentication. The idempotency middleware may be nil in tests;
// ratePerMinute <= 0 falls back to the default checkout limit.
func NewCheckoutHandlers(authn *auth.Authenticator, orders services.OrderService, idem func(http.Handler) http.Handler, ratePerMinute int) *CheckoutHandlers {
	if ratePerMinute <= 0 {
		ratePerMinute = checkoutRateLimit
	}
	return &CheckoutHandlers{
		authn:   authn,
		orders:  orders,
		idem:    idem,
		limiter: newSimpleRateLimiter(ratePerMinute, checkoutRateWindow, time.Now),
	}
}

// Routes registers the checkout endpoint under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	if h.idem != nil {
		group = group.With(h.idem)
	}
	group.Post("/", h.checkout)
}

type checkoutRequest struct {
	Contact       checkoutContactRequest `json:"contact"`
	PaymentMethod string                 `json:"payment_method"`
}

type checkoutContactRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type checkoutResponse struct {
	Order orderPayload `json:"order"`
}

func (h *CheckoutHandlers) checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("too_many_requests", "too many checkout attempts; retry later", http.StatusTooManyRequests))
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if idempotencyKey == "" {
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "Idempotency-Key header is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Checkout(ctx, services.CheckoutCommand{
		UserID: identity.UID,
		Contact: services.OrderContact{
			Name:  strings.TrimSpace(req.Contact.Name),
			Email: strings.TrimSpace(req.Contact.Email),
			Phone: strings.TrimSpace(req.Contact.Phone),
		},
		PaymentMethod:  strings.TrimSpace(req.PaymentMethod),
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, checkoutResponse{Order: buildOrderPayload(order)})
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var stockErr *services.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", stockErr.Error(), http.StatusConflict).
			WithDetails(map[string]any{"product_id": stockErr.ProductID}))
	case errors.Is(err, services.ErrInventoryInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "insufficient stock", http.StatusConflict))
	case errors.Is(err, services.ErrOrderEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("empty_cart", "cart is empty", http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("validation_failed", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderUnavailable), errors.Is(err, services.ErrCartUnavailable), errors.Is(err, services.ErrInventoryUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_failed", "checkout failed", http.StatusInternalServerError))
	}
}
