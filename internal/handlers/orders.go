package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/digital-play/api/internal/platform/auth"
	"github.com/digital-play/api/internal/platform/httpx"
	"github.com/digital-play/api/internal/platform/storage"
	"github.com/digital-play/api/internal/services"
)

const receiptDownloadExpiry = 5 * time.Minute

// OrderHandlers exposes authenticated order history endpoints. Customers only
// see their own orders; admins may inspect anyone's via the admin surface.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	media       *storage.Client
	mediaBucket string
}

// NewOrderHandlers constructs handlers enforcing Firebase authentication before
// invoking the order service. The media client may be nil; receipt downloads
// then report the feature as unavailable.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, media *storage.Client, mediaBucket string) *OrderHandlers {
	return &OrderHandlers{
		authn:       authn,
		orders:      orders,
		media:       media,
		mediaBucket: strings.TrimSpace(mediaBucket),
	}
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/receipt", h.getReceipt)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
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

	page, err := listPagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.OrderListFilter{
		UserID:     identity.UID,
		Status:     services.OrderStatus(strings.TrimSpace(r.URL.Query().Get("status"))),
		Pagination: page,
	}

	result, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	orders := make([]orderPayload, 0, len(result.Items))
	for _, order := range result.Items {
		orders = append(orders, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Orders:        orders,
		NextPageToken: result.NextPageToken,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
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

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order identifier is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderCommand{
		OrderID:     orderID,
		RequesterID: identity.UID,
		IsAdmin:     identity.HasRole(auth.RoleAdmin),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getReceipt(w http.ResponseWriter, r *http.Request) {
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

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order identifier is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderCommand{
		OrderID:     orderID,
		RequesterID: identity.UID,
		IsAdmin:     identity.HasRole(auth.RoleAdmin),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	if h.media == nil || h.mediaBucket == "" {
		httpx.WriteError(ctx, w, httpx.NewError("receipts_unavailable", "receipt downloads are not configured", http.StatusServiceUnavailable))
		return
	}

	object, err := storage.BuildObjectPath(storage.PurposeOrderReceipt, storage.PathParams{
		OrderID:     order.ID,
		OrderNumber: order.Number,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.media.SignedURL(ctx, h.mediaBucket, object, storage.SignedURLOptions{
		Download: &storage.DownloadOptions{
			ExpiresIn:   receiptDownloadExpiry,
			Disposition: "attachment",
			OwnerID:     order.UserID,
			Identity:    identity,
		},
	})
	if err != nil {
		if errors.Is(err, storage.ErrPermissionDenied) {
			httpx.WriteError(ctx, w, httpx.NewError("forbidden", "order belongs to another user", http.StatusForbidden))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("receipt_error", "unable to sign receipt download", http.StatusInternalServerError))
		return
	}

	payload := receiptResponse{
		DownloadURL: result.URL,
		Method:      result.Method,
	}
	if !result.ExpiresAt.IsZero() {
		payload.ExpiresAt = formatTime(result.ExpiresAt)
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var transitionErr *services.IllegalTransitionError
	switch {
	case errors.As(err, &transitionErr):
		httpx.WriteError(ctx, w, httpx.NewError("illegal_transition", transitionErr.Error(), http.StatusConflict).
			WithDetails(map[string]any{
				"from": string(transitionErr.From),
				"to":   string(transitionErr.To),
			}))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "order belongs to another user", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "order request failed", http.StatusInternalServerError))
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:     strings.TrimSpace(order.ID),
		Number: strings.TrimSpace(order.Number),
		UserID: strings.TrimSpace(order.UserID),
		Contact: orderContactPayload{
			Name:  strings.TrimSpace(order.Contact.Name),
			Email: strings.TrimSpace(order.Contact.Email),
			Phone: strings.TrimSpace(order.Contact.Phone),
		},
		Items:         buildOrderItems(order.Items),
		TotalAmount:   order.TotalAmount,
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		PaymentMethod: strings.TrimSpace(order.PaymentMethod),
		Status:        string(order.Status),
	}
	if !order.CreatedAt.IsZero() {
		payload.CreatedAt = formatTime(order.CreatedAt)
	}
	if !order.UpdatedAt.IsZero() {
		payload.UpdatedAt = formatTime(order.UpdatedAt)
	}
	payload.ProcessingAt = formatTimePointer(order.ProcessingAt)
	payload.CompletedAt = formatTimePointer(order.CompletedAt)
	payload.CancelledAt = formatTimePointer(order.CancelledAt)
	return payload
}

func buildOrderItems(items []services.OrderItem) []orderItemPayload {
	if len(items) == 0 {
		return []orderItemPayload{}
	}

	payload := make([]orderItemPayload, 0, len(items))
	for _, item := range items {
		payload = append(payload, orderItemPayload{
			ProductID:       strings.TrimSpace(item.ProductID),
			Name:            strings.TrimSpace(item.ProductName),
			UnitPrice:       item.UnitPrice,
			Quantity:        item.Quantity,
			Subtotal:        item.Subtotal(),
			SelectedOptions: cloneStringMap(item.SelectedOptions),
		})
	}
	return payload
}

type orderListResponse struct {
	Orders        []orderPayload `json:"orders"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID            string              `json:"id"`
	Number        string              `json:"number"`
	UserID        string              `json:"user_id"`
	Contact       orderContactPayload `json:"contact"`
	Items         []orderItemPayload  `json:"items"`
	TotalAmount   int64               `json:"total_amount"`
	Currency      string              `json:"currency"`
	PaymentMethod string              `json:"payment_method"`
	Status        string              `json:"status"`
	CreatedAt     string              `json:"created_at,omitempty"`
	UpdatedAt     string              `json:"updated_at,omitempty"`
	ProcessingAt  string              `json:"processing_at,omitempty"`
	CompletedAt   string              `json:"completed_at,omitempty"`
	CancelledAt   string              `json:"cancelled_at,omitempty"`
}

type orderContactPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type receiptResponse struct {
	DownloadURL string `json:"download_url"`
	Method      string `json:"method"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

type orderItemPayload struct {
	ProductID       string            `json:"product_id"`
	Name            string            `json:"name"`
	UnitPrice       int64             `json:"unit_price"`
	Quantity        int64             `json:"quantity"`
	Subtotal        int64             `json:"subtotal"`
	SelectedOptions map[string]string `json:"selected_options,omitempty"`
}
