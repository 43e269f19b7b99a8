package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/digital-play/api/internal/platform/httpx"
	"github.com/digital-play/api/internal/services"
)

const maxInternalRequestBody = 64 * 1024

// InternalHandlers exposes the server-to-server operations surface used by
// fulfilment automation and ops tooling. Authentication is applied at the
// router level; these routes expect OIDC-verified callers.
type InternalHandlers struct {
	system    services.SystemService
	inventory services.InventoryService
}

// NewInternalHandlers constructs the internal operations handlers.
func NewInternalHandlers(system services.SystemService, inventory services.InventoryService) *InternalHandlers {
	return &InternalHandlers{system: system, inventory: inventory}
}

// Routes registers the internal endpoints on the provided router group.
func (h *InternalHandlers) Routes(r chi.Router) {
	if h == nil {
		return
	}
	r.Get("/health", h.health)
	r.Post("/inventory/restock", h.restock)
}

func (h *InternalHandlers) health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "system service is not configured", http.StatusServiceUnavailable))
		return
	}

	report, err := h.system.Health(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("health_check_failed", err.Error(), http.StatusServiceUnavailable))
		return
	}
	writeJSONResponse(w, http.StatusOK, buildHealthPayload(report))
}

func (h *InternalHandlers) restock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "inventory service is not configured", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxInternalRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req restockRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	if len(req.Lines) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "at least one restock line is required", http.StatusBadRequest))
		return
	}

	lines := make([]services.InventoryLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, services.InventoryLine{
			ProductID: strings.TrimSpace(line.ProductID),
			Quantity:  line.Quantity,
		})
	}

	cmd := services.StockRestockCommand{
		OrderID: strings.TrimSpace(req.OrderID),
		Reason:  strings.TrimSpace(req.Reason),
		Lines:   lines,
	}
	if err := h.inventory.Restock(ctx, cmd); err != nil {
		writeRestockError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeRestockError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrInventoryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInventoryStockNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("stock_not_found", "stock record not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInventoryUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "inventory is temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("inventory_error", "unable to apply restock", http.StatusInternalServerError))
	}
}

type restockRequest struct {
	OrderID string            `json:"order_id"`
	Reason  string            `json:"reason"`
	Lines   []restockLineItem `json:"lines"`
}

type restockLineItem struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}
