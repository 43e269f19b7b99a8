package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/digital-play/api/internal/platform/auth"
	"github.com/digital-play/api/internal/platform/httpx"
	"github.com/digital-play/api/internal/platform/storage"
	"github.com/digital-play/api/internal/services"
)

const (
	maxAdminRequestBody      = 256 * 1024
	maxProductImageBytes     = 5 * 1024 * 1024
	productImageUploadExpiry = 15 * time.Minute
)

var allowedProductImageTypes = []string{"image/png", "image/jpeg", "image/webp"}

// AdminHandlersDeps bundles the dependencies of the admin surface.
type AdminHandlersDeps struct {
	Authenticator *auth.Authenticator
	Catalog       services.CatalogService
	Inventory     services.InventoryService
	Orders        services.OrderService
	Audit         services.AuditLogService
	Media         *storage.Client
	MediaBucket   string
}

// AdminHandlers exposes the back-office endpoints: catalog CRUD, stock
// management, order fulfilment, and the audit trail. Every route requires the
// admin role.
type AdminHandlers struct {
	authn       *auth.Authenticator
	catalog     services.CatalogService
	inventory   services.InventoryService
	orders      services.OrderService
	audit       services.AuditLogService
	media       *storage.Client
	mediaBucket string
}

// NewAdminHandlers constructs the admin handlers.
func NewAdminHandlers(deps AdminHandlersDeps) *AdminHandlers {
	return &AdminHandlers{
		authn:       deps.Authenticator,
		catalog:     deps.Catalog,
		inventory:   deps.Inventory,
		orders:      deps.Orders,
		audit:       deps.Audit,
		media:       deps.Media,
		mediaBucket: strings.TrimSpace(deps.MediaBucket),
	}
}

// Routes registers the admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}

	r.Post("/products", h.createProduct)
	r.Put("/products/{productID}", h.updateProduct)
	r.Delete("/products/{productID}", h.deleteProduct)
	r.Post("/products/{productID}/image-upload", h.issueImageUpload)

	r.Post("/categories", h.createCategory)
	r.Put("/categories/{categoryID}", h.updateCategory)
	r.Delete("/categories/{categoryID}", h.deleteCategory)

	r.Get("/inventory/low-stock", h.listLowStock)
	r.Get("/inventory/{productID}", h.getStock)
	r.Put("/inventory/{productID}", h.setStock)

	r.Get("/orders", h.listAllOrders)
	r.Put("/orders/{orderID}/status", h.transitionOrder)
	r.Delete("/orders/{orderID}", h.deleteOrder)

	r.Get("/audit-logs", h.listAuditLogs)
}

func (h *AdminHandlers) actorID(ctx context.Context) string {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil {
		return ""
	}
	return strings.TrimSpace(identity.UID)
}

type productRequest struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
	BasePrice   int64  `json:"base_price"`
	CategoryID  string `json:"category_id"`
	IsPhysical  bool   `json:"is_physical"`
	IsFeatured  bool   `json:"is_featured"`
	ImageURL    string `json:"image_url"`
}

func (h *AdminHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	h.saveProduct(w, r, "")
}

func (h *AdminHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "product identifier is required", http.StatusBadRequest))
		return
	}
	h.saveProduct(w, r, productID)
}

func (h *AdminHandlers) saveProduct(w http.ResponseWriter, r *http.Request, productID string) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxAdminRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req productRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cmd := services.UpsertProductCommand{
		ProductID:   productID,
		ActorID:     h.actorID(ctx),
		Slug:        req.Slug,
		Name:        req.Name,
		Description: req.Description,
		BasePrice:   req.BasePrice,
		CategoryID:  req.CategoryID,
		IsPhysical:  req.IsPhysical,
		IsFeatured:  req.IsFeatured,
		ImageURL:    req.ImageURL,
	}

	var (
		product services.Product
		status  = http.StatusOK
	)
	if productID == "" {
		product, err = h.catalog.CreateProduct(ctx, cmd)
		status = http.StatusCreated
	} else {
		product, err = h.catalog.UpdateProduct(ctx, cmd)
	}
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, status, productResponse{Product: buildProductPayload(product)})
}

func (h *AdminHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product identifier is required", http.StatusBadRequest))
		return
	}

	if err := h.catalog.DeleteProduct(ctx, services.DeleteProductCommand{
		ProductID: productID,
		ActorID:   h.actorID(ctx),
	}); err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type imageUploadRequest struct {
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

type imageUploadResponse struct {
	UploadURL string            `json:"upload_url"`
	Method    string            `json:"method"`
	ObjectURL string            `json:"object_url"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt string            `json:"expires_at,omitempty"`
}

func (h *AdminHandlers) issueImageUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.media == nil || h.mediaBucket == "" {
		httpx.WriteError(ctx, w, httpx.NewError("media_unavailable", "media uploads are not configured", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product identifier is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxAdminRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req imageUploadRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	contentType := strings.TrimSpace(req.ContentType)
	if contentType == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "content_type is required", http.StatusBadRequest))
		return
	}

	fileName := fmt.Sprintf("image-%d%s", time.Now().UTC().UnixNano(), imageExtension(contentType))
	object, err := storage.BuildObjectPath(storage.PurposeProductImage, storage.PathParams{
		ProductID: productID,
		FileName:  fileName,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	result, err := h.media.SignedURL(ctx, h.mediaBucket, object, storage.SignedURLOptions{
		Upload: &storage.UploadOptions{
			Method:              http.MethodPut,
			ContentType:         contentType,
			AllowedContentTypes: allowedProductImageTypes,
			MaxSize:             maxProductImageBytes,
			ExpiresIn:           productImageUploadExpiry,
		},
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	payload := imageUploadResponse{
		UploadURL: result.URL,
		Method:    result.Method,
		ObjectURL: fmt.Sprintf("https://storage.googleapis.com/%s/%s", h.mediaBucket, object),
		Headers:   result.Headers,
	}
	if !result.ExpiresAt.IsZero() {
		payload.ExpiresAt = result.ExpiresAt.UTC().Format(time.RFC3339)
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func imageExtension(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

type categoryRequest struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Kind        string `json:"kind"`
	ImageURL    string `json:"image_url"`
}

func (h *AdminHandlers) createCategory(w http.ResponseWriter, r *http.Request) {
	h.saveCategory(w, r, "")
}

func (h *AdminHandlers) updateCategory(w http.ResponseWriter, r *http.Request) {
	categoryID := strings.TrimSpace(chi.URLParam(r, "categoryID"))
	if categoryID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "category identifier is required", http.StatusBadRequest))
		return
	}
	h.saveCategory(w, r, categoryID)
}

func (h *AdminHandlers) saveCategory(w http.ResponseWriter, r *http.Request, categoryID string) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxAdminRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req categoryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cmd := services.UpsertCategoryCommand{
		CategoryID:  categoryID,
		ActorID:     h.actorID(ctx),
		Slug:        req.Slug,
		Name:        req.Name,
		Description: req.Description,
		Kind:        services.CategoryKind(strings.TrimSpace(req.Kind)),
		ImageURL:    req.ImageURL,
	}

	var (
		category services.Category
		status   = http.StatusOK
	)
	if categoryID == "" {
		category, err = h.catalog.CreateCategory(ctx, cmd)
		status = http.StatusCreated
	} else {
		category, err = h.catalog.UpdateCategory(ctx, cmd)
	}
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, status, categoryResponse{Category: buildCategoryPayload(category)})
}

func (h *AdminHandlers) deleteCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	categoryID := strings.TrimSpace(chi.URLParam(r, "categoryID"))
	if categoryID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "category identifier is required", http.StatusBadRequest))
		return
	}

	if err := h.catalog.DeleteCategory(ctx, services.DeleteCategoryCommand{
		CategoryID: categoryID,
		ActorID:    h.actorID(ctx),
	}); err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type stockLevelResponse struct {
	Stock stockLevelPayload `json:"stock"`
}

type stockLevelPayload struct {
	ProductID string `json:"product_id"`
	OnHand    int64  `json:"on_hand"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func buildStockLevelPayload(level services.StockLevel) stockLevelPayload {
	payload := stockLevelPayload{
		ProductID: strings.TrimSpace(level.ProductID),
		OnHand:    level.OnHand,
	}
	if !level.UpdatedAt.IsZero() {
		payload.UpdatedAt = formatTime(level.UpdatedAt)
	}
	return payload
}

func (h *AdminHandlers) getStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_service_unavailable", "inventory service is unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product identifier is required", http.StatusBadRequest))
		return
	}

	level, err := h.inventory.GetStock(ctx, productID)
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, stockLevelResponse{Stock: buildStockLevelPayload(level)})
}

type setStockRequest struct {
	Quantity *int64 `json:"quantity"`
}

func (h *AdminHandlers) setStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_service_unavailable", "inventory service is unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product identifier is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxAdminRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req setStockRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}

	level, err := h.inventory.SetStock(ctx, services.SetStockCommand{
		ProductID: productID,
		Quantity:  *req.Quantity,
		ActorID:   h.actorID(ctx),
	})
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, stockLevelResponse{Stock: buildStockLevelPayload(level)})
}

type lowStockResponse struct {
	Levels        []stockLevelPayload `json:"levels"`
	NextPageToken string              `json:"next_page_token,omitempty"`
}

func (h *AdminHandlers) listLowStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_service_unavailable", "inventory service is unavailable", http.StatusServiceUnavailable))
		return
	}

	page, err := listPagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.LowStockFilter{Pagination: page}
	if raw := strings.TrimSpace(r.URL.Query().Get("threshold")); raw != "" {
		threshold, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil || threshold < 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "threshold must be a non-negative integer", http.StatusBadRequest))
			return
		}
		filter.Threshold = threshold
	}

	result, err := h.inventory.ListLowStock(ctx, filter)
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}

	levels := make([]stockLevelPayload, 0, len(result.Items))
	for _, level := range result.Items {
		levels = append(levels, buildStockLevelPayload(level))
	}
	writeJSONResponse(w, http.StatusOK, lowStockResponse{
		Levels:        levels,
		NextPageToken: result.NextPageToken,
	})
}

func writeInventoryError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var stockErr *services.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", stockErr.Error(), http.StatusConflict).
			WithDetails(map[string]any{"product_id": stockErr.ProductID}))
	case errors.Is(err, services.ErrInventoryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInventoryStockNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("stock_not_found", "no stock record for product", http.StatusNotFound))
	case errors.Is(err, services.ErrInventoryUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("inventory_service_unavailable", "inventory service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("inventory_error", "inventory request failed", http.StatusInternalServerError))
	}
}

func (h *AdminHandlers) listAllOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	page, err := listPagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.OrderListFilter{
		UserID:     strings.TrimSpace(r.URL.Query().Get("userId")),
		IsAdmin:    true,
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

type orderStatusRequest struct {
	Status string `json:"status"`
}

func (h *AdminHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order identifier is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxAdminRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req orderStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID: orderID,
		Target:  services.OrderStatus(strings.TrimSpace(req.Status)),
		ActorID: h.actorID(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order identifier is required", http.StatusBadRequest))
		return
	}

	if err := h.orders.DeleteOrder(ctx, services.DeleteOrderCommand{
		OrderID: orderID,
		ActorID: h.actorID(ctx),
	}); err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type auditLogListResponse struct {
	Entries       []auditLogPayload `json:"entries"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

type auditLogPayload struct {
	ID        string         `json:"id"`
	ActorID   string         `json:"actor_id"`
	Action    string         `json:"action"`
	TargetRef string         `json:"target_ref"`
	Before    map[string]any `json:"before,omitempty"`
	After     map[string]any `json:"after,omitempty"`
	CreatedAt string         `json:"created_at,omitempty"`
}

func (h *AdminHandlers) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.audit == nil {
		httpx.WriteError(ctx, w, httpx.NewError("audit_service_unavailable", "audit log service is unavailable", http.StatusServiceUnavailable))
		return
	}

	page, err := listPagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.audit.List(ctx, services.AuditLogFilter{
		ActorID:    strings.TrimSpace(r.URL.Query().Get("actorId")),
		TargetRef:  strings.TrimSpace(r.URL.Query().Get("targetRef")),
		Pagination: page,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrAuditInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("audit_error", "audit log request failed", http.StatusInternalServerError))
		}
		return
	}

	entries := make([]auditLogPayload, 0, len(result.Items))
	for _, entry := range result.Items {
		payload := auditLogPayload{
			ID:        strings.TrimSpace(entry.ID),
			ActorID:   strings.TrimSpace(entry.ActorID),
			Action:    strings.TrimSpace(entry.Action),
			TargetRef: strings.TrimSpace(entry.TargetRef),
			Before:    cloneMap(entry.Before),
			After:     cloneMap(entry.After),
		}
		if !entry.CreatedAt.IsZero() {
			payload.CreatedAt = formatTime(entry.CreatedAt)
		}
		entries = append(entries, payload)
	}
	writeJSONResponse(w, http.StatusOK, auditLogListResponse{
		Entries:       entries,
		NextPageToken: result.NextPageToken,
	})
}
