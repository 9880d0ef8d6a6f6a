package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/greenbasket/api/internal/domain"
	"github.com/greenbasket/api/internal/platform/auth"
	"github.com/greenbasket/api/internal/platform/httpx"
	"github.com/greenbasket/api/internal/services"
)

// AdminHandlers exposes the operator surface: fulfillment progression,
// stock visibility, audit trail access and counter management.
type AdminHandlers struct {
	authn     *auth.Authenticator
	orders    services.OrderService
	inventory services.InventoryService
	system    services.SystemService
}

// NewAdminHandlers constructs admin handlers guarded by role-checked authentication.
func NewAdminHandlers(authn *auth.Authenticator, orders services.OrderService, inventory services.InventoryService, system services.SystemService) *AdminHandlers {
	return &AdminHandlers{
		authn:     authn,
		orders:    orders,
		inventory: inventory,
		system:    system,
	}
}

// Routes wires the /admin endpoints onto the provided router.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin, auth.RoleStaff))
	}
	r.Get("/orders", h.listOrders)
	r.Post("/orders/{orderID}/fulfillment", h.advanceFulfillment)
	r.Get("/inventory", h.listLowStock)
	r.Get("/inventory/{productID}", h.getStock)
	r.Get("/audit-logs", h.listAuditLogs)
	r.Post("/counters/{counterID}/next", h.nextCounterValue)
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	filter := services.OrderListFilter{
		UserID:     strings.TrimSpace(query.Get("user_id")),
		Pagination: paginationFromQuery(r),
	}
	if status := strings.TrimSpace(query.Get("status")); status != "" {
		filter.OrderStatus = []string{status}
	}
	if status := strings.TrimSpace(query.Get("payment_status")); status != "" {
		filter.PaymentStatus = []string{status}
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Orders:        items,
		NextPageToken: page.NextPageToken,
	})
}

type advanceFulfillmentRequest struct {
	TargetStatus   string  `json:"target_status"`
	TrackingNumber *string `json:"tracking_number"`
}

func (h *AdminHandlers) advanceFulfillment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req advanceFulfillmentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	order, err := h.orders.AdvanceFulfillment(ctx, services.AdvanceFulfillmentCommand{
		OrderID:        strings.TrimSpace(chi.URLParam(r, "orderID")),
		TargetStatus:   domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.TargetStatus))),
		TrackingNumber: req.TrackingNumber,
		ActorID:        adminActorID(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) getStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_unavailable", "inventory service is unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	stock, err := h.inventory.GetStock(ctx, productRefFromID(productID))
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, stockResponse{Stock: buildStockPayload(stock)})
}

func (h *AdminHandlers) listLowStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_unavailable", "inventory service is unavailable", http.StatusServiceUnavailable))
		return
	}

	filter := services.InventoryLowStockFilter{
		Pagination: paginationFromQuery(r),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("threshold")); raw != "" {
		threshold, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "threshold must be an integer", http.StatusBadRequest))
			return
		}
		filter.Threshold = threshold
	}

	page, err := h.inventory.ListLowStock(ctx, filter)
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}

	items := make([]stockPayload, 0, len(page.Items))
	for _, stock := range page.Items {
		items = append(items, buildStockPayload(stock))
	}
	writeJSONResponse(w, http.StatusOK, stockListResponse{
		Stocks:        items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *AdminHandlers) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		httpx.WriteError(ctx, w, httpx.NewError("system_service_unavailable", "system service is unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	filter := services.AuditLogFilter{
		SubjectRef: strings.TrimSpace(query.Get("subject_ref")),
		Event:      strings.TrimSpace(query.Get("event")),
		Severity:   strings.TrimSpace(query.Get("severity")),
		Pagination: paginationFromQuery(r),
	}

	page, err := h.system.ListAuditLogs(ctx, filter)
	if err != nil {
		writeSystemError(ctx, w, err)
		return
	}

	items := make([]auditLogPayload, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, buildAuditLogPayload(entry))
	}
	writeJSONResponse(w, http.StatusOK, auditLogListResponse{
		Entries:       items,
		NextPageToken: page.NextPageToken,
	})
}

type nextCounterRequest struct {
	Step int64 `json:"step"`
}

type nextCounterResponse struct {
	CounterID string `json:"counter_id"`
	Value     int64  `json:"value"`
}

func (h *AdminHandlers) nextCounterValue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		httpx.WriteError(ctx, w, httpx.NewError("system_service_unavailable", "system service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req nextCounterRequest
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	counterID := strings.TrimSpace(chi.URLParam(r, "counterID"))
	value, err := h.system.NextCounterValue(ctx, services.CounterCommand{
		CounterID: counterID,
		Step:      req.Step,
	})
	if err != nil {
		writeSystemError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, nextCounterResponse{
		CounterID: counterID,
		Value:     value,
	})
}

func adminActorID(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		return identity.UID
	}
	return ""
}

func writeInventoryError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrInventoryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInventoryNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("stock_not_found", "stock record not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInventoryUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("inventory_unavailable", "inventory service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("inventory_error", "failed to read inventory", http.StatusInternalServerError))
	}
}

func writeSystemError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrSystemInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrSystemCounterExhausted):
		httpx.WriteError(ctx, w, httpx.NewError("counter_exhausted", "counter has reached its maximum value", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("system_error", "failed to process system request", http.StatusInternalServerError))
	}
}

type stockResponse struct {
	Stock stockPayload `json:"stock"`
}

type stockListResponse struct {
	Stocks        []stockPayload `json:"stocks"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type stockPayload struct {
	ProductRef string `json:"product_ref"`
	Stock      int64  `json:"stock"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

func buildStockPayload(stock services.InventoryStock) stockPayload {
	return stockPayload{
		ProductRef: stock.ProductRef,
		Stock:      stock.Stock,
		UpdatedAt:  formatTime(stock.UpdatedAt),
	}
}

type auditLogListResponse struct {
	Entries       []auditLogPayload `json:"entries"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

type auditLogPayload struct {
	ID         string         `json:"id"`
	Event      string         `json:"event"`
	ActorID    string         `json:"actor_id,omitempty"`
	SubjectRef string         `json:"subject_ref,omitempty"`
	Severity   string         `json:"severity"`
	Detail     map[string]any `json:"detail,omitempty"`
	CreatedAt  string         `json:"created_at,omitempty"`
}

func buildAuditLogPayload(entry services.AuditLogEntry) auditLogPayload {
	return auditLogPayload{
		ID:         entry.ID,
		Event:      entry.Event,
		ActorID:    entry.ActorID,
		SubjectRef: entry.SubjectRef,
		Severity:   entry.Severity,
		Detail:     entry.Detail,
		CreatedAt:  formatTime(entry.CreatedAt),
	}
}
