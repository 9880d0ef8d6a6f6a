package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/greenbasket/api/internal/domain"
	"github.com/greenbasket/api/internal/platform/auth"
	"github.com/greenbasket/api/internal/services"
)

func TestAdminHandlersListOrdersWithFilters(t *testing.T) {
	var captured services.OrderListFilter
	orders := &stubOrderService{
		listFunc: func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder()}}, nil
		},
	}

	handler := NewAdminHandlers(nil, orders, &stubInventoryService{}, &stubSystemService{})
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/admin/orders?user_id=user-1&status=confirmed&payment_status=completed", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "ops-1", Roles: []string{auth.RoleStaff}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-1" {
		t.Fatalf("expected user filter, got %q", captured.UserID)
	}
	if len(captured.OrderStatus) != 1 || captured.OrderStatus[0] != "confirmed" {
		t.Fatalf("unexpected order status filter %#v", captured.OrderStatus)
	}
	if len(captured.PaymentStatus) != 1 || captured.PaymentStatus[0] != "completed" {
		t.Fatalf("unexpected payment status filter %#v", captured.PaymentStatus)
	}
}

func TestAdminHandlersAdvanceFulfillment(t *testing.T) {
	var captured services.AdvanceFulfillmentCommand
	orders := &stubOrderService{
		advanceFunc: func(ctx context.Context, cmd services.AdvanceFulfillmentCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.OrderStatus = cmd.TargetStatus
			if cmd.TrackingNumber != nil {
				order.TrackingNumber = *cmd.TrackingNumber
			}
			return order, nil
		},
	}

	handler := NewAdminHandlers(nil, orders, &stubInventoryService{}, &stubSystemService{})
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)

	body := `{"target_status":" Shipped ","tracking_number":"AWB123"}`
	req := httptest.NewRequest(http.MethodPost, "/admin/orders/order-1/fulfillment", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "ops-1", Roles: []string{auth.RoleAdmin}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "order-1" {
		t.Fatalf("expected order id captured, got %q", captured.OrderID)
	}
	if captured.TargetStatus != domain.OrderStatusShipped {
		t.Fatalf("expected normalized target status, got %q", captured.TargetStatus)
	}
	if captured.TrackingNumber == nil || *captured.TrackingNumber != "AWB123" {
		t.Fatalf("expected tracking number captured, got %#v", captured.TrackingNumber)
	}
	if captured.ActorID != "ops-1" {
		t.Fatalf("expected actor id from identity, got %q", captured.ActorID)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Order.TrackingNumber != "AWB123" {
		t.Fatalf("expected tracking number in response, got %q", resp.Order.TrackingNumber)
	}
}

func TestAdminHandlersAdvanceFulfillmentBackwardsRejected(t *testing.T) {
	orders := &stubOrderService{
		advanceFunc: func(ctx context.Context, cmd services.AdvanceFulfillmentCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderInvalidState
		},
	}

	handler := NewAdminHandlers(nil, orders, &stubInventoryService{}, &stubSystemService{})
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/admin/orders/order-1/fulfillment", strings.NewReader(`{"target_status":"confirmed"}`))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "ops-1", Roles: []string{auth.RoleAdmin}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "invalid_order_state") {
		t.Fatalf("expected invalid_order_state code, got %s", rr.Body.String())
	}
}

func TestAdminHandlersGetStock(t *testing.T) {
	updated := time.Date(2025, 7, 21, 8, 0, 0, 0, time.UTC)
	inventory := &stubInventoryService{
		getStockFunc: func(ctx context.Context, productRef string) (services.InventoryStock, error) {
			if productRef != "products/tea-500g" {
				t.Fatalf("expected namespaced ref, got %q", productRef)
			}
			return services.InventoryStock{ProductRef: productRef, Stock: 14, UpdatedAt: updated}, nil
		},
	}

	handler := NewAdminHandlers(nil, &stubOrderService{}, inventory, &stubSystemService{})
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/admin/inventory/tea-500g", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "ops-1", Roles: []string{auth.RoleStaff}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp stockResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Stock.Stock != 14 {
		t.Fatalf("expected stock 14, got %d", resp.Stock.Stock)
	}
}

func TestAdminHandlersListLowStockBadThreshold(t *testing.T) {
	handler := NewAdminHandlers(nil, &stubOrderService{}, &stubInventoryService{}, &stubSystemService{})
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/admin/inventory?threshold=ten", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "ops-1", Roles: []string{auth.RoleStaff}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminHandlersListLowStock(t *testing.T) {
	var captured services.InventoryLowStockFilter
	inventory := &stubInventoryService{
		listLowFunc: func(ctx context.Context, filter services.InventoryLowStockFilter) (domain.CursorPage[services.InventoryStock], error) {
			captured = filter
			return domain.CursorPage[services.InventoryStock]{
				Items: []services.InventoryStock{{ProductRef: "products/rice-5kg", Stock: 2}},
			}, nil
		},
	}

	handler := NewAdminHandlers(nil, &stubOrderService{}, inventory, &stubSystemService{})
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/admin/inventory?threshold=5", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "ops-1", Roles: []string{auth.RoleStaff}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Threshold != 5 {
		t.Fatalf("expected threshold 5, got %d", captured.Threshold)
	}

	var resp stockListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Stocks) != 1 || resp.Stocks[0].ProductRef != "products/rice-5kg" {
		t.Fatalf("unexpected stock list %#v", resp.Stocks)
	}
}

func TestAdminHandlersListAuditLogs(t *testing.T) {
	var captured services.AuditLogFilter
	system := &stubSystemService{
		auditFunc: func(ctx context.Context, filter services.AuditLogFilter) (domain.CursorPage[services.AuditLogEntry], error) {
			captured = filter
			return domain.CursorPage[services.AuditLogEntry]{
				Items: []services.AuditLogEntry{
					{ID: "log-1", Event: "webhook.signature_rejected", Severity: "security"},
				},
			}, nil
		},
	}

	handler := NewAdminHandlers(nil, &stubOrderService{}, &stubInventoryService{}, system)
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/admin/audit-logs?severity=security&event=webhook.signature_rejected", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "ops-1", Roles: []string{auth.RoleAdmin}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Severity != "security" || captured.Event != "webhook.signature_rejected" {
		t.Fatalf("unexpected filter %#v", captured)
	}

	var resp auditLogListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Entries) != 1 || resp.Entries[0].Severity != "security" {
		t.Fatalf("unexpected entries %#v", resp.Entries)
	}
}

func TestAdminHandlersNextCounterValue(t *testing.T) {
	var captured services.CounterCommand
	system := &stubSystemService{
		counterFunc: func(ctx context.Context, cmd services.CounterCommand) (int64, error) {
			captured = cmd
			return 102, nil
		},
	}

	handler := NewAdminHandlers(nil, &stubOrderService{}, &stubInventoryService{}, system)
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/admin/counters/order-number/next", strings.NewReader(`{"step":2}`))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "ops-1", Roles: []string{auth.RoleAdmin}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.CounterID != "order-number" || captured.Step != 2 {
		t.Fatalf("unexpected counter command %#v", captured)
	}

	var resp nextCounterResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Value != 102 {
		t.Fatalf("expected value 102, got %d", resp.Value)
	}
}

func TestAdminHandlersCounterExhausted(t *testing.T) {
	system := &stubSystemService{
		counterFunc: func(ctx context.Context, cmd services.CounterCommand) (int64, error) {
			return 0, services.ErrSystemCounterExhausted
		},
	}

	handler := NewAdminHandlers(nil, &stubOrderService{}, &stubInventoryService{}, system)
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/admin/counters/order-number/next", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "ops-1", Roles: []string{auth.RoleAdmin}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "counter_exhausted") {
		t.Fatalf("expected counter_exhausted code, got %s", rr.Body.String())
	}
}

type stubInventoryService struct {
	reserveFunc  func(ctx context.Context, cmd services.InventoryReserveCommand) error
	releaseFunc  func(ctx context.Context, cmd services.InventoryReleaseCommand) error
	getStockFunc func(ctx context.Context, productRef string) (services.InventoryStock, error)
	listLowFunc  func(ctx context.Context, filter services.InventoryLowStockFilter) (domain.CursorPage[services.InventoryStock], error)
}

func (s *stubInventoryService) Reserve(ctx context.Context, cmd services.InventoryReserveCommand) error {
	if s.reserveFunc != nil {
		return s.reserveFunc(ctx, cmd)
	}
	return errors.New("not implemented")
}

func (s *stubInventoryService) Release(ctx context.Context, cmd services.InventoryReleaseCommand) error {
	if s.releaseFunc != nil {
		return s.releaseFunc(ctx, cmd)
	}
	return errors.New("not implemented")
}

func (s *stubInventoryService) GetStock(ctx context.Context, productRef string) (services.InventoryStock, error) {
	if s.getStockFunc != nil {
		return s.getStockFunc(ctx, productRef)
	}
	return services.InventoryStock{}, errors.New("not implemented")
}

func (s *stubInventoryService) ListLowStock(ctx context.Context, filter services.InventoryLowStockFilter) (domain.CursorPage[services.InventoryStock], error) {
	if s.listLowFunc != nil {
		return s.listLowFunc(ctx, filter)
	}
	return domain.CursorPage[services.InventoryStock]{}, errors.New("not implemented")
}
