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

func TestCartHandlersGetCartForUser(t *testing.T) {
	now := time.Date(2025, 7, 14, 9, 30, 0, 0, time.UTC)
	lineUpdated := now.Add(5 * time.Minute)

	service := &stubCartService{
		getOrCreateFunc: func(ctx context.Context, owner services.CartOwner) (services.Cart, error) {
			if owner.UserID != "user-7" || owner.SessionID != "" {
				t.Fatalf("unexpected owner %#v", owner)
			}
			return services.Cart{
				ID:       "cart-user-7",
				UserID:   "user-7",
				Currency: "inr",
				Lines: []services.CartLine{
					{
						ProductRef:      "products/tea-500g",
						FulfillmentType: domain.FulfillmentSingle,
						Quantity:        2,
						AddedAt:         now,
						UpdatedAt:       &lineUpdated,
					},
				},
				UpdatedAt: now.Add(10 * time.Minute),
			}, nil
		},
	}

	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-7"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if cacheControl := rr.Header().Get("Cache-Control"); !strings.Contains(cacheControl, "no-store") {
		t.Fatalf("expected Cache-Control no-store, got %q", cacheControl)
	}
	if etag := rr.Header().Get("ETag"); etag == "" {
		t.Fatalf("expected ETag header")
	}
	if lastModified := rr.Header().Get("Last-Modified"); lastModified == "" {
		t.Fatalf("expected Last-Modified header")
	}

	var resp cartResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Cart.ID != "cart-user-7" {
		t.Fatalf("expected cart id cart-user-7, got %q", resp.Cart.ID)
	}
	if resp.Cart.Currency != "INR" {
		t.Fatalf("expected currency INR, got %q", resp.Cart.Currency)
	}
	if resp.Cart.LinesCount != 1 || len(resp.Cart.Lines) != 1 {
		t.Fatalf("expected 1 line, got %d", resp.Cart.LinesCount)
	}
	if resp.Cart.Lines[0].ProductRef != "products/tea-500g" {
		t.Fatalf("unexpected product ref %q", resp.Cart.Lines[0].ProductRef)
	}
}

func TestCartHandlersGetCartForGuestSession(t *testing.T) {
	service := &stubCartService{
		getOrCreateFunc: func(ctx context.Context, owner services.CartOwner) (services.Cart, error) {
			if owner.SessionID != "sess-42" || owner.UserID != "" {
				t.Fatalf("unexpected owner %#v", owner)
			}
			return services.Cart{ID: "cart-sess-42", SessionID: "sess-42", Currency: "INR"}, nil
		},
	}

	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.Header.Set(sessionHeader, "sess-42")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp cartResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Cart.SessionID != "sess-42" {
		t.Fatalf("expected session id sess-42, got %q", resp.Cart.SessionID)
	}
}

func TestCartHandlersGetCartUnauthenticated(t *testing.T) {
	handler := NewCartHandlers(nil, &stubCartService{})
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	rr := httptest.NewRecorder()
	handler.getCart(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestCartHandlersGetCartServiceUnavailable(t *testing.T) {
	handler := NewCartHandlers(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()
	handler.getCart(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestCartHandlersUpsertLineSuccess(t *testing.T) {
	var captured services.UpsertCartLineCommand
	service := &stubCartService{
		addOrUpdateFunc: func(ctx context.Context, cmd services.UpsertCartLineCommand) (services.Cart, error) {
			captured = cmd
			return services.Cart{
				ID:       "cart-1",
				UserID:   cmd.Owner.UserID,
				Currency: "INR",
				Lines: []services.CartLine{
					{ProductRef: cmd.ProductRef, FulfillmentType: cmd.FulfillmentType, Quantity: cmd.Quantity},
				},
			}, nil
		},
	}

	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	body := `{"product_ref":"  products/rice-5kg ","fulfillment_type":"subscription","quantity":3}`
	req := httptest.NewRequest(http.MethodPost, "/cart/lines", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ProductRef != "products/rice-5kg" {
		t.Fatalf("expected trimmed product ref, got %q", captured.ProductRef)
	}
	if captured.FulfillmentType != domain.FulfillmentSubscription {
		t.Fatalf("expected subscription fulfillment, got %q", captured.FulfillmentType)
	}
	if captured.Quantity != 3 {
		t.Fatalf("expected quantity 3, got %d", captured.Quantity)
	}
}

func TestCartHandlersUpsertLineInvalidBody(t *testing.T) {
	handler := NewCartHandlers(nil, &stubCartService{})
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/cart/lines", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCartHandlersUpsertLineInsufficientInput(t *testing.T) {
	service := &stubCartService{
		addOrUpdateFunc: func(ctx context.Context, cmd services.UpsertCartLineCommand) (services.Cart, error) {
			return services.Cart{}, services.ErrCartInvalidInput
		},
	}
	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/cart/lines", strings.NewReader(`{"product_ref":"","quantity":0}`))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCartHandlersRemoveLineSuccess(t *testing.T) {
	var captured services.RemoveCartLineCommand
	service := &stubCartService{
		removeFunc: func(ctx context.Context, cmd services.RemoveCartLineCommand) (services.Cart, error) {
			captured = cmd
			return services.Cart{ID: "cart-3", SessionID: cmd.Owner.SessionID, Currency: "INR", Lines: []services.CartLine{}}, nil
		},
	}

	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	req := httptest.NewRequest(http.MethodDelete, "/cart/lines?product_ref=products/tea-500g&fulfillment_type=single", nil)
	req.Header.Set(sessionHeader, "sess-3")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ProductRef != "products/tea-500g" {
		t.Fatalf("expected captured product ref, got %q", captured.ProductRef)
	}
	if captured.Owner.SessionID != "sess-3" {
		t.Fatalf("expected session owner, got %#v", captured.Owner)
	}
}

func TestCartHandlersRemoveLineMissingRef(t *testing.T) {
	handler := NewCartHandlers(nil, &stubCartService{})
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	req := httptest.NewRequest(http.MethodDelete, "/cart/lines", nil)
	req.Header.Set(sessionHeader, "sess-3")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCartHandlersClearCart(t *testing.T) {
	cleared := false
	service := &stubCartService{
		clearFunc: func(ctx context.Context, owner services.CartOwner) error {
			cleared = true
			return nil
		},
	}

	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	req := httptest.NewRequest(http.MethodDelete, "/cart", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-2"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if !cleared {
		t.Fatalf("expected ClearCart to be called")
	}
}

func TestCartHandlersMergeGuestCart(t *testing.T) {
	var captured services.MergeGuestCartCommand
	service := &stubCartService{
		mergeFunc: func(ctx context.Context, cmd services.MergeGuestCartCommand) (services.Cart, error) {
			captured = cmd
			return services.Cart{ID: "cart-merged", UserID: cmd.UserID, Currency: "INR"}, nil
		},
	}

	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/cart/merge", strings.NewReader(`{"session_id":"sess-9"}`))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-9"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.SessionID != "sess-9" || captured.UserID != "user-9" {
		t.Fatalf("unexpected merge command %#v", captured)
	}
}

func TestCartHandlersMergeGuestCartFallsBackToHeader(t *testing.T) {
	var captured services.MergeGuestCartCommand
	service := &stubCartService{
		mergeFunc: func(ctx context.Context, cmd services.MergeGuestCartCommand) (services.Cart, error) {
			captured = cmd
			return services.Cart{ID: "cart-merged", UserID: cmd.UserID, Currency: "INR"}, nil
		},
	}

	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/cart/merge", nil)
	req.Header.Set(sessionHeader, "sess-11")
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-11"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.SessionID != "sess-11" {
		t.Fatalf("expected session from header, got %q", captured.SessionID)
	}
}

func TestCartHandlersMergeGuestCartRequiresAuth(t *testing.T) {
	handler := NewCartHandlers(nil, &stubCartService{})
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/cart/merge", strings.NewReader(`{"session_id":"sess-9"}`))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestCartHandlersCartConflict(t *testing.T) {
	service := &stubCartService{
		addOrUpdateFunc: func(ctx context.Context, cmd services.UpsertCartLineCommand) (services.Cart, error) {
			return services.Cart{}, services.ErrCartConflict
		},
	}

	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/cart/lines", strings.NewReader(`{"product_ref":"products/tea-500g","quantity":1}`))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestCartHandlersQuoteCart(t *testing.T) {
	var captured services.QuoteCartCommand
	service := &stubCartService{
		quoteFunc: func(ctx context.Context, cmd services.QuoteCartCommand) (services.CartQuote, error) {
			captured = cmd
			return services.CartQuote{
				Currency: "inr",
				Lines: []services.OrderLine{
					{ProductRef: "products/tea-500g", Name: "Assam Tea 500g", UnitPrice: 45000, Quantity: 2, FulfillmentType: domain.FulfillmentSingle},
				},
				Totals:   domain.OrderTotals{Subtotal: 90000, Tax: 2700, Shipping: 4000, Total: 96700},
				Shipping: domain.ShippingQuote{Charge: 4000, Zone: domain.ZoneMetroExpress, MinDays: 0, MaxDays: 1},
			}, nil
		},
	}

	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	body := `{"lines":[{"product_ref":"products/tea-500g","fulfillment_type":"single","quantity":2}],"pincode":"560001"}`
	req := httptest.NewRequest(http.MethodPost, "/cart/quote", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-7"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Owner.UserID != "user-7" {
		t.Fatalf("unexpected owner %#v", captured.Owner)
	}
	if captured.Pincode != "560001" {
		t.Fatalf("pincode = %q", captured.Pincode)
	}
	if len(captured.Lines) != 1 || captured.Lines[0].Quantity != 2 {
		t.Fatalf("lines = %#v", captured.Lines)
	}

	var resp quoteCartResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Quote.Currency != "INR" {
		t.Fatalf("currency = %q", resp.Quote.Currency)
	}
	if resp.Quote.Totals.Tax != 2700 || resp.Quote.Totals.Total != 96700 {
		t.Fatalf("totals = %+v", resp.Quote.Totals)
	}
	if len(resp.Quote.Lines) != 1 || resp.Quote.Lines[0].ProductRef != "products/tea-500g" {
		t.Fatalf("lines = %+v", resp.Quote.Lines)
	}
}

func TestCartHandlersQuoteCartRequiresPincode(t *testing.T) {
	handler := NewCartHandlers(nil, &stubCartService{})
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/cart/quote", strings.NewReader(`{"lines":[]}`))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-7"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

type stubCartService struct {
	getOrCreateFunc func(ctx context.Context, owner services.CartOwner) (services.Cart, error)
	addOrUpdateFunc func(ctx context.Context, cmd services.UpsertCartLineCommand) (services.Cart, error)
	removeFunc      func(ctx context.Context, cmd services.RemoveCartLineCommand) (services.Cart, error)
	clearFunc       func(ctx context.Context, owner services.CartOwner) error
	mergeFunc       func(ctx context.Context, cmd services.MergeGuestCartCommand) (services.Cart, error)
	quoteFunc       func(ctx context.Context, cmd services.QuoteCartCommand) (services.CartQuote, error)
	draftFunc       func(ctx context.Context, cmd services.BuildOrderDraftCommand) (services.OrderDraft, error)
}

func (s *stubCartService) GetOrCreateCart(ctx context.Context, owner services.CartOwner) (services.Cart, error) {
	if s.getOrCreateFunc != nil {
		return s.getOrCreateFunc(ctx, owner)
	}
	return services.Cart{}, services.ErrCartUnavailable
}

func (s *stubCartService) AddOrUpdateLine(ctx context.Context, cmd services.UpsertCartLineCommand) (services.Cart, error) {
	if s.addOrUpdateFunc != nil {
		return s.addOrUpdateFunc(ctx, cmd)
	}
	return services.Cart{}, errors.New("not implemented")
}

func (s *stubCartService) RemoveLine(ctx context.Context, cmd services.RemoveCartLineCommand) (services.Cart, error) {
	if s.removeFunc != nil {
		return s.removeFunc(ctx, cmd)
	}
	return services.Cart{}, errors.New("not implemented")
}

func (s *stubCartService) ClearCart(ctx context.Context, owner services.CartOwner) error {
	if s.clearFunc != nil {
		return s.clearFunc(ctx, owner)
	}
	return errors.New("not implemented")
}

func (s *stubCartService) MergeGuestCart(ctx context.Context, cmd services.MergeGuestCartCommand) (services.Cart, error) {
	if s.mergeFunc != nil {
		return s.mergeFunc(ctx, cmd)
	}
	return services.Cart{}, errors.New("not implemented")
}

func (s *stubCartService) QuoteCart(ctx context.Context, cmd services.QuoteCartCommand) (services.CartQuote, error) {
	if s.quoteFunc != nil {
		return s.quoteFunc(ctx, cmd)
	}
	return services.CartQuote{}, errors.New("not implemented")
}

func (s *stubCartService) BuildOrderDraft(ctx context.Context, cmd services.BuildOrderDraftCommand) (services.OrderDraft, error) {
	if s.draftFunc != nil {
		return s.draftFunc(ctx, cmd)
	}
	return services.OrderDraft{}, errors.New("not implemented")
}
