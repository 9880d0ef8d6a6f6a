package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/greenbasket/api/internal/domain"
	"github.com/greenbasket/api/internal/platform/auth"
	"github.com/greenbasket/api/internal/platform/httpx"
	"github.com/greenbasket/api/internal/services"
)

const (
	maxCartBodySize = 16 * 1024

	// Guests carry their cart through this header until they sign in and
	// the cart is merged.
	sessionHeader = "X-Session-ID"
)

// CartHandlers exposes cart endpoints for both signed-in users and guest
// sessions.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs cart handlers. Authentication is optional on
// cart routes; guests are identified by a session header instead.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/lines", h.upsertLine)
	r.Delete("/lines", h.removeLine)
	r.Post("/quote", h.quoteCart)
	r.Post("/merge", h.mergeGuestCart)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := h.resolveOwner(w, r)
	if !ok {
		return
	}

	cart, err := h.carts.GetOrCreateCart(ctx, owner)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}

	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := h.resolveOwner(w, r)
	if !ok {
		return
	}

	if err := h.carts.ClearCart(ctx, owner); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type upsertCartLineRequest struct {
	ProductRef      string `json:"product_ref"`
	FulfillmentType string `json:"fulfillment_type"`
	Quantity        int    `json:"quantity"`
}

func (h *CartHandlers) upsertLine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := h.resolveOwner(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req upsertCartLineRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.AddOrUpdateLine(ctx, services.UpsertCartLineCommand{
		Owner:           owner,
		ProductRef:      strings.TrimSpace(req.ProductRef),
		FulfillmentType: parseFulfillmentType(req.FulfillmentType),
		Quantity:        req.Quantity,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}

	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) removeLine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := h.resolveOwner(w, r)
	if !ok {
		return
	}

	productRef := strings.TrimSpace(r.URL.Query().Get("product_ref"))
	if productRef == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product_ref query parameter is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.RemoveLine(ctx, services.RemoveCartLineCommand{
		Owner:           owner,
		ProductRef:      productRef,
		FulfillmentType: parseFulfillmentType(r.URL.Query().Get("fulfillment_type")),
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}

	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

type quoteCartRequest struct {
	Lines []struct {
		ProductRef      string `json:"product_ref"`
		FulfillmentType string `json:"fulfillment_type"`
		Quantity        int    `json:"quantity"`
	} `json:"lines"`
	Pincode string `json:"pincode"`
	Express bool   `json:"express"`
}

type quoteCartResponse struct {
	Quote quotePayload `json:"quote"`
}

type quotePayload struct {
	Currency string               `json:"currency"`
	Lines    []orderLinePayload   `json:"lines"`
	Totals   orderTotalsPayload   `json:"totals"`
	Shipping shippingQuotePayload `json:"shipping"`
}

// quoteCart prices the owner's cart, or an explicit line list, for a given
// destination without reserving stock. Quotes are previews and expire as
// soon as catalog prices or rates change.
func (h *CartHandlers) quoteCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := h.resolveOwner(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req quoteCartRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.Pincode) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "pincode is required", http.StatusBadRequest))
		return
	}

	lines := make([]services.CartLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, services.CartLine{
			ProductRef:      strings.TrimSpace(line.ProductRef),
			FulfillmentType: parseFulfillmentType(line.FulfillmentType),
			Quantity:        line.Quantity,
		})
	}

	quote, err := h.carts.QuoteCart(ctx, services.QuoteCartCommand{
		Owner:   owner,
		Lines:   lines,
		Pincode: strings.TrimSpace(req.Pincode),
		Express: req.Express,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, quoteCartResponse{Quote: buildQuotePayload(quote)})
}

func buildQuotePayload(quote services.CartQuote) quotePayload {
	payload := quotePayload{
		Currency: strings.ToUpper(strings.TrimSpace(quote.Currency)),
		Lines:    make([]orderLinePayload, 0, len(quote.Lines)),
		Totals: orderTotalsPayload{
			Subtotal: quote.Totals.Subtotal,
			Discount: quote.Totals.Discount,
			Tax:      quote.Totals.Tax,
			Shipping: quote.Totals.Shipping,
			Total:    quote.Totals.Total,
		},
		Shipping: shippingQuotePayload{
			Charge:       quote.Shipping.Charge,
			Zone:         string(quote.Shipping.Zone),
			Express:      quote.Shipping.Express,
			FreeShipping: quote.Shipping.FreeShipping,
			MinDays:      quote.Shipping.MinDays,
			MaxDays:      quote.Shipping.MaxDays,
		},
	}
	for _, line := range quote.Lines {
		payload.Lines = append(payload.Lines, orderLinePayload{
			ProductRef:      line.ProductRef,
			Name:            line.Name,
			SKU:             line.SKU,
			UnitPrice:       line.UnitPrice,
			Quantity:        line.Quantity,
			FulfillmentType: string(line.FulfillmentType),
			Discount:        line.Discount,
		})
	}
	return payload
}

type mergeCartRequest struct {
	SessionID string `json:"session_id"`
}

func (h *CartHandlers) mergeGuestCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}

	var req mergeCartRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = strings.TrimSpace(r.Header.Get(sessionHeader))
	}
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "session_id is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.MergeGuestCart(ctx, services.MergeGuestCartCommand{
		SessionID: sessionID,
		UserID:    identity.UID,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}

	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

// resolveOwner picks the cart identity: the authenticated user when present,
// otherwise the guest session header.
func (h *CartHandlers) resolveOwner(w http.ResponseWriter, r *http.Request) (services.CartOwner, bool) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return services.CartOwner{}, false
	}

	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil && strings.TrimSpace(identity.UID) != "" {
		return services.CartOwner{UserID: identity.UID}, true
	}
	if sessionID := strings.TrimSpace(r.Header.Get(sessionHeader)); sessionID != "" {
		return services.CartOwner{SessionID: sessionID}, true
	}

	httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication or session header required", http.StatusUnauthorized))
	return services.CartOwner{}, false
}

func parseFulfillmentType(raw string) domain.FulfillmentType {
	if strings.EqualFold(strings.TrimSpace(raw), string(domain.FulfillmentSubscription)) {
		return domain.FulfillmentSubscription
	}
	return domain.FulfillmentSingle
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartEmpty):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart has no lines", http.StatusConflict))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart has been modified; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to process cart request", http.StatusInternalServerError))
	}
}

func setCartResponseHeaders(w http.ResponseWriter, cart services.Cart) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	if !cart.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", cart.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	if etag := buildCartETag(cart); etag != "" {
		w.Header().Set("ETag", etag)
	}
}

func buildCartETag(cart services.Cart) string {
	if strings.TrimSpace(cart.ID) == "" || cart.UpdatedAt.IsZero() {
		return ""
	}
	input := fmt.Sprintf("%s:%d", strings.TrimSpace(cart.ID), cart.UpdatedAt.UTC().UnixNano())
	sum := sha256.Sum256([]byte(input))
	return fmt.Sprintf(`W/"%s"`, hex.EncodeToString(sum[:8]))
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	Currency   string            `json:"currency"`
	LinesCount int               `json:"lines_count"`
	Lines      []cartLinePayload `json:"lines"`
	Notes      string            `json:"notes,omitempty"`
	UpdatedAt  string            `json:"updated_at,omitempty"`
}

type cartLinePayload struct {
	ProductRef      string `json:"product_ref"`
	FulfillmentType string `json:"fulfillment_type"`
	Quantity        int    `json:"quantity"`
	AddedAt         string `json:"added_at,omitempty"`
	UpdatedAt       string `json:"updated_at,omitempty"`
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		ID:         strings.TrimSpace(cart.ID),
		UserID:     strings.TrimSpace(cart.UserID),
		SessionID:  strings.TrimSpace(cart.SessionID),
		Currency:   strings.ToUpper(strings.TrimSpace(cart.Currency)),
		LinesCount: len(cart.Lines),
		Lines:      buildCartLines(cart.Lines),
		Notes:      strings.TrimSpace(cart.Notes),
	}
	if !cart.UpdatedAt.IsZero() {
		payload.UpdatedAt = formatTime(cart.UpdatedAt)
	}
	return payload
}

func buildCartLines(lines []services.CartLine) []cartLinePayload {
	payload := make([]cartLinePayload, 0, len(lines))
	for _, line := range lines {
		entry := cartLinePayload{
			ProductRef:      strings.TrimSpace(line.ProductRef),
			FulfillmentType: string(line.FulfillmentType),
			Quantity:        line.Quantity,
		}
		if !line.AddedAt.IsZero() {
			entry.AddedAt = formatTime(line.AddedAt)
		}
		if line.UpdatedAt != nil && !line.UpdatedAt.IsZero() {
			entry.UpdatedAt = formatTime(*line.UpdatedAt)
		}
		payload = append(payload, entry)
	}
	return payload
}
