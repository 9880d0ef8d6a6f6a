package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/greenbasket/api/internal/domain"
	"github.com/greenbasket/api/internal/platform/auth"
	"github.com/greenbasket/api/internal/platform/httpx"
	"github.com/greenbasket/api/internal/platform/pagination"
	"github.com/greenbasket/api/internal/services"
)

const maxOrderBodySize = 32 * 1024

// OrderHandlers exposes checkout conversion, order lookup and the customer
// side of the order lifecycle. The synchronous payment confirmation callback
// also lands here because the storefront posts it on behalf of the customer.
type OrderHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	payments services.PaymentService
}

// NewOrderHandlers constructs order handlers.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, payments services.PaymentService) *OrderHandlers {
	return &OrderHandlers{
		authn:    authn,
		orders:   orders,
		payments: payments,
	}
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Post("/payments/confirm", h.confirmPayment)
	r.Route("/{orderID}", func(r chi.Router) {
		r.Get("/", h.getOrder)
		r.Post("/cancel", h.cancelOrder)
		r.Put("/notes", h.updateNotes)
	})
}

type createOrderRequest struct {
	Customer        customerPayload    `json:"customer"`
	ShippingAddress addressRequestBody `json:"shipping_address"`
	PaymentMethod   string             `json:"payment_method"`
	Express         bool               `json:"express"`
	Notes           string             `json:"notes"`
	Lines           []cartLineRequest  `json:"lines"`
}

type cartLineRequest struct {
	ProductRef      string `json:"product_ref"`
	FulfillmentType string `json:"fulfillment_type"`
	Quantity        int    `json:"quantity"`
}

type customerPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type createOrderResponse struct {
	Order           orderPayload `json:"order"`
	GatewayOrderRef string       `json:"gateway_order_ref,omitempty"`
	GatewayKeyID    string       `json:"gateway_key_id,omitempty"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := h.resolveOwner(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cmd := services.CreateOrderCommand{
		Owner: owner,
		Customer: services.CustomerInfo{
			Name:  strings.TrimSpace(req.Customer.Name),
			Email: strings.TrimSpace(req.Customer.Email),
			Phone: strings.TrimSpace(req.Customer.Phone),
		},
		ShippingAddress: req.ShippingAddress.toAddress(),
		PaymentMethod:   parsePaymentMethod(req.PaymentMethod),
		Express:         req.Express,
		Notes:           req.Notes,
	}
	for _, line := range req.Lines {
		cmd.Lines = append(cmd.Lines, services.CartLine{
			ProductRef:      strings.TrimSpace(line.ProductRef),
			FulfillmentType: parseFulfillmentType(line.FulfillmentType),
			Quantity:        line.Quantity,
		})
	}

	result, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, createOrderResponse{
		Order:           buildOrderPayload(result.Order),
		GatewayOrderRef: result.GatewayOrderRef,
		GatewayKeyID:    result.GatewayKeyID,
	})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := h.resolveOwner(w, r)
	if !ok {
		return
	}
	if owner.UserID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	filter := services.OrderListFilter{
		UserID:     owner.UserID,
		Pagination: paginationFromQuery(r),
	}
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		filter.OrderStatus = []string{status}
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

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := h.resolveOwner(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if !ownerCanAccess(ctx, owner, order) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := h.resolveOwner(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if !ownerCanAccess(ctx, owner, order) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req cancelOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cancelled, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		ActorID: actorID(ctx, owner),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(cancelled)})
}

type updateNotesRequest struct {
	Notes string `json:"notes"`
}

func (h *OrderHandlers) updateNotes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := h.resolveOwner(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if !ownerCanAccess(ctx, owner, order) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req updateNotesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	updated, err := h.orders.UpdateNotes(ctx, services.UpdateOrderNotesCommand{
		OrderID: orderID,
		Notes:   req.Notes,
		ActorID: actorID(ctx, owner),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(updated)})
}

type confirmPaymentRequest struct {
	GatewayOrderRef   string `json:"gateway_order_ref"`
	GatewayPaymentRef string `json:"gateway_payment_ref"`
	Signature         string `json:"signature"`
}

// confirmPayment handles the synchronous gateway callback the storefront
// posts after the customer completes the hosted payment flow. The signature
// is the sole authenticator; an invalid one is refused and audited.
func (h *OrderHandlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req confirmPaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	order, err := h.payments.ConfirmPayment(ctx, services.ConfirmPaymentCommand{
		GatewayOrderRef:   strings.TrimSpace(req.GatewayOrderRef),
		GatewayPaymentRef: strings.TrimSpace(req.GatewayPaymentRef),
		Signature:         strings.TrimSpace(req.Signature),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) resolveOwner(w http.ResponseWriter, r *http.Request) (services.CartOwner, bool) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
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

// ownerCanAccess restricts order reads to the owner; operators with the
// admin role see everything.
func ownerCanAccess(ctx context.Context, owner services.CartOwner, order services.Order) bool {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil && identity.HasRole(auth.RoleAdmin) {
		return true
	}
	if owner.UserID != "" {
		return order.UserID == owner.UserID
	}
	return owner.SessionID != "" && order.SessionID == owner.SessionID
}

func actorID(ctx context.Context, owner services.CartOwner) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil && strings.TrimSpace(identity.UID) != "" {
		return identity.UID
	}
	return owner.SessionID
}

func parsePaymentMethod(raw string) domain.PaymentMethod {
	if strings.EqualFold(strings.TrimSpace(raw), string(domain.PaymentMethodCOD)) {
		return domain.PaymentMethodCOD
	}
	return domain.PaymentMethodOnline
}

func paginationFromQuery(r *http.Request) domain.Pagination {
	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		// Unparseable page_size falls back to the default rather than
		// failing the listing.
		return domain.Pagination{PageToken: strings.TrimSpace(r.URL.Query().Get("page_token"))}
	}
	return domain.Pagination{PageSize: params.PageSize, PageToken: params.PageToken}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartEmpty):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart has no lines", http.StatusConflict))
	case errors.Is(err, services.ErrInventoryInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrInventoryNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order has been modified; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrOrderGatewayUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_unavailable", "payment gateway unavailable", http.StatusBadGateway))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentSignatureInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "payment signature verification failed", http.StatusUnauthorized))
	case errors.Is(err, services.ErrPaymentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payment_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPaymentConflict):
		httpx.WriteError(ctx, w, httpx.NewError("payment_conflict", "payment state changed; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to process payment request", http.StatusInternalServerError))
	}
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Orders        []orderPayload `json:"orders"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderPayload struct {
	ID                 string                `json:"id"`
	OrderNumber        string                `json:"order_number"`
	Currency           string                `json:"currency"`
	Customer           customerPayload       `json:"customer"`
	ShippingAddress    orderAddressPayload   `json:"shipping_address"`
	Lines              []orderLinePayload    `json:"lines"`
	Totals             orderTotalsPayload    `json:"totals"`
	Shipping           *shippingQuotePayload `json:"shipping,omitempty"`
	PaymentMethod      string                `json:"payment_method"`
	PaymentStatus      string                `json:"payment_status"`
	OrderStatus        string                `json:"order_status"`
	TrackingNumber     string                `json:"tracking_number,omitempty"`
	Notes              string                `json:"notes,omitempty"`
	CancellationReason string                `json:"cancellation_reason,omitempty"`
	RefundAmount       int64                 `json:"refund_amount,omitempty"`
	RefundStatus       string                `json:"refund_status,omitempty"`
	ExpectedDelivery   string                `json:"expected_delivery,omitempty"`
	ActualDelivery     string                `json:"actual_delivery,omitempty"`
	PlacedAt           string                `json:"placed_at,omitempty"`
	UpdatedAt          string                `json:"updated_at,omitempty"`
}

type orderLinePayload struct {
	ProductRef      string `json:"product_ref"`
	Name            string `json:"name"`
	SKU             string `json:"sku,omitempty"`
	UnitPrice       int64  `json:"unit_price"`
	Quantity        int    `json:"quantity"`
	FulfillmentType string `json:"fulfillment_type"`
	Discount        int64  `json:"discount,omitempty"`
}

type orderTotalsPayload struct {
	Subtotal int64 `json:"subtotal"`
	Discount int64 `json:"discount"`
	Tax      int64 `json:"tax"`
	Shipping int64 `json:"shipping"`
	Total    int64 `json:"total"`
}

type shippingQuotePayload struct {
	Charge       int64  `json:"charge"`
	Zone         string `json:"zone"`
	Express      bool   `json:"express"`
	FreeShipping bool   `json:"free_shipping"`
	MinDays      int    `json:"min_days"`
	MaxDays      int    `json:"max_days"`
}

type orderAddressPayload struct {
	Recipient string `json:"recipient"`
	Line1     string `json:"line1"`
	Line2     string `json:"line2,omitempty"`
	City      string `json:"city"`
	State     string `json:"state,omitempty"`
	Pincode   string `json:"pincode"`
	Country   string `json:"country"`
	Phone     string `json:"phone,omitempty"`
}

type addressRequestBody struct {
	Recipient string `json:"recipient"`
	Line1     string `json:"line1"`
	Line2     string `json:"line2"`
	City      string `json:"city"`
	State     string `json:"state"`
	Pincode   string `json:"pincode"`
	Country   string `json:"country"`
	Phone     string `json:"phone"`
}

func (b addressRequestBody) toAddress() services.Address {
	return services.Address{
		Recipient: strings.TrimSpace(b.Recipient),
		Line1:     strings.TrimSpace(b.Line1),
		Line2:     strings.TrimSpace(b.Line2),
		City:      strings.TrimSpace(b.City),
		State:     strings.TrimSpace(b.State),
		Pincode:   strings.TrimSpace(b.Pincode),
		Country:   strings.TrimSpace(strings.ToUpper(b.Country)),
		Phone:     strings.TrimSpace(b.Phone),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		Currency:    strings.ToUpper(order.Currency),
		Customer: customerPayload{
			Name:  order.Customer.Name,
			Email: order.Customer.Email,
			Phone: order.Customer.Phone,
		},
		ShippingAddress: orderAddressPayload{
			Recipient: order.ShippingAddress.Recipient,
			Line1:     order.ShippingAddress.Line1,
			Line2:     order.ShippingAddress.Line2,
			City:      order.ShippingAddress.City,
			State:     order.ShippingAddress.State,
			Pincode:   order.ShippingAddress.Pincode,
			Country:   order.ShippingAddress.Country,
			Phone:     order.ShippingAddress.Phone,
		},
		Totals: orderTotalsPayload{
			Subtotal: order.Totals.Subtotal,
			Discount: order.Totals.Discount,
			Tax:      order.Totals.Tax,
			Shipping: order.Totals.Shipping,
			Total:    order.Totals.Total,
		},
		PaymentMethod:      string(order.PaymentMethod),
		PaymentStatus:      string(order.PaymentStatus),
		OrderStatus:        string(order.OrderStatus),
		TrackingNumber:     order.TrackingNumber,
		Notes:              order.Notes,
		CancellationReason: order.CancellationReason,
		RefundAmount:       order.RefundAmount,
		PlacedAt:           formatTime(order.PlacedAt),
		UpdatedAt:          formatTime(order.UpdatedAt),
	}
	if order.RefundStatus != "" && order.RefundStatus != domain.RefundStatusNone {
		payload.RefundStatus = string(order.RefundStatus)
	}
	if order.Shipping != nil {
		payload.Shipping = &shippingQuotePayload{
			Charge:       order.Shipping.Charge,
			Zone:         string(order.Shipping.Zone),
			Express:      order.Shipping.Express,
			FreeShipping: order.Shipping.FreeShipping,
			MinDays:      order.Shipping.MinDays,
			MaxDays:      order.Shipping.MaxDays,
		}
	}
	if order.ExpectedDelivery != nil {
		payload.ExpectedDelivery = formatTime(*order.ExpectedDelivery)
	}
	if order.ActualDelivery != nil {
		payload.ActualDelivery = formatTime(*order.ActualDelivery)
	}
	for _, line := range order.Lines {
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
