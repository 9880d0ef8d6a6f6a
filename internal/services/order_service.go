package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/greenbasket/api/internal/domain"
	"github.com/greenbasket/api/internal/payments"
	"github.com/greenbasket/api/internal/platform/textutil"
	"github.com/greenbasket/api/internal/repositories"
)

const (
	orderIDPrefix      = "ord_"
	orderCounterID     = "orders"
	maxOrderNotesChars = 2000

	orderEventCreated   = "order.created"
	orderEventCancelled = "order.cancelled"
	orderEventDelivered = "order.delivered"

	defaultPendingOrderExpiry = 30 * time.Minute
	defaultExpirySweepLimit   = 100
	pendingSweepActor         = "system:pending_order_sweep"
)

var (
	// ErrOrderInvalidInput indicates the caller supplied invalid input.
	ErrOrderInvalidInput = errors.New("order service: invalid input")
	// ErrOrderNotFound indicates the requested order does not exist.
	ErrOrderNotFound = errors.New("order service: not found")
	// ErrOrderConflict indicates the order changed concurrently and the update was refused.
	ErrOrderConflict = errors.New("order service: conflict")
	// ErrOrderInvalidState indicates the requested transition is not allowed from the current state.
	ErrOrderInvalidState = errors.New("order service: invalid state transition")
	// ErrOrderGatewayUnavailable indicates the payment gateway rejected or timed out on intent creation.
	ErrOrderGatewayUnavailable = errors.New("order service: payment gateway unavailable")
	// ErrOrderUnavailable indicates a backend failure unrelated to caller input.
	ErrOrderUnavailable = errors.New("order service: unavailable")
)

// fulfillmentNext defines the forward-only fulfillment sequence. Each status
// maps to the single status that may follow it.
var fulfillmentNext = map[domain.OrderStatus]domain.OrderStatus{
	domain.OrderStatusConfirmed:  domain.OrderStatusProcessing,
	domain.OrderStatusProcessing: domain.OrderStatusShipped,
	domain.OrderStatusShipped:    domain.OrderStatusDelivered,
}

// OrderServiceDeps wires the collaborators for order lifecycle operations.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Counters    repositories.CounterRepository
	Cart        CartService
	Inventory   InventoryService
	Gateway     *payments.Manager
	Jobs        BackgroundJobDispatcher
	Audit       AuditLogService
	Currency    string
	// PendingExpiry is how long a pending online order may wait for payment
	// before the sweep cancels it. Zero falls back to the default.
	PendingExpiry time.Duration
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders        repositories.OrderRepository
	counters      repositories.CounterRepository
	cart          CartService
	inventory     InventoryService
	gateway       *payments.Manager
	jobs          BackgroundJobDispatcher
	audit         AuditLogService
	sanitizer     *bluemonday.Policy
	currency      string
	pendingExpiry time.Duration
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Cart == nil {
		return nil, errors.New("order service: cart service is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "INR"
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	pendingExpiry := deps.PendingExpiry
	if pendingExpiry <= 0 {
		pendingExpiry = defaultPendingOrderExpiry
	}

	return &orderService{
		orders:        deps.Orders,
		counters:      deps.Counters,
		cart:          deps.Cart,
		inventory:     deps.Inventory,
		gateway:       deps.Gateway,
		jobs:          deps.Jobs,
		audit:         deps.Audit,
		sanitizer:     bluemonday.StrictPolicy(),
		currency:      currency,
		pendingExpiry: pendingExpiry,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// CreateOrder converts a cart (or explicit line items) into a persisted
// order. Online orders get a gateway payment intent; cash-on-delivery orders
// skip the gateway and confirm immediately. The order's totals and lines are
// fixed here and never recomputed.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	draft, err := s.cart.BuildOrderDraft(ctx, BuildOrderDraftCommand{
		Owner:           cmd.Owner,
		Lines:           cmd.Lines,
		Customer:        cmd.Customer,
		ShippingAddress: cmd.ShippingAddress,
		PaymentMethod:   cmd.PaymentMethod,
		Express:         cmd.Express,
		Notes:           cmd.Notes,
	})
	if err != nil {
		return CreateOrderResult{}, translateDraftError(err)
	}

	now := s.clock()
	orderNumber, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		s.releaseReservation(ctx, draft.Reserved, "", "order_number_failed")
		return CreateOrderResult{}, ErrOrderUnavailable
	}

	expectedDelivery := now.AddDate(0, 0, draft.Shipping.MaxDays)
	order := domain.Order{
		ID:               orderIDPrefix + s.newID(),
		OrderNumber:      orderNumber,
		UserID:           draft.UserID,
		SessionID:        draft.SessionID,
		Currency:         s.currency,
		Customer:         draft.Customer,
		ShippingAddress:  draft.ShippingAddress,
		Lines:            draft.Lines,
		Totals:           draft.Totals,
		Shipping:         cloneShippingQuote(draft.Shipping),
		PaymentMethod:    draft.PaymentMethod,
		PaymentStatus:    domain.PaymentStatusPending,
		OrderStatus:      domain.OrderStatusPending,
		Notes:            s.sanitizeNotes(draft.Notes),
		RefundStatus:     domain.RefundStatusNone,
		ExpectedDelivery: &expectedDelivery,
		PlacedAt:         now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	// Cash on delivery settles out of band; the order is confirmed at once.
	if order.PaymentMethod == domain.PaymentMethodCOD {
		order.PaymentStatus = domain.PaymentStatusCompleted
		order.OrderStatus = domain.OrderStatusConfirmed
		confirmedAt := now
		order.ConfirmedAt = &confirmedAt
	}

	result := CreateOrderResult{}
	if order.PaymentMethod == domain.PaymentMethodOnline {
		if s.gateway == nil {
			s.releaseReservation(ctx, draft.Reserved, order.ID, "gateway_unconfigured")
			return CreateOrderResult{}, ErrOrderGatewayUnavailable
		}
		intent, intentErr := s.gateway.CreateIntent(ctx, payments.PaymentContext{Currency: order.Currency}, payments.IntentRequest{
			Amount:   order.Totals.Total,
			Currency: order.Currency,
			Receipt:  order.OrderNumber,
			Notes: map[string]string{
				"orderId":     order.ID,
				"orderNumber": order.OrderNumber,
			},
		})
		if intentErr != nil {
			s.releaseReservation(ctx, draft.Reserved, order.ID, "intent_failed")
			if errors.Is(intentErr, payments.ErrInvalidAmount) {
				return CreateOrderResult{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, intentErr)
			}
			s.logger(ctx, "order.intent_failed", map[string]any{
				"orderNumber": order.OrderNumber,
				"error":       intentErr.Error(),
			})
			return CreateOrderResult{}, ErrOrderGatewayUnavailable
		}
		order.GatewayProvider = intent.Provider
		order.GatewayOrderRef = intent.ID
		result.GatewayOrderRef = intent.ID
		result.GatewayKeyID = intent.KeyID
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		s.releaseReservation(ctx, draft.Reserved, order.ID, "persist_failed")
		return CreateOrderResult{}, s.mapRepositoryError(err)
	}

	// The cart is consumed by a successful conversion. A failed delete is
	// logged, not surfaced; the order already exists.
	if draft.CartID != "" {
		if clearErr := s.cart.ClearCart(ctx, CartOwner{UserID: draft.UserID, SessionID: draft.SessionID}); clearErr != nil {
			s.logger(ctx, "order.cart_clear_failed", map[string]any{
				"orderId": order.ID,
				"cartId":  draft.CartID,
				"error":   clearErr.Error(),
			})
		}
	}

	s.enqueueNotification(ctx, order, orderEventCreated)
	s.recordAudit(ctx, "order.created", order.ID, "", map[string]any{
		"orderNumber":   order.OrderNumber,
		"paymentMethod": string(order.PaymentMethod),
		"total":         order.Totals.Total,
	})

	result.Order = order
	return result, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// Cancel terminates an order that has not entered fulfillment. Reserved
// stock is restored. Cancelling an already-cancelled order is a no-op.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	id := strings.TrimSpace(cmd.OrderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return Order{}, fmt.Errorf("%w: cancellation reason is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if order.OrderStatus == domain.OrderStatusCancelled {
		return order, nil
	}
	if order.OrderStatus != domain.OrderStatusPending && order.OrderStatus != domain.OrderStatusConfirmed {
		return Order{}, fmt.Errorf("%w: cannot cancel order in status %s", ErrOrderInvalidState, order.OrderStatus)
	}

	now := s.clock()
	expected := order.UpdatedAt
	cancelledAt := now
	order.OrderStatus = domain.OrderStatusCancelled
	order.CancellationReason = reason
	order.CancelledAt = &cancelledAt
	order.UpdatedAt = now

	saved, err := s.orders.Update(ctx, order, &expected)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.releaseReservation(ctx, inventoryLinesFromOrder(saved), saved.ID, "order_cancelled")
	s.enqueueNotification(ctx, saved, orderEventCancelled)
	s.recordAudit(ctx, "order.cancelled", saved.ID, cmd.ActorID, map[string]any{
		"orderNumber": saved.OrderNumber,
		"reason":      reason,
	})
	return saved, nil
}

// AdvanceFulfillment moves the order one step along the forward sequence
// confirmed -> processing -> shipped -> delivered. Re-applying the current
// status is a silent no-op. Entering delivered stamps the actual delivery
// time.
func (s *orderService) AdvanceFulfillment(ctx context.Context, cmd AdvanceFulfillmentCommand) (Order, error) {
	id := strings.TrimSpace(cmd.OrderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(string(cmd.TargetStatus))))
	switch target {
	case domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered:
	default:
		return Order{}, fmt.Errorf("%w: target status %q is not a fulfillment status", ErrOrderInvalidInput, cmd.TargetStatus)
	}

	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if order.OrderStatus == target {
		return order, nil
	}
	if next, ok := fulfillmentNext[order.OrderStatus]; !ok || next != target {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, order.OrderStatus, target)
	}

	now := s.clock()
	expected := order.UpdatedAt
	order.OrderStatus = target
	order.UpdatedAt = now

	switch target {
	case domain.OrderStatusProcessing:
		ts := now
		order.ProcessingAt = &ts
	case domain.OrderStatusShipped:
		ts := now
		order.ShippedAt = &ts
	case domain.OrderStatusDelivered:
		ts := now
		order.DeliveredAt = &ts
		order.ActualDelivery = &ts
	}
	if cmd.TrackingNumber != nil {
		tracking := strings.TrimSpace(*cmd.TrackingNumber)
		if tracking != "" {
			order.TrackingNumber = tracking
		}
	}

	saved, err := s.orders.Update(ctx, order, &expected)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if target == domain.OrderStatusDelivered {
		s.enqueueNotification(ctx, saved, orderEventDelivered)
	}
	s.recordAudit(ctx, "order.fulfillment_advanced", saved.ID, cmd.ActorID, map[string]any{
		"orderNumber": saved.OrderNumber,
		"status":      string(target),
		"tracking":    saved.TrackingNumber,
	})
	return saved, nil
}

// UpdateNotes replaces the free-text notes on an order. Markup is stripped
// before persistence.
func (s *orderService) UpdateNotes(ctx context.Context, cmd UpdateOrderNotesCommand) (Order, error) {
	id := strings.TrimSpace(cmd.OrderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	notes := s.sanitizeNotes(cmd.Notes)
	if len(notes) > maxOrderNotesChars {
		return Order{}, fmt.Errorf("%w: notes must be %d characters or fewer", ErrOrderInvalidInput, maxOrderNotesChars)
	}

	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	expected := order.UpdatedAt
	order.Notes = notes
	order.UpdatedAt = s.clock()

	saved, err := s.orders.Update(ctx, order, &expected)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return saved, nil
}

// ExpirePendingOrders cancels pending orders whose payment window has
// elapsed, restoring their reserved stock through the normal cancel path.
// Orders that change state while the sweep runs are skipped; the next sweep
// sees whatever remains.
func (s *orderService) ExpirePendingOrders(ctx context.Context, cmd ExpirePendingOrdersCommand) (ExpirePendingOrdersResult, error) {
	limit := cmd.Limit
	if limit <= 0 {
		limit = defaultExpirySweepLimit
	}

	cutoff := s.clock().Add(-s.pendingExpiry)
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		OrderStatus: []string{string(domain.OrderStatusPending)},
		DateRange:   domain.RangeQuery[time.Time]{To: &cutoff},
		Pagination:  domain.Pagination{PageSize: limit},
	})
	if err != nil {
		return ExpirePendingOrdersResult{}, s.mapRepositoryError(err)
	}

	result := ExpirePendingOrdersResult{}
	for _, order := range page.Items {
		_, cancelErr := s.Cancel(ctx, CancelOrderCommand{
			OrderID: order.ID,
			ActorID: pendingSweepActor,
			Reason:  "payment window expired",
		})
		if cancelErr != nil {
			if errors.Is(cancelErr, ErrOrderConflict) || errors.Is(cancelErr, ErrOrderInvalidState) || errors.Is(cancelErr, ErrOrderNotFound) {
				result.Skipped++
				continue
			}
			return result, cancelErr
		}
		result.Expired = append(result.Expired, order.ID)
	}

	if len(result.Expired) > 0 || result.Skipped > 0 {
		s.logger(ctx, "order.pending_expired", map[string]any{
			"expired": len(result.Expired),
			"skipped": result.Skipped,
			"cutoff":  cutoff,
		})
	}
	return result, nil
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, orderCounterID, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("GB-%d-%06d", now.Year(), seq), nil
}

func (s *orderService) sanitizeNotes(notes string) string {
	return textutil.CleanDisplayText(s.sanitizer.Sanitize(notes))
}

// releaseReservation restores decremented stock after an aborted or
// cancelled conversion. Best effort: a failed release is logged for the
// reservation sweep to retry, never surfaced to the caller.
func (s *orderService) releaseReservation(ctx context.Context, lines []repositories.InventoryLine, orderID, reason string) {
	if len(lines) == 0 {
		return
	}
	ref := orderID
	if ref == "" {
		ref = "unpersisted_" + s.newID()
	}
	if err := s.inventory.Release(ctx, InventoryReleaseCommand{Lines: lines, Ref: ref, Reason: reason}); err != nil {
		s.logger(ctx, "order.stock_release_failed", map[string]any{
			"orderId": orderID,
			"reason":  reason,
			"error":   err.Error(),
		})
		if s.jobs != nil && orderID != "" {
			_ = s.jobs.EnqueueReservationSweep(ctx, ReservationSweepPayload{OrderIDs: []string{orderID}})
		}
	}
}

func (s *orderService) enqueueNotification(ctx context.Context, order domain.Order, event string) {
	if s.jobs == nil {
		return
	}
	err := s.jobs.EnqueueOrderNotification(ctx, OrderNotificationPayload{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Event:       event,
		Email:       order.Customer.Email,
		AmountPaise: order.Totals.Total,
	})
	if err != nil {
		s.logger(ctx, "order.notification_enqueue_failed", map[string]any{
			"orderId": order.ID,
			"event":   event,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) recordAudit(ctx context.Context, event, orderID, actorID string, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, AuditLogRecord{
		Actor:      strings.TrimSpace(actorID),
		Event:      event,
		SubjectRef: "orders/" + orderID,
		Severity:   "info",
		OccurredAt: s.clock(),
		Metadata:   metadata,
	})
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsConflict():
			return ErrOrderConflict
		case repoErr.IsUnavailable():
			return ErrOrderUnavailable
		}
	}
	return ErrOrderUnavailable
}

// translateDraftError keeps cart validation errors recognisable to checkout
// callers while normalising backend failures.
func translateDraftError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCartInvalidInput), errors.Is(err, ErrCartEmpty):
		return err
	case errors.Is(err, ErrInventoryInsufficientStock), errors.Is(err, ErrInventoryNotFound):
		return err
	case errors.Is(err, ErrCartNotFound):
		return ErrCartEmpty
	default:
		return ErrOrderUnavailable
	}
}

func cloneShippingQuote(quote domain.ShippingQuote) *domain.ShippingQuote {
	dup := quote
	return &dup
}

func inventoryLinesFromOrder(order domain.Order) []repositories.InventoryLine {
	lines := make([]repositories.InventoryLine, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, repositories.InventoryLine{
			ProductRef: line.ProductRef,
			Quantity:   int64(line.Quantity),
		})
	}
	return lines
}
