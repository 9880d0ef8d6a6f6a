package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/greenbasket/api/internal/domain"
	"github.com/greenbasket/api/internal/payments"
	"github.com/greenbasket/api/internal/repositories"
)

const (
	paymentEventCaptured = "payment.captured"
	paymentEventFailed   = "payment.failed"
	paymentEventRefunded = "payment.refunded"
)

var (
	// ErrPaymentInvalidInput indicates the confirmation or event payload is incomplete.
	ErrPaymentInvalidInput = errors.New("payment service: invalid input")
	// ErrPaymentNotFound indicates no order matches the gateway reference.
	ErrPaymentNotFound = errors.New("payment service: order not found")
	// ErrPaymentSignatureInvalid indicates the signature did not verify. Treated as a security event.
	ErrPaymentSignatureInvalid = errors.New("payment service: signature verification failed")
	// ErrPaymentInvalidState indicates the event cannot apply to the order's current payment state.
	ErrPaymentInvalidState = errors.New("payment service: invalid payment state")
	// ErrPaymentConflict indicates a concurrent update raced this one and neither result won.
	ErrPaymentConflict = errors.New("payment service: conflict")
	// ErrPaymentUnavailable indicates a backend or gateway failure.
	ErrPaymentUnavailable = errors.New("payment service: unavailable")
)

// PaymentServiceDeps wires the collaborators for payment reconciliation.
type PaymentServiceDeps struct {
	Orders  repositories.OrderRepository
	Gateway *payments.Manager
	Jobs    BackgroundJobDispatcher
	Audit   AuditLogService
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

// paymentService reconciles gateway signals onto orders. Two independent
// signal paths exist for the same payment, the client's synchronous
// confirmation and the gateway's webhook, and either may arrive first,
// twice, or not at all. Every handler is idempotent so replays and
// out-of-order delivery converge on the same final state.
type paymentService struct {
	orders  repositories.OrderRepository
	gateway *payments.Manager
	jobs    BackgroundJobDispatcher
	audit   AuditLogService
	clock   func() time.Time
	logger  func(context.Context, string, map[string]any)
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: payment gateway manager is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentService{
		orders:  deps.Orders,
		gateway: deps.Gateway,
		jobs:    deps.Jobs,
		audit:   deps.Audit,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// ConfirmPayment handles the client-side confirmation after online checkout.
// The signature binds the gateway order and payment references together; a
// failed check is refused and logged as a security event. A valid
// confirmation for an already-completed payment returns the order unchanged.
func (s *paymentService) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (Order, error) {
	orderRef := strings.TrimSpace(cmd.GatewayOrderRef)
	paymentRef := strings.TrimSpace(cmd.GatewayPaymentRef)
	signature := strings.TrimSpace(cmd.Signature)
	if orderRef == "" || paymentRef == "" || signature == "" {
		return Order{}, fmt.Errorf("%w: gateway order ref, payment ref and signature are required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByGatewayOrderRef(ctx, orderRef)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	provider, err := s.gateway.Provider(order.GatewayProvider)
	if err != nil {
		return Order{}, fmt.Errorf("%w: no provider registered for %q", ErrPaymentUnavailable, order.GatewayProvider)
	}

	if !provider.VerifySyncConfirmation(orderRef, paymentRef, signature) {
		s.logger(ctx, "payment.signature_rejected", map[string]any{
			"orderId":         order.ID,
			"gatewayOrderRef": orderRef,
			"source":          "sync_confirmation",
		})
		s.recordAudit(ctx, "payment.signature_rejected", order.ID, "security", map[string]any{
			"gatewayOrderRef": orderRef,
			"source":          "sync_confirmation",
		})
		return Order{}, ErrPaymentSignatureInvalid
	}

	return s.applyCapture(ctx, order, paymentRef, "sync_confirmation")
}

// HandleWebhookEvent applies a verified, parsed gateway event to the matching
// order. Callers verify the webhook signature against the raw body before
// parsing; by the time an event reaches this method it is trusted.
func (s *paymentService) HandleWebhookEvent(ctx context.Context, cmd WebhookEventCommand) error {
	if cmd.Event == nil {
		return fmt.Errorf("%w: event is required", ErrPaymentInvalidInput)
	}

	switch event := cmd.Event.(type) {
	case payments.PaymentCapturedEvent:
		order, err := s.findByGatewayOrderRef(ctx, event.OrderRef)
		if err != nil {
			return err
		}
		_, err = s.applyCapture(ctx, order, event.PaymentRef, "webhook")
		return err

	case payments.PaymentFailedEvent:
		order, err := s.findByGatewayOrderRef(ctx, event.OrderRef)
		if err != nil {
			return err
		}
		return s.applyFailure(ctx, order, event.Reason)

	case payments.RefundProcessedEvent:
		order, err := s.findByPaymentRef(ctx, cmd.Provider, event.PaymentRef)
		if err != nil {
			return err
		}
		return s.applyRefund(ctx, order, event)

	case payments.UnrecognizedEvent:
		s.logger(ctx, "payment.webhook_ignored", map[string]any{
			"provider": cmd.Provider,
			"event":    event.Kind(),
		})
		return nil

	default:
		return fmt.Errorf("%w: unhandled event kind %q", ErrPaymentInvalidInput, cmd.Event.Kind())
	}
}

// applyCapture moves the payment to completed and confirms the order. Safe
// to call from both signal paths: a payment that is already completed is a
// silent no-op, so whichever of the webhook and the sync confirmation lands
// second changes nothing.
func (s *paymentService) applyCapture(ctx context.Context, order domain.Order, paymentRef, source string) (Order, error) {
	if order.PaymentStatus == domain.PaymentStatusCompleted {
		return order, nil
	}
	if order.PaymentStatus == domain.PaymentStatusRefunded {
		return Order{}, fmt.Errorf("%w: payment already refunded", ErrPaymentInvalidState)
	}

	now := s.clock()
	expected := order.UpdatedAt
	order.PaymentStatus = domain.PaymentStatusCompleted
	order.GatewayPaymentRef = paymentRef
	if order.OrderStatus == domain.OrderStatusPending {
		order.OrderStatus = domain.OrderStatusConfirmed
		confirmedAt := now
		order.ConfirmedAt = &confirmedAt
	}
	order.UpdatedAt = now

	saved, err := s.orders.Update(ctx, order, &expected)
	if err != nil {
		return s.resolveCaptureConflict(ctx, order.ID, err)
	}

	s.logger(ctx, "payment.captured", map[string]any{
		"orderId":           saved.ID,
		"gatewayPaymentRef": paymentRef,
		"source":            source,
	})
	s.enqueueNotification(ctx, saved, paymentEventCaptured)
	s.recordAudit(ctx, "payment.captured", saved.ID, "info", map[string]any{
		"gatewayPaymentRef": paymentRef,
		"source":            source,
	})
	return saved, nil
}

// resolveCaptureConflict re-reads after a conditional update failure. When
// the race was the other signal path completing the same payment, the
// outcome already holds and the capture reports success.
func (s *paymentService) resolveCaptureConflict(ctx context.Context, orderID string, updateErr error) (Order, error) {
	mapped := s.mapRepositoryError(updateErr)
	if !errors.Is(mapped, ErrPaymentConflict) {
		return Order{}, mapped
	}
	current, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if current.PaymentStatus == domain.PaymentStatusCompleted {
		return current, nil
	}
	return Order{}, ErrPaymentConflict
}

// applyFailure marks the payment failed. The order status is untouched so
// the customer can retry payment against the same order. A capture that
// already landed wins over a late failure signal.
func (s *paymentService) applyFailure(ctx context.Context, order domain.Order, reason string) error {
	switch order.PaymentStatus {
	case domain.PaymentStatusFailed:
		return nil
	case domain.PaymentStatusCompleted, domain.PaymentStatusRefunded:
		s.logger(ctx, "payment.failure_ignored", map[string]any{
			"orderId":       order.ID,
			"paymentStatus": string(order.PaymentStatus),
		})
		return nil
	}

	now := s.clock()
	expected := order.UpdatedAt
	order.PaymentStatus = domain.PaymentStatusFailed
	if reason != "" {
		if order.Metadata == nil {
			order.Metadata = map[string]any{}
		}
		order.Metadata["paymentFailReason"] = reason
	}
	order.UpdatedAt = now

	saved, err := s.orders.Update(ctx, order, &expected)
	if err != nil {
		return s.mapRepositoryError(err)
	}

	s.logger(ctx, "payment.failed", map[string]any{
		"orderId": saved.ID,
		"reason":  reason,
	})
	s.enqueueNotification(ctx, saved, paymentEventFailed)
	s.recordAudit(ctx, "payment.failed", saved.ID, "warning", map[string]any{
		"reason": reason,
	})
	return nil
}

// applyRefund records a processed refund. Only a completed payment can be
// refunded; a replayed refund event for the same refund ref is a no-op.
func (s *paymentService) applyRefund(ctx context.Context, order domain.Order, event payments.RefundProcessedEvent) error {
	if order.PaymentStatus == domain.PaymentStatusRefunded {
		if order.GatewayRefundRef == event.RefundRef {
			return nil
		}
		return fmt.Errorf("%w: order already refunded under a different refund ref", ErrPaymentInvalidState)
	}
	if order.PaymentStatus != domain.PaymentStatusCompleted {
		return fmt.Errorf("%w: refund requires a completed payment, payment is %s", ErrPaymentInvalidState, order.PaymentStatus)
	}

	now := s.clock()
	expected := order.UpdatedAt
	order.PaymentStatus = domain.PaymentStatusRefunded
	order.RefundStatus = domain.RefundStatusCompleted
	order.RefundAmount = event.Amount
	order.GatewayRefundRef = event.RefundRef
	order.UpdatedAt = now

	saved, err := s.orders.Update(ctx, order, &expected)
	if err != nil {
		return s.mapRepositoryError(err)
	}

	s.logger(ctx, "payment.refunded", map[string]any{
		"orderId":          saved.ID,
		"gatewayRefundRef": event.RefundRef,
		"amount":           event.Amount,
	})
	s.enqueueNotification(ctx, saved, paymentEventRefunded)
	s.recordAudit(ctx, "payment.refunded", saved.ID, "info", map[string]any{
		"gatewayRefundRef": event.RefundRef,
		"amount":           event.Amount,
	})
	return nil
}

func (s *paymentService) findByGatewayOrderRef(ctx context.Context, orderRef string) (domain.Order, error) {
	ref := strings.TrimSpace(orderRef)
	if ref == "" {
		return domain.Order{}, fmt.Errorf("%w: gateway order ref is required", ErrPaymentInvalidInput)
	}
	order, err := s.orders.FindByGatewayOrderRef(ctx, ref)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

// findByPaymentRef resolves the order behind a payment-scoped event. Refund
// payloads carry only the payment ref, so the gateway is asked for the
// originating order ref first.
func (s *paymentService) findByPaymentRef(ctx context.Context, providerName, paymentRef string) (domain.Order, error) {
	ref := strings.TrimSpace(paymentRef)
	if ref == "" {
		return domain.Order{}, fmt.Errorf("%w: gateway payment ref is required", ErrPaymentInvalidInput)
	}
	details, err := s.gateway.LookupPayment(ctx, payments.PaymentContext{PreferredProvider: providerName}, payments.LookupRequest{PaymentRef: ref})
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: payment lookup failed: %v", ErrPaymentUnavailable, err)
	}
	if details.OrderRef == "" {
		return domain.Order{}, fmt.Errorf("%w: gateway returned no order ref for payment %s", ErrPaymentUnavailable, ref)
	}
	return s.findByGatewayOrderRef(ctx, details.OrderRef)
}

func (s *paymentService) enqueueNotification(ctx context.Context, order domain.Order, event string) {
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
		s.logger(ctx, "payment.notification_enqueue_failed", map[string]any{
			"orderId": order.ID,
			"event":   event,
			"error":   err.Error(),
		})
	}
}

func (s *paymentService) recordAudit(ctx context.Context, event, orderID, severity string, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, AuditLogRecord{
		Event:      event,
		SubjectRef: "orders/" + orderID,
		Severity:   severity,
		OccurredAt: s.clock(),
		Metadata:   metadata,
	})
}

func (s *paymentService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrPaymentNotFound
		case repoErr.IsConflict():
			return ErrPaymentConflict
		case repoErr.IsUnavailable():
			return ErrPaymentUnavailable
		}
	}
	return ErrPaymentUnavailable
}
