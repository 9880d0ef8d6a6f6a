package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Webhook event types delivered by the gateway.
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
	EventRefundProcessed = "refund.processed"
)

// ErrMalformedEvent indicates the webhook body could not be decoded at all.
var ErrMalformedEvent = errors.New("payments: malformed webhook event")

// Event is the closed set of webhook notifications the reconciler consumes.
// Unknown gateway event types decode to UnrecognizedEvent so the caller can
// acknowledge and log them without failing the delivery.
type Event interface {
	Kind() string
}

// PaymentCapturedEvent reports a successful capture for a gateway order.
type PaymentCapturedEvent struct {
	OrderRef   string
	PaymentRef string
	Amount     int64
	Currency   string
	Method     string
}

func (PaymentCapturedEvent) Kind() string { return EventPaymentCaptured }

// PaymentFailedEvent reports a failed payment attempt.
type PaymentFailedEvent struct {
	OrderRef   string
	PaymentRef string
	Reason     string
}

func (PaymentFailedEvent) Kind() string { return EventPaymentFailed }

// RefundProcessedEvent reports a completed refund for a payment.
type RefundProcessedEvent struct {
	PaymentRef string
	RefundRef  string
	Amount     int64
}

func (RefundProcessedEvent) Kind() string { return EventRefundProcessed }

// UnrecognizedEvent carries an event type this service does not handle.
type UnrecognizedEvent struct {
	EventType string
	Raw       json.RawMessage
}

func (e UnrecognizedEvent) Kind() string { return e.EventType }

type razorpayEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID               string `json:"id"`
				OrderID          string `json:"order_id"`
				Amount           int64  `json:"amount"`
				Currency         string `json:"currency"`
				Method           string `json:"method"`
				ErrorDescription string `json:"error_description"`
				ErrorReason      string `json:"error_reason"`
			} `json:"entity"`
		} `json:"payment"`
		Refund struct {
			Entity struct {
				ID        string `json:"id"`
				PaymentID string `json:"payment_id"`
				Amount    int64  `json:"amount"`
			} `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

// ParseRazorpayEvent decodes a verified Razorpay webhook body into an Event.
// Callers must verify the body's signature against the exact raw bytes before
// parsing.
func ParseRazorpayEvent(raw []byte) (Event, error) {
	var envelope razorpayEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	eventType := strings.TrimSpace(envelope.Event)
	if eventType == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrMalformedEvent)
	}

	switch eventType {
	case EventPaymentCaptured:
		payment := envelope.Payload.Payment.Entity
		if payment.ID == "" || payment.OrderID == "" {
			return nil, fmt.Errorf("%w: %s missing payment entity", ErrMalformedEvent, eventType)
		}
		return PaymentCapturedEvent{
			OrderRef:   payment.OrderID,
			PaymentRef: payment.ID,
			Amount:     payment.Amount,
			Currency:   payment.Currency,
			Method:     payment.Method,
		}, nil
	case EventPaymentFailed:
		payment := envelope.Payload.Payment.Entity
		if payment.ID == "" || payment.OrderID == "" {
			return nil, fmt.Errorf("%w: %s missing payment entity", ErrMalformedEvent, eventType)
		}
		reason := payment.ErrorDescription
		if reason == "" {
			reason = payment.ErrorReason
		}
		return PaymentFailedEvent{
			OrderRef:   payment.OrderID,
			PaymentRef: payment.ID,
			Reason:     reason,
		}, nil
	case EventRefundProcessed:
		refund := envelope.Payload.Refund.Entity
		if refund.ID == "" || refund.PaymentID == "" {
			return nil, fmt.Errorf("%w: %s missing refund entity", ErrMalformedEvent, eventType)
		}
		return RefundProcessedEvent{
			PaymentRef: refund.PaymentID,
			RefundRef:  refund.ID,
			Amount:     refund.Amount,
		}, nil
	default:
		return UnrecognizedEvent{EventType: eventType, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

// Stripe event types the reconciler understands.
const (
	stripeEventIntentSucceeded = "payment_intent.succeeded"
	stripeEventIntentFailed    = "payment_intent.payment_failed"
	stripeEventChargeRefunded  = "charge.refunded"
)

type stripeEnvelope struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID               string `json:"id"`
			Amount           int64  `json:"amount"`
			AmountRefunded   int64  `json:"amount_refunded"`
			Currency         string `json:"currency"`
			PaymentIntent    string `json:"payment_intent"`
			LatestCharge     string `json:"latest_charge"`
			LastPaymentError struct {
				Message string `json:"message"`
			} `json:"last_payment_error"`
			Refunds struct {
				Data []struct {
					ID string `json:"id"`
				} `json:"data"`
			} `json:"refunds"`
		} `json:"object"`
	} `json:"data"`
}

// ParseStripeEvent decodes a verified Stripe webhook body into an Event.
// Stripe addresses orders by PaymentIntent ID, which is what CreateIntent
// records as the gateway order ref, so intent events map the object ID to
// OrderRef.
func ParseStripeEvent(raw []byte) (Event, error) {
	var envelope stripeEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	eventType := strings.TrimSpace(envelope.Type)
	if eventType == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrMalformedEvent)
	}

	object := envelope.Data.Object
	switch eventType {
	case stripeEventIntentSucceeded:
		if object.ID == "" {
			return nil, fmt.Errorf("%w: %s missing payment intent", ErrMalformedEvent, eventType)
		}
		paymentRef := object.LatestCharge
		if paymentRef == "" {
			paymentRef = object.ID
		}
		return PaymentCapturedEvent{
			OrderRef:   object.ID,
			PaymentRef: paymentRef,
			Amount:     object.Amount,
			Currency:   strings.ToUpper(object.Currency),
			Method:     "card",
		}, nil
	case stripeEventIntentFailed:
		if object.ID == "" {
			return nil, fmt.Errorf("%w: %s missing payment intent", ErrMalformedEvent, eventType)
		}
		paymentRef := object.LatestCharge
		if paymentRef == "" {
			paymentRef = object.ID
		}
		return PaymentFailedEvent{
			OrderRef:   object.ID,
			PaymentRef: paymentRef,
			Reason:     object.LastPaymentError.Message,
		}, nil
	case stripeEventChargeRefunded:
		if object.PaymentIntent == "" {
			return nil, fmt.Errorf("%w: %s missing payment intent", ErrMalformedEvent, eventType)
		}
		refundRef := ""
		if len(object.Refunds.Data) > 0 {
			refundRef = object.Refunds.Data[0].ID
		}
		if refundRef == "" {
			return nil, fmt.Errorf("%w: %s missing refund", ErrMalformedEvent, eventType)
		}
		return RefundProcessedEvent{
			PaymentRef: object.PaymentIntent,
			RefundRef:  refundRef,
			Amount:     object.AmountRefunded,
		}, nil
	default:
		return UnrecognizedEvent{EventType: eventType, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}
