package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
)

// RazorpayLogger defines the logging contract for Razorpay provider operations.
type RazorpayLogger func(ctx context.Context, event string, fields map[string]any)

type razorpayOrderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type razorpayPaymentAPI interface {
	Fetch(paymentID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Refund(paymentID string, amount int, data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type razorpayClients struct {
	orders   razorpayOrderAPI
	payments razorpayPaymentAPI
}

// RazorpayProviderConfig configures the RazorpayProvider.
type RazorpayProviderConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Timeout       time.Duration
	Logger        RazorpayLogger
	Clock         func() time.Time
	Clients       *razorpayClients
}

// RazorpayProvider implements the Provider interface using Razorpay APIs.
type RazorpayProvider struct {
	api           razorpayClients
	keyID         string
	keySecret     []byte
	webhookSecret []byte
	clock         func() time.Time
	logger        RazorpayLogger
}

// NewRazorpayProvider constructs a Razorpay Provider using the given configuration.
func NewRazorpayProvider(cfg RazorpayProviderConfig) (*RazorpayProvider, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	keySecret := strings.TrimSpace(cfg.KeySecret)
	if keySecret == "" {
		return nil, errors.New("razorpay: key secret is required")
	}
	if keyID == "" && cfg.Clients == nil {
		return nil, errors.New("razorpay: key id is required")
	}
	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if webhookSecret == "" {
		return nil, errors.New("razorpay: webhook secret is required")
	}
	if webhookSecret == keySecret {
		return nil, errors.New("razorpay: webhook secret must differ from key secret")
	}

	var clients razorpayClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sdk := razorpay.NewClient(keyID, keySecret)
		if cfg.Timeout > 0 {
			seconds := cfg.Timeout / time.Second
			if seconds > math.MaxInt16 {
				seconds = math.MaxInt16
			}
			// The SDK takes whole seconds as an int16.
			sdk.SetTimeout(int16(seconds))
		}
		clients = razorpayClients{
			orders:   sdk.Order,
			payments: sdk.Payment,
		}
	}
	if clients.orders == nil || clients.payments == nil {
		return nil, errors.New("razorpay: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &RazorpayProvider{
		api:           clients,
		keyID:         keyID,
		keySecret:     []byte(keySecret),
		webhookSecret: []byte(webhookSecret),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateIntent opens a Razorpay order the client SDK can collect against.
func (p *RazorpayProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if p == nil {
		return Intent{}, errors.New("razorpay: provider is nil")
	}
	if req.Amount <= 0 {
		return Intent{}, fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidAmount, req.Amount)
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "INR"
	}

	data := map[string]interface{}{
		"amount":   req.Amount,
		"currency": currency,
	}
	if receipt := strings.TrimSpace(req.Receipt); receipt != "" {
		data["receipt"] = receipt
	}
	if len(req.Notes) > 0 {
		notes := make(map[string]interface{}, len(req.Notes))
		for k, v := range req.Notes {
			notes[k] = v
		}
		data["notes"] = notes
	}

	order, err := p.api.orders.Create(data, nil)
	if err != nil {
		return Intent{}, fmt.Errorf("%w: create order: %v", ErrGatewayUnavailable, err)
	}
	orderID := mapStringValue(order, "id")
	if orderID == "" {
		return Intent{}, fmt.Errorf("%w: create order returned no id", ErrGatewayUnavailable)
	}

	p.logger(ctx, "payments.razorpay.order.created", map[string]any{
		"gatewayOrderRef": orderID,
		"amount":          req.Amount,
		"currency":        currency,
	})

	return Intent{
		ID:       orderID,
		Provider: "razorpay",
		Amount:   req.Amount,
		Currency: currency,
		Receipt:  req.Receipt,
		KeyID:    p.keyID,
	}, nil
}

// VerifySyncConfirmation checks the signature the client SDK returns after
// a successful collect. The signed message is "<orderRef>|<paymentRef>".
func (p *RazorpayProvider) VerifySyncConfirmation(orderRef, paymentRef, signature string) bool {
	if p == nil || orderRef == "" || paymentRef == "" || signature == "" {
		return false
	}
	return verifyHMACHex(p.keySecret, []byte(orderRef+"|"+paymentRef), signature)
}

// VerifyWebhookSignature checks the webhook signature over the exact raw
// request body. Webhooks sign with a dedicated secret, not the key secret.
func (p *RazorpayProvider) VerifyWebhookSignature(rawBody []byte, signature string) bool {
	if p == nil || len(rawBody) == 0 || signature == "" {
		return false
	}
	return verifyHMACHex(p.webhookSecret, rawBody, signature)
}

// ParseEvent decodes a verified Razorpay webhook body.
func (p *RazorpayProvider) ParseEvent(rawBody []byte) (Event, error) {
	return ParseRazorpayEvent(rawBody)
}

// Refund issues a refund against a captured payment.
func (p *RazorpayProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("razorpay: provider is nil")
	}
	paymentRef := strings.TrimSpace(req.PaymentRef)
	if paymentRef == "" {
		return PaymentDetails{}, errors.New("razorpay: payment ref is required")
	}
	if req.Amount <= 0 {
		return PaymentDetails{}, fmt.Errorf("%w: refund amount must be positive, got %d", ErrInvalidAmount, req.Amount)
	}

	data := map[string]interface{}{}
	notes := make(map[string]interface{}, len(req.Notes)+1)
	for k, v := range req.Notes {
		notes[k] = v
	}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		notes["reason"] = reason
	}
	if len(notes) > 0 {
		data["notes"] = notes
	}

	refund, err := p.api.payments.Refund(paymentRef, int(req.Amount), data, nil)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("%w: refund payment: %v", ErrGatewayUnavailable, err)
	}

	refundRef := mapStringValue(refund, "id")
	p.logger(ctx, "payments.razorpay.refund.created", map[string]any{
		"gatewayPaymentRef": paymentRef,
		"gatewayRefundRef":  refundRef,
		"amount":            req.Amount,
	})

	return PaymentDetails{
		Provider:   "razorpay",
		PaymentRef: paymentRef,
		RefundRef:  refundRef,
		Status:     StatusRefunded,
		Amount:     mapInt64Value(refund, "amount"),
		Currency:   strings.ToUpper(mapStringValue(refund, "currency")),
	}, nil
}

// LookupPayment retrieves the gateway state of a payment.
func (p *RazorpayProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("razorpay: provider is nil")
	}
	paymentRef := strings.TrimSpace(req.PaymentRef)
	if paymentRef == "" {
		return PaymentDetails{}, errors.New("razorpay: payment ref is required")
	}

	payment, err := p.api.payments.Fetch(paymentRef, nil, nil)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("%w: fetch payment: %v", ErrGatewayUnavailable, err)
	}

	return PaymentDetails{
		Provider:   "razorpay",
		PaymentRef: mapStringValue(payment, "id"),
		OrderRef:   mapStringValue(payment, "order_id"),
		Status:     razorpayStatus(mapStringValue(payment, "status")),
		Amount:     mapInt64Value(payment, "amount"),
		Currency:   strings.ToUpper(mapStringValue(payment, "currency")),
		Method:     mapStringValue(payment, "method"),
		FailReason: mapStringValue(payment, "error_description"),
	}, nil
}

func razorpayStatus(status string) Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "captured":
		return StatusCaptured
	case "created", "authorized":
		return StatusPending
	case "failed":
		return StatusFailed
	case "refunded":
		return StatusRefunded
	default:
		return StatusUnknown
	}
}

// verifyHMACHex compares a lowercase hex HMAC-SHA256 signature in constant
// time against the expected digest of message under key.
func verifyHMACHex(key, message []byte, signature string) bool {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return verifyDigest(mac.Sum(nil), signature)
}

func verifyDigest(expected []byte, signature string) bool {
	provided, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	return hmac.Equal(expected, provided)
}

func mapStringValue(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if value, ok := m[key].(string); ok {
		return value
	}
	return ""
}

func mapInt64Value(m map[string]interface{}, key string) int64 {
	if m == nil {
		return 0
	}
	switch value := m[key].(type) {
	case int64:
		return value
	case int:
		return int64(value)
	case float64:
		return int64(value)
	default:
		return 0
	}
}
