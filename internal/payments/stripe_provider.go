package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	intents stripePaymentIntentAPI
	refunds stripeRefundAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey        string
	AccountID     string
	SigningSecret string
	WebhookSecret string
	Backends      *stripe.Backends
	Logger        StripeLogger
	Clock         func() time.Time
	Clients       *stripeClients
}

// StripeProvider implements the Provider interface using Stripe APIs.
// It backs non-INR checkouts where the primary gateway is unavailable.
type StripeProvider struct {
	api           stripeClients
	account       string
	signingSecret []byte
	webhookSecret []byte
	clock         func() time.Time
	logger        StripeLogger
}

const stripeWebhookTolerance = 5 * time.Minute

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}
	signingSecret := strings.TrimSpace(cfg.SigningSecret)
	if signingSecret == "" {
		return nil, errors.New("stripe: signing secret is required")
	}
	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if webhookSecret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	if webhookSecret == signingSecret {
		return nil, errors.New("stripe: webhook secret must differ from signing secret")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents: sc.PaymentIntents,
			refunds: sc.Refunds,
		}
	}
	if clients.intents == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:           clients,
		account:       strings.TrimSpace(cfg.AccountID),
		signingSecret: []byte(signingSecret),
		webhookSecret: []byte(webhookSecret),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateIntent creates a Stripe Payment Intent for the order.
func (p *StripeProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if p == nil {
		return Intent{}, errors.New("stripe: provider is nil")
	}
	if req.Amount <= 0 {
		return Intent{}, fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidAmount, req.Amount)
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "inr"
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(currency),
	}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if receipt := strings.TrimSpace(req.Receipt); receipt != "" {
		params.SetIdempotencyKey(receipt)
	}
	params.Metadata = make(map[string]string, len(req.Notes)+1)
	for k, v := range req.Notes {
		params.Metadata[k] = v
	}
	if req.Receipt != "" {
		params.Metadata["receipt"] = req.Receipt
	}

	intent, err := p.api.intents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("%w: create payment intent: %v", ErrGatewayUnavailable, err)
	}

	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"amount":        req.Amount,
		"currency":      currency,
	})

	return Intent{
		ID:       intent.ID,
		Provider: "stripe",
		Amount:   req.Amount,
		Currency: strings.ToUpper(currency),
		Receipt:  req.Receipt,
		KeyID:    intent.ClientSecret,
	}, nil
}

// VerifySyncConfirmation checks the confirmation signature returned by the
// storefront client. The signed message is "<orderRef>|<paymentRef>".
func (p *StripeProvider) VerifySyncConfirmation(orderRef, paymentRef, signature string) bool {
	if p == nil || orderRef == "" || paymentRef == "" || signature == "" {
		return false
	}
	return verifyHMACHex(p.signingSecret, []byte(orderRef+"|"+paymentRef), signature)
}

// VerifyWebhookSignature checks a Stripe-Signature header against the exact
// raw request body. The header carries "t=<unix>,v1=<hex>" pairs and the
// signed message is "<t>.<body>".
func (p *StripeProvider) VerifyWebhookSignature(rawBody []byte, signature string) bool {
	if p == nil || len(rawBody) == 0 || signature == "" {
		return false
	}

	var timestamp string
	var candidates []string
	for _, pair := range strings.Split(signature, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			candidates = append(candidates, value)
		}
	}
	if timestamp == "" || len(candidates) == 0 {
		return false
	}

	seconds, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	signedAt := time.Unix(seconds, 0).UTC()
	now := p.clock()
	if signedAt.Before(now.Add(-stripeWebhookTolerance)) || signedAt.After(now.Add(stripeWebhookTolerance)) {
		return false
	}

	mac := hmac.New(sha256.New, p.webhookSecret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	expected := mac.Sum(nil)
	for _, candidate := range candidates {
		if verifyDigest(expected, candidate) {
			return true
		}
	}
	return false
}

// ParseEvent decodes a verified Stripe webhook body.
func (p *StripeProvider) ParseEvent(rawBody []byte) (Event, error) {
	return ParseStripeEvent(rawBody)
}

// Refund creates a refund for the provided Payment Intent.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	paymentRef := strings.TrimSpace(req.PaymentRef)
	if paymentRef == "" {
		return PaymentDetails{}, errors.New("stripe: payment ref is required")
	}
	if req.Amount <= 0 {
		return PaymentDetails{}, fmt.Errorf("%w: refund amount must be positive, got %d", ErrInvalidAmount, req.Amount)
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentRef),
		Amount:        stripe.Int64(req.Amount),
	}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	if len(req.Notes) > 0 {
		params.Metadata = make(map[string]string, len(req.Notes))
		for k, v := range req.Notes {
			params.Metadata[k] = v
		}
	}

	refund, err := p.api.refunds.New(params)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("%w: refund payment intent: %v", ErrGatewayUnavailable, err)
	}

	p.logger(ctx, "payments.stripe.intent.refunded", map[string]any{
		"paymentIntent": paymentRef,
		"refund":        refund.ID,
	})

	return PaymentDetails{
		Provider:   "stripe",
		PaymentRef: paymentRef,
		RefundRef:  refund.ID,
		Status:     StatusRefunded,
		Amount:     refund.Amount,
		Currency:   strings.ToUpper(string(refund.Currency)),
	}, nil
}

// LookupPayment retrieves a Stripe Payment Intent.
func (p *StripeProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	paymentRef := strings.TrimSpace(req.PaymentRef)
	if paymentRef == "" {
		return PaymentDetails{}, errors.New("stripe: payment ref is required")
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.api.intents.Get(paymentRef, params)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("%w: lookup payment intent: %v", ErrGatewayUnavailable, err)
	}
	return stripePaymentDetails(intent), nil
}

func stripePaymentDetails(intent *stripe.PaymentIntent) PaymentDetails {
	if intent == nil {
		return PaymentDetails{}
	}

	status := StatusPending
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = StatusCaptured
	case stripe.PaymentIntentStatusCanceled:
		status = StatusFailed
	case stripe.PaymentIntentStatusRequiresPaymentMethod, stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresAction, stripe.PaymentIntentStatusRequiresConfirmation, stripe.PaymentIntentStatusRequiresCapture:
		status = StatusPending
	}

	failReason := ""
	if intent.LastPaymentError != nil {
		failReason = intent.LastPaymentError.Msg
	}

	if charge := intent.LatestCharge; charge != nil {
		if charge.Refunded || (charge.AmountRefunded >= charge.Amount && charge.Amount > 0) {
			status = StatusRefunded
		}
	}

	currency := strings.ToUpper(string(intent.Currency))
	if currency == "" && intent.LatestCharge != nil {
		currency = strings.ToUpper(string(intent.LatestCharge.Currency))
	}

	orderRef := ""
	if intent.Metadata != nil {
		orderRef = intent.Metadata["gateway_order_ref"]
	}

	return PaymentDetails{
		Provider:   "stripe",
		PaymentRef: intent.ID,
		OrderRef:   orderRef,
		Status:     status,
		Amount:     intent.Amount,
		Currency:   currency,
		FailReason: failReason,
	}
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}
