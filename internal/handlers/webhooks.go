package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/greenbasket/api/internal/payments"
	"github.com/greenbasket/api/internal/platform/httpx"
	"github.com/greenbasket/api/internal/services"
)

const maxWebhookBodySize = 1 << 20

// WebhookHandlers receives asynchronous gateway notifications. The signature
// over the exact raw body is verified before anything is parsed; only
// authentic events reach the payment service.
type WebhookHandlers struct {
	gateway  *payments.Manager
	payments services.PaymentService
	audit    services.AuditLogService
	limiter  rateLimiter
	archiver payloadArchiver
	newID    func() string
}

// payloadArchiver stores verified raw webhook bodies for later audit.
type payloadArchiver interface {
	Archive(ctx context.Context, provider, eventID string, body []byte) (string, error)
}

// WebhookOption customises webhook handler construction.
type WebhookOption func(*WebhookHandlers)

// WithWebhookRateLimiter caps how fast a single source can post webhooks.
func WithWebhookRateLimiter(limiter rateLimiter) WebhookOption {
	return func(h *WebhookHandlers) {
		h.limiter = limiter
	}
}

// WithWebhookRateLimit installs a fixed-window limiter keyed by provider and
// source address. A non-positive limit disables limiting.
func WithWebhookRateLimit(limit int, window time.Duration) WebhookOption {
	return func(h *WebhookHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, time.Now)
	}
}

// WithWebhookArchiver stores a copy of every verified payload. Archive
// failures are swallowed; the gateway already got its acknowledgement.
func WithWebhookArchiver(archiver payloadArchiver) WebhookOption {
	return func(h *WebhookHandlers) {
		h.archiver = archiver
	}
}

// WithWebhookIDGenerator overrides archive object ID generation.
func WithWebhookIDGenerator(newID func() string) WebhookOption {
	return func(h *WebhookHandlers) {
		if newID != nil {
			h.newID = newID
		}
	}
}

// NewWebhookHandlers constructs gateway webhook handlers.
func NewWebhookHandlers(gateway *payments.Manager, paymentsSvc services.PaymentService, audit services.AuditLogService, opts ...WebhookOption) *WebhookHandlers {
	h := &WebhookHandlers{
		gateway:  gateway,
		payments: paymentsSvc,
		audit:    audit,
		newID:    func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /webhooks endpoints onto the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/{provider}", h.handlePaymentWebhook)
}

func (h *WebhookHandlers) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.gateway == nil || h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing is unavailable", http.StatusServiceUnavailable))
		return
	}

	providerName := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	if h.limiter != nil && !h.limiter.Allow(providerName+":"+r.RemoteAddr) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many webhook deliveries", http.StatusTooManyRequests))
		return
	}

	provider, err := h.gateway.Provider(providerName)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("unknown_provider", "unknown payment provider", http.StatusNotFound))
		return
	}

	rawBody, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	signature := strings.TrimSpace(r.Header.Get(signatureHeader(providerName)))
	if signature == "" || !provider.VerifyWebhookSignature(rawBody, signature) {
		h.recordSignatureRejection(r, providerName, len(rawBody))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusUnauthorized))
		return
	}

	h.archivePayload(providerName, rawBody)

	event, err := provider.ParseEvent(rawBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("malformed_event", "webhook payload could not be parsed", http.StatusBadRequest))
		return
	}

	// The signature checked out, so acknowledge unless the backend itself is
	// down; retries only help for transient failures.
	if err := h.payments.HandleWebhookEvent(ctx, services.WebhookEventCommand{
		Provider: providerName,
		Event:    event,
	}); err != nil {
		if errors.Is(err, services.ErrPaymentUnavailable) || errors.Is(err, services.ErrPaymentConflict) {
			httpx.WriteError(ctx, w, httpx.NewError("webhook_retry", "webhook processing failed; retry later", http.StatusInternalServerError))
			return
		}
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// archivePayload persists a verified raw body off the request path. The
// request context is deliberately not reused; the archive write should outlive
// the gateway's short delivery timeout.
func (h *WebhookHandlers) archivePayload(providerName string, body []byte) {
	if h.archiver == nil {
		return
	}
	payload := make([]byte, len(body))
	copy(payload, body)
	eventID := h.newID()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = h.archiver.Archive(ctx, providerName, eventID, payload)
	}()
}

func (h *WebhookHandlers) recordSignatureRejection(r *http.Request, providerName string, bodyLen int) {
	if h.audit == nil {
		return
	}
	h.audit.Record(r.Context(), services.AuditLogRecord{
		Actor:      "gateway:" + providerName,
		Event:      "webhook.signature_rejected",
		SubjectRef: r.URL.Path,
		Severity:   "security",
		Metadata: map[string]any{
			"provider":  providerName,
			"remoteIp":  r.RemoteAddr,
			"bodyBytes": bodyLen,
		},
	})
}

func signatureHeader(providerName string) string {
	switch providerName {
	case "razorpay":
		return "X-Razorpay-Signature"
	case "stripe":
		return "Stripe-Signature"
	default:
		return "X-Webhook-Signature"
	}
}
