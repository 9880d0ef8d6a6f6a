package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Status captures the normalized lifecycle state of a gateway payment.
type Status string

const (
	StatusPending  Status = "pending"
	StatusCaptured Status = "captured"
	StatusFailed   Status = "failed"
	StatusRefunded Status = "refunded"
	StatusUnknown  Status = "unknown"
)

var (
	// ErrUnsupportedProvider indicates the manager could not resolve a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrInvalidAmount indicates a non-positive or otherwise unusable amount.
	ErrInvalidAmount = errors.New("payments: invalid amount")
	// ErrGatewayUnavailable indicates the upstream gateway rejected or timed out.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
)

// IntentRequest asks a provider to open a payment intent for an order.
// Amount is in the currency's minor unit (paise for INR).
type IntentRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// Intent is the provider-side handle the storefront hands to the client SDK.
type Intent struct {
	ID       string
	Provider string
	Amount   int64
	Currency string
	Receipt  string
	KeyID    string
}

// RefundRequest asks a provider to refund a captured payment.
type RefundRequest struct {
	PaymentRef string
	Amount     int64
	Reason     string
	Notes      map[string]string
}

// LookupRequest fetches the current gateway state of a payment.
type LookupRequest struct {
	PaymentRef string
}

// PaymentDetails is the normalized view of a gateway payment or refund.
type PaymentDetails struct {
	Provider   string
	PaymentRef string
	OrderRef   string
	RefundRef  string
	Status     Status
	Amount     int64
	Currency   string
	Method     string
	FailReason string
}

// Provider abstracts a payment gateway integration.
//
// Signature checks and event parsing never touch the network and are
// therefore plain functions without a context. Each gateway wraps webhook
// bodies in its own envelope, so decoding them is a provider concern.
type Provider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	VerifySyncConfirmation(orderRef, paymentRef, signature string) bool
	VerifyWebhookSignature(rawBody []byte, signature string) bool
	ParseEvent(rawBody []byte) (Event, error)
	Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error)
	LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error)
}

// PaymentContext carries the hints used to resolve a provider for a call.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
	Metadata          map[string]string
}

// Manager routes payment operations to the configured providers.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption customises manager construction.
type ManagerOption func(*Manager)

// WithDefaultProvider sets the fallback provider name.
func WithDefaultProvider(name string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = strings.ToLower(strings.TrimSpace(name))
	}
}

// WithCurrencyRoutes maps ISO currency codes to provider names.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		m.currencyRoutes = make(map[string]string, len(routes))
		for currency, provider := range routes {
			key := strings.ToUpper(strings.TrimSpace(currency))
			value := strings.ToLower(strings.TrimSpace(provider))
			if key == "" || value == "" {
				continue
			}
			m.currencyRoutes[key] = value
		}
	}
}

// NewManager builds a Manager from the named providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	normalized := make(map[string]Provider, len(providers))
	for name, provider := range providers {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return nil, errors.New("payments: provider name cannot be empty")
		}
		if provider == nil {
			return nil, fmt.Errorf("payments: provider %q is nil", name)
		}
		if _, exists := normalized[key]; exists {
			return nil, fmt.Errorf("payments: duplicate provider %q", key)
		}
		normalized[key] = provider
	}

	manager := &Manager{providers: normalized}
	if len(normalized) == 1 {
		for name := range normalized {
			manager.defaultProvider = name
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(manager)
		}
	}
	if manager.defaultProvider != "" {
		if _, ok := manager.providers[manager.defaultProvider]; !ok {
			return nil, fmt.Errorf("payments: default provider %q is not registered", manager.defaultProvider)
		}
	}
	for currency, name := range manager.currencyRoutes {
		if _, ok := manager.providers[name]; !ok {
			return nil, fmt.Errorf("payments: currency route %s points at unknown provider %q", currency, name)
		}
	}
	return manager, nil
}

// Provider returns the registered provider by name. Webhook handlers use
// this to verify signatures with the provider the route belongs to.
func (m *Manager) Provider(name string) (Provider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	provider, ok := m.providers[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, name)
	}
	return provider, nil
}

// CreateIntent resolves a provider and opens a payment intent.
func (m *Manager) CreateIntent(ctx context.Context, pctx PaymentContext, req IntentRequest) (Intent, error) {
	name, provider, err := m.resolveProvider(pctx)
	if err != nil {
		return Intent{}, err
	}
	intent, err := provider.CreateIntent(ctx, req)
	if err != nil {
		return Intent{}, err
	}
	if intent.Provider == "" {
		intent.Provider = name
	}
	return intent, nil
}

// Refund resolves a provider and issues a refund.
func (m *Manager) Refund(ctx context.Context, pctx PaymentContext, req RefundRequest) (PaymentDetails, error) {
	name, provider, err := m.resolveProvider(pctx)
	if err != nil {
		return PaymentDetails{}, err
	}
	details, err := provider.Refund(ctx, req)
	if err != nil {
		return PaymentDetails{}, err
	}
	if details.Provider == "" {
		details.Provider = name
	}
	return details, nil
}

// LookupPayment resolves a provider and fetches the payment state.
func (m *Manager) LookupPayment(ctx context.Context, pctx PaymentContext, req LookupRequest) (PaymentDetails, error) {
	name, provider, err := m.resolveProvider(pctx)
	if err != nil {
		return PaymentDetails{}, err
	}
	details, err := provider.LookupPayment(ctx, req)
	if err != nil {
		return PaymentDetails{}, err
	}
	if details.Provider == "" {
		details.Provider = name
	}
	return details, nil
}

func (m *Manager) resolveProvider(pctx PaymentContext) (string, Provider, error) {
	if name := strings.ToLower(strings.TrimSpace(pctx.PreferredProvider)); name != "" {
		if provider, ok := m.providers[name]; ok {
			return name, provider, nil
		}
		return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, pctx.PreferredProvider)
	}
	if currency := strings.ToUpper(strings.TrimSpace(pctx.Currency)); currency != "" {
		if name, ok := m.currencyRoutes[currency]; ok {
			if provider, ok := m.providers[name]; ok {
				return name, provider, nil
			}
		}
	}
	if m.defaultProvider != "" {
		if provider, ok := m.providers[m.defaultProvider]; ok {
			return m.defaultProvider, provider, nil
		}
	}
	if len(m.providers) == 1 {
		for name, provider := range m.providers {
			return name, provider, nil
		}
	}
	return "", nil, fmt.Errorf("%w: no provider matched context", ErrUnsupportedProvider)
}
