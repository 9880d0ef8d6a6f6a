package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/greenbasket/api/internal/platform/firestore"
	"github.com/greenbasket/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry contract consumed by the DI container.
type Registry struct {
	provider *pfirestore.Provider

	carts     *CartRepository
	products  *ProductRepository
	inventory *InventoryRepository
	orders    *OrderRepository
	users     *UserRepository
	addresses *AddressRepository
	auditLogs *AuditLogRepository
	counters  *CounterRepository
	health    repositories.HealthRepository
}

// RegistryOption customises registry construction.
type RegistryOption func(*Registry)

// WithHealthRepository injects the dependency health repository exposed via
// Health(). Health checks are assembled in main where the external clients
// live, so the registry only carries the finished repository.
func WithHealthRepository(health repositories.HealthRepository) RegistryOption {
	return func(r *Registry) {
		r.health = health
	}
}

// NewRegistry constructs every Firestore repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	inventory, err := NewInventoryRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, err
	}
	addresses, err := NewAddressRepository(provider)
	if err != nil {
		return nil, err
	}
	auditLogs, err := NewAuditLogRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	registry := &Registry{
		provider:  provider,
		carts:     carts,
		products:  products,
		inventory: inventory,
		orders:    orders,
		users:     users,
		addresses: addresses,
		auditLogs: auditLogs,
		counters:  counters,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(registry)
		}
	}
	return registry, nil
}

var _ repositories.Registry = (*Registry)(nil)

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Carts() repositories.CartRepository           { return r.carts }
func (r *Registry) Products() repositories.ProductRepository     { return r.products }
func (r *Registry) Inventory() repositories.InventoryRepository  { return r.inventory }
func (r *Registry) Orders() repositories.OrderRepository         { return r.orders }
func (r *Registry) Users() repositories.UserRepository           { return r.users }
func (r *Registry) Addresses() repositories.AddressRepository    { return r.addresses }
func (r *Registry) AuditLogs() repositories.AuditLogRepository   { return r.auditLogs }
func (r *Registry) Counters() repositories.CounterRepository     { return r.counters }
func (r *Registry) Health() repositories.HealthRepository        { return r.health }

// RunInTx executes fn within a Firestore transaction. Repository methods
// invoked inside fn still issue their own reads and writes; the transaction
// context only scopes retries and commit semantics.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry: firestore provider not configured")
	}
	if fn == nil {
		return errors.New("registry: transaction function is required")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return fn(ctx)
	})
}
