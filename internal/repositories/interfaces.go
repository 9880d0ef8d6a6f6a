package repositories

import (
	"context"
	"time"

	domain "github.com/greenbasket/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Products() ProductRepository
	Inventory() InventoryRepository
	Orders() OrderRepository
	Users() UserRepository
	Addresses() AddressRepository
	AuditLogs() AuditLogRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartRepository owns cart persistence for both user and guest-session carts.
type CartRepository interface {
	UpsertCart(ctx context.Context, cart domain.Cart, expectedUpdatedAt *time.Time) (domain.Cart, error)
	GetUserCart(ctx context.Context, userID string) (domain.Cart, error)
	GetGuestCart(ctx context.Context, sessionID string) (domain.Cart, error)
	ReplaceLines(ctx context.Context, cartID string, lines []domain.CartLine) (domain.Cart, error)
	DeleteCart(ctx context.Context, cartID string) error
}

// ProductRepository reads catalog records used for price snapshots.
type ProductRepository interface {
	FindByRef(ctx context.Context, productRef string) (domain.Product, error)
	FindByRefs(ctx context.Context, productRefs []string) (map[string]domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
}

// InventoryRepository manages stock counters with transactional guarantees.
// Decrement must be atomic at the store level: the stock check and the
// write happen inside one transaction per call, never as separate reads
// and writes from the application.
type InventoryRepository interface {
	Decrement(ctx context.Context, req InventoryDecrementRequest) (InventoryDecrementResult, error)
	Increment(ctx context.Context, req InventoryIncrementRequest) (InventoryIncrementResult, error)
	GetStock(ctx context.Context, productRef string) (domain.InventoryStock, error)
	ListLowStock(ctx context.Context, query InventoryLowStockQuery) (domain.CursorPage[domain.InventoryStock], error)
}

// InventoryLine names one product and the quantity to decrement or restore.
type InventoryLine struct {
	ProductRef string
	Quantity   int64
}

// InventoryDecrementRequest encapsulates an all-or-nothing stock decrement.
type InventoryDecrementRequest struct {
	Lines []InventoryLine
	Ref   string
	Now   time.Time
}

// InventoryDecrementResult returns the updated stock projections after a decrement.
type InventoryDecrementResult struct {
	Stocks map[string]domain.InventoryStock
}

// InventoryIncrementRequest restores stock released by a failed or cancelled checkout.
type InventoryIncrementRequest struct {
	Lines  []InventoryLine
	Ref    string
	Reason string
	Now    time.Time
}

// InventoryIncrementResult returns the updated stock projections after a release.
type InventoryIncrementResult struct {
	Stocks map[string]domain.InventoryStock
}

// InventoryLowStockQuery controls pagination and threshold filtering for low stock listings.
type InventoryLowStockQuery struct {
	Threshold int
	PageSize  int
	PageToken string
}

// OrderRepository persists order documents and provides the lookup paths the
// reconciler depends on. GatewayOrderRef is indexed for webhook lookups.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order, expectedUpdatedAt *time.Time) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByGatewayOrderRef(ctx context.Context, gatewayOrderRef string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// UserRepository stores user profiles.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.UserProfile, error)
	UpdateProfile(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error)
}

// AddressRepository stores shipping addresses per user.
type AddressRepository interface {
	List(ctx context.Context, userID string) ([]domain.Address, error)
	Upsert(ctx context.Context, userID string, addressID *string, addr domain.Address) (domain.Address, error)
	Delete(ctx context.Context, userID string, addressID string) error
	Get(ctx context.Context, userID string, addressID string) (domain.Address, error)
}

// AuditLogRepository persists immutable audit trail entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type ProductListFilter struct {
	Tags       []string
	OnlyActive bool
	Pagination domain.Pagination
}

type OrderListFilter struct {
	UserID        string
	OrderStatus   []string
	PaymentStatus []string
	DateRange     domain.RangeQuery[time.Time]
	Pagination    domain.Pagination
}

type AuditLogFilter struct {
	SubjectRef string
	Event      string
	Severity   string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
