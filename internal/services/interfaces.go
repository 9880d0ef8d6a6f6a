package services

import (
	"context"
	"time"

	domain "github.com/greenbasket/api/internal/domain"
	"github.com/greenbasket/api/internal/payments"
	"github.com/greenbasket/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	Cart               = domain.Cart
	CartLine           = domain.CartLine
	CustomerInfo       = domain.CustomerInfo
	Address            = domain.Address
	Product            = domain.Product
	FulfillmentType    = domain.FulfillmentType
	Order              = domain.Order
	OrderLine          = domain.OrderLine
	OrderTotals        = domain.OrderTotals
	OrderStatus        = domain.OrderStatus
	PaymentStatus      = domain.PaymentStatus
	PaymentMethod      = domain.PaymentMethod
	RefundStatus       = domain.RefundStatus
	InventoryStock     = domain.InventoryStock
	UserProfile        = domain.UserProfile
	AuditLogEntry      = domain.AuditLogEntry
	ShippingQuote      = domain.ShippingQuote
	ShippingLine       = domain.ShippingLine
	ShippingRates      = domain.ShippingRates
	DeliveryZone       = domain.DeliveryZone
	SystemHealthReport = domain.SystemHealthReport
)

// CartOwner identifies the cart to operate on: exactly one of UserID or
// SessionID must be set.
type CartOwner struct {
	UserID    string
	SessionID string
}

// CartService manages mutable cart state and converts carts into priced
// order drafts.
type CartService interface {
	GetOrCreateCart(ctx context.Context, owner CartOwner) (Cart, error)
	AddOrUpdateLine(ctx context.Context, cmd UpsertCartLineCommand) (Cart, error)
	RemoveLine(ctx context.Context, cmd RemoveCartLineCommand) (Cart, error)
	ClearCart(ctx context.Context, owner CartOwner) error
	MergeGuestCart(ctx context.Context, cmd MergeGuestCartCommand) (Cart, error)
	QuoteCart(ctx context.Context, cmd QuoteCartCommand) (CartQuote, error)
	BuildOrderDraft(ctx context.Context, cmd BuildOrderDraftCommand) (OrderDraft, error)
}

// CatalogService resolves authoritative product data for pricing snapshots.
type CatalogService interface {
	GetProduct(ctx context.Context, productRef string) (Product, error)
	GetProducts(ctx context.Context, productRefs []string) (map[string]Product, error)
	ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error)
}

// InventoryService is the sole writer of stock counters during checkout.
type InventoryService interface {
	Reserve(ctx context.Context, cmd InventoryReserveCommand) error
	Release(ctx context.Context, cmd InventoryReleaseCommand) error
	GetStock(ctx context.Context, productRef string) (InventoryStock, error)
	ListLowStock(ctx context.Context, filter InventoryLowStockFilter) (domain.CursorPage[InventoryStock], error)
}

// OrderService owns order creation and the fulfillment side of the order
// state machine.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	AdvanceFulfillment(ctx context.Context, cmd AdvanceFulfillmentCommand) (Order, error)
	UpdateNotes(ctx context.Context, cmd UpdateOrderNotesCommand) (Order, error)
	ExpirePendingOrders(ctx context.Context, cmd ExpirePendingOrdersCommand) (ExpirePendingOrdersResult, error)
}

// PaymentService reconciles order payment state against the synchronous
// confirmation callback and the asynchronous webhook stream. Both paths
// converge on the same idempotent transitions.
type PaymentService interface {
	ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (Order, error)
	HandleWebhookEvent(ctx context.Context, cmd WebhookEventCommand) error
}

// UserService manages profile and address book surfaces.
type UserService interface {
	GetProfile(ctx context.Context, userID string) (UserProfile, error)
	UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (UserProfile, error)
	ListAddresses(ctx context.Context, userID string) ([]Address, error)
	UpsertAddress(ctx context.Context, cmd UpsertAddressCommand) (Address, error)
	DeleteAddress(ctx context.Context, cmd DeleteAddressCommand) error
}

// SystemService aggregates utility endpoints (health checks, audit logs, counters).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	ListAuditLogs(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
	NextCounterValue(ctx context.Context, cmd CounterCommand) (int64, error)
}

// AuditLogService centralizes immutable audit log persistence and retrieval.
type AuditLogService interface {
	Record(ctx context.Context, record AuditLogRecord)
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
}

// BackgroundJobDispatcher schedules asynchronous processing such as order
// notifications and reservation sweeps. Dispatch failures are isolated from
// the state transitions that trigger them.
type BackgroundJobDispatcher interface {
	EnqueueOrderNotification(ctx context.Context, payload OrderNotificationPayload) error
	EnqueueReservationSweep(ctx context.Context, payload ReservationSweepPayload) error
}

// Command and DTO definitions ------------------------------------------------

type UpsertCartLineCommand struct {
	Owner           CartOwner
	ProductRef      string
	FulfillmentType FulfillmentType
	Quantity        int
}

type RemoveCartLineCommand struct {
	Owner           CartOwner
	ProductRef      string
	FulfillmentType FulfillmentType
}

type MergeGuestCartCommand struct {
	SessionID string
	UserID    string
}

// QuoteCartCommand prices a cart (or explicit lines) for display. Nothing is
// reserved or persisted.
type QuoteCartCommand struct {
	Owner   CartOwner
	Lines   []CartLine
	Pincode string
	Express bool
}

// CartQuote is a non-binding price preview. Totals use the preview tax rate,
// so they may differ from the draft built at checkout.
type CartQuote struct {
	Lines    []OrderLine
	Totals   OrderTotals
	Shipping ShippingQuote
	Currency string
}

// BuildOrderDraftCommand prices a cart (or explicit lines) into an order
// draft, reserving the stock it references.
type BuildOrderDraftCommand struct {
	Owner           CartOwner
	Lines           []CartLine
	Customer        CustomerInfo
	ShippingAddress Address
	PaymentMethod   PaymentMethod
	Express         bool
	Notes           string
}

// OrderDraft is the fully priced, stock-reserved, not-yet-persisted
// representation of a cart about to become an order.
type OrderDraft struct {
	CartID          string
	UserID          string
	SessionID       string
	Customer        CustomerInfo
	ShippingAddress Address
	PaymentMethod   PaymentMethod
	Lines           []OrderLine
	Totals          OrderTotals
	Shipping        ShippingQuote
	Notes           string
	Reserved        []repositories.InventoryLine
}

type ProductListFilter = repositories.ProductListFilter

type OrderListFilter = repositories.OrderListFilter

type InventoryReserveCommand struct {
	Lines []repositories.InventoryLine
	Ref   string
}

type InventoryReleaseCommand struct {
	Lines  []repositories.InventoryLine
	Ref    string
	Reason string
}

type InventoryLowStockFilter struct {
	Threshold  int
	Pagination Pagination
}

type CreateOrderCommand struct {
	Owner           CartOwner
	Lines           []CartLine
	Customer        CustomerInfo
	ShippingAddress Address
	PaymentMethod   PaymentMethod
	Express         bool
	Notes           string
}

// CreateOrderResult returns the persisted order plus the gateway intent
// reference when the order is paid online.
type CreateOrderResult struct {
	Order           Order
	GatewayOrderRef string
	GatewayKeyID    string
}

type CancelOrderCommand struct {
	OrderID string
	ActorID string
	Reason  string
}

type AdvanceFulfillmentCommand struct {
	OrderID        string
	TargetStatus   OrderStatus
	TrackingNumber *string
	ActorID        string
}

type UpdateOrderNotesCommand struct {
	OrderID string
	Notes   string
	ActorID string
}

// ExpirePendingOrdersCommand cancels pending online orders whose payment
// never arrived. Limit caps how many orders one sweep touches; zero means
// the service default.
type ExpirePendingOrdersCommand struct {
	Limit int
}

// ExpirePendingOrdersResult reports what a sweep did. Skipped counts orders
// that changed state while the sweep was running.
type ExpirePendingOrdersResult struct {
	Expired []string
	Skipped int
}

type ConfirmPaymentCommand struct {
	GatewayOrderRef   string
	GatewayPaymentRef string
	Signature         string
}

type WebhookEventCommand struct {
	Provider string
	Event    payments.Event
}

type UpdateProfileCommand struct {
	UserID      string
	ActorID     string
	DisplayName *string
	PhoneNumber *string
}

type UpsertAddressCommand struct {
	UserID    string
	AddressID *string
	Address   Address
	IsDefault bool
}

type DeleteAddressCommand struct {
	UserID    string
	AddressID string
}

type OrderNotificationPayload struct {
	OrderID     string
	OrderNumber string
	Event       string
	Email       string
	AmountPaise int64
}

type ReservationSweepPayload struct {
	OrderIDs []string
}

// AuditLogRecord defines the payload accepted by the audit writer service.
type AuditLogRecord struct {
	Actor      string
	Event      string
	SubjectRef string
	Severity   string
	OccurredAt time.Time
	Metadata   map[string]any
}

type AuditLogFilter struct {
	SubjectRef string
	Event      string
	Severity   string
	DateRange  domain.RangeQuery[time.Time]
	Pagination Pagination
}

type CounterCommand struct {
	CounterID string
	Step      int64
}
