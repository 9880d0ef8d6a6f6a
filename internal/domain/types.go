package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage wraps a page of results together with the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// FulfillmentType distinguishes one-off purchases from recurring subscription lines.
type FulfillmentType string

const (
	// FulfillmentSingle is a one-off purchase of the product.
	FulfillmentSingle FulfillmentType = "single"
	// FulfillmentSubscription is a recurring purchase; subscription lines
	// receive the subscription discount when the order draft is built.
	FulfillmentSubscription FulfillmentType = "subscription"
)

// Product is the catalog record consulted for authoritative prices when a
// cart is converted. Orders snapshot these fields and never read them again.
type Product struct {
	ID                   string
	Name                 string
	SKU                  string
	UnitPrice            int64
	Currency             string
	WeightGrams          int64
	SubscriptionEligible bool
	Active               bool
	Description          string
	Tags                 []string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Cart aggregates the pre-checkout selection for either an authenticated
// user or an anonymous session. Exactly one of UserID / SessionID is set.
type Cart struct {
	ID        string
	UserID    string
	SessionID string
	Currency  string
	Lines     []CartLine
	Notes     string
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartLine stores a single product selection. A cart holds at most one line
// per (ProductRef, FulfillmentType) pair; duplicates merge quantities.
type CartLine struct {
	ProductRef      string
	FulfillmentType FulfillmentType
	Quantity        int
	AddedAt         time.Time
	UpdatedAt       *time.Time
}

// CustomerInfo captures the contact details collected at checkout.
type CustomerInfo struct {
	Name  string
	Email string
	Phone string
}

// Address represents postal address structures shared by user and order layers.
// Pincode drives delivery-zone resolution.
type Address struct {
	ID        string
	Recipient string
	Line1     string
	Line2     string
	City      string
	State     string
	Pincode   string
	Country   string
	Phone     string
	IsDefault bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PaymentMethod enumerates how an order is paid.
type PaymentMethod string

const (
	// PaymentMethodOnline pays through the payment gateway.
	PaymentMethodOnline PaymentMethod = "online"
	// PaymentMethodCOD collects cash on delivery.
	PaymentMethodCOD PaymentMethod = "cod"
)

// PaymentStatus tracks the money side of an order, independent of fulfillment.
type PaymentStatus string

const (
	// PaymentStatusPending indicates no successful capture has been recorded yet.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusCompleted indicates the payment was captured (or COD accepted).
	PaymentStatusCompleted PaymentStatus = "completed"
	// PaymentStatusFailed indicates the last payment attempt was declined;
	// the customer may retry on the same order.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded indicates a processed refund superseded the capture.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// OrderStatus enumerates valid fulfillment lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending is the initial state before payment confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates payment settled and the order is queued.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the warehouse has started picking.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates a courier has the parcel.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered is terminal; ActualDelivery is stamped on entry.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled is terminal; CancellationReason is recorded.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// RefundStatus tracks the progress of a refund against a paid order.
type RefundStatus string

const (
	// RefundStatusNone indicates no refund has been requested.
	RefundStatusNone RefundStatus = "none"
	// RefundStatusRequested indicates the customer or an operator asked for one.
	RefundStatusRequested RefundStatus = "requested"
	// RefundStatusProcessing indicates the gateway accepted the refund request.
	RefundStatusProcessing RefundStatus = "processing"
	// RefundStatusCompleted indicates the gateway confirmed the refund settled.
	RefundStatusCompleted RefundStatus = "completed"
)

// OrderLine mirrors a cart line at the time of checkout with the unit price
// snapshotted. Owned exclusively by its order; never shared.
type OrderLine struct {
	ProductRef      string
	Name            string
	SKU             string
	UnitPrice       int64
	Quantity        int
	FulfillmentType FulfillmentType
	WeightGrams     int64
	Discount        int64
}

// OrderTotals holds rolled-up monetary fields in the smallest currency unit.
// Total equals Subtotal + Tax + Shipping - Discount, fixed at creation.
type OrderTotals struct {
	Subtotal int64
	Discount int64
	Tax      int64
	Shipping int64
	Total    int64
}

// Order is the durable record produced by checkout conversion. Totals and
// lines are immutable after creation; only the status pair, fulfillment
// metadata and audit fields change afterwards.
type Order struct {
	ID                 string
	OrderNumber        string
	UserID             string
	SessionID          string
	Currency           string
	Customer           CustomerInfo
	ShippingAddress    Address
	Lines              []OrderLine
	Totals             OrderTotals
	Shipping           *ShippingQuote
	PaymentMethod      PaymentMethod
	PaymentStatus      PaymentStatus
	OrderStatus        OrderStatus
	GatewayProvider    string
	GatewayOrderRef    string
	GatewayPaymentRef  string
	GatewayRefundRef   string
	TrackingNumber     string
	Notes              string
	CancellationReason string
	RefundAmount       int64
	RefundStatus       RefundStatus
	ExpectedDelivery   *time.Time
	ActualDelivery     *time.Time
	PlacedAt           time.Time
	ConfirmedAt        *time.Time
	ProcessingAt       *time.Time
	ShippedAt          *time.Time
	DeliveredAt        *time.Time
	CancelledAt        *time.Time
	Metadata           map[string]any
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// InventoryStock is the per-product stock counter. It never goes negative
// and is mutated only through the inventory ledger.
type InventoryStock struct {
	ProductRef string
	Stock      int64
	UpdatedAt  time.Time
}

// UserProfile captures the canonical projection of a Firebase Auth user.
type UserProfile struct {
	ID          string
	DisplayName string
	Email       string
	PhoneNumber string
	Roles       []string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AuditLogEntry records security-relevant events such as rejected webhook
// signatures and refused state transitions.
type AuditLogEntry struct {
	ID         string
	Event      string
	ActorID    string
	SubjectRef string
	Severity   string
	Detail     map[string]any
	CreatedAt  time.Time
}
