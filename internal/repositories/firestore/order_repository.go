package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/greenbasket/api/internal/domain"
	pfirestore "github.com/greenbasket/api/internal/platform/firestore"
	"github.com/greenbasket/api/internal/platform/pagination"
	"github.com/greenbasket/api/internal/repositories"
)

const (
	orderCollection = "orders"
)

// OrderRepository persists order documents. The gatewayOrderRef field is
// indexed so the webhook lookup path is a single equality query.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	return &OrderRepository{base: base, provider: provider}, nil
}

// Insert creates the order document. Inserting an existing ID is a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	ref, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodeOrder(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update overwrites the order document. When expectedUpdate is provided the
// write only succeeds if the stored document still carries that timestamp,
// which is how concurrent reconciler invocations are serialised.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expectedUpdate *time.Time) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	ref, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	doc := encodeOrder(order)

	if expectedUpdate == nil || expectedUpdate.IsZero() {
		if _, err = ref.Set(ctx, doc); err != nil {
			return domain.Order{}, pfirestore.WrapError("orders.update", err)
		}
		return r.FindByID(ctx, orderID)
	}

	expected := expectedUpdate.UTC()
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var stored orderDocument
		if err := snap.DataTo(&stored); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		if !stored.UpdatedAt.UTC().Equal(expected) {
			return status.Errorf(codes.FailedPrecondition, "order %s was modified concurrently", orderID)
		}
		return tx.Set(ref, doc)
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.update", err)
	}
	return r.FindByID(ctx, orderID)
}

// FindByID loads an order by its internal identifier.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID, doc.UpdateTime), nil
}

// FindByGatewayOrderRef resolves the order a webhook event refers to.
func (r *OrderRepository) FindByGatewayOrderRef(ctx context.Context, gatewayOrderRef string) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	ref := strings.TrimSpace(gatewayOrderRef)
	if ref == "" {
		return domain.Order{}, errors.New("order repository: gateway order ref is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.findByGatewayRef", err)
	}

	iter := client.Collection(orderCollection).
		Where("gatewayOrderRef", "==", ref).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.Order{}, pfirestore.WrapError("orders.findByGatewayRef", status.Errorf(codes.NotFound, "order with gateway ref %s not found", ref))
	}
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.findByGatewayRef", err)
	}

	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID, snap.UpdateTime), nil
}

// List returns a page of orders matching the filter, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 25
	}
	if pageSize > 100 {
		pageSize = 100
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}

	query := client.Collection(orderCollection).Query
	if uid := strings.TrimSpace(filter.UserID); uid != "" {
		query = query.Where("userId", "==", uid)
	}
	if len(filter.OrderStatus) == 1 {
		query = query.Where("orderStatus", "==", filter.OrderStatus[0])
	} else if len(filter.OrderStatus) > 1 {
		query = query.Where("orderStatus", "in", filter.OrderStatus)
	}
	if len(filter.PaymentStatus) == 1 {
		query = query.Where("paymentStatus", "==", filter.PaymentStatus[0])
	} else if len(filter.PaymentStatus) > 1 {
		query = query.Where("paymentStatus", "in", filter.PaymentStatus)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}

	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Asc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := pagination.DecodeToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID, snap.UpdateTime))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt.UTC(), ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

// Document mapping ----------------------------------------------------------

type orderDocument struct {
	OrderNumber        string              `firestore:"orderNumber"`
	UserID             string              `firestore:"userId,omitempty"`
	SessionID          string              `firestore:"sessionId,omitempty"`
	Currency           string              `firestore:"currency"`
	Customer           customerDocument    `firestore:"customer"`
	ShippingAddress    orderAddressDocument     `firestore:"shippingAddress"`
	Lines              []orderLineDocument `firestore:"lines"`
	Subtotal           int64               `firestore:"subtotal"`
	Discount           int64               `firestore:"discount"`
	Tax                int64               `firestore:"tax"`
	ShippingCharge     int64               `firestore:"shippingCharge"`
	Total              int64               `firestore:"total"`
	ShippingQuote      *shippingQuoteDoc   `firestore:"shippingQuote,omitempty"`
	PaymentMethod      string              `firestore:"paymentMethod"`
	PaymentStatus      string              `firestore:"paymentStatus"`
	OrderStatus        string              `firestore:"orderStatus"`
	GatewayProvider    string              `firestore:"gatewayProvider,omitempty"`
	GatewayOrderRef    string              `firestore:"gatewayOrderRef,omitempty"`
	GatewayPaymentRef  string              `firestore:"gatewayPaymentRef,omitempty"`
	GatewayRefundRef   string              `firestore:"gatewayRefundRef,omitempty"`
	TrackingNumber     string              `firestore:"trackingNumber,omitempty"`
	Notes              string              `firestore:"notes,omitempty"`
	CancellationReason string              `firestore:"cancellationReason,omitempty"`
	RefundAmount       int64               `firestore:"refundAmount,omitempty"`
	RefundStatus       string              `firestore:"refundStatus"`
	ExpectedDelivery   *time.Time          `firestore:"expectedDelivery,omitempty"`
	ActualDelivery     *time.Time          `firestore:"actualDelivery,omitempty"`
	PlacedAt           time.Time           `firestore:"placedAt"`
	ConfirmedAt        *time.Time          `firestore:"confirmedAt,omitempty"`
	ProcessingAt       *time.Time          `firestore:"processingAt,omitempty"`
	ShippedAt          *time.Time          `firestore:"shippedAt,omitempty"`
	DeliveredAt        *time.Time          `firestore:"deliveredAt,omitempty"`
	CancelledAt        *time.Time          `firestore:"cancelledAt,omitempty"`
	Metadata           map[string]any      `firestore:"metadata,omitempty"`
	CreatedAt          time.Time           `firestore:"createdAt"`
	UpdatedAt          time.Time           `firestore:"updatedAt"`
}

type customerDocument struct {
	Name  string `firestore:"name"`
	Email string `firestore:"email"`
	Phone string `firestore:"phone,omitempty"`
}

type orderAddressDocument struct {
	Recipient string `firestore:"recipient"`
	Line1     string `firestore:"line1"`
	Line2     string `firestore:"line2,omitempty"`
	City      string `firestore:"city"`
	State     string `firestore:"state,omitempty"`
	Pincode   string `firestore:"pincode"`
	Country   string `firestore:"country"`
	Phone     string `firestore:"phone,omitempty"`
}

type orderLineDocument struct {
	ProductRef      string `firestore:"productRef"`
	Name            string `firestore:"name"`
	SKU             string `firestore:"sku,omitempty"`
	UnitPrice       int64  `firestore:"unitPrice"`
	Quantity        int    `firestore:"qty"`
	FulfillmentType string `firestore:"fulfillmentType"`
	WeightGrams     int64  `firestore:"weightGrams,omitempty"`
	Discount        int64  `firestore:"discount,omitempty"`
}

type shippingQuoteDoc struct {
	Charge           int64  `firestore:"charge"`
	WeightGrams      int64  `firestore:"weightGrams"`
	Zone             string `firestore:"zone"`
	Express          bool   `firestore:"express"`
	FreeShipping     bool   `firestore:"freeShipping"`
	MinDays          int    `firestore:"minDays"`
	MaxDays          int    `firestore:"maxDays"`
	BaseCharge       int64  `firestore:"baseCharge"`
	WeightCharge     int64  `firestore:"weightCharge"`
	ItemCharge       int64  `firestore:"itemCharge"`
	ExpressSurcharge int64  `firestore:"expressSurcharge"`
	Discount         int64  `firestore:"discountWaived"`
}

func encodeOrder(order domain.Order) orderDocument {
	lines := make([]orderLineDocument, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, orderLineDocument{
			ProductRef:      strings.TrimSpace(line.ProductRef),
			Name:            strings.TrimSpace(line.Name),
			SKU:             strings.TrimSpace(line.SKU),
			UnitPrice:       line.UnitPrice,
			Quantity:        line.Quantity,
			FulfillmentType: string(line.FulfillmentType),
			WeightGrams:     line.WeightGrams,
			Discount:        line.Discount,
		})
	}

	doc := orderDocument{
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		UserID:      strings.TrimSpace(order.UserID),
		SessionID:   strings.TrimSpace(order.SessionID),
		Currency:    strings.ToUpper(strings.TrimSpace(order.Currency)),
		Customer: customerDocument{
			Name:  strings.TrimSpace(order.Customer.Name),
			Email: strings.TrimSpace(order.Customer.Email),
			Phone: strings.TrimSpace(order.Customer.Phone),
		},
		ShippingAddress: orderAddressDocument{
			Recipient: strings.TrimSpace(order.ShippingAddress.Recipient),
			Line1:     strings.TrimSpace(order.ShippingAddress.Line1),
			Line2:     strings.TrimSpace(order.ShippingAddress.Line2),
			City:      strings.TrimSpace(order.ShippingAddress.City),
			State:     strings.TrimSpace(order.ShippingAddress.State),
			Pincode:   strings.TrimSpace(order.ShippingAddress.Pincode),
			Country:   strings.TrimSpace(order.ShippingAddress.Country),
			Phone:     strings.TrimSpace(order.ShippingAddress.Phone),
		},
		Lines:              lines,
		Subtotal:           order.Totals.Subtotal,
		Discount:           order.Totals.Discount,
		Tax:                order.Totals.Tax,
		ShippingCharge:     order.Totals.Shipping,
		Total:              order.Totals.Total,
		PaymentMethod:      string(order.PaymentMethod),
		PaymentStatus:      string(order.PaymentStatus),
		OrderStatus:        string(order.OrderStatus),
		GatewayProvider:    strings.TrimSpace(order.GatewayProvider),
		GatewayOrderRef:    strings.TrimSpace(order.GatewayOrderRef),
		GatewayPaymentRef:  strings.TrimSpace(order.GatewayPaymentRef),
		GatewayRefundRef:   strings.TrimSpace(order.GatewayRefundRef),
		TrackingNumber:     strings.TrimSpace(order.TrackingNumber),
		Notes:              strings.TrimSpace(order.Notes),
		CancellationReason: strings.TrimSpace(order.CancellationReason),
		RefundAmount:       order.RefundAmount,
		RefundStatus:       string(order.RefundStatus),
		ExpectedDelivery:   order.ExpectedDelivery,
		ActualDelivery:     order.ActualDelivery,
		PlacedAt:           order.PlacedAt.UTC(),
		ConfirmedAt:        order.ConfirmedAt,
		ProcessingAt:       order.ProcessingAt,
		ShippedAt:          order.ShippedAt,
		DeliveredAt:        order.DeliveredAt,
		CancelledAt:        order.CancelledAt,
		Metadata:           cloneAnyMap(order.Metadata),
		CreatedAt:          order.CreatedAt.UTC(),
		UpdatedAt:          order.UpdatedAt.UTC(),
	}
	if doc.RefundStatus == "" {
		doc.RefundStatus = string(domain.RefundStatusNone)
	}
	if order.Shipping != nil {
		doc.ShippingQuote = &shippingQuoteDoc{
			Charge:           order.Shipping.Charge,
			WeightGrams:      order.Shipping.WeightGrams,
			Zone:             string(order.Shipping.Zone),
			Express:          order.Shipping.Express,
			FreeShipping:     order.Shipping.FreeShipping,
			MinDays:          order.Shipping.MinDays,
			MaxDays:          order.Shipping.MaxDays,
			BaseCharge:       order.Shipping.Breakdown.BaseCharge,
			WeightCharge:     order.Shipping.Breakdown.WeightCharge,
			ItemCharge:       order.Shipping.Breakdown.ItemCharge,
			ExpressSurcharge: order.Shipping.Breakdown.ExpressSurcharge,
			Discount:         order.Shipping.Breakdown.Discount,
		}
	}
	return doc
}

func (d orderDocument) toDomain(id string, updateTime time.Time) domain.Order {
	lines := make([]domain.OrderLine, 0, len(d.Lines))
	for _, line := range d.Lines {
		fulfillment := domain.FulfillmentType(strings.TrimSpace(line.FulfillmentType))
		if fulfillment == "" {
			fulfillment = domain.FulfillmentSingle
		}
		lines = append(lines, domain.OrderLine{
			ProductRef:      strings.TrimSpace(line.ProductRef),
			Name:            strings.TrimSpace(line.Name),
			SKU:             strings.TrimSpace(line.SKU),
			UnitPrice:       line.UnitPrice,
			Quantity:        line.Quantity,
			FulfillmentType: fulfillment,
			WeightGrams:     line.WeightGrams,
			Discount:        line.Discount,
		})
	}

	order := domain.Order{
		ID:          id,
		OrderNumber: strings.TrimSpace(d.OrderNumber),
		UserID:      strings.TrimSpace(d.UserID),
		SessionID:   strings.TrimSpace(d.SessionID),
		Currency:    strings.ToUpper(strings.TrimSpace(d.Currency)),
		Customer: domain.CustomerInfo{
			Name:  strings.TrimSpace(d.Customer.Name),
			Email: strings.TrimSpace(d.Customer.Email),
			Phone: strings.TrimSpace(d.Customer.Phone),
		},
		ShippingAddress: domain.Address{
			Recipient: strings.TrimSpace(d.ShippingAddress.Recipient),
			Line1:     strings.TrimSpace(d.ShippingAddress.Line1),
			Line2:     strings.TrimSpace(d.ShippingAddress.Line2),
			City:      strings.TrimSpace(d.ShippingAddress.City),
			State:     strings.TrimSpace(d.ShippingAddress.State),
			Pincode:   strings.TrimSpace(d.ShippingAddress.Pincode),
			Country:   strings.TrimSpace(d.ShippingAddress.Country),
			Phone:     strings.TrimSpace(d.ShippingAddress.Phone),
		},
		Lines: lines,
		Totals: domain.OrderTotals{
			Subtotal: d.Subtotal,
			Discount: d.Discount,
			Tax:      d.Tax,
			Shipping: d.ShippingCharge,
			Total:    d.Total,
		},
		PaymentMethod:      domain.PaymentMethod(strings.TrimSpace(d.PaymentMethod)),
		PaymentStatus:      domain.PaymentStatus(strings.TrimSpace(d.PaymentStatus)),
		OrderStatus:        domain.OrderStatus(strings.TrimSpace(d.OrderStatus)),
		GatewayProvider:    strings.TrimSpace(d.GatewayProvider),
		GatewayOrderRef:    strings.TrimSpace(d.GatewayOrderRef),
		GatewayPaymentRef:  strings.TrimSpace(d.GatewayPaymentRef),
		GatewayRefundRef:   strings.TrimSpace(d.GatewayRefundRef),
		TrackingNumber:     strings.TrimSpace(d.TrackingNumber),
		Notes:              strings.TrimSpace(d.Notes),
		CancellationReason: strings.TrimSpace(d.CancellationReason),
		RefundAmount:       d.RefundAmount,
		RefundStatus:       domain.RefundStatus(strings.TrimSpace(d.RefundStatus)),
		ExpectedDelivery:   d.ExpectedDelivery,
		ActualDelivery:     d.ActualDelivery,
		PlacedAt:           d.PlacedAt,
		ConfirmedAt:        d.ConfirmedAt,
		ProcessingAt:       d.ProcessingAt,
		ShippedAt:          d.ShippedAt,
		DeliveredAt:        d.DeliveredAt,
		CancelledAt:        d.CancelledAt,
		Metadata:           cloneAnyMap(d.Metadata),
		CreatedAt:          d.CreatedAt,
		UpdatedAt: func() time.Time {
			if !updateTime.IsZero() {
				return updateTime
			}
			return d.UpdatedAt
		}(),
	}
	if order.RefundStatus == "" {
		order.RefundStatus = domain.RefundStatusNone
	}
	if d.ShippingQuote != nil {
		order.Shipping = &domain.ShippingQuote{
			Charge:       d.ShippingQuote.Charge,
			WeightGrams:  d.ShippingQuote.WeightGrams,
			Zone:         domain.DeliveryZone(d.ShippingQuote.Zone),
			Express:      d.ShippingQuote.Express,
			FreeShipping: d.ShippingQuote.FreeShipping,
			MinDays:      d.ShippingQuote.MinDays,
			MaxDays:      d.ShippingQuote.MaxDays,
			Breakdown: domain.ShippingBreakdown{
				BaseCharge:       d.ShippingQuote.BaseCharge,
				WeightCharge:     d.ShippingQuote.WeightCharge,
				ItemCharge:       d.ShippingQuote.ItemCharge,
				ExpressSurcharge: d.ShippingQuote.ExpressSurcharge,
				Discount:         d.ShippingQuote.Discount,
			},
		}
	}
	return order
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
