package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/greenbasket/api/internal/domain"
	"github.com/greenbasket/api/internal/payments"
	"github.com/greenbasket/api/internal/repositories"
)

var testNow = time.Date(2026, 9, 1, 10, 30, 0, 0, time.UTC)

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return "repository error" }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

// memOrderRepo is a map-backed OrderRepository with the same conditional
// update semantics as the Firestore implementation.
type memOrderRepo struct {
	orders      map[string]domain.Order
	insertErr   error
	updateErr   error
	inserted    []string
	listFilters []repositories.OrderListFilter
}

func newMemOrderRepo(seed ...domain.Order) *memOrderRepo {
	repo := &memOrderRepo{orders: map[string]domain.Order{}}
	for _, order := range seed {
		repo.orders[order.ID] = order
	}
	return repo
}

func (r *memOrderRepo) Insert(_ context.Context, order domain.Order) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	if _, exists := r.orders[order.ID]; exists {
		return stubRepoError{conflict: true}
	}
	r.orders[order.ID] = order
	r.inserted = append(r.inserted, order.ID)
	return nil
}

func (r *memOrderRepo) Update(_ context.Context, order domain.Order, expectedUpdatedAt *time.Time) (domain.Order, error) {
	if r.updateErr != nil {
		return domain.Order{}, r.updateErr
	}
	current, ok := r.orders[order.ID]
	if !ok {
		return domain.Order{}, stubRepoError{notFound: true}
	}
	if expectedUpdatedAt != nil && !current.UpdatedAt.Equal(*expectedUpdatedAt) {
		return domain.Order{}, stubRepoError{conflict: true}
	}
	r.orders[order.ID] = order
	return order, nil
}

func (r *memOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, stubRepoError{notFound: true}
	}
	return order, nil
}

func (r *memOrderRepo) FindByGatewayOrderRef(_ context.Context, ref string) (domain.Order, error) {
	for _, order := range r.orders {
		if order.GatewayOrderRef == ref {
			return order, nil
		}
	}
	return domain.Order{}, stubRepoError{notFound: true}
}

func (r *memOrderRepo) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	r.listFilters = append(r.listFilters, filter)
	page := domain.CursorPage[domain.Order]{}
	for _, order := range r.orders {
		if matchesOrderFilter(order, filter) {
			page.Items = append(page.Items, order)
		}
	}
	return page, nil
}

// matchesOrderFilter mirrors the equality, in and createdAt range filters of
// the Firestore implementation.
func matchesOrderFilter(order domain.Order, filter repositories.OrderListFilter) bool {
	if filter.UserID != "" && order.UserID != filter.UserID {
		return false
	}
	if len(filter.OrderStatus) > 0 && !containsStatus(filter.OrderStatus, string(order.OrderStatus)) {
		return false
	}
	if len(filter.PaymentStatus) > 0 && !containsStatus(filter.PaymentStatus, string(order.PaymentStatus)) {
		return false
	}
	if filter.DateRange.From != nil && order.CreatedAt.Before(*filter.DateRange.From) {
		return false
	}
	if filter.DateRange.To != nil && order.CreatedAt.After(*filter.DateRange.To) {
		return false
	}
	return true
}

func containsStatus(values []string, value string) bool {
	for _, candidate := range values {
		if candidate == value {
			return true
		}
	}
	return false
}

type stubCounterRepo struct {
	next    int64
	nextErr error
}

func (r *stubCounterRepo) Next(_ context.Context, _ string, step int64) (int64, error) {
	if r.nextErr != nil {
		return 0, r.nextErr
	}
	r.next += step
	return r.next, nil
}

func (r *stubCounterRepo) Configure(context.Context, string, repositories.CounterConfig) error {
	return nil
}

// stubCartService hands back a fixed draft and records cart clears.
type stubCartService struct {
	draft    OrderDraft
	draftErr error
	cleared  []CartOwner
}

func (s *stubCartService) GetOrCreateCart(context.Context, CartOwner) (Cart, error) {
	return Cart{}, nil
}
func (s *stubCartService) AddOrUpdateLine(context.Context, UpsertCartLineCommand) (Cart, error) {
	return Cart{}, nil
}
func (s *stubCartService) RemoveLine(context.Context, RemoveCartLineCommand) (Cart, error) {
	return Cart{}, nil
}
func (s *stubCartService) ClearCart(_ context.Context, owner CartOwner) error {
	s.cleared = append(s.cleared, owner)
	return nil
}
func (s *stubCartService) MergeGuestCart(context.Context, MergeGuestCartCommand) (Cart, error) {
	return Cart{}, nil
}
func (s *stubCartService) QuoteCart(context.Context, QuoteCartCommand) (CartQuote, error) {
	return CartQuote{}, nil
}
func (s *stubCartService) BuildOrderDraft(_ context.Context, _ BuildOrderDraftCommand) (OrderDraft, error) {
	if s.draftErr != nil {
		return OrderDraft{}, s.draftErr
	}
	return s.draft, nil
}

type releaseCall struct {
	ref    string
	reason string
	lines  []repositories.InventoryLine
}

type stubInventoryService struct {
	reserves   []InventoryReserveCommand
	releases   []releaseCall
	reserveErr error
	releaseErr error
}

func (s *stubInventoryService) Reserve(_ context.Context, cmd InventoryReserveCommand) error {
	s.reserves = append(s.reserves, cmd)
	return s.reserveErr
}
func (s *stubInventoryService) Release(_ context.Context, cmd InventoryReleaseCommand) error {
	s.releases = append(s.releases, releaseCall{ref: cmd.Ref, reason: cmd.Reason, lines: cmd.Lines})
	return s.releaseErr
}
func (s *stubInventoryService) GetStock(context.Context, string) (InventoryStock, error) {
	return InventoryStock{}, nil
}
func (s *stubInventoryService) ListLowStock(context.Context, InventoryLowStockFilter) (domain.CursorPage[InventoryStock], error) {
	return domain.CursorPage[InventoryStock]{}, nil
}

type stubJobsDispatcher struct {
	notifications []OrderNotificationPayload
	sweeps        []ReservationSweepPayload
	notifyErr     error
}

func (s *stubJobsDispatcher) EnqueueOrderNotification(_ context.Context, payload OrderNotificationPayload) error {
	s.notifications = append(s.notifications, payload)
	return s.notifyErr
}

func (s *stubJobsDispatcher) EnqueueReservationSweep(_ context.Context, payload ReservationSweepPayload) error {
	s.sweeps = append(s.sweeps, payload)
	return nil
}

type recordedAudit struct {
	event    string
	severity string
	subject  string
}

type stubAuditService struct {
	records []recordedAudit
}

func (s *stubAuditService) Record(_ context.Context, record AuditLogRecord) {
	s.records = append(s.records, recordedAudit{event: record.Event, severity: record.Severity, subject: record.SubjectRef})
}

func (s *stubAuditService) List(context.Context, AuditLogFilter) (domain.CursorPage[AuditLogEntry], error) {
	return domain.CursorPage[AuditLogEntry]{}, nil
}

// gatewayStub implements payments.Provider with scripted responses.
type gatewayStub struct {
	intent       payments.Intent
	intentErr    error
	intentCalls  []payments.IntentRequest
	syncValid    bool
	webhookValid bool
	lookup       payments.PaymentDetails
	lookupErr    error
}

func (g *gatewayStub) CreateIntent(_ context.Context, req payments.IntentRequest) (payments.Intent, error) {
	g.intentCalls = append(g.intentCalls, req)
	if g.intentErr != nil {
		return payments.Intent{}, g.intentErr
	}
	return g.intent, nil
}

func (g *gatewayStub) VerifySyncConfirmation(string, string, string) bool { return g.syncValid }
func (g *gatewayStub) VerifyWebhookSignature([]byte, string) bool        { return g.webhookValid }

func (g *gatewayStub) ParseEvent(rawBody []byte) (payments.Event, error) {
	return payments.ParseRazorpayEvent(rawBody)
}

func (g *gatewayStub) Refund(context.Context, payments.RefundRequest) (payments.PaymentDetails, error) {
	return payments.PaymentDetails{}, nil
}

func (g *gatewayStub) LookupPayment(context.Context, payments.LookupRequest) (payments.PaymentDetails, error) {
	if g.lookupErr != nil {
		return payments.PaymentDetails{}, g.lookupErr
	}
	return g.lookup, nil
}

func testManager(t *testing.T, stub *gatewayStub) *payments.Manager {
	t.Helper()
	manager, err := payments.NewManager(map[string]payments.Provider{"razorpay": stub})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return manager
}

func testDraft() OrderDraft {
	return OrderDraft{
		CartID: "u_user1",
		UserID: "user1",
		Customer: domain.CustomerInfo{
			Name:  "Asha Nair",
			Email: "asha@example.com",
		},
		ShippingAddress: domain.Address{
			Recipient: "Asha Nair",
			Line1:     "14 MG Road",
			City:      "Bengaluru",
			Pincode:   "560001",
		},
		PaymentMethod: domain.PaymentMethodOnline,
		Lines: []domain.OrderLine{
			{ProductRef: "products/tea-500g", Name: "Assam Tea 500g", UnitPrice: 45000, Quantity: 2, FulfillmentType: domain.FulfillmentSingle, WeightGrams: 500},
		},
		Totals: domain.OrderTotals{
			Subtotal: 90000,
			Tax:      4500,
			Shipping: 4000,
			Total:    98500,
		},
		Shipping: domain.ShippingQuote{Charge: 4000, Zone: domain.ZoneMetroExpress, MinDays: 0, MaxDays: 1},
		Reserved: []repositories.InventoryLine{{ProductRef: "products/tea-500g", Quantity: 2}},
	}
}

type orderServiceFixture struct {
	service   OrderService
	orders    *memOrderRepo
	cart      *stubCartService
	inventory *stubInventoryService
	jobs      *stubJobsDispatcher
	audit     *stubAuditService
	gateway   *gatewayStub
}

func newOrderServiceFixture(t *testing.T, draft OrderDraft, seed ...domain.Order) *orderServiceFixture {
	t.Helper()
	fixture := &orderServiceFixture{
		orders:    newMemOrderRepo(seed...),
		cart:      &stubCartService{draft: draft},
		inventory: &stubInventoryService{},
		jobs:      &stubJobsDispatcher{},
		audit:     &stubAuditService{},
		gateway: &gatewayStub{intent: payments.Intent{
			ID:       "order_RZP123",
			Provider: "razorpay",
			Amount:   draft.Totals.Total,
			KeyID:    "rzp_test_key",
		}},
	}

	service, err := NewOrderService(OrderServiceDeps{
		Orders:    fixture.orders,
		Counters:  &stubCounterRepo{},
		Cart:      fixture.cart,
		Inventory: fixture.inventory,
		Gateway:   testManager(t, fixture.gateway),
		Jobs:      fixture.jobs,
		Audit:     fixture.audit,
		Clock:     func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	fixture.service = service
	return fixture
}

func TestCreateOrderOnlineCreatesIntentAndPersistsPending(t *testing.T) {
	fixture := newOrderServiceFixture(t, testDraft())

	result, err := fixture.service.CreateOrder(context.Background(), CreateOrderCommand{
		Owner:         CartOwner{UserID: "user1"},
		PaymentMethod: domain.PaymentMethodOnline,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	order := result.Order
	if order.OrderNumber != "GB-2026-000001" {
		t.Fatalf("order number = %q", order.OrderNumber)
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("payment status = %s, want pending", order.PaymentStatus)
	}
	if order.OrderStatus != domain.OrderStatusPending {
		t.Fatalf("order status = %s, want pending", order.OrderStatus)
	}
	if order.GatewayOrderRef != "order_RZP123" || result.GatewayOrderRef != "order_RZP123" {
		t.Fatalf("gateway order ref = %q / %q", order.GatewayOrderRef, result.GatewayOrderRef)
	}
	if result.GatewayKeyID != "rzp_test_key" {
		t.Fatalf("gateway key id = %q", result.GatewayKeyID)
	}

	if len(fixture.gateway.intentCalls) != 1 {
		t.Fatalf("intent calls = %d, want 1", len(fixture.gateway.intentCalls))
	}
	req := fixture.gateway.intentCalls[0]
	if req.Amount != 98500 {
		t.Fatalf("intent amount = %d, want order total 98500", req.Amount)
	}
	if req.Receipt != order.OrderNumber {
		t.Fatalf("intent receipt = %q, want order number", req.Receipt)
	}

	if len(fixture.cart.cleared) != 1 {
		t.Fatalf("cart cleared %d times, want 1", len(fixture.cart.cleared))
	}
	if len(fixture.jobs.notifications) != 1 || fixture.jobs.notifications[0].Event != "order.created" {
		t.Fatalf("notifications = %+v", fixture.jobs.notifications)
	}
	if len(fixture.inventory.releases) != 0 {
		t.Fatalf("stock released on success: %+v", fixture.inventory.releases)
	}
}

func TestCreateOrderCODConfirmsImmediately(t *testing.T) {
	draft := testDraft()
	draft.PaymentMethod = domain.PaymentMethodCOD
	fixture := newOrderServiceFixture(t, draft)

	result, err := fixture.service.CreateOrder(context.Background(), CreateOrderCommand{
		Owner:         CartOwner{UserID: "user1"},
		PaymentMethod: domain.PaymentMethodCOD,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	order := result.Order
	if order.PaymentStatus != domain.PaymentStatusCompleted {
		t.Fatalf("payment status = %s, want completed", order.PaymentStatus)
	}
	if order.OrderStatus != domain.OrderStatusConfirmed {
		t.Fatalf("order status = %s, want confirmed", order.OrderStatus)
	}
	if order.ConfirmedAt == nil || !order.ConfirmedAt.Equal(testNow) {
		t.Fatalf("confirmedAt = %v", order.ConfirmedAt)
	}
	if len(fixture.gateway.intentCalls) != 0 {
		t.Fatalf("gateway called for COD order")
	}
	if result.GatewayOrderRef != "" {
		t.Fatalf("gateway order ref set for COD order: %q", result.GatewayOrderRef)
	}
}

func TestCreateOrderGatewayFailureReleasesStock(t *testing.T) {
	fixture := newOrderServiceFixture(t, testDraft())
	fixture.gateway.intentErr = payments.ErrGatewayUnavailable

	_, err := fixture.service.CreateOrder(context.Background(), CreateOrderCommand{
		Owner:         CartOwner{UserID: "user1"},
		PaymentMethod: domain.PaymentMethodOnline,
	})
	if !errors.Is(err, ErrOrderGatewayUnavailable) {
		t.Fatalf("err = %v, want ErrOrderGatewayUnavailable", err)
	}
	if len(fixture.orders.inserted) != 0 {
		t.Fatalf("order persisted after gateway failure")
	}
	if len(fixture.inventory.releases) != 1 || fixture.inventory.releases[0].reason != "intent_failed" {
		t.Fatalf("releases = %+v", fixture.inventory.releases)
	}
}

func TestCreateOrderInsertFailureReleasesStock(t *testing.T) {
	fixture := newOrderServiceFixture(t, testDraft())
	fixture.orders.insertErr = stubRepoError{unavailable: true}

	_, err := fixture.service.CreateOrder(context.Background(), CreateOrderCommand{
		Owner:         CartOwner{UserID: "user1"},
		PaymentMethod: domain.PaymentMethodOnline,
	})
	if !errors.Is(err, ErrOrderUnavailable) {
		t.Fatalf("err = %v, want ErrOrderUnavailable", err)
	}
	if len(fixture.inventory.releases) != 1 || fixture.inventory.releases[0].reason != "persist_failed" {
		t.Fatalf("releases = %+v", fixture.inventory.releases)
	}
}

func TestCreateOrderPropagatesCartValidation(t *testing.T) {
	fixture := newOrderServiceFixture(t, OrderDraft{})
	fixture.cart.draftErr = ErrCartEmpty

	_, err := fixture.service.CreateOrder(context.Background(), CreateOrderCommand{
		Owner: CartOwner{UserID: "user1"},
	})
	if !errors.Is(err, ErrCartEmpty) {
		t.Fatalf("err = %v, want ErrCartEmpty", err)
	}
}

func seedOrder(status domain.OrderStatus, payment domain.PaymentStatus) domain.Order {
	return domain.Order{
		ID:            "ord_SEED",
		OrderNumber:   "GB-2026-000042",
		UserID:        "user1",
		Currency:      "INR",
		Customer:      domain.CustomerInfo{Name: "Asha Nair", Email: "asha@example.com"},
		Lines:         []domain.OrderLine{{ProductRef: "products/tea-500g", Quantity: 2}},
		Totals:        domain.OrderTotals{Total: 98500},
		PaymentMethod: domain.PaymentMethodOnline,
		PaymentStatus: payment,
		OrderStatus:   status,
		UpdatedAt:     testNow.Add(-time.Hour),
	}
}

func TestCancelPendingOrderReleasesStock(t *testing.T) {
	fixture := newOrderServiceFixture(t, testDraft(), seedOrder(domain.OrderStatusPending, domain.PaymentStatusPending))

	order, err := fixture.service.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "ord_SEED",
		ActorID: "user1",
		Reason:  "changed my mind",
	})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if order.OrderStatus != domain.OrderStatusCancelled {
		t.Fatalf("status = %s", order.OrderStatus)
	}
	if order.CancellationReason != "changed my mind" {
		t.Fatalf("reason = %q", order.CancellationReason)
	}
	if order.CancelledAt == nil || !order.CancelledAt.Equal(testNow) {
		t.Fatalf("cancelledAt = %v", order.CancelledAt)
	}
	if len(fixture.inventory.releases) != 1 {
		t.Fatalf("releases = %+v", fixture.inventory.releases)
	}
	if got := fixture.inventory.releases[0].lines[0].Quantity; got != 2 {
		t.Fatalf("released quantity = %d, want 2", got)
	}
}

func TestCancelRejectsFulfillmentStages(t *testing.T) {
	for _, status := range []domain.OrderStatus{
		domain.OrderStatusProcessing,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
	} {
		fixture := newOrderServiceFixture(t, testDraft(), seedOrder(status, domain.PaymentStatusCompleted))
		_, err := fixture.service.Cancel(context.Background(), CancelOrderCommand{
			OrderID: "ord_SEED",
			Reason:  "too late",
		})
		if !errors.Is(err, ErrOrderInvalidState) {
			t.Fatalf("status %s: err = %v, want ErrOrderInvalidState", status, err)
		}
	}
}

func TestCancelAlreadyCancelledIsNoOp(t *testing.T) {
	seed := seedOrder(domain.OrderStatusCancelled, domain.PaymentStatusPending)
	fixture := newOrderServiceFixture(t, testDraft(), seed)

	order, err := fixture.service.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "ord_SEED",
		Reason:  "again",
	})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if len(fixture.inventory.releases) != 0 {
		t.Fatalf("stock released twice")
	}
	if order.CancellationReason != seed.CancellationReason {
		t.Fatalf("reason overwritten on replay")
	}
}

func TestAdvanceFulfillmentForwardOnly(t *testing.T) {
	fixture := newOrderServiceFixture(t, testDraft(), seedOrder(domain.OrderStatusConfirmed, domain.PaymentStatusCompleted))

	order, err := fixture.service.AdvanceFulfillment(context.Background(), AdvanceFulfillmentCommand{
		OrderID:      "ord_SEED",
		TargetStatus: domain.OrderStatusProcessing,
	})
	if err != nil {
		t.Fatalf("AdvanceFulfillment: %v", err)
	}
	if order.OrderStatus != domain.OrderStatusProcessing {
		t.Fatalf("status = %s", order.OrderStatus)
	}
	if order.ProcessingAt == nil {
		t.Fatalf("processingAt not stamped")
	}

	// Skipping a stage is refused.
	_, err = fixture.service.AdvanceFulfillment(context.Background(), AdvanceFulfillmentCommand{
		OrderID:      "ord_SEED",
		TargetStatus: domain.OrderStatusDelivered,
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("skip err = %v, want ErrOrderInvalidState", err)
	}
}

func TestAdvanceFulfillmentRejectsBackwardMove(t *testing.T) {
	fixture := newOrderServiceFixture(t, testDraft(), seedOrder(domain.OrderStatusShipped, domain.PaymentStatusCompleted))

	_, err := fixture.service.AdvanceFulfillment(context.Background(), AdvanceFulfillmentCommand{
		OrderID:      "ord_SEED",
		TargetStatus: domain.OrderStatusProcessing,
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("err = %v, want ErrOrderInvalidState", err)
	}
}

func TestAdvanceFulfillmentSameStatusIsNoOp(t *testing.T) {
	seed := seedOrder(domain.OrderStatusShipped, domain.PaymentStatusCompleted)
	fixture := newOrderServiceFixture(t, testDraft(), seed)

	order, err := fixture.service.AdvanceFulfillment(context.Background(), AdvanceFulfillmentCommand{
		OrderID:      "ord_SEED",
		TargetStatus: domain.OrderStatusShipped,
	})
	if err != nil {
		t.Fatalf("AdvanceFulfillment: %v", err)
	}
	if !order.UpdatedAt.Equal(seed.UpdatedAt) {
		t.Fatalf("no-op rewrote the order")
	}
}

func TestAdvanceFulfillmentDeliveredStampsActualDelivery(t *testing.T) {
	fixture := newOrderServiceFixture(t, testDraft(), seedOrder(domain.OrderStatusShipped, domain.PaymentStatusCompleted))

	order, err := fixture.service.AdvanceFulfillment(context.Background(), AdvanceFulfillmentCommand{
		OrderID:      "ord_SEED",
		TargetStatus: domain.OrderStatusDelivered,
	})
	if err != nil {
		t.Fatalf("AdvanceFulfillment: %v", err)
	}
	if order.ActualDelivery == nil || !order.ActualDelivery.Equal(testNow) {
		t.Fatalf("actualDelivery = %v, want %v", order.ActualDelivery, testNow)
	}
	if order.DeliveredAt == nil {
		t.Fatalf("deliveredAt not stamped")
	}
	if len(fixture.jobs.notifications) != 1 || fixture.jobs.notifications[0].Event != "order.delivered" {
		t.Fatalf("notifications = %+v", fixture.jobs.notifications)
	}
}

func TestAdvanceFulfillmentRecordsTracking(t *testing.T) {
	fixture := newOrderServiceFixture(t, testDraft(), seedOrder(domain.OrderStatusProcessing, domain.PaymentStatusCompleted))

	tracking := "AWB123456789"
	order, err := fixture.service.AdvanceFulfillment(context.Background(), AdvanceFulfillmentCommand{
		OrderID:        "ord_SEED",
		TargetStatus:   domain.OrderStatusShipped,
		TrackingNumber: &tracking,
	})
	if err != nil {
		t.Fatalf("AdvanceFulfillment: %v", err)
	}
	if order.TrackingNumber != tracking {
		t.Fatalf("tracking = %q", order.TrackingNumber)
	}
}

func TestUpdateNotesStripsMarkup(t *testing.T) {
	fixture := newOrderServiceFixture(t, testDraft(), seedOrder(domain.OrderStatusConfirmed, domain.PaymentStatusCompleted))

	order, err := fixture.service.UpdateNotes(context.Background(), UpdateOrderNotesCommand{
		OrderID: "ord_SEED",
		Notes:   "leave at door <script>alert(1)</script>",
	})
	if err != nil {
		t.Fatalf("UpdateNotes: %v", err)
	}
	if order.Notes != "leave at door" {
		t.Fatalf("notes = %q", order.Notes)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	fixture := newOrderServiceFixture(t, testDraft())
	_, err := fixture.service.GetOrder(context.Background(), "ord_MISSING")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("err = %v, want ErrOrderNotFound", err)
	}
}

func pendingOrderAt(id string, createdAt time.Time) domain.Order {
	order := seedOrder(domain.OrderStatusPending, domain.PaymentStatusPending)
	order.ID = id
	order.CreatedAt = createdAt
	order.UpdatedAt = createdAt
	return order
}

func TestExpirePendingOrdersCancelsStaleOrders(t *testing.T) {
	stale := pendingOrderAt("ord_STALE", testNow.Add(-time.Hour))
	fresh := pendingOrderAt("ord_FRESH", testNow.Add(-5*time.Minute))
	fixture := newOrderServiceFixture(t, testDraft(), stale, fresh)

	result, err := fixture.service.ExpirePendingOrders(context.Background(), ExpirePendingOrdersCommand{Limit: 10})
	if err != nil {
		t.Fatalf("ExpirePendingOrders: %v", err)
	}
	if len(result.Expired) != 1 || result.Expired[0] != "ord_STALE" {
		t.Fatalf("expired = %v, want [ord_STALE]", result.Expired)
	}
	if result.Skipped != 0 {
		t.Fatalf("skipped = %d, want 0", result.Skipped)
	}

	cancelled := fixture.orders.orders["ord_STALE"]
	if cancelled.OrderStatus != domain.OrderStatusCancelled {
		t.Fatalf("stale order status = %s, want cancelled", cancelled.OrderStatus)
	}
	if cancelled.CancellationReason != "payment window expired" {
		t.Fatalf("reason = %q", cancelled.CancellationReason)
	}
	if survivor := fixture.orders.orders["ord_FRESH"]; survivor.OrderStatus != domain.OrderStatusPending {
		t.Fatalf("fresh order status = %s, want pending", survivor.OrderStatus)
	}
	if len(fixture.inventory.releases) != 1 {
		t.Fatalf("releases = %+v", fixture.inventory.releases)
	}

	if len(fixture.orders.listFilters) != 1 {
		t.Fatalf("list calls = %d, want 1", len(fixture.orders.listFilters))
	}
	filter := fixture.orders.listFilters[0]
	if len(filter.OrderStatus) != 1 || filter.OrderStatus[0] != string(domain.OrderStatusPending) {
		t.Fatalf("list status filter = %v", filter.OrderStatus)
	}
	// The fixture leaves PendingExpiry unset, so the 30 minute default applies.
	wantCutoff := testNow.Add(-30 * time.Minute)
	if filter.DateRange.To == nil || !filter.DateRange.To.Equal(wantCutoff) {
		t.Fatalf("cutoff = %v, want %v", filter.DateRange.To, wantCutoff)
	}
	if filter.Pagination.PageSize != 10 {
		t.Fatalf("page size = %d, want 10", filter.Pagination.PageSize)
	}
}

func TestExpirePendingOrdersSkipsConcurrentlyChangedOrders(t *testing.T) {
	stale := pendingOrderAt("ord_STALE", testNow.Add(-time.Hour))
	fixture := newOrderServiceFixture(t, testDraft(), stale)
	fixture.orders.updateErr = stubRepoError{conflict: true}

	result, err := fixture.service.ExpirePendingOrders(context.Background(), ExpirePendingOrdersCommand{})
	if err != nil {
		t.Fatalf("ExpirePendingOrders: %v", err)
	}
	if len(result.Expired) != 0 {
		t.Fatalf("expired = %v, want none", result.Expired)
	}
	if result.Skipped != 1 {
		t.Fatalf("skipped = %d, want 1", result.Skipped)
	}
	if len(fixture.inventory.releases) != 0 {
		t.Fatalf("stock released for skipped order: %+v", fixture.inventory.releases)
	}
}
