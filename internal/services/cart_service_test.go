package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/greenbasket/api/internal/domain"
)

// memCartRepo is a map-backed CartRepository mirroring the document-id
// scheme of the Firestore implementation.
type memCartRepo struct {
	carts   map[string]domain.Cart
	deleted []string
}

func newMemCartRepo(seed ...domain.Cart) *memCartRepo {
	repo := &memCartRepo{carts: map[string]domain.Cart{}}
	for _, cart := range seed {
		repo.carts[cart.ID] = cart
	}
	return repo
}

func (r *memCartRepo) UpsertCart(_ context.Context, cart domain.Cart, _ *time.Time) (domain.Cart, error) {
	r.carts[cart.ID] = cart
	return cart, nil
}

func (r *memCartRepo) GetUserCart(_ context.Context, userID string) (domain.Cart, error) {
	cart, ok := r.carts["u_"+userID]
	if !ok {
		return domain.Cart{}, stubRepoError{notFound: true}
	}
	return cart, nil
}

func (r *memCartRepo) GetGuestCart(_ context.Context, sessionID string) (domain.Cart, error) {
	cart, ok := r.carts["g_"+sessionID]
	if !ok {
		return domain.Cart{}, stubRepoError{notFound: true}
	}
	return cart, nil
}

func (r *memCartRepo) ReplaceLines(_ context.Context, cartID string, lines []domain.CartLine) (domain.Cart, error) {
	cart, ok := r.carts[cartID]
	if !ok {
		return domain.Cart{}, stubRepoError{notFound: true}
	}
	cart.Lines = lines
	r.carts[cartID] = cart
	return cart, nil
}

func (r *memCartRepo) DeleteCart(_ context.Context, cartID string) error {
	delete(r.carts, cartID)
	r.deleted = append(r.deleted, cartID)
	return nil
}

// stubCatalog serves products from a fixed map.
type stubCatalog struct {
	products map[string]domain.Product
}

func (s *stubCatalog) GetProduct(_ context.Context, productRef string) (Product, error) {
	product, ok := s.products[productRef]
	if !ok {
		return Product{}, fmt.Errorf("%w: %s", ErrCatalogNotFound, productRef)
	}
	return product, nil
}

func (s *stubCatalog) GetProducts(_ context.Context, productRefs []string) (map[string]Product, error) {
	result := make(map[string]Product, len(productRefs))
	for _, ref := range productRefs {
		product, ok := s.products[ref]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrCatalogNotFound, ref)
		}
		result[ref] = product
	}
	return result, nil
}

func (s *stubCatalog) ListProducts(context.Context, ProductListFilter) (domain.CursorPage[Product], error) {
	return domain.CursorPage[Product]{}, nil
}

func testCatalog() *stubCatalog {
	return &stubCatalog{products: map[string]domain.Product{
		"products/tea-500g": {
			ID:        "products/tea-500g",
			Name:      "Assam Tea 500g",
			SKU:       "TEA-500",
			UnitPrice: 45000,
			Currency:  "INR",

			WeightGrams: 500,
			Active:      true,
		},
		"products/coffee-250g": {
			ID:                   "products/coffee-250g",
			Name:                 "Filter Coffee 250g",
			SKU:                  "COF-250",
			UnitPrice:            30000,
			Currency:             "INR",
			WeightGrams:          250,
			SubscriptionEligible: true,
			Active:               true,
		},
		"products/rice-5kg": {
			ID:          "products/rice-5kg",
			Name:        "Sona Masoori Rice 5kg",
			SKU:         "RICE-5K",
			UnitPrice:   60000,
			Currency:    "INR",
			WeightGrams: 5000,
			Active:      true,
		},
		"products/ghee-1l": {
			ID:        "products/ghee-1l",
			Name:      "Desi Ghee 1L",
			SKU:       "GHEE-1L",
			UnitPrice: 80000,
			Currency:  "INR",
			Active:    false,
		},
	}}
}

type cartServiceFixture struct {
	service   CartService
	repo      *memCartRepo
	inventory *stubInventoryService
}

func newCartServiceFixture(t *testing.T, seed ...domain.Cart) *cartServiceFixture {
	t.Helper()
	pricer, err := NewShippingPricer(testShippingRates())
	if err != nil {
		t.Fatalf("NewShippingPricer: %v", err)
	}
	fixture := &cartServiceFixture{
		repo:      newMemCartRepo(seed...),
		inventory: &stubInventoryService{},
	}
	service, err := NewCartService(CartServiceDeps{
		Repository:        fixture.repo,
		Catalog:           testCatalog(),
		Inventory:         fixture.inventory,
		Shipping:          pricer,
		TaxRateBps:        500,
		PreviewTaxRateBps: 300,
		Clock:             func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	fixture.service = service
	return fixture
}

func cartLine(ref string, fulfillment domain.FulfillmentType, quantity int) domain.CartLine {
	return domain.CartLine{
		ProductRef:      ref,
		FulfillmentType: fulfillment,
		Quantity:        quantity,
		AddedAt:         testNow.Add(-time.Hour),
	}
}

func seedUserCart(userID string, lines ...domain.CartLine) domain.Cart {
	return domain.Cart{
		ID:        "u_" + userID,
		UserID:    userID,
		Currency:  "INR",
		Lines:     lines,
		CreatedAt: testNow.Add(-time.Hour),
		UpdatedAt: testNow.Add(-time.Hour),
	}
}

func TestAddOrUpdateLineCreatesCartAndLine(t *testing.T) {
	fixture := newCartServiceFixture(t)

	cart, err := fixture.service.AddOrUpdateLine(context.Background(), UpsertCartLineCommand{
		Owner:      CartOwner{UserID: "user1"},
		ProductRef: "products/tea-500g",
		Quantity:   2,
	})
	if err != nil {
		t.Fatalf("AddOrUpdateLine: %v", err)
	}
	if cart.ID != "u_user1" {
		t.Fatalf("cart id = %q", cart.ID)
	}
	if len(cart.Lines) != 1 || cart.Lines[0].Quantity != 2 {
		t.Fatalf("lines = %+v", cart.Lines)
	}
	if cart.Lines[0].FulfillmentType != domain.FulfillmentSingle {
		t.Fatalf("fulfillment defaulted to %q", cart.Lines[0].FulfillmentType)
	}
}

func TestAddOrUpdateLineMergesMatchingPair(t *testing.T) {
	fixture := newCartServiceFixture(t, seedUserCart("user1", cartLine("products/tea-500g", domain.FulfillmentSingle, 2)))

	cart, err := fixture.service.AddOrUpdateLine(context.Background(), UpsertCartLineCommand{
		Owner:      CartOwner{UserID: "user1"},
		ProductRef: "products/tea-500g",
		Quantity:   3,
	})
	if err != nil {
		t.Fatalf("AddOrUpdateLine: %v", err)
	}
	if len(cart.Lines) != 1 || cart.Lines[0].Quantity != 5 {
		t.Fatalf("lines = %+v, want one line of quantity 5", cart.Lines)
	}
}

func TestAddOrUpdateLineKeepsFulfillmentTypesSeparate(t *testing.T) {
	fixture := newCartServiceFixture(t, seedUserCart("user1", cartLine("products/coffee-250g", domain.FulfillmentSingle, 1)))

	cart, err := fixture.service.AddOrUpdateLine(context.Background(), UpsertCartLineCommand{
		Owner:           CartOwner{UserID: "user1"},
		ProductRef:      "products/coffee-250g",
		FulfillmentType: domain.FulfillmentSubscription,
		Quantity:        1,
	})
	if err != nil {
		t.Fatalf("AddOrUpdateLine: %v", err)
	}
	if len(cart.Lines) != 2 {
		t.Fatalf("lines = %+v, want separate single and subscription lines", cart.Lines)
	}
}

func TestAddOrUpdateLineRejectsInactiveProduct(t *testing.T) {
	fixture := newCartServiceFixture(t)

	_, err := fixture.service.AddOrUpdateLine(context.Background(), UpsertCartLineCommand{
		Owner:      CartOwner{UserID: "user1"},
		ProductRef: "products/ghee-1l",
		Quantity:   1,
	})
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("err = %v, want ErrCartInvalidInput", err)
	}
}

func TestAddOrUpdateLineRejectsIneligibleSubscription(t *testing.T) {
	fixture := newCartServiceFixture(t)

	_, err := fixture.service.AddOrUpdateLine(context.Background(), UpsertCartLineCommand{
		Owner:           CartOwner{UserID: "user1"},
		ProductRef:      "products/tea-500g",
		FulfillmentType: domain.FulfillmentSubscription,
		Quantity:        1,
	})
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("err = %v, want ErrCartInvalidInput", err)
	}
}

func TestAddOrUpdateLineEnforcesQuantityCap(t *testing.T) {
	fixture := newCartServiceFixture(t, seedUserCart("user1", cartLine("products/tea-500g", domain.FulfillmentSingle, 98)))

	_, err := fixture.service.AddOrUpdateLine(context.Background(), UpsertCartLineCommand{
		Owner:      CartOwner{UserID: "user1"},
		ProductRef: "products/tea-500g",
		Quantity:   2,
	})
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("err = %v, want ErrCartInvalidInput", err)
	}
}

func TestRemoveLineMissingLine(t *testing.T) {
	fixture := newCartServiceFixture(t, seedUserCart("user1", cartLine("products/tea-500g", domain.FulfillmentSingle, 1)))

	_, err := fixture.service.RemoveLine(context.Background(), RemoveCartLineCommand{
		Owner:      CartOwner{UserID: "user1"},
		ProductRef: "products/rice-5kg",
	})
	if !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("err = %v, want ErrCartNotFound", err)
	}
}

func TestMergeGuestCartSumsAndAppends(t *testing.T) {
	fixture := newCartServiceFixture(t,
		seedUserCart("user1",
			cartLine("products/tea-500g", domain.FulfillmentSingle, 1),
			cartLine("products/rice-5kg", domain.FulfillmentSingle, 1),
		),
		domain.Cart{
			ID:        "g_sess1",
			SessionID: "sess1",
			Currency:  "INR",
			Lines: []domain.CartLine{
				cartLine("products/tea-500g", domain.FulfillmentSingle, 2),
				cartLine("products/coffee-250g", domain.FulfillmentSingle, 1),
			},
		},
	)

	cart, err := fixture.service.MergeGuestCart(context.Background(), MergeGuestCartCommand{
		SessionID: "sess1",
		UserID:    "user1",
	})
	if err != nil {
		t.Fatalf("MergeGuestCart: %v", err)
	}
	if len(cart.Lines) != 3 {
		t.Fatalf("lines = %+v, want 3", cart.Lines)
	}
	if idx := indexOfCartLine(cart.Lines, "products/tea-500g", domain.FulfillmentSingle); idx < 0 || cart.Lines[idx].Quantity != 3 {
		t.Fatalf("tea quantity not summed: %+v", cart.Lines)
	}
	if len(fixture.repo.deleted) != 1 || fixture.repo.deleted[0] != "g_sess1" {
		t.Fatalf("guest cart not deleted: %v", fixture.repo.deleted)
	}
}

func TestMergeGuestCartIsIdempotent(t *testing.T) {
	fixture := newCartServiceFixture(t,
		seedUserCart("user1", cartLine("products/tea-500g", domain.FulfillmentSingle, 1)),
		domain.Cart{
			ID:        "g_sess1",
			SessionID: "sess1",
			Currency:  "INR",
			Lines:     []domain.CartLine{cartLine("products/tea-500g", domain.FulfillmentSingle, 2)},
		},
	)

	first, err := fixture.service.MergeGuestCart(context.Background(), MergeGuestCartCommand{SessionID: "sess1", UserID: "user1"})
	if err != nil {
		t.Fatalf("first merge: %v", err)
	}
	second, err := fixture.service.MergeGuestCart(context.Background(), MergeGuestCartCommand{SessionID: "sess1", UserID: "user1"})
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if first.Lines[0].Quantity != 3 || second.Lines[0].Quantity != 3 {
		t.Fatalf("replayed merge changed quantities: first %d, second %d", first.Lines[0].Quantity, second.Lines[0].Quantity)
	}
}

func draftCommand(owner CartOwner) BuildOrderDraftCommand {
	return BuildOrderDraftCommand{
		Owner: owner,
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
	}
}

func TestBuildOrderDraftPricesCart(t *testing.T) {
	fixture := newCartServiceFixture(t, seedUserCart("user1",
		cartLine("products/tea-500g", domain.FulfillmentSingle, 2),
		cartLine("products/coffee-250g", domain.FulfillmentSubscription, 1),
	))

	draft, err := fixture.service.BuildOrderDraft(context.Background(), draftCommand(CartOwner{UserID: "user1"}))
	if err != nil {
		t.Fatalf("BuildOrderDraft: %v", err)
	}

	if draft.CartID != "u_user1" {
		t.Fatalf("cart id = %q", draft.CartID)
	}
	if draft.Totals.Subtotal != 120000 {
		t.Fatalf("subtotal = %d, want 120000", draft.Totals.Subtotal)
	}
	// Subscription discount: 15% of the coffee line.
	if draft.Totals.Discount != 4500 {
		t.Fatalf("discount = %d, want 4500", draft.Totals.Discount)
	}
	// 5% GST on subtotal minus discount.
	if draft.Totals.Tax != 5775 {
		t.Fatalf("tax = %d, want 5775", draft.Totals.Tax)
	}
	// 115500 payable clears the 100000 free-shipping threshold.
	if draft.Totals.Shipping != 0 || !draft.Shipping.FreeShipping {
		t.Fatalf("shipping = %d free=%v", draft.Totals.Shipping, draft.Shipping.FreeShipping)
	}
	if want := draft.Totals.Subtotal + draft.Totals.Tax + draft.Totals.Shipping - draft.Totals.Discount; draft.Totals.Total != want {
		t.Fatalf("total = %d, want %d", draft.Totals.Total, want)
	}
	if draft.Shipping.Zone != domain.ZoneMetroExpress {
		t.Fatalf("zone = %s", draft.Shipping.Zone)
	}

	if len(fixture.inventory.reserves) != 1 {
		t.Fatalf("reserve calls = %d", len(fixture.inventory.reserves))
	}
	reserved := fixture.inventory.reserves[0].Lines
	if len(reserved) != 2 || reserved[0].ProductRef != "products/coffee-250g" || reserved[1].ProductRef != "products/tea-500g" {
		t.Fatalf("reserved lines not sorted by ref: %+v", reserved)
	}
}

func TestQuoteCartUsesPreviewTaxRate(t *testing.T) {
	fixture := newCartServiceFixture(t, seedUserCart("user1",
		cartLine("products/tea-500g", domain.FulfillmentSingle, 2),
		cartLine("products/coffee-250g", domain.FulfillmentSubscription, 1),
	))

	quote, err := fixture.service.QuoteCart(context.Background(), QuoteCartCommand{
		Owner:   CartOwner{UserID: "user1"},
		Pincode: "560001",
	})
	if err != nil {
		t.Fatalf("QuoteCart: %v", err)
	}

	if quote.Totals.Subtotal != 120000 {
		t.Fatalf("subtotal = %d, want 120000", quote.Totals.Subtotal)
	}
	if quote.Totals.Discount != 4500 {
		t.Fatalf("discount = %d, want 4500", quote.Totals.Discount)
	}
	// 3% preview rate on subtotal minus discount, not the 5% checkout rate.
	if quote.Totals.Tax != 3465 {
		t.Fatalf("tax = %d, want 3465", quote.Totals.Tax)
	}
	if want := quote.Totals.Subtotal + quote.Totals.Tax + quote.Totals.Shipping - quote.Totals.Discount; quote.Totals.Total != want {
		t.Fatalf("total = %d, want %d", quote.Totals.Total, want)
	}
	if quote.Currency != "INR" {
		t.Fatalf("currency = %q", quote.Currency)
	}

	// Quoting is read-only; nothing may be reserved.
	if len(fixture.inventory.reserves) != 0 {
		t.Fatalf("reserve calls = %d, want 0", len(fixture.inventory.reserves))
	}
}

func TestQuoteCartExplicitLines(t *testing.T) {
	fixture := newCartServiceFixture(t)

	quote, err := fixture.service.QuoteCart(context.Background(), QuoteCartCommand{
		Owner:   CartOwner{SessionID: "sess1"},
		Lines:   []domain.CartLine{cartLine("products/tea-500g", domain.FulfillmentSingle, 1)},
		Pincode: "560001",
	})
	if err != nil {
		t.Fatalf("QuoteCart: %v", err)
	}
	if len(quote.Lines) != 1 || quote.Lines[0].UnitPrice != 45000 {
		t.Fatalf("lines = %+v", quote.Lines)
	}
	if quote.Totals.Tax != 45000*300/10000 {
		t.Fatalf("tax = %d, want %d", quote.Totals.Tax, 45000*300/10000)
	}
}

func TestQuoteCartEmptyCart(t *testing.T) {
	fixture := newCartServiceFixture(t)

	_, err := fixture.service.QuoteCart(context.Background(), QuoteCartCommand{
		Owner:   CartOwner{UserID: "user1"},
		Pincode: "560001",
	})
	if !errors.Is(err, ErrCartEmpty) {
		t.Fatalf("err = %v, want ErrCartEmpty", err)
	}
}

func TestBuildOrderDraftMergesDuplicateExplicitLines(t *testing.T) {
	fixture := newCartServiceFixture(t)

	cmd := draftCommand(CartOwner{UserID: "user1"})
	cmd.Lines = []domain.CartLine{
		cartLine("products/tea-500g", domain.FulfillmentSingle, 1),
		cartLine("products/tea-500g", domain.FulfillmentSingle, 2),
	}

	draft, err := fixture.service.BuildOrderDraft(context.Background(), cmd)
	if err != nil {
		t.Fatalf("BuildOrderDraft: %v", err)
	}
	if len(draft.Lines) != 1 || draft.Lines[0].Quantity != 3 {
		t.Fatalf("lines = %+v, want one merged line of 3", draft.Lines)
	}
}

func TestBuildOrderDraftEmptyCart(t *testing.T) {
	fixture := newCartServiceFixture(t)

	_, err := fixture.service.BuildOrderDraft(context.Background(), draftCommand(CartOwner{UserID: "user1"}))
	if !errors.Is(err, ErrCartEmpty) {
		t.Fatalf("err = %v, want ErrCartEmpty", err)
	}
}

func TestBuildOrderDraftReservationFailureAborts(t *testing.T) {
	fixture := newCartServiceFixture(t, seedUserCart("user1", cartLine("products/tea-500g", domain.FulfillmentSingle, 2)))
	fixture.inventory.reserveErr = fmt.Errorf("%w: products/tea-500g", ErrInventoryInsufficientStock)

	_, err := fixture.service.BuildOrderDraft(context.Background(), draftCommand(CartOwner{UserID: "user1"}))
	if !errors.Is(err, ErrInventoryInsufficientStock) {
		t.Fatalf("err = %v, want ErrInventoryInsufficientStock", err)
	}
}

func TestBuildOrderDraftRejectsInvalidCustomer(t *testing.T) {
	fixture := newCartServiceFixture(t, seedUserCart("user1", cartLine("products/tea-500g", domain.FulfillmentSingle, 1)))

	cmd := draftCommand(CartOwner{UserID: "user1"})
	cmd.Customer.Email = "not-an-email"

	_, err := fixture.service.BuildOrderDraft(context.Background(), cmd)
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("err = %v, want ErrCartInvalidInput", err)
	}
}

func TestClearCartMissingIsNoOp(t *testing.T) {
	fixture := newCartServiceFixture(t)
	if err := fixture.service.ClearCart(context.Background(), CartOwner{UserID: "user1"}); err != nil {
		t.Fatalf("ClearCart: %v", err)
	}
}
