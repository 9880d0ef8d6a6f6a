package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/greenbasket/api/internal/domain"
	"github.com/greenbasket/api/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: repository is required")
	errCartCatalogRequired    = errors.New("cart service: catalog is required")
	errCartClockRequired      = errors.New("cart service: clock is required")
)

const (
	maxCartNotesLength = 2000
	maxLineQuantity    = 99

	// Subscription lines are discounted at draft time; the discount is
	// snapshotted into the order, never stored as a rule.
	subscriptionDiscountBps = 1500
	bpsDenominator          = 10000
)

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to missing dependencies or backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartNotFound indicates the requested cart or cart line does not exist.
var ErrCartNotFound = errors.New("cart service: not found")

// ErrCartConflict indicates the cart could not be updated due to concurrent modifications.
var ErrCartConflict = errors.New("cart service: conflict")

// ErrCartEmpty indicates a checkout conversion was attempted on a cart with no lines.
var ErrCartEmpty = errors.New("cart service: cart is empty")

// CartServiceDeps wires the persistence, catalog, stock and shipping
// dependencies for cart operations.
type CartServiceDeps struct {
	Repository repositories.CartRepository
	Catalog    CatalogService
	Inventory  InventoryService
	Shipping   *ShippingPricer
	TaxRateBps int64
	// PreviewTaxRateBps prices non-binding quotes; checkout keeps using
	// TaxRateBps.
	PreviewTaxRateBps int64
	DefaultCurrency   string
	Clock             func() time.Time
	Logger            func(context.Context, string, map[string]any)
	IDGenerator       func() string
}

type cartService struct {
	repo              repositories.CartRepository
	catalog           CatalogService
	inventory         InventoryService
	shipping          *ShippingPricer
	taxRateBps        int64
	previewTaxRateBps int64
	currency          string
	newID             func() string
	now               func() time.Time
	logger            func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Catalog == nil {
		return nil, errCartCatalogRequired
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}
	if deps.TaxRateBps < 0 || deps.TaxRateBps >= bpsDenominator {
		return nil, errors.New("cart service: tax rate out of range")
	}
	if deps.PreviewTaxRateBps < 0 || deps.PreviewTaxRateBps >= bpsDenominator {
		return nil, errors.New("cart service: preview tax rate out of range")
	}

	defaultCurrency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if defaultCurrency == "" {
		defaultCurrency = "INR"
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &cartService{
		repo:              deps.Repository,
		catalog:           deps.Catalog,
		inventory:         deps.Inventory,
		shipping:          deps.Shipping,
		taxRateBps:        deps.TaxRateBps,
		previewTaxRateBps: deps.PreviewTaxRateBps,
		currency:          defaultCurrency,
		newID:             idGen,
		now:               func() time.Time { return deps.Clock().UTC() },
		logger:            logger,
	}, nil
}

// GetOrCreateCart loads the owner's active cart, creating an empty cart when absent.
func (s *cartService) GetOrCreateCart(ctx context.Context, owner CartOwner) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}
	owner, err := normaliseCartOwner(owner)
	if err != nil {
		return Cart{}, err
	}

	cart, err := s.loadCart(ctx, owner)
	if err != nil {
		if !errors.Is(err, ErrCartNotFound) {
			return Cart{}, err
		}
		saved, upsertErr := s.repo.UpsertCart(ctx, s.newCart(owner), nil)
		if upsertErr != nil {
			return Cart{}, s.translateRepoError(upsertErr)
		}
		cart = saved
	}
	return s.normaliseCart(cart, owner), nil
}

// AddOrUpdateLine merges the given selection into the owner's cart. A line
// matching the same (productRef, fulfillmentType) pair absorbs the quantity;
// otherwise a new line is appended.
func (s *cartService) AddOrUpdateLine(ctx context.Context, cmd UpsertCartLineCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}
	owner, err := normaliseCartOwner(cmd.Owner)
	if err != nil {
		return Cart{}, err
	}

	productRef := strings.TrimSpace(cmd.ProductRef)
	if productRef == "" {
		return Cart{}, fmt.Errorf("%w: product_ref is required", ErrCartInvalidInput)
	}
	fulfillment, err := normaliseFulfillmentType(cmd.FulfillmentType)
	if err != nil {
		return Cart{}, err
	}
	if cmd.Quantity <= 0 {
		return Cart{}, fmt.Errorf("%w: quantity must be greater than zero", ErrCartInvalidInput)
	}

	product, err := s.catalog.GetProduct(ctx, productRef)
	if err != nil {
		return Cart{}, translateCatalogError(err)
	}
	if !product.Active {
		return Cart{}, fmt.Errorf("%w: product %s is not available", ErrCartInvalidInput, productRef)
	}
	if fulfillment == domain.FulfillmentSubscription && !product.SubscriptionEligible {
		return Cart{}, fmt.Errorf("%w: product %s is not subscription eligible", ErrCartInvalidInput, productRef)
	}

	cart, err := s.loadCart(ctx, owner)
	if err != nil {
		if !errors.Is(err, ErrCartNotFound) {
			return Cart{}, err
		}
		saved, upsertErr := s.repo.UpsertCart(ctx, s.newCart(owner), nil)
		if upsertErr != nil {
			return Cart{}, s.translateRepoError(upsertErr)
		}
		cart = saved
	}
	cart = s.normaliseCart(cart, owner)

	now := s.now()
	lines := cloneCartLines(cart.Lines)
	idx := indexOfCartLine(lines, productRef, fulfillment)
	if idx >= 0 {
		merged := lines[idx].Quantity + cmd.Quantity
		if merged > maxLineQuantity {
			return Cart{}, fmt.Errorf("%w: quantity for %s exceeds %d", ErrCartInvalidInput, productRef, maxLineQuantity)
		}
		lines[idx].Quantity = merged
		ts := now
		lines[idx].UpdatedAt = &ts
	} else {
		if cmd.Quantity > maxLineQuantity {
			return Cart{}, fmt.Errorf("%w: quantity for %s exceeds %d", ErrCartInvalidInput, productRef, maxLineQuantity)
		}
		lines = append(lines, domain.CartLine{
			ProductRef:      productRef,
			FulfillmentType: fulfillment,
			Quantity:        cmd.Quantity,
			AddedAt:         now,
		})
	}

	saved, err := s.repo.ReplaceLines(ctx, cart.ID, lines)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return s.normaliseCart(saved, owner), nil
}

// RemoveLine deletes one line from the owner's cart.
func (s *cartService) RemoveLine(ctx context.Context, cmd RemoveCartLineCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}
	owner, err := normaliseCartOwner(cmd.Owner)
	if err != nil {
		return Cart{}, err
	}
	productRef := strings.TrimSpace(cmd.ProductRef)
	if productRef == "" {
		return Cart{}, fmt.Errorf("%w: product_ref is required", ErrCartInvalidInput)
	}
	fulfillment, err := normaliseFulfillmentType(cmd.FulfillmentType)
	if err != nil {
		return Cart{}, err
	}

	cart, err := s.loadCart(ctx, owner)
	if err != nil {
		return Cart{}, err
	}
	cart = s.normaliseCart(cart, owner)

	lines := cloneCartLines(cart.Lines)
	idx := indexOfCartLine(lines, productRef, fulfillment)
	if idx < 0 {
		return Cart{}, fmt.Errorf("%w: line %s/%s", ErrCartNotFound, productRef, fulfillment)
	}
	lines = append(lines[:idx], lines[idx+1:]...)

	saved, err := s.repo.ReplaceLines(ctx, cart.ID, lines)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return s.normaliseCart(saved, owner), nil
}

// ClearCart deletes the owner's cart. A missing cart is a no-op success.
func (s *cartService) ClearCart(ctx context.Context, owner CartOwner) error {
	if s == nil || s.repo == nil {
		return ErrCartUnavailable
	}
	owner, err := normaliseCartOwner(owner)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteCart(ctx, cartIDForOwner(owner)); err != nil {
		return s.translateRepoError(err)
	}
	return nil
}

// MergeGuestCart folds the anonymous session cart into the user's cart at
// login. Guest lines matching an existing (productRef, fulfillmentType) pair
// sum quantities; the rest are appended. The guest cart is deleted after a
// successful merge, which makes a repeated merge a no-op.
func (s *cartService) MergeGuestCart(ctx context.Context, cmd MergeGuestCartCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}
	sessionID := strings.TrimSpace(cmd.SessionID)
	userID := strings.TrimSpace(cmd.UserID)
	if sessionID == "" || userID == "" {
		return Cart{}, fmt.Errorf("%w: session_id and user_id are required", ErrCartInvalidInput)
	}
	userOwner := CartOwner{UserID: userID}

	guestCart, err := s.repo.GetGuestCart(ctx, sessionID)
	if err != nil {
		translated := s.translateRepoError(err)
		if errors.Is(translated, ErrCartNotFound) {
			// Nothing to merge; an already-consumed guest cart is success.
			return s.GetOrCreateCart(ctx, userOwner)
		}
		return Cart{}, translated
	}

	userCart, err := s.GetOrCreateCart(ctx, userOwner)
	if err != nil {
		return Cart{}, err
	}

	if len(guestCart.Lines) > 0 {
		now := s.now()
		merged := cloneCartLines(userCart.Lines)
		for _, guestLine := range guestCart.Lines {
			idx := indexOfCartLine(merged, guestLine.ProductRef, guestLine.FulfillmentType)
			if idx >= 0 {
				merged[idx].Quantity += guestLine.Quantity
				ts := now
				merged[idx].UpdatedAt = &ts
				continue
			}
			appended := guestLine
			if appended.AddedAt.IsZero() {
				appended.AddedAt = now
			}
			merged = append(merged, appended)
		}

		saved, err := s.repo.ReplaceLines(ctx, userCart.ID, merged)
		if err != nil {
			return Cart{}, s.translateRepoError(err)
		}
		userCart = s.normaliseCart(saved, userOwner)
	}

	if err := s.repo.DeleteCart(ctx, guestCart.ID); err != nil {
		return Cart{}, s.translateRepoError(err)
	}

	s.logger(ctx, "cart.guest_merged", map[string]any{
		"userId":    userID,
		"sessionId": sessionID,
		"lineCount": len(userCart.Lines),
	})
	return userCart, nil
}

// BuildOrderDraft prices the cart (or the explicit line list) into an
// immutable order draft: authoritative prices are snapshotted, subscription
// discounts applied, shipping priced and stock reserved. Any failure aborts
// the whole conversion with no stock decremented.
func (s *cartService) BuildOrderDraft(ctx context.Context, cmd BuildOrderDraftCommand) (OrderDraft, error) {
	if s == nil || s.repo == nil {
		return OrderDraft{}, ErrCartUnavailable
	}
	if s.shipping == nil || s.inventory == nil {
		return OrderDraft{}, ErrCartUnavailable
	}

	owner, err := normaliseCartOwner(cmd.Owner)
	if err != nil {
		return OrderDraft{}, err
	}
	if err := validateDraftCustomer(cmd.Customer); err != nil {
		return OrderDraft{}, err
	}
	if err := validateDraftAddress(cmd.ShippingAddress); err != nil {
		return OrderDraft{}, err
	}
	paymentMethod, err := normalisePaymentMethod(cmd.PaymentMethod)
	if err != nil {
		return OrderDraft{}, err
	}
	notes := strings.TrimSpace(cmd.Notes)
	if len(notes) > maxCartNotesLength {
		return OrderDraft{}, fmt.Errorf("%w: notes must be %d characters or fewer", ErrCartInvalidInput, maxCartNotesLength)
	}

	cartID := ""
	lines := cmd.Lines
	if len(lines) == 0 {
		cart, loadErr := s.loadCart(ctx, owner)
		if loadErr != nil {
			if errors.Is(loadErr, ErrCartNotFound) {
				return OrderDraft{}, ErrCartEmpty
			}
			return OrderDraft{}, loadErr
		}
		cartID = cart.ID
		lines = cart.Lines
	}
	lines, err = normaliseDraftLines(lines)
	if err != nil {
		return OrderDraft{}, err
	}
	if len(lines) == 0 {
		return OrderDraft{}, ErrCartEmpty
	}

	pricing, err := s.priceLines(ctx, lines, cmd.ShippingAddress.Pincode, cmd.Express, s.taxRateBps)
	if err != nil {
		return OrderDraft{}, err
	}

	reservationRef := "draft_" + strings.TrimSpace(s.newID())
	if err := s.inventory.Reserve(ctx, InventoryReserveCommand{Lines: pricing.reserved, Ref: reservationRef}); err != nil {
		return OrderDraft{}, err
	}

	return OrderDraft{
		CartID:          cartID,
		UserID:          owner.UserID,
		SessionID:       owner.SessionID,
		Customer:        trimCustomerInfo(cmd.Customer),
		ShippingAddress: cmd.ShippingAddress,
		PaymentMethod:   paymentMethod,
		Lines:           pricing.lines,
		Totals:          pricing.totals,
		Shipping:        pricing.quote,
		Notes:           notes,
		Reserved:        pricing.reserved,
	}, nil
}

// QuoteCart prices the cart (or the explicit line list) without reserving
// stock or mutating anything. Quotes use the preview tax rate; the binding
// checkout rate is applied only at draft time.
func (s *cartService) QuoteCart(ctx context.Context, cmd QuoteCartCommand) (CartQuote, error) {
	if s == nil || s.repo == nil || s.shipping == nil {
		return CartQuote{}, ErrCartUnavailable
	}

	owner, err := normaliseCartOwner(cmd.Owner)
	if err != nil {
		return CartQuote{}, err
	}

	lines := cmd.Lines
	if len(lines) == 0 {
		cart, loadErr := s.loadCart(ctx, owner)
		if loadErr != nil {
			if errors.Is(loadErr, ErrCartNotFound) {
				return CartQuote{}, ErrCartEmpty
			}
			return CartQuote{}, loadErr
		}
		lines = cart.Lines
	}
	lines, err = normaliseDraftLines(lines)
	if err != nil {
		return CartQuote{}, err
	}
	if len(lines) == 0 {
		return CartQuote{}, ErrCartEmpty
	}

	pricing, err := s.priceLines(ctx, lines, cmd.Pincode, cmd.Express, s.previewTaxRateBps)
	if err != nil {
		return CartQuote{}, err
	}

	return CartQuote{
		Lines:    pricing.lines,
		Totals:   pricing.totals,
		Shipping: pricing.quote,
		Currency: s.currency,
	}, nil
}

// cartPricing is the shared result of pricing a normalised line list.
type cartPricing struct {
	lines    []domain.OrderLine
	reserved []repositories.InventoryLine
	quote    domain.ShippingQuote
	totals   domain.OrderTotals
}

// priceLines snapshots authoritative catalog prices, applies subscription
// discounts, prices shipping and computes the tax on the discounted
// subtotal. It never touches stock.
func (s *cartService) priceLines(ctx context.Context, lines []CartLine, pincode string, express bool, taxRateBps int64) (cartPricing, error) {
	refs := make([]string, 0, len(lines))
	for _, line := range lines {
		refs = append(refs, line.ProductRef)
	}
	products, err := s.catalog.GetProducts(ctx, refs)
	if err != nil {
		return cartPricing{}, translateCatalogError(err)
	}

	orderLines := make([]domain.OrderLine, 0, len(lines))
	shippingLines := make([]domain.ShippingLine, 0, len(lines))
	reserved := make([]repositories.InventoryLine, 0, len(lines))
	var subtotal, discount int64

	for _, line := range lines {
		product, ok := products[line.ProductRef]
		if !ok {
			return cartPricing{}, fmt.Errorf("%w: product %s not found", ErrCartInvalidInput, line.ProductRef)
		}
		if !product.Active {
			return cartPricing{}, fmt.Errorf("%w: product %s is not available", ErrCartInvalidInput, line.ProductRef)
		}
		if line.FulfillmentType == domain.FulfillmentSubscription && !product.SubscriptionEligible {
			return cartPricing{}, fmt.Errorf("%w: product %s is not subscription eligible", ErrCartInvalidInput, line.ProductRef)
		}

		lineSubtotal := product.UnitPrice * int64(line.Quantity)
		lineDiscount := int64(0)
		if line.FulfillmentType == domain.FulfillmentSubscription {
			lineDiscount = lineSubtotal * subscriptionDiscountBps / bpsDenominator
		}
		subtotal += lineSubtotal
		discount += lineDiscount

		orderLines = append(orderLines, domain.OrderLine{
			ProductRef:      line.ProductRef,
			Name:            product.Name,
			SKU:             product.SKU,
			UnitPrice:       product.UnitPrice,
			Quantity:        line.Quantity,
			FulfillmentType: line.FulfillmentType,
			WeightGrams:     product.WeightGrams,
			Discount:        lineDiscount,
		})
		shippingLines = append(shippingLines, domain.ShippingLine{
			WeightGrams: product.WeightGrams,
			Quantity:    line.Quantity,
		})
		reserved = append(reserved, repositories.InventoryLine{
			ProductRef: line.ProductRef,
			Quantity:   int64(line.Quantity),
		})
	}

	quote, err := s.shipping.Quote(ShippingQuoteRequest{
		Lines:              shippingLines,
		DestinationPincode: pincode,
		Subtotal:           subtotal - discount,
		Express:            express,
	})
	if err != nil {
		if errors.Is(err, ErrShippingInvalidInput) || errors.Is(err, ErrShippingExpressUnavailable) {
			return cartPricing{}, fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
		}
		return cartPricing{}, ErrCartUnavailable
	}

	tax := (subtotal - discount) * taxRateBps / bpsDenominator

	return cartPricing{
		lines:    orderLines,
		reserved: reserved,
		quote:    quote,
		totals: domain.OrderTotals{
			Subtotal: subtotal,
			Discount: discount,
			Tax:      tax,
			Shipping: quote.Charge,
			Total:    subtotal + tax + quote.Charge - discount,
		},
	}, nil
}

func (s *cartService) loadCart(ctx context.Context, owner CartOwner) (domain.Cart, error) {
	var (
		cart domain.Cart
		err  error
	)
	if owner.UserID != "" {
		cart, err = s.repo.GetUserCart(ctx, owner.UserID)
	} else {
		cart, err = s.repo.GetGuestCart(ctx, owner.SessionID)
	}
	if err != nil {
		return domain.Cart{}, s.translateRepoError(err)
	}
	return cart, nil
}

func (s *cartService) newCart(owner CartOwner) domain.Cart {
	now := s.now()
	return domain.Cart{
		ID:        cartIDForOwner(owner),
		UserID:    owner.UserID,
		SessionID: owner.SessionID,
		Currency:  s.currency,
		Lines:     []domain.CartLine{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *cartService) normaliseCart(cart domain.Cart, owner CartOwner) domain.Cart {
	if strings.TrimSpace(cart.ID) == "" {
		cart.ID = cartIDForOwner(owner)
	}
	cart.UserID = strings.TrimSpace(firstNonEmpty(cart.UserID, owner.UserID))
	cart.SessionID = strings.TrimSpace(firstNonEmpty(cart.SessionID, owner.SessionID))
	cart.Currency = strings.ToUpper(strings.TrimSpace(firstNonEmpty(cart.Currency, s.currency)))
	if cart.Lines == nil {
		cart.Lines = []domain.CartLine{}
	}
	cart.Notes = strings.TrimSpace(cart.Notes)
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = s.now()
	}
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = s.now()
	}
	return cart
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartNotFound
		case repoErr.IsConflict():
			return ErrCartConflict
		case repoErr.IsUnavailable():
			return ErrCartUnavailable
		}
	}
	return ErrCartUnavailable
}

func normaliseCartOwner(owner CartOwner) (CartOwner, error) {
	userID := strings.TrimSpace(owner.UserID)
	sessionID := strings.TrimSpace(owner.SessionID)
	if userID == "" && sessionID == "" {
		return CartOwner{}, fmt.Errorf("%w: cart owner is required", ErrCartInvalidInput)
	}
	if userID != "" && sessionID != "" {
		return CartOwner{}, fmt.Errorf("%w: cart owner must be a user or a session, not both", ErrCartInvalidInput)
	}
	return CartOwner{UserID: userID, SessionID: sessionID}, nil
}

func cartIDForOwner(owner CartOwner) string {
	if owner.UserID != "" {
		return "u_" + owner.UserID
	}
	return "g_" + owner.SessionID
}

func normaliseFulfillmentType(ft FulfillmentType) (FulfillmentType, error) {
	switch FulfillmentType(strings.ToLower(strings.TrimSpace(string(ft)))) {
	case "", domain.FulfillmentSingle:
		return domain.FulfillmentSingle, nil
	case domain.FulfillmentSubscription:
		return domain.FulfillmentSubscription, nil
	default:
		return "", fmt.Errorf("%w: unknown fulfillment type %q", ErrCartInvalidInput, ft)
	}
}

func normalisePaymentMethod(method PaymentMethod) (PaymentMethod, error) {
	switch PaymentMethod(strings.ToLower(strings.TrimSpace(string(method)))) {
	case domain.PaymentMethodOnline:
		return domain.PaymentMethodOnline, nil
	case domain.PaymentMethodCOD:
		return domain.PaymentMethodCOD, nil
	default:
		return "", fmt.Errorf("%w: unknown payment method %q", ErrCartInvalidInput, method)
	}
}

// normaliseDraftLines validates quantities and collapses duplicate
// (productRef, fulfillmentType) pairs into one line each.
func normaliseDraftLines(lines []CartLine) ([]CartLine, error) {
	merged := make([]CartLine, 0, len(lines))
	for i, line := range lines {
		productRef := strings.TrimSpace(line.ProductRef)
		if productRef == "" {
			return nil, fmt.Errorf("%w: line %d product_ref is required", ErrCartInvalidInput, i)
		}
		fulfillment, err := normaliseFulfillmentType(line.FulfillmentType)
		if err != nil {
			return nil, err
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line %d quantity must be greater than zero", ErrCartInvalidInput, i)
		}

		idx := indexOfCartLine(merged, productRef, fulfillment)
		if idx >= 0 {
			merged[idx].Quantity += line.Quantity
			continue
		}
		merged = append(merged, CartLine{
			ProductRef:      productRef,
			FulfillmentType: fulfillment,
			Quantity:        line.Quantity,
			AddedAt:         line.AddedAt,
		})
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].ProductRef != merged[j].ProductRef {
			return merged[i].ProductRef < merged[j].ProductRef
		}
		return merged[i].FulfillmentType < merged[j].FulfillmentType
	})
	return merged, nil
}

func validateDraftCustomer(customer CustomerInfo) error {
	if strings.TrimSpace(customer.Name) == "" {
		return fmt.Errorf("%w: customer name is required", ErrCartInvalidInput)
	}
	email := strings.TrimSpace(customer.Email)
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: customer email is required", ErrCartInvalidInput)
	}
	return nil
}

func validateDraftAddress(addr Address) error {
	if strings.TrimSpace(addr.Line1) == "" {
		return fmt.Errorf("%w: shipping address line1 is required", ErrCartInvalidInput)
	}
	if strings.TrimSpace(addr.Pincode) == "" {
		return fmt.Errorf("%w: shipping address pincode is required", ErrCartInvalidInput)
	}
	return nil
}

func trimCustomerInfo(customer CustomerInfo) CustomerInfo {
	return CustomerInfo{
		Name:  strings.TrimSpace(customer.Name),
		Email: strings.TrimSpace(customer.Email),
		Phone: strings.TrimSpace(customer.Phone),
	}
}

func indexOfCartLine(lines []CartLine, productRef string, fulfillment FulfillmentType) int {
	for i, line := range lines {
		if strings.EqualFold(strings.TrimSpace(line.ProductRef), productRef) && line.FulfillmentType == fulfillment {
			return i
		}
	}
	return -1
}

func cloneCartLines(lines []CartLine) []CartLine {
	if len(lines) == 0 {
		return []CartLine{}
	}
	dup := make([]CartLine, len(lines))
	copy(dup, lines)
	for i := range dup {
		if dup[i].UpdatedAt != nil {
			ts := dup[i].UpdatedAt.UTC()
			dup[i].UpdatedAt = &ts
		}
	}
	return dup
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
