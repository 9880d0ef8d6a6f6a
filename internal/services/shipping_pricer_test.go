package services

import (
	"errors"
	"testing"

	domain "github.com/greenbasket/api/internal/domain"
)

func testShippingRates() domain.ShippingRates {
	return domain.ShippingRates{
		BaseRate:               4000,
		PerKgRate:              2000,
		PerItemRate:            1000,
		IncludedWeightGrams:    500,
		DefaultItemWeightGrams: 500,
		ExpressSurcharge:       5000,
		FreeShippingThreshold:  100000,
	}
}

func TestShippingPricerBaseChargeBelowThreshold(t *testing.T) {
	pricer, err := NewShippingPricer(testShippingRates())
	if err != nil {
		t.Fatalf("new pricer: %v", err)
	}

	quote, err := pricer.Quote(ShippingQuoteRequest{
		Lines:              []domain.ShippingLine{{WeightGrams: 100, Quantity: 1}},
		DestinationPincode: "110045",
		Subtotal:           19900,
	})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.Charge != 4000 {
		t.Fatalf("expected base charge 4000, got %d", quote.Charge)
	}
	if quote.FreeShipping {
		t.Fatalf("expected paid shipping below threshold")
	}
	if quote.Zone != domain.ZoneMetroExpress {
		t.Fatalf("expected metro express zone, got %s", quote.Zone)
	}
	if quote.WeightGrams != 100 {
		t.Fatalf("expected weight 100, got %d", quote.WeightGrams)
	}
}

func TestShippingPricerFreeShippingRecordsWaivedCharge(t *testing.T) {
	pricer, err := NewShippingPricer(testShippingRates())
	if err != nil {
		t.Fatalf("new pricer: %v", err)
	}

	quote, err := pricer.Quote(ShippingQuoteRequest{
		Lines: []domain.ShippingLine{
			{WeightGrams: 700, Quantity: 1},
			{WeightGrams: 300, Quantity: 1},
		},
		DestinationPincode: "600042",
		Subtotal:           120000,
	})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !quote.FreeShipping {
		t.Fatalf("expected free shipping at subtotal 120000")
	}
	if quote.Charge != 0 {
		t.Fatalf("expected zero charge, got %d", quote.Charge)
	}
	// Waived standard charge: base 4000 + 1 excess kg block 2000 + 1 extra item 1000.
	if quote.Breakdown.Discount != 7000 {
		t.Fatalf("expected waived charge 7000, got %d", quote.Breakdown.Discount)
	}
}

func TestShippingPricerWeightAndItemCharges(t *testing.T) {
	pricer, err := NewShippingPricer(testShippingRates())
	if err != nil {
		t.Fatalf("new pricer: %v", err)
	}

	quote, err := pricer.Quote(ShippingQuoteRequest{
		Lines: []domain.ShippingLine{
			{WeightGrams: 1200, Quantity: 2},
			{WeightGrams: 250, Quantity: 1},
		},
		DestinationPincode: "834001",
		Subtotal:           45000,
	})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	// Weight 2650g, excess 2150g → ceil to 3 blocks → 6000. Items 3 → 2000.
	if quote.Breakdown.WeightCharge != 6000 {
		t.Fatalf("expected weight charge 6000, got %d", quote.Breakdown.WeightCharge)
	}
	if quote.Breakdown.ItemCharge != 2000 {
		t.Fatalf("expected item charge 2000, got %d", quote.Breakdown.ItemCharge)
	}
	if quote.Charge != 12000 {
		t.Fatalf("expected charge 12000, got %d", quote.Charge)
	}
	if quote.Zone != domain.ZoneNational {
		t.Fatalf("expected national zone, got %s", quote.Zone)
	}
}

func TestShippingPricerDefaultItemWeight(t *testing.T) {
	pricer, err := NewShippingPricer(testShippingRates())
	if err != nil {
		t.Fatalf("new pricer: %v", err)
	}

	quote, err := pricer.Quote(ShippingQuoteRequest{
		Lines:              []domain.ShippingLine{{Quantity: 2}},
		DestinationPincode: "700019",
		Subtotal:           30000,
	})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.WeightGrams != 1000 {
		t.Fatalf("expected defaulted weight 1000, got %d", quote.WeightGrams)
	}
}

func TestShippingPricerExpressGatedByZone(t *testing.T) {
	pricer, err := NewShippingPricer(testShippingRates())
	if err != nil {
		t.Fatalf("new pricer: %v", err)
	}

	quote, err := pricer.Quote(ShippingQuoteRequest{
		Lines:              []domain.ShippingLine{{WeightGrams: 200, Quantity: 1}},
		DestinationPincode: "400050",
		Subtotal:           25000,
		Express:            true,
	})
	if err != nil {
		t.Fatalf("quote express: %v", err)
	}
	if quote.Breakdown.ExpressSurcharge != 5000 {
		t.Fatalf("expected express surcharge 5000, got %d", quote.Breakdown.ExpressSurcharge)
	}
	if quote.Charge != 9000 {
		t.Fatalf("expected charge 9000, got %d", quote.Charge)
	}

	_, err = pricer.Quote(ShippingQuoteRequest{
		Lines:              []domain.ShippingLine{{WeightGrams: 200, Quantity: 1}},
		DestinationPincode: "500032",
		Subtotal:           25000,
		Express:            true,
	})
	if !errors.Is(err, ErrShippingExpressUnavailable) {
		t.Fatalf("expected express unavailable outside express zone, got %v", err)
	}
}

func TestShippingPricerMalformedPincodeFallsBack(t *testing.T) {
	cases := []string{"", "12345", "1100456", "11OO45", "  "}
	for _, pincode := range cases {
		if zone := ResolveDeliveryZone(pincode); zone != domain.ZoneNational {
			t.Fatalf("pincode %q: expected national zone, got %s", pincode, zone)
		}
	}
}

func TestShippingPricerDeterministic(t *testing.T) {
	pricer, err := NewShippingPricer(testShippingRates())
	if err != nil {
		t.Fatalf("new pricer: %v", err)
	}
	req := ShippingQuoteRequest{
		Lines:              []domain.ShippingLine{{WeightGrams: 450, Quantity: 3}},
		DestinationPincode: "560034",
		Subtotal:           64000,
	}
	first, err := pricer.Quote(req)
	if err != nil {
		t.Fatalf("first quote: %v", err)
	}
	second, err := pricer.Quote(req)
	if err != nil {
		t.Fatalf("second quote: %v", err)
	}
	if first != second {
		t.Fatalf("expected identical quotes, got %+v and %+v", first, second)
	}
}

func TestShippingPricerRejectsInvalidInput(t *testing.T) {
	pricer, err := NewShippingPricer(testShippingRates())
	if err != nil {
		t.Fatalf("new pricer: %v", err)
	}

	if _, err := pricer.Quote(ShippingQuoteRequest{DestinationPincode: "110001", Subtotal: 100}); !errors.Is(err, ErrShippingInvalidInput) {
		t.Fatalf("expected invalid input for empty lines, got %v", err)
	}
	if _, err := pricer.Quote(ShippingQuoteRequest{
		Lines:              []domain.ShippingLine{{WeightGrams: 100, Quantity: 0}},
		DestinationPincode: "110001",
		Subtotal:           100,
	}); !errors.Is(err, ErrShippingInvalidInput) {
		t.Fatalf("expected invalid input for zero quantity, got %v", err)
	}
	if _, err := pricer.Quote(ShippingQuoteRequest{
		Lines:              []domain.ShippingLine{{WeightGrams: 100, Quantity: 1}},
		DestinationPincode: "110001",
		Subtotal:           -1,
	}); !errors.Is(err, ErrShippingInvalidInput) {
		t.Fatalf("expected invalid input for negative subtotal, got %v", err)
	}
}
