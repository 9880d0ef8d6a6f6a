package services

import (
	"errors"
	"fmt"
	"strings"

	domain "github.com/greenbasket/api/internal/domain"
)

var (
	// ErrShippingInvalidInput signals bad request data such as missing lines or negative quantities.
	ErrShippingInvalidInput = errors.New("shipping pricer: invalid input")
	// ErrShippingExpressUnavailable is returned when express service is requested outside the express zone.
	ErrShippingExpressUnavailable = errors.New("shipping pricer: express unavailable for zone")
)

// pincodeRange maps an inclusive 6-digit pincode range to a delivery zone.
type pincodeRange struct {
	low  int
	high int
	zone domain.DeliveryZone
}

// Zone boundaries follow the carrier rate card. Anything outside these
// ranges, including malformed pincodes, ships in the national zone.
var zoneRanges = []pincodeRange{
	{110001, 110096, domain.ZoneMetroExpress}, // Delhi
	{400001, 400104, domain.ZoneMetroExpress}, // Mumbai
	{560001, 560109, domain.ZoneMetroExpress}, // Bengaluru
	{122001, 122108, domain.ZoneMetro},        // Gurugram
	{201301, 201318, domain.ZoneMetro},        // Noida
	{500001, 500097, domain.ZoneMetro},        // Hyderabad
	{600001, 600123, domain.ZoneMetro},        // Chennai
	{700001, 700163, domain.ZoneMetro},        // Kolkata
	{411001, 411062, domain.ZoneMetro},        // Pune
}

type zoneWindow struct {
	minDays int
	maxDays int
}

var zoneWindows = map[domain.DeliveryZone]zoneWindow{
	domain.ZoneMetroExpress: {minDays: 0, maxDays: 1},
	domain.ZoneMetro:        {minDays: 2, maxDays: 4},
	domain.ZoneNational:     {minDays: 4, maxDays: 8},
}

// ShippingPricer prices shipping for a destination from a configured rate
// card. It performs no I/O and is deterministic for identical inputs, so the
// preview path and the order-creation path cannot drift.
type ShippingPricer struct {
	rates domain.ShippingRates
}

// ShippingQuoteRequest carries the inputs for one shipping quote.
type ShippingQuoteRequest struct {
	Lines              []domain.ShippingLine
	DestinationPincode string
	Subtotal           int64
	Express            bool
}

const (
	defaultItemWeightGrams = 500
	gramsPerKg             = 1000
)

// NewShippingPricer validates the rate card and constructs a pricer.
func NewShippingPricer(rates domain.ShippingRates) (*ShippingPricer, error) {
	if rates.BaseRate < 0 || rates.PerKgRate < 0 || rates.PerItemRate < 0 {
		return nil, errors.New("shipping pricer: rates cannot be negative")
	}
	if rates.ExpressSurcharge < 0 || rates.FreeShippingThreshold < 0 {
		return nil, errors.New("shipping pricer: rates cannot be negative")
	}
	if rates.IncludedWeightGrams < 0 {
		return nil, errors.New("shipping pricer: included weight cannot be negative")
	}
	if rates.DefaultItemWeightGrams <= 0 {
		rates.DefaultItemWeightGrams = defaultItemWeightGrams
	}
	return &ShippingPricer{rates: rates}, nil
}

// Quote computes the shipping charge and delivery-zone metadata for the
// given lines and destination.
func (p *ShippingPricer) Quote(req ShippingQuoteRequest) (domain.ShippingQuote, error) {
	if p == nil {
		return domain.ShippingQuote{}, errors.New("shipping pricer not initialised")
	}
	if len(req.Lines) == 0 {
		return domain.ShippingQuote{}, fmt.Errorf("%w: at least one line is required", ErrShippingInvalidInput)
	}
	if req.Subtotal < 0 {
		return domain.ShippingQuote{}, fmt.Errorf("%w: subtotal cannot be negative", ErrShippingInvalidInput)
	}

	var weightTotal int64
	var itemCount int64
	for i, line := range req.Lines {
		if line.Quantity <= 0 {
			return domain.ShippingQuote{}, fmt.Errorf("%w: line %d quantity must be positive", ErrShippingInvalidInput, i)
		}
		if line.WeightGrams < 0 {
			return domain.ShippingQuote{}, fmt.Errorf("%w: line %d weight cannot be negative", ErrShippingInvalidInput, i)
		}
		weight := line.WeightGrams
		if weight == 0 {
			weight = p.rates.DefaultItemWeightGrams
		}
		weightTotal += weight * int64(line.Quantity)
		itemCount += int64(line.Quantity)
	}

	zone := ResolveDeliveryZone(req.DestinationPincode)
	if req.Express && zone != domain.ZoneMetroExpress {
		return domain.ShippingQuote{}, fmt.Errorf("%w: %s", ErrShippingExpressUnavailable, zone)
	}

	breakdown := domain.ShippingBreakdown{BaseCharge: p.rates.BaseRate}
	if excess := weightTotal - p.rates.IncludedWeightGrams; excess > 0 {
		blocks := (excess + gramsPerKg - 1) / gramsPerKg
		breakdown.WeightCharge = blocks * p.rates.PerKgRate
	}
	if itemCount > 1 {
		breakdown.ItemCharge = (itemCount - 1) * p.rates.PerItemRate
	}

	standard := breakdown.BaseCharge + breakdown.WeightCharge + breakdown.ItemCharge
	charge := standard

	freeShipping := p.rates.FreeShippingThreshold > 0 && req.Subtotal >= p.rates.FreeShippingThreshold
	if freeShipping {
		breakdown.Discount = standard
		charge = 0
	}

	window := zoneWindows[zone]
	minDays, maxDays := window.minDays, window.maxDays
	if req.Express {
		breakdown.ExpressSurcharge = p.rates.ExpressSurcharge
		charge += p.rates.ExpressSurcharge
		maxDays = minDays
	}

	return domain.ShippingQuote{
		Charge:       charge,
		WeightGrams:  weightTotal,
		Zone:         zone,
		Express:      req.Express,
		FreeShipping: freeShipping,
		MinDays:      minDays,
		MaxDays:      maxDays,
		Breakdown:    breakdown,
	}, nil
}

// ResolveDeliveryZone maps a destination pincode onto a delivery zone.
// Malformed or unknown pincodes resolve to the national catch-all zone.
func ResolveDeliveryZone(pincode string) domain.DeliveryZone {
	trimmed := strings.TrimSpace(pincode)
	if len(trimmed) != 6 {
		return domain.ZoneNational
	}
	value := 0
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return domain.ZoneNational
		}
		value = value*10 + int(r-'0')
	}
	for _, rng := range zoneRanges {
		if value >= rng.low && value <= rng.high {
			return rng.zone
		}
	}
	return domain.ZoneNational
}
