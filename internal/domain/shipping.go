package domain

// DeliveryZone groups destination pincodes sharing the same delivery-time
// and service-availability profile.
type DeliveryZone string

const (
	// ZoneMetroExpress covers the dense-metro pincode ranges with same or
	// next-day delivery and optional express service.
	ZoneMetroExpress DeliveryZone = "metro_express"
	// ZoneMetro covers the remaining metro-city pincode ranges.
	ZoneMetro DeliveryZone = "metro"
	// ZoneNational is the catch-all zone with the widest delivery window.
	// Unrecognized or malformed pincodes resolve here.
	ZoneNational DeliveryZone = "national"
)

// ShippingQuote captures the outputs of pricing shipping for a destination.
type ShippingQuote struct {
	Charge       int64
	WeightGrams  int64
	Zone         DeliveryZone
	Express      bool
	FreeShipping bool
	MinDays      int
	MaxDays      int
	Breakdown    ShippingBreakdown
}

// ShippingBreakdown lists the individual components of a shipping charge.
// Discount records the waived standard charge when free shipping applies.
type ShippingBreakdown struct {
	BaseCharge       int64
	WeightCharge     int64
	ItemCharge       int64
	ExpressSurcharge int64
	Discount         int64
}

// ShippingLine is the minimal per-line input needed to price shipping.
type ShippingLine struct {
	WeightGrams int64
	Quantity    int
}

// ShippingRates is the externally configured rate card consumed by the
// shipping pricer. Amounts are in minor currency units.
type ShippingRates struct {
	BaseRate               int64
	PerKgRate              int64
	PerItemRate            int64
	IncludedWeightGrams    int64
	DefaultItemWeightGrams int64
	ExpressSurcharge       int64
	FreeShippingThreshold  int64
}
