package models

import (
	"fmt"
	"time"
)

// GeoPoint is a WGS84 position. Accuracy, heading and speed come straight
// from the reporting device and may be zero when the device omits them.
type GeoPoint struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	AccuracyM float64 `json:"accuracy_m,omitempty"`
	Heading   float64 `json:"heading,omitempty"`
	SpeedKmh  float64 `json:"speed_kmh,omitempty"`
}

// Valid reports whether the point lies inside the WGS84 coordinate domain.
func (p GeoPoint) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

type VehicleType string

const (
	VehicleFoot       VehicleType = "foot"
	VehicleBicycle    VehicleType = "bicycle"
	VehicleScooter    VehicleType = "scooter"
	VehicleMotorcycle VehicleType = "motorcycle"
	VehicleCar        VehicleType = "car"
)

// ParseVehicleType validates a wire value against the closed vehicle set.
func ParseVehicleType(s string) (VehicleType, error) {
	switch v := VehicleType(s); v {
	case VehicleFoot, VehicleBicycle, VehicleScooter, VehicleMotorcycle, VehicleCar:
		return v, nil
	}
	return "", fmt.Errorf("unknown vehicle type %q", s)
}

type CourierStatus string

const (
	StatusAvailable  CourierStatus = "available"
	StatusBusy       CourierStatus = "busy"
	StatusOnDelivery CourierStatus = "on_delivery"
	StatusOffline    CourierStatus = "offline"
)

func ParseCourierStatus(s string) (CourierStatus, error) {
	switch v := CourierStatus(s); v {
	case StatusAvailable, StatusBusy, StatusOnDelivery, StatusOffline:
		return v, nil
	}
	return "", fmt.Errorf("unknown courier status %q", s)
}

// CourierRecord is the registry's view of a courier. The engine reads it to
// build candidate pools and writes back only load/status changes.
type CourierRecord struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Vehicle     VehicleType   `json:"vehicle"`
	Rating      float64       `json:"rating"`      // 1.0..5.0
	TrustScore  float64       `json:"trust_score"` // 0..100
	MaxCapacity int           `json:"max_capacity"`
	CurrentLoad int           `json:"current_load"`
	BatteryPct  *float64      `json:"battery_pct,omitempty"` // electric vehicles only
	RangeKm     *float64      `json:"range_km,omitempty"`
	Status      CourierStatus `json:"status"`
	Active      bool          `json:"active"`
	Online      bool          `json:"online"`
}

// HasSpareCapacity reports whether the courier can take at least n more orders.
func (c CourierRecord) HasSpareCapacity(n int) bool {
	if n < 1 {
		n = 1
	}
	return c.CurrentLoad+n <= c.MaxCapacity
}

// LocationReport is one device position sample. Reports are append-only;
// only the most recent per courier drives live matching.
type LocationReport struct {
	CourierID string        `json:"courier_id"`
	Point     GeoPoint      `json:"point"`
	Status    CourierStatus `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}

// SearchFilter narrows a candidate search. Zero values mean "no constraint";
// MaxDistanceKm of 0 falls back to the system-wide ceiling.
type SearchFilter struct {
	VehicleTypes     []VehicleType   `json:"vehicle_types,omitempty"`
	MinRating        float64         `json:"min_rating,omitempty"`
	MaxDistanceKm    float64         `json:"max_distance_km,omitempty"`
	Statuses         []CourierStatus `json:"statuses,omitempty"`
	MinSpareCapacity int             `json:"min_spare_capacity,omitempty"`
}

// CandidateCourier joins a registry record with its live report and the
// geometry derived from one search center. Never persisted.
type CandidateCourier struct {
	Courier    CourierRecord  `json:"courier"`
	Report     LocationReport `json:"report"`
	DistanceKm float64        `json:"distance_km"`
	BearingDeg float64        `json:"bearing_deg"`
	EtaMinutes int            `json:"eta_minutes"`
	Score      float64        `json:"score"`
}

// CandidateSearchResult is the full answer to one search call. An empty
// candidate list is a valid outcome, not an error.
type CandidateSearchResult struct {
	Candidates     []CandidateCourier `json:"candidates"`
	TotalFound     int                `json:"total_found"`
	MeanDistanceKm float64            `json:"mean_distance_km"`
	Recommended    *CandidateCourier  `json:"recommended,omitempty"`
}

type BidStatus string

const (
	BidPending  BidStatus = "pending"
	BidAccepted BidStatus = "accepted"
	BidRejected BidStatus = "rejected"
	BidExpired  BidStatus = "expired"
)

// Bid is a courier's offer for one order. Rating and trust score are
// snapshots taken at submission time; the bid is judged on those values
// even if the courier's record drifts afterwards.
type Bid struct {
	ID             string      `json:"id"`
	OrderID        string      `json:"order_id"`
	CourierID      string      `json:"courier_id"`
	CourierName    string      `json:"courier_name"`
	DistanceKm     float64     `json:"distance_km"`
	Amount         float64     `json:"amount"`
	ProposedEtaMin int         `json:"proposed_eta_min"`
	Rating         float64     `json:"rating"`
	TrustScore     float64     `json:"trust_score"`
	Vehicle        VehicleType `json:"vehicle"`
	FastPickup     bool        `json:"fast_pickup"`
	Status         BidStatus   `json:"status"`
	SubmittedAt    time.Time   `json:"submitted_at"`
}

// DispatchDecision is the single outcome of a bidding round. A nil
// SelectedBid with FallbackRequired set tells the caller to escalate.
// Rationale is cosmetic and never influences the other fields.
type DispatchDecision struct {
	OrderID          string    `json:"order_id"`
	SelectedBid      *Bid      `json:"selected_bid,omitempty"`
	Rationale        string    `json:"rationale,omitempty"`
	FallbackRequired bool      `json:"fallback_required"`
	DecidedAt        time.Time `json:"decided_at"`
}

// Money is an integer amount in minor units plus ISO currency code.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// OrderContext is the read-only slice of an order the engine needs:
// geometry, vehicle constraints and the commission on offer.
type OrderContext struct {
	OrderID              string        `json:"order_id"`
	RequesterID          string        `json:"requester_id"`
	Pickup               GeoPoint      `json:"pickup"`
	Dropoff              GeoPoint      `json:"dropoff"`
	RequiredVehicleTypes []VehicleType `json:"required_vehicle_types,omitempty"`
	BaseCommission       Money         `json:"base_commission"`
}

// AllowsVehicle reports whether v satisfies the order's vehicle constraint.
// An empty required set allows every vehicle.
func (o OrderContext) AllowsVehicle(v VehicleType) bool {
	if len(o.RequiredVehicleTypes) == 0 {
		return true
	}
	for _, rv := range o.RequiredVehicleTypes {
		if rv == v {
			return true
		}
	}
	return false
}

// AssignmentOffer is what the winning courier's device receives.
type AssignmentOffer struct {
	OrderID    string   `json:"order_id"`
	CourierID  string   `json:"courier_id"`
	Pickup     GeoPoint `json:"pickup"`
	DistanceKm float64  `json:"distance_km"`
	EtaMinutes int      `json:"eta_minutes"`
	Amount     float64  `json:"amount"`
}
