// Package geo holds the pure geographic math used by candidate search.
// Everything here is deterministic and allocation-free.
package geo

import (
	"math"

	"github.com/example/courier-dispatch/internal/models"
)

const earthRadiusKm = 6371.0

// DistanceKm returns the haversine great-circle distance between two points
// in kilometers.
func DistanceKm(a, b models.GeoPoint) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// BearingDegrees returns the initial compass bearing from a to b in [0,360).
func BearingDegrees(a, b models.GeoPoint) float64 {
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	dLng := toRad(b.Lng - a.Lng)
	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// IsWithinRadius reports whether point lies within radiusKm of center.
func IsWithinRadius(center, point models.GeoPoint, radiusKm float64) bool {
	return DistanceKm(center, point) <= radiusKm
}

// AverageSpeedKmh is the fixed urban speed assumption per vehicle class.
// Cars sit below motorcycles on purpose: congestion dominates in cities.
func AverageSpeedKmh(v models.VehicleType) float64 {
	switch v {
	case models.VehicleFoot:
		return 5
	case models.VehicleBicycle:
		return 15
	case models.VehicleScooter:
		return 25
	case models.VehicleMotorcycle:
		return 35
	case models.VehicleCar:
		return 30
	}
	return 25
}

// EstimateEtaMinutes converts a distance into whole minutes of travel for
// the given vehicle class. Zero distance yields zero; never negative.
func EstimateEtaMinutes(distanceKm float64, v models.VehicleType) int {
	if distanceKm <= 0 {
		return 0
	}
	return int(math.Round(distanceKm / AverageSpeedKmh(v) * 60))
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
