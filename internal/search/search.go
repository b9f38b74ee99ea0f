// Package search builds ranked candidate pools for a pickup point.
package search

import (
	"context"
	"fmt"
	"sort"

	"github.com/example/courier-dispatch/internal/geo"
	"github.com/example/courier-dispatch/internal/location"
	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/registry"
)

// DefaultMaxRadiusKm caps a search when the filter does not set its own limit.
const DefaultMaxRadiusKm = 15.0

// Candidate score weights. Distance dominates; battery barely nudges.
const (
	weightDistance = 0.35
	weightRating   = 0.25
	weightTrust    = 0.20
	weightLoad     = 0.15
	weightBattery  = 0.05
)

type Service struct {
	Registry    registry.Registry
	Locations   location.Store
	MaxRadiusKm float64 // 0 means DefaultMaxRadiusKm
}

// FindNearestCouriers returns up to maxResults candidates around center,
// best-scored first. Couriers without a fresh location report are dropped
// silently: for matching purposes they are offline. An empty result is a
// valid "no one dispatchable" outcome; a registry fault is a hard error.
func (s *Service) FindNearestCouriers(ctx context.Context, center models.GeoPoint, filter models.SearchFilter, maxResults int) (models.CandidateSearchResult, error) {
	if !center.Valid() {
		return models.CandidateSearchResult{}, fmt.Errorf("invalid search center %+v", center)
	}
	if maxResults <= 0 {
		maxResults = 10
	}
	ceiling := filter.MaxDistanceKm
	if ceiling <= 0 {
		ceiling = s.MaxRadiusKm
	}
	if ceiling <= 0 {
		ceiling = DefaultMaxRadiusKm
	}

	couriers, err := s.Registry.ListActive(ctx)
	if err != nil {
		return models.CandidateSearchResult{}, fmt.Errorf("list active couriers: %w", err)
	}

	cands := make([]models.CandidateCourier, 0, len(couriers))
	var sumDist float64
	for _, c := range couriers {
		if !matchesRecord(c, filter) {
			continue
		}
		rep, ok, err := s.Locations.LatestFresh(ctx, c.ID)
		if err != nil {
			return models.CandidateSearchResult{}, fmt.Errorf("latest report for %s: %w", c.ID, err)
		}
		if !ok || !matchesStatus(rep.Status, filter.Statuses) {
			continue
		}
		// Distance, bearing and ETA all derive from this one report snapshot.
		dist := geo.DistanceKm(center, rep.Point)
		if dist > ceiling {
			continue
		}
		cands = append(cands, models.CandidateCourier{
			Courier:    c,
			Report:     rep,
			DistanceKm: dist,
			BearingDeg: geo.BearingDegrees(rep.Point, center),
			EtaMinutes: geo.EstimateEtaMinutes(dist, c.Vehicle),
			Score:      CandidateScore(c, dist),
		})
		sumDist += dist
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		if cands[i].DistanceKm != cands[j].DistanceKm {
			return cands[i].DistanceKm < cands[j].DistanceKm
		}
		return cands[i].Courier.ID < cands[j].Courier.ID
	})

	res := models.CandidateSearchResult{TotalFound: len(cands)}
	if len(cands) > 0 {
		res.MeanDistanceKm = sumDist / float64(len(cands))
	}
	if len(cands) > maxResults {
		cands = cands[:maxResults]
	}
	res.Candidates = cands
	if len(cands) > 0 {
		top := cands[0]
		res.Recommended = &top
	}
	return res, nil
}

// CandidateScore is the weighted fitness of one courier at a given distance.
// Higher is better. Unknown battery is treated neutrally.
func CandidateScore(c models.CourierRecord, distanceKm float64) float64 {
	distanceScore := 10 - distanceKm
	if distanceScore < 0 {
		distanceScore = 0
	}
	ratingScore := c.Rating * 2
	trustScore := c.TrustScore / 10
	loadScore := 5 - float64(c.CurrentLoad)
	if loadScore < 0 {
		loadScore = 0
	}
	batteryScore := 5.0
	if c.BatteryPct != nil {
		batteryScore = *c.BatteryPct / 20
	}
	return weightDistance*distanceScore +
		weightRating*ratingScore +
		weightTrust*trustScore +
		weightLoad*loadScore +
		weightBattery*batteryScore
}

func matchesRecord(c models.CourierRecord, f models.SearchFilter) bool {
	// A courier at capacity never takes new work, filter or not.
	if !c.HasSpareCapacity(f.MinSpareCapacity) {
		return false
	}
	if c.Rating < f.MinRating {
		return false
	}
	if len(f.VehicleTypes) > 0 {
		found := false
		for _, v := range f.VehicleTypes {
			if v == c.Vehicle {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func matchesStatus(status models.CourierStatus, allowed []models.CourierStatus) bool {
	if len(allowed) == 0 {
		// Default pool for new work: free or lightly loaded couriers.
		return status == models.StatusAvailable || status == models.StatusBusy
	}
	for _, a := range allowed {
		if a == status {
			return true
		}
	}
	return false
}
