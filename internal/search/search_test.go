package search

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/example/courier-dispatch/internal/location"
	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/registry"
)

var center = models.GeoPoint{Lat: 32.0853, Lng: 34.7818}

// offsetKm places a point roughly km kilometers north of center.
func offsetKm(km float64) models.GeoPoint {
	return models.GeoPoint{Lat: center.Lat + km/111.0, Lng: center.Lng}
}

func courier(id string, vehicle models.VehicleType, rating, trust float64, load, capacity int) models.CourierRecord {
	return models.CourierRecord{
		ID: id, Name: "courier " + id, Vehicle: vehicle,
		Rating: rating, TrustScore: trust,
		CurrentLoad: load, MaxCapacity: capacity,
		Status: models.StatusAvailable, Active: true, Online: true,
	}
}

func fixture(t *testing.T, couriers []models.CourierRecord, reports map[string]models.LocationReport) *Service {
	t.Helper()
	reg := registry.NewMemoryRegistry()
	for _, c := range couriers {
		reg.Put(c)
	}
	store := location.NewMemoryStore(5 * time.Minute)
	for _, r := range reports {
		if err := store.RecordReport(context.Background(), r); err != nil {
			t.Fatal(err)
		}
	}
	return &Service{Registry: reg, Locations: store}
}

func report(id string, p models.GeoPoint, status models.CourierStatus, at time.Time) map[string]models.LocationReport {
	return map[string]models.LocationReport{
		id: {CourierID: id, Point: p, Status: status, Timestamp: at},
	}
}

func TestAtCapacityCourierNeverReturned(t *testing.T) {
	full := courier("full", models.VehicleCar, 5, 90, 3, 3)
	free := courier("free", models.VehicleCar, 4, 80, 0, 3)
	reports := map[string]models.LocationReport{
		"full": {CourierID: "full", Point: offsetKm(1), Status: models.StatusBusy, Timestamp: time.Now()},
		"free": {CourierID: "free", Point: offsetKm(1), Status: models.StatusAvailable, Timestamp: time.Now()},
	}
	svc := fixture(t, []models.CourierRecord{full, free}, reports)
	res, err := svc.FindNearestCouriers(context.Background(), center, models.SearchFilter{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalFound != 1 || res.Candidates[0].Courier.ID != "free" {
		t.Fatalf("courier at capacity leaked into results: %+v", res.Candidates)
	}
}

func TestStaleReportExcludesActiveCourier(t *testing.T) {
	c := courier("c1", models.VehicleBicycle, 4.5, 70, 0, 2)
	svc := fixture(t, []models.CourierRecord{c},
		report("c1", offsetKm(1), models.StatusAvailable, time.Now().Add(-10*time.Minute)))
	res, err := svc.FindNearestCouriers(context.Background(), center, models.SearchFilter{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalFound != 0 {
		t.Fatalf("stale courier should be dropped, got %d candidates", res.TotalFound)
	}
	if res.Recommended != nil {
		t.Fatal("recommended must be absent for an empty pool")
	}
}

func TestDistanceCeiling(t *testing.T) {
	near := courier("near", models.VehicleCar, 3, 50, 0, 2)
	far := courier("far", models.VehicleCar, 5, 99, 0, 2)
	reports := map[string]models.LocationReport{
		"near": {CourierID: "near", Point: offsetKm(2), Status: models.StatusAvailable, Timestamp: time.Now()},
		"far":  {CourierID: "far", Point: offsetKm(20), Status: models.StatusAvailable, Timestamp: time.Now()},
	}
	svc := fixture(t, []models.CourierRecord{near, far}, reports)
	res, err := svc.FindNearestCouriers(context.Background(), center, models.SearchFilter{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalFound != 1 || res.Candidates[0].Courier.ID != "near" {
		t.Fatalf("default 15km ceiling not applied: %+v", res.Candidates)
	}
}

func TestVehicleAndRatingFilters(t *testing.T) {
	bike := courier("bike", models.VehicleBicycle, 4.8, 70, 0, 2)
	car := courier("car", models.VehicleCar, 4.9, 70, 0, 2)
	lowRated := courier("low", models.VehicleBicycle, 3.0, 70, 0, 2)
	reports := map[string]models.LocationReport{}
	for _, id := range []string{"bike", "car", "low"} {
		reports[id] = models.LocationReport{CourierID: id, Point: offsetKm(1), Status: models.StatusAvailable, Timestamp: time.Now()}
	}
	svc := fixture(t, []models.CourierRecord{bike, car, lowRated}, reports)
	f := models.SearchFilter{
		VehicleTypes: []models.VehicleType{models.VehicleBicycle},
		MinRating:    4.0,
	}
	res, err := svc.FindNearestCouriers(context.Background(), center, f, 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalFound != 1 || res.Candidates[0].Courier.ID != "bike" {
		t.Fatalf("filter mismatch: %+v", res.Candidates)
	}
}

func TestBestScoredFirstNotNearestFirst(t *testing.T) {
	// "close" is nearer but weak on every other axis; "strong" should win.
	close := courier("close", models.VehicleCar, 1.5, 10, 4, 5)
	strong := courier("strong", models.VehicleCar, 5, 95, 0, 5)
	reports := map[string]models.LocationReport{
		"close":  {CourierID: "close", Point: offsetKm(1), Status: models.StatusAvailable, Timestamp: time.Now()},
		"strong": {CourierID: "strong", Point: offsetKm(4), Status: models.StatusAvailable, Timestamp: time.Now()},
	}
	svc := fixture(t, []models.CourierRecord{close, strong}, reports)
	res, err := svc.FindNearestCouriers(context.Background(), center, models.SearchFilter{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.Candidates[0].Courier.ID != "strong" {
		t.Fatalf("expected weighted ranking to promote strong, got %s first", res.Candidates[0].Courier.ID)
	}
	if res.Recommended == nil || res.Recommended.Courier.ID != "strong" {
		t.Fatalf("recommended should point at the top candidate")
	}
}

func TestCandidateScoreFormula(t *testing.T) {
	battery := 80.0
	c := models.CourierRecord{Rating: 4.0, TrustScore: 80, CurrentLoad: 1, BatteryPct: &battery}
	// 0.35*(10-2) + 0.25*8 + 0.20*8 + 0.15*4 + 0.05*4 = 2.8+2+1.6+0.6+0.2
	want := 7.2
	if got := CandidateScore(c, 2); math.Abs(got-want) > 1e-9 {
		t.Fatalf("score: got %f want %f", got, want)
	}
	// Unknown battery is neutral (5 points on that axis).
	c.BatteryPct = nil
	want = 7.25
	if got := CandidateScore(c, 2); math.Abs(got-want) > 1e-9 {
		t.Fatalf("neutral battery score: got %f want %f", got, want)
	}
}

type failingRegistry struct{}

func (failingRegistry) GetCourier(ctx context.Context, id string) (models.CourierRecord, bool, error) {
	return models.CourierRecord{}, false, registry.ErrUnavailable
}
func (failingRegistry) ListActive(ctx context.Context) ([]models.CourierRecord, error) {
	return nil, registry.ErrUnavailable
}
func (failingRegistry) UpdateLoad(ctx context.Context, id string, delta int) error {
	return registry.ErrUnavailable
}
func (failingRegistry) UpdateStatus(ctx context.Context, id string, status models.CourierStatus) error {
	return registry.ErrUnavailable
}

func TestRegistryFaultIsFatal(t *testing.T) {
	svc := &Service{Registry: failingRegistry{}, Locations: location.NewMemoryStore(time.Minute)}
	_, err := svc.FindNearestCouriers(context.Background(), center, models.SearchFilter{}, 10)
	if !errors.Is(err, registry.ErrUnavailable) {
		t.Fatalf("expected registry fault to surface, got %v", err)
	}
}

func TestInvalidCenterRejected(t *testing.T) {
	svc := fixture(t, nil, nil)
	if _, err := svc.FindNearestCouriers(context.Background(), models.GeoPoint{Lat: 99, Lng: 0}, models.SearchFilter{}, 10); err == nil {
		t.Fatal("expected invalid center to be rejected")
	}
}
