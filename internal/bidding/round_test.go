package bidding

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/courier-dispatch/internal/lifecycle"
	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/orders"
	"github.com/example/courier-dispatch/internal/registry"
	"github.com/example/courier-dispatch/internal/storage"
)

type fixture struct {
	engine   *Engine
	registry *registry.MemoryRegistry
	machine  *lifecycle.Machine
	store    *storage.MemoryStore
}

func newFixture(t *testing.T, required ...models.VehicleType) *fixture {
	t.Helper()
	src := orders.NewMemorySource()
	src.Put(models.OrderContext{
		OrderID:              "o1",
		RequesterID:          "req-1",
		Pickup:               models.GeoPoint{Lat: 32.08, Lng: 34.78},
		Dropoff:              models.GeoPoint{Lat: 32.09, Lng: 34.80},
		RequiredVehicleTypes: required,
		BaseCommission:       models.Money{Amount: 2500, Currency: "ILS"},
	})
	reg := registry.NewMemoryRegistry()
	for _, id := range []string{"A", "B"} {
		reg.Put(models.CourierRecord{
			ID: id, Vehicle: models.VehicleMotorcycle, Rating: 4.5, TrustScore: 80,
			MaxCapacity: 3, Status: models.StatusAvailable, Active: true, Online: true,
		})
	}
	store := storage.NewMemoryStore()
	machine := lifecycle.NewMachine(reg)
	e := NewEngine(src, store)
	e.Registry = reg
	e.Machine = machine
	e.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{engine: e, registry: reg, machine: machine, store: store}
}

func bid(courier string, trust float64, eta int, rating, amount float64, fast bool) models.Bid {
	return models.Bid{
		OrderID: "o1", CourierID: courier, CourierName: "courier " + courier,
		TrustScore: trust, ProposedEtaMin: eta, Rating: rating, Amount: amount,
		Vehicle: models.VehicleMotorcycle, FastPickup: fast, DistanceKm: 1,
	}
}

func TestZeroBidsFallsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.engine.OpenRound(ctx, "o1", 20*time.Millisecond, 0); err != nil {
		t.Fatal(err)
	}
	d, err := f.engine.Resolve(ctx, "o1")
	if err != nil {
		t.Fatal(err)
	}
	if !d.FallbackRequired || d.SelectedBid != nil {
		t.Fatalf("expected fallback with no winner, got %+v", d)
	}
	if d.Rationale == "" {
		t.Fatal("fallback must carry a rationale")
	}
}

func TestBestBidWinsAndLosersRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.engine.OpenRound(ctx, "o1", 50*time.Millisecond, 0); err != nil {
		t.Fatal(err)
	}
	// Scores 120.6 vs 86: A must win.
	if _, err := f.engine.SubmitBid(ctx, bid("A", 92, 15, 4.8, 20, true)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.SubmitBid(ctx, bid("B", 80, 25, 4.2, 15, false)); err != nil {
		t.Fatal(err)
	}
	d, err := f.engine.Resolve(ctx, "o1")
	if err != nil {
		t.Fatal(err)
	}
	if d.SelectedBid == nil || d.SelectedBid.CourierID != "A" {
		t.Fatalf("expected A to win, got %+v", d.SelectedBid)
	}
	if d.SelectedBid.Status != models.BidAccepted {
		t.Fatalf("winner status = %s", d.SelectedBid.Status)
	}
	bids, _ := f.engine.Bids("o1")
	for _, b := range bids {
		want := models.BidRejected
		if b.CourierID == "A" {
			want = models.BidAccepted
		}
		if b.Status != want {
			t.Fatalf("bid %s status = %s, want %s", b.CourierID, b.Status, want)
		}
	}
	// Side effects: winner is loaded, busy and assigned.
	c, _, _ := f.registry.GetCourier(ctx, "A")
	if c.CurrentLoad != 1 || c.Status != models.StatusBusy {
		t.Fatalf("winner not marked busy: %+v", c)
	}
	if st, _ := f.machine.Current("o1"); st != lifecycle.StateAssigned {
		t.Fatalf("order state = %s", st)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.engine.OpenRound(ctx, "o1", 20*time.Millisecond, 0)
	_, _ = f.engine.SubmitBid(ctx, bid("A", 92, 15, 4.8, 20, true))

	first, err := f.engine.Resolve(ctx, "o1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.engine.Resolve(ctx, "o1")
	if err != nil {
		t.Fatal(err)
	}
	if first.SelectedBid.ID != second.SelectedBid.ID || !first.DecidedAt.Equal(second.DecidedAt) {
		t.Fatalf("replay differs: %+v vs %+v", first, second)
	}
	// Winner's load must not be double-counted.
	c, _, _ := f.registry.GetCourier(ctx, "A")
	if c.CurrentLoad != 1 {
		t.Fatalf("load = %d after replay", c.CurrentLoad)
	}
}

func TestVehicleMismatchRejectedAtSubmission(t *testing.T) {
	f := newFixture(t, models.VehicleCar)
	ctx := context.Background()
	_, _ = f.engine.OpenRound(ctx, "o1", 50*time.Millisecond, 0)

	_, err := f.engine.SubmitBid(ctx, bid("A", 92, 15, 4.8, 20, true))
	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectionError, got %v", err)
	}
	if !strings.Contains(rej.Reason, "vehicle") {
		t.Fatalf("reason should name the vehicle mismatch: %q", rej.Reason)
	}
	if bids, _ := f.engine.Bids("o1"); len(bids) != 0 {
		t.Fatal("ineligible bid entered the round")
	}
}

func TestAllBidsIneligibleFallsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.engine.OpenRound(ctx, "o1", 20*time.Millisecond, 0)
	_, _ = f.engine.SubmitBid(ctx, bid("A", 92, 15, 4.8, 20, true))

	// Constraints changed mid-round: resolve's defensive filter must catch it.
	r, _ := f.engine.round("o1")
	r.mu.Lock()
	r.order.RequiredVehicleTypes = []models.VehicleType{models.VehicleBicycle}
	r.mu.Unlock()

	d, err := f.engine.Resolve(ctx, "o1")
	if err != nil {
		t.Fatal(err)
	}
	if !d.FallbackRequired || d.SelectedBid != nil {
		t.Fatalf("expected fallback, got %+v", d)
	}
	if !strings.Contains(d.Rationale, "vehicle") {
		t.Fatalf("rationale should mention vehicle mismatch: %q", d.Rationale)
	}
}

func TestLateBidExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.engine.OpenRound(ctx, "o1", 20*time.Millisecond, 0)
	_, _ = f.engine.Resolve(ctx, "o1")

	late, err := f.engine.SubmitBid(ctx, bid("B", 80, 25, 4.2, 15, false))
	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectionError, got %v", err)
	}
	if late.Status != models.BidExpired {
		t.Fatalf("late bid status = %s, want expired", late.Status)
	}
}

func TestQuorumShortCircuitsWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.engine.OpenRound(ctx, "o1", 5*time.Second, 1)
	_, _ = f.engine.SubmitBid(ctx, bid("A", 92, 15, 4.8, 20, true))

	start := time.Now()
	d, err := f.engine.Resolve(ctx, "o1")
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("quorum did not short-circuit the window: %s", elapsed)
	}
	if d.SelectedBid == nil {
		t.Fatal("expected a winner")
	}
}

func TestCancellationBeatsWinningBid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.engine.OpenRound(ctx, "o1", 200*time.Millisecond, 0)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = f.engine.SubmitBid(ctx, bid("A", 92, 15, 4.8, 20, true))
	}()
	go func() {
		defer wg.Done()
		_ = f.engine.CancelRound("o1")
	}()
	wg.Wait()

	_, err := f.engine.Resolve(ctx, "o1")
	if !errors.Is(err, ErrRoundCancelled) {
		t.Fatalf("expected ErrRoundCancelled, got %v", err)
	}
	if st, ok := f.machine.Current("o1"); ok && st == lifecycle.StateAssigned {
		t.Fatal("cancelled round must never produce an assignment")
	}
	// Any bid that made it in before the cancel is expired, never accepted.
	if bids, ok := f.engine.Bids("o1"); ok {
		for _, b := range bids {
			if b.Status == models.BidAccepted {
				t.Fatalf("bid %s accepted after cancellation", b.ID)
			}
		}
	}
}

func TestResolveUnknownOrder(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.Resolve(context.Background(), "ghost"); !errors.Is(err, ErrUnknownRound) {
		t.Fatalf("expected ErrUnknownRound, got %v", err)
	}
}

func TestResolveReplaysPersistedDecisionAfterRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stored := models.DispatchDecision{OrderID: "o9", FallbackRequired: true, Rationale: "no bids arrived within the collection window", DecidedAt: time.Now()}
	if err := f.store.SaveDecision(ctx, stored); err != nil {
		t.Fatal(err)
	}
	d, err := f.engine.Resolve(ctx, "o9")
	if err != nil {
		t.Fatal(err)
	}
	if !d.FallbackRequired || d.OrderID != "o9" {
		t.Fatalf("expected stored decision replay, got %+v", d)
	}
}

func TestOpenRoundTwiceFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.engine.OpenRound(ctx, "o1", time.Second, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.OpenRound(ctx, "o1", time.Second, 0); !errors.Is(err, ErrRoundExists) {
		t.Fatalf("expected ErrRoundExists, got %v", err)
	}
}

func TestOpenRoundUnknownOrder(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.OpenRound(context.Background(), "nope", time.Second, 0); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
