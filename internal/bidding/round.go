// Package bidding runs the competitive round that turns couriers' bids into
// a single dispatch decision per order.
package bidding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/courier-dispatch/internal/dispatch"
	"github.com/example/courier-dispatch/internal/lifecycle"
	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/narrative"
	"github.com/example/courier-dispatch/internal/observability"
	"github.com/example/courier-dispatch/internal/orders"
	"github.com/example/courier-dispatch/internal/ranking"
	"github.com/example/courier-dispatch/internal/registry"
	"github.com/example/courier-dispatch/internal/storage"
)

var (
	ErrUnknownRound   = errors.New("no bidding round for order")
	ErrRoundExists    = errors.New("bidding round already open for order")
	ErrRoundCancelled = errors.New("bidding round cancelled")
	ErrOrderNotFound  = errors.New("order not found")
)

// RejectionError is the typed, expected outcome for an ineligible bid. It is
// not a system fault; callers are told why so the courier can be informed.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string { return "bid rejected: " + e.Reason }

type roundState int

const (
	roundOpen roundState = iota
	roundResolving
	roundDecided
	roundFallback
	roundCancelled
)

type round struct {
	order    models.OrderContext
	window   time.Duration
	minBids  int
	openedAt time.Time

	// resolveMu serializes resolutions for this order only. It is held
	// across the collection wait; mu guards the mutable fields below and is
	// never held while sleeping.
	resolveMu sync.Mutex
	mu        sync.Mutex
	state     roundState
	bids      []models.Bid
	decision  *models.DispatchDecision

	quorum     chan struct{}
	quorumOnce sync.Once
	cancelled  chan struct{}
	cancelOnce sync.Once
}

// RoundHandle describes an opened round to the caller.
type RoundHandle struct {
	OrderID  string        `json:"order_id"`
	OpenedAt time.Time     `json:"opened_at"`
	Window   time.Duration `json:"window"`
	MinBids  int           `json:"min_bids"`
}

// Engine orchestrates rounds across many independent orders. Rounds for
// different orders run fully in parallel; a single order's submissions and
// resolution are serialized on that round's own locks.
type Engine struct {
	Orders   orders.Source
	Store    storage.DecisionStore
	Registry registry.Registry
	Machine  *lifecycle.Machine
	Dispatch dispatch.Dispatcher
	Narrator narrative.Narrator
	Logger   *slog.Logger

	DefaultWindow  time.Duration
	DefaultMinBids int

	mu     sync.Mutex
	rounds map[string]*round
	now    func() time.Time
}

func NewEngine(src orders.Source, store storage.DecisionStore) *Engine {
	return &Engine{
		Orders:        src,
		Store:         store,
		Logger:        slog.Default(),
		DefaultWindow: 30 * time.Second,
		rounds:        make(map[string]*round),
		now:           time.Now,
	}
}

// OpenRound starts collecting bids for an order. The window and bid-count
// threshold come from the caller (or engine defaults), never hard-coded.
func (e *Engine) OpenRound(ctx context.Context, orderID string, window time.Duration, minBids int) (RoundHandle, error) {
	octx, ok, err := e.Orders.GetOrderContext(ctx, orderID)
	if err != nil {
		return RoundHandle{}, fmt.Errorf("order context for %s: %w", orderID, err)
	}
	if !ok {
		return RoundHandle{}, fmt.Errorf("order %s: %w", orderID, ErrOrderNotFound)
	}
	if window <= 0 {
		window = e.DefaultWindow
	}
	if minBids <= 0 {
		minBids = e.DefaultMinBids
	}

	e.mu.Lock()
	if _, exists := e.rounds[orderID]; exists {
		e.mu.Unlock()
		return RoundHandle{}, fmt.Errorf("order %s: %w", orderID, ErrRoundExists)
	}
	r := &round{
		order:     octx,
		window:    window,
		minBids:   minBids,
		openedAt:  e.now(),
		state:     roundOpen,
		quorum:    make(chan struct{}),
		cancelled: make(chan struct{}),
	}
	e.rounds[orderID] = r
	e.mu.Unlock()

	if e.Machine != nil {
		e.Machine.Begin(orderID, octx.RequesterID)
	}
	observability.RoundsOpened.Inc()
	e.Logger.Info("round opened", "order_id", orderID, "window", window, "min_bids", minBids)
	return RoundHandle{OrderID: orderID, OpenedAt: r.openedAt, Window: window, MinBids: minBids}, nil
}

// SubmitBid accepts a bid into its order's open round. Ineligible bids are
// rejected immediately with a reason; bids arriving after resolution come
// back marked expired.
func (e *Engine) SubmitBid(ctx context.Context, bid models.Bid) (models.Bid, error) {
	if bid.OrderID == "" || bid.CourierID == "" {
		return bid, fmt.Errorf("bid missing order or courier reference")
	}
	if _, err := models.ParseVehicleType(string(bid.Vehicle)); err != nil {
		return bid, err
	}

	r, ok := e.round(bid.OrderID)
	if !ok {
		if _, found, err := e.Store.GetDecision(ctx, bid.OrderID); err == nil && found {
			bid.Status = models.BidExpired
			observability.BidsRejected.WithLabelValues("round_resolved").Inc()
			return bid, &RejectionError{Reason: "round already resolved"}
		}
		return bid, fmt.Errorf("order %s: %w", bid.OrderID, ErrUnknownRound)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case roundCancelled:
		bid.Status = models.BidExpired
		observability.BidsRejected.WithLabelValues("round_cancelled").Inc()
		return bid, &RejectionError{Reason: "round cancelled"}
	case roundDecided, roundFallback:
		bid.Status = models.BidExpired
		observability.BidsRejected.WithLabelValues("round_resolved").Inc()
		return bid, &RejectionError{Reason: "round already resolved"}
	case roundResolving:
		observability.BidsRejected.WithLabelValues("round_closed").Inc()
		return bid, &RejectionError{Reason: "round is no longer accepting bids"}
	}
	if !r.order.AllowsVehicle(bid.Vehicle) {
		observability.BidsRejected.WithLabelValues("vehicle_mismatch").Inc()
		return bid, &RejectionError{Reason: fmt.Sprintf("vehicle type %s not allowed for this order", bid.Vehicle)}
	}

	if bid.ID == "" {
		bid.ID = uuid.NewString()
	}
	if bid.SubmittedAt.IsZero() {
		bid.SubmittedAt = e.now()
	}
	bid.Status = models.BidPending
	r.bids = append(r.bids, bid)
	observability.BidsSubmitted.Inc()
	if r.minBids > 0 && len(r.bids) >= r.minBids {
		r.quorumOnce.Do(func() { close(r.quorum) })
	}
	return bid, nil
}

// Resolve closes the order's round and returns its single decision. It waits
// for the bid-count threshold or the window timeout, whichever comes first,
// and loses any race against cancellation. Resolving an already-decided
// order replays the stored decision.
func (e *Engine) Resolve(ctx context.Context, orderID string) (models.DispatchDecision, error) {
	r, ok := e.round(orderID)
	if !ok {
		if d, found, err := e.Store.GetDecision(ctx, orderID); err != nil {
			return models.DispatchDecision{}, err
		} else if found {
			return d, nil
		}
		return models.DispatchDecision{}, fmt.Errorf("order %s: %w", orderID, ErrUnknownRound)
	}

	r.resolveMu.Lock()
	defer r.resolveMu.Unlock()

	r.mu.Lock()
	if r.decision != nil {
		d := *r.decision
		r.mu.Unlock()
		return d, nil
	}
	if r.state == roundCancelled {
		r.mu.Unlock()
		return models.DispatchDecision{}, fmt.Errorf("order %s: %w", orderID, ErrRoundCancelled)
	}
	deadline := r.openedAt.Add(r.window)
	r.mu.Unlock()

	if err := e.collect(ctx, r, deadline); err != nil {
		return models.DispatchDecision{}, fmt.Errorf("order %s: %w", orderID, err)
	}

	r.mu.Lock()
	// Cancellation observed at any point before this check wins the race.
	select {
	case <-r.cancelled:
		r.mu.Unlock()
		return models.DispatchDecision{}, fmt.Errorf("order %s: %w", orderID, ErrRoundCancelled)
	default:
	}
	r.state = roundResolving
	decision := e.decide(r)
	r.decision = &decision
	if decision.FallbackRequired {
		r.state = roundFallback
	} else {
		r.state = roundDecided
	}
	bids := make([]models.Bid, len(r.bids))
	copy(bids, r.bids)
	r.mu.Unlock()

	e.finalize(ctx, r, &decision, bids)

	r.mu.Lock()
	r.decision = &decision
	r.mu.Unlock()
	return decision, nil
}

// collect blocks until quorum, timeout or cancellation.
func (e *Engine) collect(ctx context.Context, r *round, deadline time.Time) error {
	wait := time.Until(deadline)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-r.quorum:
		return nil
	case <-r.cancelled:
		return ErrRoundCancelled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// decide applies the eligibility filter and ranking. Caller holds r.mu.
func (e *Engine) decide(r *round) models.DispatchDecision {
	d := models.DispatchDecision{OrderID: r.order.OrderID, DecidedAt: e.now()}

	if len(r.bids) == 0 {
		d.FallbackRequired = true
		d.Rationale = "no bids arrived within the collection window"
		return d
	}

	// Submission already enforces the vehicle constraint; filtering again
	// here keeps the invariant even if constraints changed mid-round.
	eligible := make([]models.Bid, 0, len(r.bids))
	for _, b := range r.bids {
		if r.order.AllowsVehicle(b.Vehicle) {
			eligible = append(eligible, b)
		}
	}
	if len(eligible) == 0 {
		for i := range r.bids {
			r.bids[i].Status = models.BidRejected
		}
		d.FallbackRequired = true
		d.Rationale = "no eligible vehicle types among submitted bids"
		return d
	}

	ranked := ranking.RankBids(eligible)
	winner := ranked[0]
	winner.Status = models.BidAccepted
	for i := range r.bids {
		if r.bids[i].ID == winner.ID {
			r.bids[i].Status = models.BidAccepted
		} else if r.bids[i].Status == models.BidPending {
			r.bids[i].Status = models.BidRejected
		}
	}
	d.SelectedBid = &winner
	return d
}

// finalize runs the post-decision side effects: narration, persistence,
// registry write-backs, lifecycle advance, courier push, metrics. None of
// them can change the decision.
func (e *Engine) finalize(ctx context.Context, r *round, d *models.DispatchDecision, bids []models.Bid) {
	if e.Narrator != nil && d.SelectedBid != nil {
		if text, err := e.Narrator.Narrate(ctx, *d, bids); err != nil {
			e.Logger.Warn("narration failed", "order_id", d.OrderID, "error", err)
		} else {
			d.Rationale = text
		}
	}

	if err := e.Store.SaveDecision(ctx, *d); err != nil {
		e.Logger.Error("decision save failed", "order_id", d.OrderID, "error", err)
	}

	observability.RoundsResolved.Inc()
	observability.RoundDuration.Observe(e.now().Sub(r.openedAt).Seconds())
	observability.BidsPerRound.Observe(float64(len(bids)))

	if d.SelectedBid == nil {
		observability.RoundsFallback.Inc()
		e.Logger.Info("round fell back", "order_id", d.OrderID, "rationale", d.Rationale)
		return
	}

	win := d.SelectedBid
	observability.WinningBidScore.Observe(ranking.BidScore(*win))

	if e.Registry != nil {
		if err := e.Registry.UpdateLoad(ctx, win.CourierID, 1); err != nil {
			e.Logger.Error("load update failed", "courier_id", win.CourierID, "error", err)
		}
		if err := e.Registry.UpdateStatus(ctx, win.CourierID, models.StatusBusy); err != nil {
			e.Logger.Error("status update failed", "courier_id", win.CourierID, "error", err)
		}
	}
	if e.Machine != nil {
		if _, err := e.Machine.Assign(ctx, d.OrderID, win.CourierID); err != nil {
			e.Logger.Error("lifecycle assign failed", "order_id", d.OrderID, "error", err)
		}
	}
	if e.Dispatch != nil {
		offer := models.AssignmentOffer{
			OrderID:    d.OrderID,
			CourierID:  win.CourierID,
			Pickup:     r.order.Pickup,
			DistanceKm: win.DistanceKm,
			EtaMinutes: win.ProposedEtaMin,
			Amount:     win.Amount,
		}
		if err := e.Dispatch.Offer(win.CourierID, offer); err != nil {
			e.Logger.Warn("assignment push failed", "courier_id", win.CourierID, "error", err)
		}
	}
	e.Logger.Info("round decided", "order_id", d.OrderID, "courier_id", win.CourierID, "bids", len(bids))
}

// CancelRound stops the round immediately: no new bids, no winner. Pending
// bids expire. Cancelling an already-decided round fails.
func (e *Engine) CancelRound(orderID string) error {
	r, ok := e.round(orderID)
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, ErrUnknownRound)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == roundDecided || r.state == roundFallback {
		return fmt.Errorf("order %s: round already resolved", orderID)
	}
	r.state = roundCancelled
	for i := range r.bids {
		if r.bids[i].Status == models.BidPending {
			r.bids[i].Status = models.BidExpired
		}
	}
	r.cancelOnce.Do(func() { close(r.cancelled) })
	e.Logger.Info("round cancelled", "order_id", orderID)
	return nil
}

// Bids returns a snapshot of the round's bids, for telemetry and tests.
func (e *Engine) Bids(orderID string) ([]models.Bid, bool) {
	r, ok := e.round(orderID)
	if !ok {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Bid, len(r.bids))
	copy(out, r.bids)
	return out, true
}

func (e *Engine) round(orderID string) (*round, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rounds[orderID]
	return r, ok
}
