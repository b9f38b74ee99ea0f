// Package lifecycle tracks an order's assignment state and the legal
// transitions between states. Transitions for one order are serialized on a
// per-order mutex; different orders never contend.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/registry"
)

type State string

const (
	StateSearching State = "searching"
	StateAssigned  State = "assigned"
	StatePickedUp  State = "picked_up"
	StateInTransit State = "in_transit"
	StateDelivered State = "delivered"
	StateCancelled State = "cancelled"
)

func (s State) Terminal() bool {
	return s == StateDelivered || s == StateCancelled
}

type Event string

const (
	EventAssign  Event = "assign"
	EventPickup  Event = "pickup"
	EventDepart  Event = "depart"
	EventDeliver Event = "deliver"
	EventCancel  Event = "cancel"
)

// transitions maps current state to the states each event leads to.
var transitions = map[State]map[Event]State{
	StateSearching: {EventAssign: StateAssigned, EventCancel: StateCancelled},
	StateAssigned:  {EventPickup: StatePickedUp, EventCancel: StateCancelled},
	StatePickedUp:  {EventDepart: StateInTransit, EventCancel: StateCancelled},
	StateInTransit: {EventDeliver: StateDelivered, EventCancel: StateCancelled},
}

// InvalidTransitionError reports a transition the table or the actor gate
// rejected. Illegal transitions are never silently ignored.
type InvalidTransitionError struct {
	OrderID string
	From    State
	Event   Event
	Reason  string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for order %s: %s on %s (%s)", e.OrderID, e.Event, e.From, e.Reason)
}

var ErrUnknownOrder = errors.New("unknown order")

type orderRecord struct {
	mu          sync.Mutex
	state       State
	requesterID string
	courierID   string
}

// Machine holds per-order assignment state. Registry is optional; when set,
// delivery and post-assignment cancellation release the courier's load.
type Machine struct {
	mu       sync.Mutex
	orders   map[string]*orderRecord
	Registry registry.Registry
}

func NewMachine(reg registry.Registry) *Machine {
	return &Machine{orders: make(map[string]*orderRecord), Registry: reg}
}

// Begin registers an order in SEARCHING. Re-registering an existing order is
// a no-op so round reopens stay idempotent.
func (m *Machine) Begin(orderID, requesterID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[orderID]; ok {
		return
	}
	m.orders[orderID] = &orderRecord{state: StateSearching, requesterID: requesterID}
}

// Current returns the order's state.
func (m *Machine) Current(orderID string) (State, bool) {
	rec, ok := m.record(orderID)
	if !ok {
		return "", false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.state, true
}

// Assign moves SEARCHING -> ASSIGNED on behalf of the dispatch decision and
// records the winning courier. The bidding resolver is the only caller.
func (m *Machine) Assign(ctx context.Context, orderID, courierID string) (State, error) {
	rec, ok := m.record(orderID)
	if !ok {
		return "", fmt.Errorf("order %s: %w", orderID, ErrUnknownOrder)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	next, ok := transitions[rec.state][EventAssign]
	if !ok {
		return "", &InvalidTransitionError{OrderID: orderID, From: rec.state, Event: EventAssign, Reason: "assign only applies while searching"}
	}
	rec.state = next
	rec.courierID = courierID
	return next, nil
}

// Transition applies an externally-driven event. Progress events (pickup,
// depart, deliver) are gated on the assigned courier; cancellation is gated
// on the requesting party and is legal from any non-terminal state.
func (m *Machine) Transition(ctx context.Context, orderID string, ev Event, actorID string) (State, error) {
	rec, ok := m.record(orderID)
	if !ok {
		return "", fmt.Errorf("order %s: %w", orderID, ErrUnknownOrder)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	next, ok := transitions[rec.state][ev]
	if !ok {
		return "", &InvalidTransitionError{OrderID: orderID, From: rec.state, Event: ev, Reason: "no such transition"}
	}
	switch ev {
	case EventPickup, EventDepart, EventDeliver:
		if actorID != rec.courierID {
			return "", &InvalidTransitionError{OrderID: orderID, From: rec.state, Event: ev, Reason: "only the assigned courier may advance the order"}
		}
	case EventCancel:
		if actorID != rec.requesterID {
			return "", &InvalidTransitionError{OrderID: orderID, From: rec.state, Event: ev, Reason: "only the requesting party may cancel"}
		}
	case EventAssign:
		return "", &InvalidTransitionError{OrderID: orderID, From: rec.state, Event: ev, Reason: "assign is driven by the dispatch decision"}
	}

	prev := rec.state
	rec.state = next

	if next.Terminal() && prev != StateSearching && rec.courierID != "" {
		m.releaseCourier(ctx, rec.courierID)
	}
	return next, nil
}

// releaseCourier hands the courier's slot back after a terminal transition.
func (m *Machine) releaseCourier(ctx context.Context, courierID string) {
	if m.Registry == nil {
		return
	}
	_ = m.Registry.UpdateLoad(ctx, courierID, -1)
	if c, ok, err := m.Registry.GetCourier(ctx, courierID); err == nil && ok && c.CurrentLoad == 0 {
		_ = m.Registry.UpdateStatus(ctx, courierID, models.StatusAvailable)
	}
}

func (m *Machine) record(orderID string) (*orderRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.orders[orderID]
	return rec, ok
}
