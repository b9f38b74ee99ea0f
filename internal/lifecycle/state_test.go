package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/registry"
)

func newMachine(t *testing.T) (*Machine, *registry.MemoryRegistry) {
	t.Helper()
	reg := registry.NewMemoryRegistry()
	reg.Put(models.CourierRecord{
		ID: "courier-1", Vehicle: models.VehicleBicycle, Rating: 4.5, TrustScore: 80,
		MaxCapacity: 2, CurrentLoad: 1, Status: models.StatusBusy, Active: true, Online: true,
	})
	return NewMachine(reg), reg
}

func TestHappyPathDelivery(t *testing.T) {
	m, reg := newMachine(t)
	ctx := context.Background()
	m.Begin("o1", "requester-1")

	if st, err := m.Assign(ctx, "o1", "courier-1"); err != nil || st != StateAssigned {
		t.Fatalf("assign: st=%s err=%v", st, err)
	}
	for _, step := range []struct {
		ev   Event
		want State
	}{
		{EventPickup, StatePickedUp},
		{EventDepart, StateInTransit},
		{EventDeliver, StateDelivered},
	} {
		st, err := m.Transition(ctx, "o1", step.ev, "courier-1")
		if err != nil || st != step.want {
			t.Fatalf("%s: st=%s err=%v", step.ev, st, err)
		}
	}
	// Delivery released the courier's slot.
	c, _, _ := reg.GetCourier(ctx, "courier-1")
	if c.CurrentLoad != 0 || c.Status != models.StatusAvailable {
		t.Fatalf("courier not released: load=%d status=%s", c.CurrentLoad, c.Status)
	}
}

func TestOnlyAssignedCourierMayAdvance(t *testing.T) {
	m, _ := newMachine(t)
	ctx := context.Background()
	m.Begin("o1", "requester-1")
	_, _ = m.Assign(ctx, "o1", "courier-1")

	_, err := m.Transition(ctx, "o1", EventPickup, "courier-2")
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if st, _ := m.Current("o1"); st != StateAssigned {
		t.Fatalf("state moved despite rejection: %s", st)
	}
}

func TestOnlyRequesterMayCancel(t *testing.T) {
	m, _ := newMachine(t)
	ctx := context.Background()
	m.Begin("o1", "requester-1")

	if _, err := m.Transition(ctx, "o1", EventCancel, "someone-else"); err == nil {
		t.Fatal("stranger cancelled the order")
	}
	if st, err := m.Transition(ctx, "o1", EventCancel, "requester-1"); err != nil || st != StateCancelled {
		t.Fatalf("requester cancel: st=%s err=%v", st, err)
	}
}

func TestIllegalTransitionsRejected(t *testing.T) {
	m, _ := newMachine(t)
	ctx := context.Background()
	m.Begin("o1", "requester-1")

	// Cannot pick up while still searching.
	if _, err := m.Transition(ctx, "o1", EventPickup, "courier-1"); err == nil {
		t.Fatal("pickup from searching should fail")
	}
	_, _ = m.Assign(ctx, "o1", "courier-1")
	// Cannot deliver before transit.
	if _, err := m.Transition(ctx, "o1", EventDeliver, "courier-1"); err == nil {
		t.Fatal("deliver from assigned should fail")
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	m, _ := newMachine(t)
	ctx := context.Background()
	m.Begin("o1", "requester-1")
	_, _ = m.Transition(ctx, "o1", EventCancel, "requester-1")

	if _, err := m.Transition(ctx, "o1", EventCancel, "requester-1"); err == nil {
		t.Fatal("cancel of a cancelled order should fail")
	}
	if _, err := m.Assign(ctx, "o1", "courier-1"); err == nil {
		t.Fatal("assign after cancel should fail")
	}
}

func TestCancelReachableFromTransit(t *testing.T) {
	m, reg := newMachine(t)
	ctx := context.Background()
	m.Begin("o1", "requester-1")
	_, _ = m.Assign(ctx, "o1", "courier-1")
	_, _ = m.Transition(ctx, "o1", EventPickup, "courier-1")
	_, _ = m.Transition(ctx, "o1", EventDepart, "courier-1")

	st, err := m.Transition(ctx, "o1", EventCancel, "requester-1")
	if err != nil || st != StateCancelled {
		t.Fatalf("cancel from transit: st=%s err=%v", st, err)
	}
	c, _, _ := reg.GetCourier(ctx, "courier-1")
	if c.CurrentLoad != 0 {
		t.Fatalf("cancellation after assignment must release load, got %d", c.CurrentLoad)
	}
}

func TestUnknownOrder(t *testing.T) {
	m, _ := newMachine(t)
	if _, err := m.Transition(context.Background(), "ghost", EventCancel, "x"); !errors.Is(err, ErrUnknownOrder) {
		t.Fatalf("expected ErrUnknownOrder, got %v", err)
	}
}
