// Package location keeps the latest known position per courier plus an
// append-only history of raw reports. The staleness gate lives here so every
// reader gets the same freshness semantics.
package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/courier-dispatch/internal/models"
)

// ErrUnavailable marks infrastructure faults in a backing store.
var ErrUnavailable = errors.New("location store unavailable")

// Store is the contract candidate search and ingestion consume.
type Store interface {
	// RecordReport appends a report and updates the latest index for its
	// courier. Reports for one courier must be applied in arrival order.
	RecordReport(ctx context.Context, r models.LocationReport) error
	// LatestReport returns the most recent report regardless of age.
	LatestReport(ctx context.Context, courierID string) (models.LocationReport, bool, error)
	// LatestFresh returns the most recent report only if it is younger than
	// the store's staleness threshold. Matching must use this, not LatestReport.
	LatestFresh(ctx context.Context, courierID string) (models.LocationReport, bool, error)
	// History returns up to limit most-recent reports, newest first.
	History(ctx context.Context, courierID string, limit int) ([]models.LocationReport, error)
}

const maxHistoryPerCourier = 512

// MemoryStore keeps reports per courier behind a slot mutex so writes for
// different couriers never block each other. Reads of one courier's latest
// report are linearizable with respect to writes for that courier.
type MemoryStore struct {
	staleAfter time.Duration
	now        func() time.Time

	mu    sync.RWMutex
	slots map[string]*courierSlot
}

type courierSlot struct {
	mu      sync.Mutex
	latest  models.LocationReport
	hasData bool
	history []models.LocationReport
}

func NewMemoryStore(staleAfter time.Duration) *MemoryStore {
	return &MemoryStore{
		staleAfter: staleAfter,
		now:        time.Now,
		slots:      make(map[string]*courierSlot),
	}
}

// SetClock overrides the time source. Tests only.
func (m *MemoryStore) SetClock(now func() time.Time) { m.now = now }

func (m *MemoryStore) slot(courierID string) *courierSlot {
	m.mu.RLock()
	s, ok := m.slots[courierID]
	m.mu.RUnlock()
	if ok {
		return s
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.slots[courierID]; ok {
		return s
	}
	s = &courierSlot{}
	m.slots[courierID] = s
	return s
}

func (m *MemoryStore) RecordReport(ctx context.Context, r models.LocationReport) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = m.now()
	}
	s := m.slot(r.CourierID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = r
	s.hasData = true
	s.history = append(s.history, r)
	if len(s.history) > maxHistoryPerCourier {
		s.history = s.history[len(s.history)-maxHistoryPerCourier:]
	}
	return nil
}

func (m *MemoryStore) LatestReport(ctx context.Context, courierID string) (models.LocationReport, bool, error) {
	s := m.slot(courierID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasData {
		return models.LocationReport{}, false, nil
	}
	return s.latest, true, nil
}

func (m *MemoryStore) LatestFresh(ctx context.Context, courierID string) (models.LocationReport, bool, error) {
	r, ok, err := m.LatestReport(ctx, courierID)
	if err != nil || !ok {
		return models.LocationReport{}, false, err
	}
	if m.now().Sub(r.Timestamp) > m.staleAfter {
		return models.LocationReport{}, false, nil
	}
	return r, true, nil
}

func (m *MemoryStore) History(ctx context.Context, courierID string, limit int) ([]models.LocationReport, error) {
	s := m.slot(courierID)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.LocationReport, 0, n)
	for i := len(s.history) - 1; i >= len(s.history)-n; i-- {
		out = append(out, s.history[i])
	}
	return out, nil
}
