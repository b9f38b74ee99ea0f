// Package registry is the courier record store the engine reads candidate
// pools from and writes load/status changes back to.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/example/courier-dispatch/internal/models"
)

// ErrUnavailable marks infrastructure faults. Callers treat it as fatal for
// the operation; the engine never substitutes stale data to mask it.
var ErrUnavailable = errors.New("courier registry unavailable")

var ErrCourierNotFound = errors.New("courier not found")

// Registry defines the narrow contract the dispatch engine consumes.
type Registry interface {
	GetCourier(ctx context.Context, id string) (models.CourierRecord, bool, error)
	ListActive(ctx context.Context) ([]models.CourierRecord, error)
	UpdateLoad(ctx context.Context, id string, delta int) error
	UpdateStatus(ctx context.Context, id string, status models.CourierStatus) error
}

// MemoryRegistry is the in-process implementation used in tests and when no
// database is configured.
type MemoryRegistry struct {
	mu       sync.RWMutex
	couriers map[string]models.CourierRecord
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{couriers: make(map[string]models.CourierRecord)}
}

// Put upserts a full record. Used by wiring and tests; dispatch itself only
// touches load and status.
func (m *MemoryRegistry) Put(c models.CourierRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.couriers[c.ID] = c
}

func (m *MemoryRegistry) GetCourier(ctx context.Context, id string) (models.CourierRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.couriers[id]
	return c, ok, nil
}

func (m *MemoryRegistry) ListActive(ctx context.Context) ([]models.CourierRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.CourierRecord, 0, len(m.couriers))
	for _, c := range m.couriers {
		if c.Active {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemoryRegistry) UpdateLoad(ctx context.Context, id string, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.couriers[id]
	if !ok {
		return fmt.Errorf("update load for %s: %w", id, ErrCourierNotFound)
	}
	c.CurrentLoad += delta
	if c.CurrentLoad < 0 {
		c.CurrentLoad = 0
	}
	m.couriers[id] = c
	return nil
}

func (m *MemoryRegistry) UpdateStatus(ctx context.Context, id string, status models.CourierStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.couriers[id]
	if !ok {
		return fmt.Errorf("update status for %s: %w", id, ErrCourierNotFound)
	}
	c.Status = status
	c.Online = status != models.StatusOffline
	m.couriers[id] = c
	return nil
}
