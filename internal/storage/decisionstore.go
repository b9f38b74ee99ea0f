// Package storage persists dispatch decisions so idempotent replay survives
// round eviction and process restarts.
package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/example/courier-dispatch/internal/models"
)

var ErrUnavailable = errors.New("decision store unavailable")

type DecisionStore interface {
	SaveDecision(ctx context.Context, d models.DispatchDecision) error
	GetDecision(ctx context.Context, orderID string) (models.DispatchDecision, bool, error)
}

type MemoryStore struct {
	mu        sync.RWMutex
	decisions map[string]models.DispatchDecision
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{decisions: make(map[string]models.DispatchDecision)}
}

func (m *MemoryStore) SaveDecision(ctx context.Context, d models.DispatchDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions[d.OrderID] = d
	return nil
}

func (m *MemoryStore) GetDecision(ctx context.Context, orderID string) (models.DispatchDecision, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.decisions[orderID]
	return d, ok, nil
}
