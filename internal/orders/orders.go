// Package orders provides read-only access to the order source. The engine
// never creates or prices orders; it only reads pickup geometry, vehicle
// constraints and the commission on offer.
package orders

import (
	"context"
	"errors"
	"sync"

	"github.com/example/courier-dispatch/internal/models"
)

var ErrUnavailable = errors.New("order source unavailable")

type Source interface {
	GetOrderContext(ctx context.Context, orderID string) (models.OrderContext, bool, error)
}

// MemorySource backs tests and standalone wiring.
type MemorySource struct {
	mu     sync.RWMutex
	orders map[string]models.OrderContext
}

func NewMemorySource() *MemorySource {
	return &MemorySource{orders: make(map[string]models.OrderContext)}
}

func (m *MemorySource) Put(o models.OrderContext) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.OrderID] = o
}

func (m *MemorySource) GetOrderContext(ctx context.Context, orderID string) (models.OrderContext, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderID]
	return o, ok, nil
}
