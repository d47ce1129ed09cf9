package orders

import (
	"context"
	"sort"
	"sync"
	"time"

	"custodychain/internal/apperr"
	"custodychain/pkg/models"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu         sync.RWMutex
	orders     map[string]models.Order
	transports map[string]models.Transport
	alerts     []models.Alert
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:     make(map[string]models.Order),
		transports: make(map[string]models.Transport),
	}
}

func (m *MemoryStore) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, apperr.NotFound("order", orderID)
	}
	return &o, nil
}

func (m *MemoryStore) InsertOrder(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.OrderID]; ok {
		return apperr.Validation("orderId", "already exists")
	}
	m.orders[order.OrderID] = *order
	return nil
}

func (m *MemoryStore) UpdateOrder(ctx context.Context, order *models.Order, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.orders[order.OrderID]
	if !ok {
		return apperr.NotFound("order", order.OrderID)
	}
	if current.Version != expectedVersion {
		return apperr.ErrStaleVersion
	}
	order.Version = expectedVersion + 1
	m.orders[order.OrderID] = *order
	return nil
}

func (m *MemoryStore) InsertTransport(ctx context.Context, transport *models.Transport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transports[transport.TransportID] = *transport
	return nil
}

func (m *MemoryStore) CompleteTransport(ctx context.Context, transportID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transports[transportID]
	if !ok {
		return apperr.NotFound("transport", transportID)
	}
	t.Status = models.TransportDelivered
	t.CompletedAt = &at
	m.transports[transportID] = t
	return nil
}

func (m *MemoryStore) InsertAlert(ctx context.Context, alert *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, *alert)
	return nil
}

func (m *MemoryStore) GetTransport(ctx context.Context, transportID string) (*models.Transport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transports[transportID]
	if !ok {
		return nil, apperr.NotFound("transport", transportID)
	}
	return &t, nil
}

// ListAlerts returns the alerts raised for orderID, oldest first.
func (m *MemoryStore) ListAlerts(ctx context.Context, orderID string) ([]models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Alert
	for _, a := range m.alerts {
		if a.OrderID == orderID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
