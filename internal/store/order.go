package store

import (
	"sync"

	"github.com/efreitasn/fractionex/internal/domain"
)

// OrderStore is a thread-safe in-memory history of limit orders, with a
// primary index by order id and a secondary index by trader. It holds
// copies; the matching engine calls Put after every change to an order.
type OrderStore struct {
	mu           sync.RWMutex
	orders       map[uint64]*domain.Order
	traderOrders map[string][]uint64 // trader → order ids (append-only)
}

// NewOrderStore creates an empty OrderStore.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders:       make(map[uint64]*domain.Order),
		traderOrders: make(map[string][]uint64),
	}
}

// Put inserts or replaces the stored copy of an order.
func (s *OrderStore) Put(o domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[o.ID]; !exists {
		s.traderOrders[o.Trader] = append(s.traderOrders[o.Trader], o.ID)
	}
	s.orders[o.ID] = &o
}

// Get retrieves an order by id. It returns domain.ErrOrderNotFound if the
// order was never placed.
func (s *OrderStore) Get(id uint64) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return *o, nil
}

// ListByTrader returns a trader's orders newest first. If status is non-nil
// only orders in that status are included. Pagination is 1-based. Returns
// the requested page and the total count of matching orders.
func (s *OrderStore) ListByTrader(trader string, status *domain.OrderStatus, page, limit int) ([]domain.Order, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.traderOrders[trader]

	filtered := make([]domain.Order, 0)
	for i := len(ids) - 1; i >= 0; i-- {
		o := s.orders[ids[i]]
		if status != nil && o.Status() != *status {
			continue
		}
		filtered = append(filtered, *o)
	}

	total := len(filtered)

	start := (page - 1) * limit
	if start >= total {
		return []domain.Order{}, total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return filtered[start:end], total
}
