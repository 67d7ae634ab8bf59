package store

import (
	"sync"

	"github.com/efreitasn/fractionex/internal/domain"
)

// TradeStore is a thread-safe in-memory trade log, keyed by share class.
// Trades are append-only and kept in emission order.
type TradeStore struct {
	mu     sync.RWMutex
	trades map[uint64][]domain.Trade // share class id → trades
	count  int
}

// NewTradeStore creates an empty TradeStore.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		trades: make(map[uint64][]domain.Trade),
	}
}

// Append adds trades to their share class logs, preserving slice order.
func (s *TradeStore) Append(trades ...domain.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range trades {
		s.trades[t.ShareClassID] = append(s.trades[t.ShareClassID], t)
	}
	s.count += len(trades)
}

// ListByShareClass returns a share class's trades in emission order. When
// limit > 0 only the latest limit trades are returned. Returns an empty
// slice if the class has no trades.
func (s *TradeStore) ListByShareClass(classID uint64, limit int) []domain.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trades := s.trades[classID]
	if limit > 0 && len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}

	// Return a copy to avoid callers mutating the internal slice.
	result := make([]domain.Trade, len(trades))
	copy(result, trades)
	return result
}

// Count returns the number of trades recorded across all classes.
func (s *TradeStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}
