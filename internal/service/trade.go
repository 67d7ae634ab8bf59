package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/efreitasn/fractionex/internal/domain"
	"github.com/efreitasn/fractionex/internal/store"
	"github.com/efreitasn/fractionex/internal/vault"
)

// ErrJournalDisabled is returned by Replay when no trade journal is
// configured.
var ErrJournalDisabled = errors.New("journal_disabled")

// TradeJournal reads trades back from durable storage in sequence order.
type TradeJournal interface {
	Scan(from uint64, limit int, fn func(domain.Trade) error) error
}

// PriceResponse represents the reference price of a share class.
type PriceResponse struct {
	ShareClassID   uint64
	CurrentPrice   *int64 // nil when no trades ever
	Window         string // e.g. "5m"
	TradesInWindow int
	LastTradeAt    *time.Time // nil when no trades ever
}

// TradeService handles trade history and price queries.
type TradeService struct {
	tradeStore *store.TradeStore
	vault      *vault.Vault
	journal    TradeJournal
	vwapWindow time.Duration
}

// NewTradeService creates a new TradeService. journal may be nil.
func NewTradeService(
	tradeStore *store.TradeStore,
	v *vault.Vault,
	journal TradeJournal,
	vwapWindow time.Duration,
) *TradeService {
	return &TradeService{
		tradeStore: tradeStore,
		vault:      v,
		journal:    journal,
		vwapWindow: vwapWindow,
	}
}

// History returns a class's trades in execution order, limited to the
// latest limit trades when limit > 0. Redeemed classes keep their history.
func (s *TradeService) History(classID uint64, limit int) ([]domain.Trade, error) {
	if _, err := s.vault.GetShareClass(classID); err != nil {
		return nil, err
	}
	if limit < 0 || limit > 1000 {
		return nil, &domain.ValidationError{
			Message: "limit must be between 0 and 1000",
		}
	}
	return s.tradeStore.ListByShareClass(classID, limit), nil
}

// GetPrice returns the current reference price for a class, computed as
// VWAP over the configured time window. Falls back to the last trade's
// price if no trades exist in the window. Returns null price if no trades
// have ever occurred.
func (s *TradeService) GetPrice(classID uint64) (*PriceResponse, error) {
	if _, err := s.vault.GetShareClass(classID); err != nil {
		return nil, err
	}

	trades := s.tradeStore.ListByShareClass(classID, 0)
	now := time.Now()
	windowStart := now.Add(-s.vwapWindow)

	resp := &PriceResponse{
		ShareClassID: classID,
		Window:       formatDuration(s.vwapWindow),
	}

	if len(trades) == 0 {
		return resp, nil
	}

	lastTrade := trades[len(trades)-1]
	resp.LastTradeAt = &lastTrade.ExecutedAt

	// Iterate backwards from the tail until executed_at falls outside the
	// window.
	var sumPriceQty, sumQty int64
	var tradesInWindow int

	for i := len(trades) - 1; i >= 0; i-- {
		t := trades[i]
		if t.ExecutedAt.Before(windowStart) {
			break
		}
		sumPriceQty += t.Price * t.Amount
		sumQty += t.Amount
		tradesInWindow++
	}

	resp.TradesInWindow = tradesInWindow

	if sumQty > 0 {
		vwap := sumPriceQty / sumQty
		resp.CurrentPrice = &vwap
	} else {
		resp.CurrentPrice = &lastTrade.Price
	}

	return resp, nil
}

// Replay reads up to limit journaled trades with sequence ≥ from.
func (s *TradeService) Replay(from uint64, limit int) ([]domain.Trade, error) {
	if s.journal == nil {
		return nil, ErrJournalDisabled
	}
	if limit < 1 || limit > 1000 {
		return nil, &domain.ValidationError{
			Message: "limit must be between 1 and 1000",
		}
	}

	trades := make([]domain.Trade, 0, limit)
	err := s.journal.Scan(from, limit, func(t domain.Trade) error {
		trades = append(trades, t)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read trade journal: %w", err)
	}
	return trades, nil
}

// formatDuration converts a time.Duration to a human-readable string
// like "5m" for the window field.
func formatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	minutes := int(d.Minutes())
	if d == time.Duration(minutes)*time.Minute && minutes > 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return d.String()
}
