package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/efreitasn/fractionex/internal/domain"
)

func newTestTrade(seq uint64, classID uint64) domain.Trade {
	return domain.Trade{
		TradeID:      fmt.Sprintf("trade-%d", seq),
		Seq:          seq,
		OrderID:      1,
		ShareClassID: classID,
		Trader1:      "buyer",
		Trader2:      "seller",
		Amount:       10,
		Price:        2,
		ExecutedAt:   time.Now(),
	}
}

func TestTradeStore_AppendAndList(t *testing.T) {
	s := NewTradeStore()
	s.Append(newTestTrade(1, 1), newTestTrade(2, 1))
	s.Append(newTestTrade(3, 2))

	trades := s.ListByShareClass(1, 0)
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].Seq != 1 || trades[1].Seq != 2 {
		t.Fatalf("trades not in emission order: %+v", trades)
	}
	if s.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", s.Count())
	}
}

func TestTradeStore_ListByShareClass_Limit(t *testing.T) {
	s := NewTradeStore()
	for i := uint64(1); i <= 5; i++ {
		s.Append(newTestTrade(i, 1))
	}

	trades := s.ListByShareClass(1, 2)
	if len(trades) != 2 || trades[0].Seq != 4 || trades[1].Seq != 5 {
		t.Fatalf("expected the latest 2 trades, got %+v", trades)
	}
}

func TestTradeStore_ListByShareClass_Empty(t *testing.T) {
	s := NewTradeStore()

	trades := s.ListByShareClass(9, 0)
	if trades == nil {
		t.Fatal("expected non-nil empty slice")
	}
	if len(trades) != 0 {
		t.Fatalf("expected 0 trades, got %d", len(trades))
	}
}

func TestTradeStore_ReturnsCopy(t *testing.T) {
	s := NewTradeStore()
	s.Append(newTestTrade(1, 1))

	trades := s.ListByShareClass(1, 0)
	trades[0].Amount = 999

	if got := s.ListByShareClass(1, 0)[0].Amount; got != 10 {
		t.Fatalf("internal trade mutated through returned slice: amount = %d", got)
	}
}

func TestTradeStore_ConcurrentAppend(t *testing.T) {
	s := NewTradeStore()
	var wg sync.WaitGroup

	for i := uint64(1); i <= 100; i++ {
		wg.Add(1)
		go func(seq uint64) {
			defer wg.Done()
			s.Append(newTestTrade(seq, 1))
		}(i)
	}
	wg.Wait()

	if got := len(s.ListByShareClass(1, 0)); got != 100 {
		t.Fatalf("expected 100 trades, got %d", got)
	}
}
