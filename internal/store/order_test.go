package store

import (
	"sync"
	"testing"
	"time"

	"github.com/efreitasn/fractionex/internal/domain"
)

func newTestOrder(id uint64, trader string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:           id,
		ShareClassID: 1,
		Side:         domain.SideSell,
		Trader:       trader,
		Price:        2,
		Amount:       10,
		CreatedAt:    createdAt,
	}
}

func TestOrderStore_PutAndGet(t *testing.T) {
	s := NewOrderStore()
	s.Put(newTestOrder(1, "alice", time.Now()))

	got, err := s.Get(1)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.Trader != "alice" {
		t.Fatalf("expected alice, got %s", got.Trader)
	}
}

func TestOrderStore_Get_NotFound(t *testing.T) {
	s := NewOrderStore()

	_, err := s.Get(42)
	if err != domain.ErrOrderNotFound {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderStore_PutReplacesCopy(t *testing.T) {
	s := NewOrderStore()
	o := newTestOrder(1, "alice", time.Now())
	s.Put(o)

	o.Filled = 4
	if got, _ := s.Get(1); got.Filled != 0 {
		t.Fatalf("stored copy changed without Put: filled = %d", got.Filled)
	}

	s.Put(o)
	if got, _ := s.Get(1); got.Filled != 4 {
		t.Fatalf("filled = %d, want 4", got.Filled)
	}

	orders, total := s.ListByTrader("alice", nil, 1, 10)
	if total != 1 || len(orders) != 1 {
		t.Fatalf("re-putting an order must not duplicate it in the trader index: total=%d", total)
	}
}

func TestOrderStore_ListByTrader_NewestFirst(t *testing.T) {
	s := NewOrderStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := uint64(1); i <= 5; i++ {
		s.Put(newTestOrder(i, "alice", base.Add(time.Duration(i)*time.Minute)))
	}

	orders, total := s.ListByTrader("alice", nil, 1, 10)
	if total != 5 || len(orders) != 5 {
		t.Fatalf("expected 5 orders, got total=%d len=%d", total, len(orders))
	}
	for i := 0; i < len(orders)-1; i++ {
		if orders[i].ID < orders[i+1].ID {
			t.Fatalf("orders not newest first at index %d", i)
		}
	}
}

func TestOrderStore_ListByTrader_StatusFilterAndPagination(t *testing.T) {
	s := NewOrderStore()
	now := time.Now()
	for i := uint64(1); i <= 6; i++ {
		o := newTestOrder(i, "alice", now)
		if i%2 == 0 {
			o.Filled = o.Amount
		}
		s.Put(o)
	}
	s.Put(newTestOrder(7, "bob", now))

	filled := domain.OrderStatusFilled
	orders, total := s.ListByTrader("alice", &filled, 1, 2)
	if total != 3 {
		t.Fatalf("expected 3 filled orders, got %d", total)
	}
	if len(orders) != 2 || orders[0].ID != 6 || orders[1].ID != 4 {
		t.Fatalf("unexpected first page: %+v", orders)
	}

	orders, _ = s.ListByTrader("alice", &filled, 2, 2)
	if len(orders) != 1 || orders[0].ID != 2 {
		t.Fatalf("unexpected second page: %+v", orders)
	}

	orders, _ = s.ListByTrader("alice", &filled, 5, 2)
	if len(orders) != 0 {
		t.Fatalf("expected empty page past the end, got %d", len(orders))
	}
}

func TestOrderStore_ConcurrentAccess(t *testing.T) {
	s := NewOrderStore()
	var wg sync.WaitGroup

	for i := uint64(1); i <= 100; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			s.Put(newTestOrder(id, "alice", time.Now()))
			_, _ = s.Get(id)
			s.ListByTrader("alice", nil, 1, 10)
		}(i)
	}
	wg.Wait()

	if _, total := s.ListByTrader("alice", nil, 1, 10); total != 100 {
		t.Fatalf("expected 100 orders, got %d", total)
	}
}
