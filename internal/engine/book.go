package engine

import (
	"sync"

	"github.com/google/btree"

	"github.com/efreitasn/fractionex/internal/domain"
)

// OrderBookEntry represents a single order resting on the book.
type OrderBookEntry struct {
	Price   int64
	OrderID uint64
	Order   *domain.Order
}

// PriceLevel represents an aggregated price level in the order book.
type PriceLevel struct {
	Price         int64
	TotalQuantity int64
	OrderCount    int
}

// bidLess defines ordering for the buy side: price descending, then order
// id ascending. Min() returns the best bid (highest price, oldest order).
func bidLess(a, b OrderBookEntry) bool {
	if a.Price != b.Price {
		return a.Price > b.Price
	}
	return a.OrderID < b.OrderID
}

// askLess defines ordering for the sell side: price ascending, then order
// id ascending. Min() returns the best ask (lowest price, oldest order).
func askLess(a, b OrderBookEntry) bool {
	if a.Price != b.Price {
		return a.Price < b.Price
	}
	return a.OrderID < b.OrderID
}

// OrderBook maintains the buy and sell sides for a single share class using
// B-trees with a secondary index for O(log n) removal by order id.
type OrderBook struct {
	classID uint64
	mu      sync.RWMutex
	pubMu   sync.Mutex // taken before mu is released; orders trade publication
	bids    *btree.BTreeG[OrderBookEntry]
	asks    *btree.BTreeG[OrderBookEntry]
	index   map[uint64]OrderBookEntry // order id → entry
}

// NewOrderBook creates an order book for the given share class.
func NewOrderBook(classID uint64) *OrderBook {
	const degree = 32
	return &OrderBook{
		classID: classID,
		bids:    btree.NewG[OrderBookEntry](degree, bidLess),
		asks:    btree.NewG[OrderBookEntry](degree, askLess),
		index:   make(map[uint64]OrderBookEntry),
	}
}

// ClassID returns the share class the book belongs to.
func (ob *OrderBook) ClassID() uint64 {
	return ob.classID
}

func (ob *OrderBook) side(s domain.Side) *btree.BTreeG[OrderBookEntry] {
	if s == domain.SideBuy {
		return ob.bids
	}
	return ob.asks
}

// Insert adds an order to its side of the book.
func (ob *OrderBook) Insert(order *domain.Order) {
	entry := OrderBookEntry{Price: order.Price, OrderID: order.ID, Order: order}
	ob.side(order.Side).ReplaceOrInsert(entry)
	ob.index[order.ID] = entry
}

// Get looks up a resting order by id.
func (ob *OrderBook) Get(orderID uint64) (OrderBookEntry, bool) {
	entry, ok := ob.index[orderID]
	return entry, ok
}

// Remove deletes an order from the book by id using the secondary index.
func (ob *OrderBook) Remove(orderID uint64) {
	entry, ok := ob.index[orderID]
	if !ok {
		return
	}
	delete(ob.index, orderID)
	ob.side(entry.Order.Side).Delete(entry)
}

// Best returns the highest-priority order on a side.
func (ob *OrderBook) Best(s domain.Side) (OrderBookEntry, bool) {
	return ob.side(s).Min()
}

// Walk iterates a side in priority order. The callback returns true to
// continue, false to stop.
func (ob *OrderBook) Walk(s domain.Side, fn func(OrderBookEntry) bool) {
	ob.side(s).Ascend(fn)
}

// Orders returns copies of a side's orders in priority order.
func (ob *OrderBook) Orders(s domain.Side) []domain.Order {
	orders := make([]domain.Order, 0, ob.side(s).Len())
	ob.side(s).Ascend(func(entry OrderBookEntry) bool {
		orders = append(orders, *entry.Order)
		return true
	})
	return orders
}

// Len returns the number of orders on a side.
func (ob *OrderBook) Len(s domain.Side) int {
	return ob.side(s).Len()
}

// TopLevels returns up to n aggregated price levels of a side, best first.
func (ob *OrderBook) TopLevels(s domain.Side, n int) []PriceLevel {
	return topLevels(ob.side(s), n)
}

// topLevels iterates the B-tree in order and aggregates entries into
// at most n price levels.
func topLevels(tree *btree.BTreeG[OrderBookEntry], n int) []PriceLevel {
	if n <= 0 {
		return nil
	}
	levels := make([]PriceLevel, 0, n)
	tree.Ascend(func(entry OrderBookEntry) bool {
		if len(levels) > 0 && levels[len(levels)-1].Price == entry.Price {
			levels[len(levels)-1].TotalQuantity += entry.Order.Remaining()
			levels[len(levels)-1].OrderCount++
			return true
		}
		if len(levels) >= n {
			return false
		}
		levels = append(levels, PriceLevel{
			Price:         entry.Price,
			TotalQuantity: entry.Order.Remaining(),
			OrderCount:    1,
		})
		return true
	})
	return levels
}

// clear removes every order from both sides and returns them.
func (ob *OrderBook) clear() []*domain.Order {
	orders := make([]*domain.Order, 0, len(ob.index))
	for _, s := range []domain.Side{domain.SideBuy, domain.SideSell} {
		ob.side(s).Ascend(func(entry OrderBookEntry) bool {
			orders = append(orders, entry.Order)
			return true
		})
		ob.side(s).Clear(false)
	}
	clear(ob.index)
	return orders
}

// BookManager is a thread-safe map of share class id → OrderBook.
type BookManager struct {
	mu    sync.RWMutex
	books map[uint64]*OrderBook
}

// NewBookManager creates a new BookManager.
func NewBookManager() *BookManager {
	return &BookManager{
		books: make(map[uint64]*OrderBook),
	}
}

// GetOrCreate returns the order book for the given share class, creating
// one if it doesn't already exist.
func (bm *BookManager) GetOrCreate(classID uint64) *OrderBook {
	bm.mu.RLock()
	book, ok := bm.books[classID]
	bm.mu.RUnlock()
	if ok {
		return book
	}

	bm.mu.Lock()
	defer bm.mu.Unlock()
	// Double-check after acquiring write lock.
	if book, ok = bm.books[classID]; ok {
		return book
	}
	book = NewOrderBook(classID)
	bm.books[classID] = book
	return book
}
