package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/fractionex/internal/domain"
	"github.com/efreitasn/fractionex/internal/sequence"
	"github.com/efreitasn/fractionex/internal/store"
	"github.com/efreitasn/fractionex/internal/vault"
)

// QuotePriceLevel represents a single price level in a quote simulation.
type QuotePriceLevel struct {
	Price    int64
	Quantity int64
}

// QuoteResult holds the result of a market order simulation.
type QuoteResult struct {
	QuantityAvailable int64
	FullyFillable     bool
	EstimatedAvgPrice *int64 // nil when no liquidity
	EstimatedTotal    *int64 // nil when no liquidity
	PriceLevels       []QuotePriceLevel
}

// Publisher receives every batch of trades a market order produces, in
// match order. Batches of one class arrive in execution order; Publish runs
// after the book lock is released.
type Publisher interface {
	Publish(trades []domain.Trade)
}

// Matcher is the matching engine. Each share class book is its own
// serialization domain: placement, matching, deletion and redemption for
// one class run under that book's write lock.
//
// Lock order: book → vault registry → ledger → owner index.
type Matcher struct {
	books    *BookManager
	vault    *vault.Vault
	ledger   *store.Ledger
	orders   *store.OrderStore
	trades   *store.TradeStore
	orderIDs *sequence.Sequencer
	tradeSeq *sequence.Sequencer
	pub      Publisher
	now      func() time.Time
}

// NewMatcher creates a new Matcher with the given dependencies. tradeSeq
// may be pre-advanced from a trade journal so that sequences keep growing
// across restarts.
func NewMatcher(
	books *BookManager,
	v *vault.Vault,
	ledger *store.Ledger,
	orders *store.OrderStore,
	trades *store.TradeStore,
	tradeSeq *sequence.Sequencer,
) *Matcher {
	return &Matcher{
		books:    books,
		vault:    v,
		ledger:   ledger,
		orders:   orders,
		trades:   trades,
		orderIDs: sequence.New(0),
		tradeSeq: tradeSeq,
		now:      time.Now,
	}
}

// SetPublisher registers the trade stream. Call it before serving orders.
func (m *Matcher) SetPublisher(p Publisher) {
	m.pub = p
}

// lockBook fails fast if the class is inside a custody call, then takes the
// book's write lock. The caller must unlock. Placements repeat the check
// through vault.TradableShareClass once the lock is held.
func (m *Matcher) lockBook(classID uint64) (*OrderBook, error) {
	if m.vault.Guard().Held(vault.ClassKey(classID)) {
		return nil, domain.ErrReentrantCall
	}
	book := m.books.GetOrCreate(classID)
	book.mu.Lock()
	return book, nil
}

// CreateLimitOrder validates and reserves the trader's balance and rests a
// new order on the book. Limit orders never match on placement.
func (m *Matcher) CreateLimitOrder(trader string, classID uint64, side domain.Side, amount, price int64) (domain.Order, error) {
	if !side.Valid() {
		return domain.Order{}, &domain.ValidationError{Message: "side must be 'buy' or 'sell'"}
	}

	book, err := m.lockBook(classID)
	if err != nil {
		return domain.Order{}, err
	}
	defer book.mu.Unlock()

	class, err := m.vault.TradableShareClass(classID)
	if err != nil {
		return domain.Order{}, err
	}
	if amount <= 0 || price <= 0 {
		return domain.Order{}, domain.ErrInvalidAmount
	}

	tx := m.ledger.Begin()
	defer tx.Rollback()

	if side == domain.SideSell {
		if err := tx.ReserveShares(trader, classID, amount); err != nil {
			return domain.Order{}, err
		}
	} else {
		if amount > class.TotalSupply {
			return domain.Order{}, domain.ErrAmountExceedsSupply
		}
		cost, err := domain.Cost(amount, price)
		if err != nil {
			return domain.Order{}, err
		}
		if err := tx.ReserveCurrency(trader, cost); err != nil {
			return domain.Order{}, err
		}
	}
	tx.Commit()

	order := &domain.Order{
		ID:           m.orderIDs.Next(),
		ShareClassID: classID,
		Side:         side,
		Trader:       trader,
		Price:        price,
		Amount:       amount,
		CreatedAt:    m.now(),
	}
	book.Insert(order)
	m.orders.Put(*order)

	return *order, nil
}

// CreateMarketOrder fills amount against the opposing book at the resting
// orders' prices and discards any unfilled remainder. The trader must be
// able to cover the whole request before the first fill: a sell needs
// amount spendable shares, a buy needs amount ≤ supply and enough spendable
// currency for the cost of walking the current book. Trades are returned in
// match order.
func (m *Matcher) CreateMarketOrder(trader string, classID uint64, side domain.Side, amount int64) ([]domain.Trade, error) {
	if !side.Valid() {
		return nil, &domain.ValidationError{Message: "side must be 'buy' or 'sell'"}
	}

	book, err := m.lockBook(classID)
	if err != nil {
		return nil, err
	}
	trades, err := m.marketOrder(book, trader, classID, side, amount)
	if m.pub == nil || len(trades) == 0 {
		book.mu.Unlock()
		return trades, err
	}

	// pubMu keeps this class's batches in order once mu is released.
	book.pubMu.Lock()
	book.mu.Unlock()
	m.pub.Publish(trades)
	book.pubMu.Unlock()
	return trades, err
}

// marketOrder runs a market order against a book whose write lock the
// caller holds.
func (m *Matcher) marketOrder(book *OrderBook, trader string, classID uint64, side domain.Side, amount int64) ([]domain.Trade, error) {
	class, err := m.vault.TradableShareClass(classID)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	// Step 1: Validate and reserve for the whole walk.
	var reserved int64
	tx := m.ledger.Begin()
	if side == domain.SideSell {
		if err := tx.ReserveShares(trader, classID, amount); err != nil {
			tx.Rollback()
			return nil, err
		}
		reserved = amount
	} else {
		if amount > class.TotalSupply {
			tx.Rollback()
			return nil, domain.ErrAmountExceedsSupply
		}
		_, cost, err := simulate(book, domain.SideSell, amount)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if cost > 0 {
			if err := tx.ReserveCurrency(trader, cost); err != nil {
				tx.Rollback()
				return nil, err
			}
		}
		reserved = cost
	}
	tx.Commit()

	// Step 2: Match loop.
	executedAt := m.now()
	remaining := amount
	var trades []domain.Trade
	var settleErr error

	for remaining > 0 {
		best, found := book.Best(side.Opposite())
		if !found {
			break
		}
		resting := best.Order

		fillQty := min(remaining, resting.Remaining())
		cost, err := domain.Cost(fillQty, resting.Price)
		if err != nil {
			settleErr = err
			break
		}
		if err := m.settle(trader, side, resting, fillQty, cost); err != nil {
			settleErr = fmt.Errorf("settle against order %d: %w", resting.ID, err)
			break
		}

		if side == domain.SideSell {
			reserved -= fillQty
		} else {
			reserved -= cost
		}
		remaining -= fillQty
		resting.Filled += fillQty
		if resting.Remaining() == 0 {
			book.Remove(resting.ID)
		}
		m.orders.Put(*resting)

		trade := domain.Trade{
			TradeID:      uuid.NewString(),
			Seq:          m.tradeSeq.Next(),
			OrderID:      resting.ID,
			ShareClassID: classID,
			Trader1:      resting.Trader,
			Trader2:      trader,
			Amount:       fillQty,
			Price:        resting.Price,
			ExecutedAt:   executedAt,
		}
		m.trades.Append(trade)
		trades = append(trades, trade)
	}

	// Step 3: Release what the walk did not consume.
	if reserved > 0 {
		if err := m.release(trader, classID, side, reserved); err != nil {
			settleErr = errors.Join(settleErr, err)
		}
	}

	return trades, settleErr
}

// settle executes one fill as a single ledger unit of work: both
// reservations are released for the fill, shares move seller → buyer and
// currency moves buyer → seller at the resting price.
func (m *Matcher) settle(taker string, takerSide domain.Side, resting *domain.Order, fillQty, cost int64) error {
	classID := resting.ShareClassID
	buyer, seller := taker, resting.Trader
	if takerSide == domain.SideSell {
		buyer, seller = resting.Trader, taker
	}

	tx := m.ledger.Begin()
	defer tx.Rollback()

	if err := tx.ReleaseShares(seller, classID, fillQty); err != nil {
		return err
	}
	if err := tx.ReleaseCurrency(buyer, cost); err != nil {
		return err
	}
	if err := tx.TransferShares(seller, buyer, classID, fillQty); err != nil {
		return err
	}
	if err := tx.DebitCurrency(buyer, cost); err != nil {
		return err
	}
	if err := tx.CreditCurrency(seller, cost); err != nil {
		return err
	}
	tx.Commit()
	return nil
}

func (m *Matcher) release(trader string, classID uint64, side domain.Side, amount int64) error {
	tx := m.ledger.Begin()
	defer tx.Rollback()

	if side == domain.SideSell {
		if err := tx.ReleaseShares(trader, classID, amount); err != nil {
			return err
		}
	} else {
		if err := tx.ReleaseCurrency(trader, amount); err != nil {
			return err
		}
	}
	tx.Commit()
	return nil
}

// releaseOrder releases the reservation held by the unfilled part of a
// resting order.
func (m *Matcher) releaseOrder(o *domain.Order) error {
	if o.Side == domain.SideSell {
		return m.release(o.Trader, o.ShareClassID, o.Side, o.Remaining())
	}
	cost, err := domain.Cost(o.Remaining(), o.Price)
	if err != nil {
		return err
	}
	return m.release(o.Trader, o.ShareClassID, o.Side, cost)
}

// DeleteOrder removes a resting order on behalf of its trader and releases
// the reservation for its unfilled remainder.
func (m *Matcher) DeleteOrder(caller string, classID uint64, side domain.Side, orderID uint64) (domain.Order, error) {
	book, err := m.lockBook(classID)
	if err != nil {
		return domain.Order{}, err
	}
	defer book.mu.Unlock()

	entry, ok := book.Get(orderID)
	if !ok || entry.Order.Side != side {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	order := entry.Order
	if order.Trader != caller {
		return domain.Order{}, domain.ErrNotOrderOwner
	}

	if err := m.releaseOrder(order); err != nil {
		return domain.Order{}, err
	}
	book.Remove(order.ID)
	order.Deleted = true
	m.orders.Put(*order)

	return *order, nil
}

// GetOrders returns a snapshot of one side of a class's book in priority
// order.
func (m *Matcher) GetOrders(classID uint64, side domain.Side) ([]domain.Order, error) {
	if _, err := m.vault.ShareClass(classID); err != nil {
		return nil, err
	}
	book := m.books.GetOrCreate(classID)

	book.mu.RLock()
	defer book.mu.RUnlock()
	return book.Orders(side), nil
}

// Depth returns up to n aggregated price levels for each side of a class's
// book.
func (m *Matcher) Depth(classID uint64, n int) (bids, asks []PriceLevel, err error) {
	if _, err := m.vault.ShareClass(classID); err != nil {
		return nil, nil, err
	}
	book := m.books.GetOrCreate(classID)

	book.mu.RLock()
	defer book.mu.RUnlock()
	return book.TopLevels(domain.SideBuy, n), book.TopLevels(domain.SideSell, n), nil
}

// Redeem runs the vault redemption inside the class's serialization domain
// and, on success, closes the class's book.
func (m *Matcher) Redeem(ctx context.Context, caller string, classID uint64) (domain.ShareClass, []domain.Order, error) {
	book, err := m.lockBook(classID)
	if err != nil {
		return domain.ShareClass{}, nil, err
	}
	defer book.mu.Unlock()

	class, err := m.vault.Redeem(ctx, caller, classID)
	if err != nil {
		return domain.ShareClass{}, nil, err
	}
	// The vault already released and burned the sell side's shares.
	closed, err := m.closeBook(book, true)
	return class, closed, err
}

// CloseBook removes every resting order of a class and releases their
// reservations. It returns the removed orders.
func (m *Matcher) CloseBook(classID uint64) ([]domain.Order, error) {
	book, err := m.lockBook(classID)
	if err != nil {
		return nil, err
	}
	defer book.mu.Unlock()
	return m.closeBook(book, false)
}

// closeBook clears the book. With sharesBurned set, only buy-side
// reservations are released.
func (m *Matcher) closeBook(book *OrderBook, sharesBurned bool) ([]domain.Order, error) {
	var errs []error
	removed := book.clear()
	closed := make([]domain.Order, 0, len(removed))
	for _, o := range removed {
		if sharesBurned && o.Side == domain.SideSell {
			o.Deleted = true
			m.orders.Put(*o)
			closed = append(closed, *o)
			continue
		}
		if err := m.releaseOrder(o); err != nil {
			errs = append(errs, fmt.Errorf("release order %d: %w", o.ID, err))
		}
		o.Deleted = true
		m.orders.Put(*o)
		closed = append(closed, *o)
	}
	return closed, errors.Join(errs...)
}

// Quote performs a read-only walk of the opposing side to estimate the
// result of a market order without placing it.
func (m *Matcher) Quote(classID uint64, side domain.Side, amount int64) (*QuoteResult, error) {
	if !side.Valid() {
		return nil, &domain.ValidationError{Message: "side must be 'buy' or 'sell'"}
	}
	if _, err := m.vault.ShareClass(classID); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	book := m.books.GetOrCreate(classID)

	book.mu.RLock()
	defer book.mu.RUnlock()

	result := &QuoteResult{
		PriceLevels: make([]QuotePriceLevel, 0),
	}

	levels, totalCost, err := simulate(book, side.Opposite(), amount)
	if err != nil {
		return nil, err
	}
	for _, l := range levels {
		result.QuantityAvailable += l.Quantity
	}
	result.PriceLevels = levels

	if result.QuantityAvailable > 0 {
		avgPrice := totalCost / result.QuantityAvailable
		result.EstimatedAvgPrice = &avgPrice
		result.EstimatedTotal = &totalCost
	}
	result.FullyFillable = result.QuantityAvailable >= amount

	return result, nil
}

// simulate walks one side of the book for up to amount shares and returns
// the consumed price levels and their total cost. The caller must hold the
// book lock.
func simulate(book *OrderBook, side domain.Side, amount int64) ([]QuotePriceLevel, int64, error) {
	levels := make([]QuotePriceLevel, 0)
	remaining := amount
	var total int64
	var err error

	book.Walk(side, func(entry OrderBookEntry) bool {
		fillQty := min(remaining, entry.Order.Remaining())
		var cost int64
		if cost, err = domain.Cost(fillQty, entry.Price); err != nil {
			return false
		}
		if total, err = addCost(total, cost); err != nil {
			return false
		}
		remaining -= fillQty

		if len(levels) > 0 && levels[len(levels)-1].Price == entry.Price {
			levels[len(levels)-1].Quantity += fillQty
		} else {
			levels = append(levels, QuotePriceLevel{Price: entry.Price, Quantity: fillQty})
		}
		return remaining > 0
	})
	return levels, total, err
}

func addCost(total, cost int64) (int64, error) {
	if total > math.MaxInt64-cost {
		return 0, fmt.Errorf("total cost overflows: %w", domain.ErrInvalidAmount)
	}
	return total + cost, nil
}

// DepositCurrency credits an account's currency balance.
func (m *Matcher) DepositCurrency(account string, amount int64) (domain.CurrencyBalance, error) {
	tx := m.ledger.Begin()
	defer tx.Rollback()
	if err := tx.CreditCurrency(account, amount); err != nil {
		return domain.CurrencyBalance{}, err
	}
	b := tx.CurrencyBalance(account)
	tx.Commit()
	return b, nil
}

// WithdrawCurrency debits an account's spendable currency balance.
func (m *Matcher) WithdrawCurrency(account string, amount int64) (domain.CurrencyBalance, error) {
	tx := m.ledger.Begin()
	defer tx.Rollback()
	if err := tx.DebitCurrency(account, amount); err != nil {
		return domain.CurrencyBalance{}, err
	}
	b := tx.CurrencyBalance(account)
	tx.Commit()
	return b, nil
}
