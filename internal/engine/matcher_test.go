package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/efreitasn/fractionex/internal/custody"
	"github.com/efreitasn/fractionex/internal/domain"
	"github.com/efreitasn/fractionex/internal/sequence"
	"github.com/efreitasn/fractionex/internal/store"
	"github.com/efreitasn/fractionex/internal/vault"
)

const testVaultAccount = "vault"

// tb is the subset of testing.TB also implemented by *rapid.T.
type tb interface {
	Helper()
	Fatalf(format string, args ...any)
}

type testEngine struct {
	matcher  *Matcher
	vault    *vault.Vault
	ledger   *store.Ledger
	registry *custody.Registry
	orders   *store.OrderStore
	trades   *store.TradeStore
	assets   int
}

// newTestMatcher creates a Matcher with fresh stores for testing.
func newTestMatcher() *testEngine {
	ledger := store.NewLedger()
	registry := custody.NewRegistry()
	v := vault.New(ledger, registry, testVaultAccount)
	orders := store.NewOrderStore()
	trades := store.NewTradeStore()
	m := NewMatcher(NewBookManager(), v, ledger, orders, trades, sequence.New(0))
	return &testEngine{
		matcher:  m,
		vault:    v,
		ledger:   ledger,
		registry: registry,
		orders:   orders,
		trades:   trades,
	}
}

// depositClass mints a fresh asset to owner and fractionalizes it.
func (e *testEngine) depositClass(t tb, owner string, supply int64) uint64 {
	t.Helper()
	e.assets++
	ref := domain.AssetRef{Collection: "art", TokenID: fmt.Sprint(e.assets)}
	if err := e.registry.Mint(ref, owner); err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if err := e.registry.Approve(owner, ref, testVaultAccount); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	class, err := e.vault.Deposit(context.Background(), owner, ref, supply)
	if err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}
	return class.ID
}

// fund credits currency to an account.
func (e *testEngine) fund(t tb, account string, amount int64) {
	t.Helper()
	if _, err := e.matcher.DepositCurrency(account, amount); err != nil {
		t.Fatalf("DepositCurrency() error = %v", err)
	}
}

func (e *testEngine) limit(t tb, trader string, classID uint64, side domain.Side, amount, price int64) domain.Order {
	t.Helper()
	o, err := e.matcher.CreateLimitOrder(trader, classID, side, amount, price)
	if err != nil {
		t.Fatalf("CreateLimitOrder(%s %s %d@%d) error = %v", trader, side, amount, price, err)
	}
	return o
}

func TestCreateLimitOrder_SellReservesShares(t *testing.T) {
	e := newTestMatcher()
	classID := e.depositClass(t, "alice", 100)

	order := e.limit(t, "alice", classID, domain.SideSell, 50, 2)

	if order.ID != 1 {
		t.Errorf("expected first order id 1, got %d", order.ID)
	}
	if order.Status() != domain.OrderStatusOpen {
		t.Errorf("expected status open, got %s", order.Status())
	}
	b := e.ledger.ShareBalance("alice", classID)
	if b.Total != 100 || b.Reserved != 50 {
		t.Errorf("share balance = %+v, want total 100 reserved 50", b)
	}

	orders, _ := e.matcher.GetOrders(classID, domain.SideSell)
	if len(orders) != 1 || orders[0].ID != order.ID {
		t.Errorf("GetOrders() = %+v", orders)
	}
}

func TestCreateLimitOrder_BuyReservesCurrency(t *testing.T) {
	e := newTestMatcher()
	classID := e.depositClass(t, "alice", 100)
	e.fund(t, "bob", 1000)

	e.limit(t, "bob", classID, domain.SideBuy, 40, 3)

	b := e.ledger.CurrencyBalance("bob")
	if b.Total != 1000 || b.Reserved != 120 {
		t.Errorf("currency balance = %+v, want total 1000 reserved 120", b)
	}
}

func TestCreateLimitOrder_DoesNotCross(t *testing.T) {
	e := newTestMatcher()
	classID := e.depositClass(t, "alice", 100)
	e.fund(t, "bob", 1000)

	e.limit(t, "alice", classID, domain.SideSell, 10, 2)
	e.limit(t, "bob", classID, domain.SideBuy, 10, 5)

	if e.trades.Count() != 0 {
		t.Fatalf("limit orders must rest, got %d trades", e.trades.Count())
	}
	sells, _ := e.matcher.GetOrders(classID, domain.SideSell)
	buys, _ := e.matcher.GetOrders(classID, domain.SideBuy)
	if len(sells) != 1 || len(buys) != 1 {
		t.Fatalf("expected one order per side, got %d sells %d buys", len(sells), len(buys))
	}
}

func TestCreateLimitOrder_Errors(t *testing.T) {
	e := newTestMatcher()
	classID := e.depositClass(t, "alice", 100)
	e.fund(t, "bob", 100)

	tests := []struct {
		name    string
		trader  string
		classID uint64
		side    domain.Side
		amount  int64
		price   int64
		wantErr error
	}{
		{"unknown class", "alice", 99, domain.SideSell, 1, 1, domain.ErrUnknownToken},
		{"zero amount", "alice", classID, domain.SideSell, 0, 1, domain.ErrInvalidAmount},
		{"zero price", "alice", classID, domain.SideSell, 1, 0, domain.ErrInvalidAmount},
		{"insufficient shares", "alice", classID, domain.SideSell, 101, 1, domain.ErrInsufficientShares},
		{"seller without shares", "bob", classID, domain.SideSell, 1, 1, domain.ErrInsufficientShares},
		{"exceeds supply", "bob", classID, domain.SideBuy, 101, 1, domain.ErrAmountExceedsSupply},
		{"insufficient funds", "bob", classID, domain.SideBuy, 51, 2, domain.ErrInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.matcher.CreateLimitOrder(tt.trader, tt.classID, tt.side, tt.amount, tt.price)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	// Failed placements reserve nothing and consume no ids.
	if b := e.ledger.CurrencyBalance("bob"); b.Reserved != 0 {
		t.Errorf("bob reserved = %d, want 0", b.Reserved)
	}
	if b := e.ledger.ShareBalance("alice", classID); b.Reserved != 0 {
		t.Errorf("alice reserved = %d, want 0", b.Reserved)
	}
	if o := e.limit(t, "alice", classID, domain.SideSell, 1, 1); o.ID != 1 {
		t.Errorf("first successful order id = %d, want 1", o.ID)
	}
}

func TestCreateLimitOrder_InvalidSide(t *testing.T) {
	e := newTestMatcher()
	classID := e.depositClass(t, "alice", 100)

	_, err := e.matcher.CreateLimitOrder("alice", classID, domain.Side("hold"), 1, 1)
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestCreateLimitOrder_IDsIncreaseAcrossBooks(t *testing.T) {
	e := newTestMatcher()
	a := e.depositClass(t, "alice", 100)
	b := e.depositClass(t, "alice", 100)
	e.fund(t, "bob", 1000)

	ids := []uint64{
		e.limit(t, "alice", a, domain.SideSell, 1, 1).ID,
		e.limit(t, "bob", b, domain.SideBuy, 1, 1).ID,
		e.limit(t, "alice", b, domain.SideSell, 1, 1).ID,
		e.limit(t, "bob", a, domain.SideBuy, 1, 1).ID,
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("ids not strictly increasing: %v", ids)
		}
	}
}

// A sell market order for 80 against buys (id1, 3, 50) and (id2, 2, 40)
// fills id1 fully at 3 and id2 partially at 2.
func TestCreateMarketOrder_SellPriceTimePriority(t *testing.T) {
	e := newTestMatcher()
	classID := e.depositClass(t, "seller", 100)
	e.fund(t, "buyer1", 150)
	e.fund(t, "buyer2", 80)

	id1 := e.limit(t, "buyer1", classID, domain.SideBuy, 50, 3).ID
	id2 := e.limit(t, "buyer2", classID, domain.SideBuy, 40, 2).ID

	trades, err := e.matcher.CreateMarketOrder("seller", classID, domain.SideSell, 80)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}

	want := []struct {
		orderID uint64
		trader1 string
		amount  int64
		price   int64
	}{
		{id1, "buyer1", 50, 3},
		{id2, "buyer2", 30, 2},
	}
	for i, w := range want {
		tr := trades[i]
		if tr.OrderID != w.orderID || tr.Trader1 != w.trader1 || tr.Trader2 != "seller" ||
			tr.Amount != w.amount || tr.Price != w.price {
			t.Errorf("trade[%d] = %+v, want %+v", i, tr, w)
		}
	}
	if trades[0].Seq >= trades[1].Seq {
		t.Errorf("trade sequences not increasing: %d, %d", trades[0].Seq, trades[1].Seq)
	}

	buys, _ := e.matcher.GetOrders(classID, domain.SideBuy)
	if len(buys) != 1 || buys[0].ID != id2 || buys[0].Filled != 30 {
		t.Fatalf("remaining buys = %+v, want id2 with filled 30", buys)
	}
	if buys[0].Status() != domain.OrderStatusPartiallyFilled {
		t.Errorf("status = %s, want partially_filled", buys[0].Status())
	}

	stored, _ := e.orders.Get(id1)
	if stored.Status() != domain.OrderStatusFilled {
		t.Errorf("stored id1 status = %s, want filled", stored.Status())
	}

	// Balances: seller 150+60 currency, 20 shares; buyer2 keeps 10×2 reserved.
	if got := e.ledger.CurrencyBalance("seller"); got.Total != 210 || got.Reserved != 0 {
		t.Errorf("seller currency = %+v, want 210/0", got)
	}
	if got := e.ledger.ShareBalance("seller", classID); got.Total != 20 || got.Reserved != 0 {
		t.Errorf("seller shares = %+v, want 20/0", got)
	}
	if got := e.ledger.CurrencyBalance("buyer1"); got.Total != 0 || got.Reserved != 0 {
		t.Errorf("buyer1 currency = %+v, want 0/0", got)
	}
	if got := e.ledger.CurrencyBalance("buyer2"); got.Total != 20 || got.Reserved != 20 {
		t.Errorf("buyer2 currency = %+v, want 20/20", got)
	}
	if got := e.vault.ListHoldersOf(classID); !slices.Equal(got, []string{"seller", "buyer1", "buyer2"}) {
		t.Errorf("holders = %v", got)
	}
}

func TestCreateMarketOrder_BuyWalksAsks(t *testing.T) {
	e := newTestMatcher()
	classID := e.depositClass(t, "seller", 100)
	e.fund(t, "buyer", 1000)

	sell := e.limit(t, "seller", classID, domain.SideSell, 50, 2)

	// Buying 60 against 50 available fills 50 and discards the rest.
	trades, err := e.matcher.CreateMarketOrder("buyer", classID, domain.SideBuy, 60)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades) != 1 || trades[0].Amount != 50 || trades[0].Price != 2 || trades[0].OrderID != sell.ID {
		t.Fatalf("unexpected trades %+v", trades)
	}
	if trades[0].Trader1 != "seller" || trades[0].Trader2 != "buyer" {
		t.Errorf("traders = %s/%s, want seller/buyer", trades[0].Trader1, trades[0].Trader2)
	}

	if got := e.ledger.CurrencyBalance("buyer"); got.Total != 900 || got.Reserved != 0 {
		t.Errorf("buyer currency = %+v, want 900/0", got)
	}
	if got := e.ledger.ShareBalance("buyer", classID).Total; got != 50 {
		t.Errorf("buyer shares = %d, want 50", got)
	}
	if got := e.vault.ListHoldersOf(classID); !slices.Equal(got, []string{"seller", "buyer"}) {
		t.Errorf("holders = %v, want [seller buyer]", got)
	}
	if sells, _ := e.matcher.GetOrders(classID, domain.SideSell); len(sells) != 0 {
		t.Errorf("filled order still on book: %+v", sells)
	}
}

func TestCreateMarketOrder_BuyOrderOfPriceLevels(t *testing.T) {
	e := newTestMatcher()
	classID := e.depositClass(t, "seller", 100)
	e.fund(t, "buyer", 1000)

	e.limit(t, "seller", classID, domain.SideSell, 10, 5)
	e.limit(t, "seller", classID, domain.SideSell, 10, 3)
	e.limit(t, "seller", classID, domain.SideSell, 10, 3)

	trades, err := e.matcher.CreateMarketOrder("buyer", classID, domain.SideBuy, 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantOrders := []uint64{2, 3, 1}
	wantAmounts := []int64{10, 10, 5}
	if len(trades) != 3 {
		t.Fatalf("expected 3 trades, got %d", len(trades))
	}
	for i := range trades {
		if trades[i].OrderID != wantOrders[i] || trades[i].Amount != wantAmounts[i] {
			t.Errorf("trade[%d] = order %d amount %d, want order %d amount %d",
				i, trades[i].OrderID, trades[i].Amount, wantOrders[i], wantAmounts[i])
		}
	}
	if got := e.ledger.CurrencyBalance("buyer").Total; got != 1000-60-25 {
		t.Errorf("buyer currency = %d, want %d", got, 1000-60-25)
	}
}

type recordingPublisher struct {
	batches [][]domain.Trade
}

func (p *recordingPublisher) Publish(trades []domain.Trade) {
	p.batches = append(p.batches, trades)
}

func TestCreateMarketOrder_PublishesTrades(t *testing.T) {
	e := newTestMatcher()
	pub := &recordingPublisher{}
	e.matcher.SetPublisher(pub)
	classID := e.depositClass(t, "alice", 100)
	e.fund(t, "bob", 1000)
	e.fund(t, "carol", 1000)
	e.limit(t, "bob", classID, domain.SideBuy, 10, 3)
	e.limit(t, "carol", classID, domain.SideBuy, 10, 2)

	trades, err := e.matcher.CreateMarketOrder("alice", classID, domain.SideSell, 15)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pub.batches) != 1 {
		t.Fatalf("got %d published batches, want 1", len(pub.batches))
	}
	got := pub.batches[0]
	if len(got) != len(trades) {
		t.Fatalf("published %d trades, returned %d", len(got), len(trades))
	}
	for i := range got {
		if got[i] != trades[i] {
			t.Errorf("trade %d: published %+v, returned %+v", i, got[i], trades[i])
		}
	}
	if got[0].Seq >= got[1].Seq {
		t.Errorf("expected increasing seqs, got %d then %d", got[0].Seq, got[1].Seq)
	}

	// No fills, nothing published.
	if _, err := e.matcher.CreateMarketOrder("alice", classID, domain.SideSell, 100); err == nil {
		t.Fatal("expected error selling more than spendable")
	}
	if len(pub.batches) != 1 {
		t.Errorf("got %d published batches after failed order, want 1", len(pub.batches))
	}
}

func TestCreateMarketOrder_EmptyBook(t *testing.T) {
	e := newTestMatcher()
	classID := e.depositClass(t, "seller", 100)
	e.fund(t, "buyer", 10)

	for _, side := range []domain.Side{domain.SideBuy, domain.SideSell} {
		trader := "buyer"
		if side == domain.SideSell {
			trader = "seller"
		}
		trades, err := e.matcher.CreateMarketOrder(trader, classID, side, 5)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", side, err)
		}
		if len(trades) != 0 {
			t.Fatalf("%s: expected no trades, got %d", side, len(trades))
		}
	}
	if got := e.ledger.ShareBalance("seller", classID); got.Reserved != 0 {
		t.Errorf("seller reserved = %d, want 0", got.Reserved)
	}
}

func TestCreateMarketOrder_PreconditionsFailBeforeAnyFill(t *testing.T) {
	e := newTestMatcher()
	classID := e.depositClass(t, "seller", 100)
	e.fund(t, "buyer", 100)
	e.fund(t, "rich", 10000)

	e.limit(t, "seller", classID, domain.SideSell, 30, 2)
	e.limit(t, "seller", classID, domain.SideSell, 30, 3)
	e.limit(t, "rich", classID, domain.SideBuy, 10, 4)

	tests := []struct {
		name    string
		trader  string
		side    domain.Side
		amount  int64
		wantErr error
	}{
		// 30×2 + 20×3 = 120 > 100
		{"buy cost exceeds funds", "buyer", domain.SideBuy, 50, domain.ErrInsufficientFunds},
		{"buy exceeds supply", "rich", domain.SideBuy, 101, domain.ErrAmountExceedsSupply},
		// 60 of the seller's 100 shares are reserved by resting sells.
		{"sell exceeds spendable shares", "seller", domain.SideSell, 41, domain.ErrInsufficientShares},
		{"sell without shares", "buyer", domain.SideSell, 1, domain.ErrInsufficientShares},
		{"zero amount", "buyer", domain.SideBuy, 0, domain.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trades, err := e.matcher.CreateMarketOrder(tt.trader, classID, tt.side, tt.amount)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if len(trades) != 0 {
				t.Fatalf("expected no trades, got %d", len(trades))
			}
		})
	}

	if e.trades.Count() != 0 {
		t.Fatalf("expected no trades recorded, got %d", e.trades.Count())
	}
	if got := e.ledger.CurrencyBalance("buyer"); got.Total != 100 || got.Reserved != 0 {
		t.Errorf("buyer currency = %+v, want 100/0", got)
	}
}

func TestCreateMarketOrder_UnknownToken(t *testing.T) {
	e := newTestMatcher()
	_, err := e.matcher.CreateMarketOrder("alice", 42, domain.SideBuy, 1)
	if !errors.Is(err, domain.ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken, got %v", err)
	}
}

func TestCreateMarketOrder_SelfTrade(t *testing.T) {
	e := newTestMatcher()
	classID := e.depositClass(t, "alice", 100)
	e.fund(t, "alice", 100)

	e.limit(t, "alice", classID, domain.SideSell, 10, 2)
	trades, err := e.matcher.CreateMarketOrder("alice", classID, domain.SideBuy, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if got := e.ledger.CurrencyBalance("alice"); got.Total != 100 || got.Reserved != 0 {
		t.Errorf("currency = %+v, want 100/0", got)
	}
	if got := e.ledger.ShareBalance("alice", classID); got.Total != 100 || got.Reserved != 0 {
		t.Errorf("shares = %+v, want 100/0", got)
	}
}

func TestCreateMarketOrder_WhilePaused(t *testing.T) {
	e := newTestMatcher()
	classID := e.depositClass(t, "seller", 100)
	e.fund(t, "buyer", 100)
	e.limit(t, "seller", classID, domain.SideSell, 10, 2)

	e.vault.Pause()

	if _, err := e.matcher.CreateMarketOrder("buyer", classID, domain.SideBuy, 10); err != nil {
		t.Fatalf("settlement must continue while paused: %v", err)
	}
	if _, err := e.matcher.CreateLimitOrder("seller", classID, domain.SideSell, 10, 2); err != nil {
		t.Fatalf("placement must continue while paused: %v", err)
	}
}

func TestDeleteOrder(t *testing.T) {
	e := newTestMatcher()
	classID := e.depositClass(t, "seller", 100)
	e.fund(t, "buyer", 1000)

	buy := e.limit(t, "buyer", classID, domain.SideBuy, 50, 4)
	if _, err := e.matcher.CreateMarketOrder("seller", classID, domain.SideSell, 20); err != nil {
		t.Fatalf("market sell error: %v", err)
	}

	deleted, err := e.matcher.DeleteOrder("buyer", classID, domain.SideBuy, buy.ID)
	if err != nil {
		t.Fatalf("DeleteOrder() error = %v", err)
	}
	if deleted.Status() != domain.OrderStatusDeleted || deleted.Filled != 20 {
		t.Errorf("deleted order = %+v", deleted)
	}
	// 30 unfilled × 4 released; 20 × 4 spent.
	if got := e.ledger.CurrencyBalance("buyer"); got.Total != 920 || got.Reserved != 0 {
		t.Errorf("buyer currency = %+v, want 920/0", got)
	}
	if buys, _ := e.matcher.GetOrders(classID, domain.SideBuy); len(buys) != 0 {
		t.Errorf("deleted order still on book")
	}
	stored, _ := e.orders.Get(buy.ID)
	if stored.Status() != domain.OrderStatusDeleted {
		t.Errorf("stored status = %s, want deleted", stored.Status())
	}
}

func TestDeleteOrder_SellReleasesShares(t *testing.T) {
	e := newTestMatcher()
	classID := e.depositClass(t, "seller", 100)

	sell := e.limit(t, "seller", classID, domain.SideSell, 60, 1)
	if _, err := e.matcher.DeleteOrder("seller", classID, domain.SideSell, sell.ID); err != nil {
		t.Fatalf("DeleteOrder() error = %v", err)
	}
	if got := e.ledger.ShareBalance("seller", classID); got.Reserved != 0 || got.Total != 100 {
		t.Errorf("shares = %+v, want 100/0", got)
	}
}

func TestDeleteOrder_ByNonTraderFails(t *testing.T) {
	e := newTestMatcher()
	classID := e.depositClass(t, "seller", 100)
	sell := e.limit(t, "seller", classID, domain.SideSell, 60, 1)

	_, err := e.matcher.DeleteOrder("mallory", classID, domain.SideSell, sell.ID)
	if !errors.Is(err, domain.ErrNotOrderOwner) {
		t.Fatalf("expected ErrNotOrderOwner, got %v", err)
	}

	sells, _ := e.matcher.GetOrders(classID, domain.SideSell)
	if len(sells) != 1 || sells[0] != sell {
		t.Fatalf("order changed after rejected delete: %+v", sells)
	}
	if got := e.ledger.ShareBalance("seller", classID); got.Reserved != 60 {
		t.Errorf("reserved = %d, want 60", got.Reserved)
	}
}

func TestDeleteOrder_NotFound(t *testing.T) {
	e := newTestMatcher()
	classID := e.depositClass(t, "seller", 100)
	sell := e.limit(t, "seller", classID, domain.SideSell, 10, 1)

	tests := []struct {
		name    string
		side    domain.Side
		orderID uint64
	}{
		{"unknown id", domain.SideSell, 99},
		{"wrong side", domain.SideBuy, sell.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.matcher.DeleteOrder("seller", classID, tt.side, tt.orderID)
			if !errors.Is(err, domain.ErrOrderNotFound) {
				t.Fatalf("expected ErrOrderNotFound, got %v", err)
			}
		})
	}

	if _, err := e.matcher.DeleteOrder("seller", classID, domain.SideSell, sell.ID); err != nil {
		t.Fatalf("DeleteOrder() error = %v", err)
	}
	if _, err := e.matcher.DeleteOrder("seller", classID, domain.SideSell, sell.ID); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("second delete error = %v, want ErrOrderNotFound", err)
	}
}

// Deposit 100, trade all 100 to one buyer, buyer redeems.
func TestRedeem_AfterFullTrade(t *testing.T) {
	e := newTestMatcher()
	classID := e.depositClass(t, "depositor", 100)
	e.fund(t, "buyer", 1000)

	e.limit(t, "depositor", classID, domain.SideSell, 100, 5)
	if _, err := e.matcher.CreateMarketOrder("buyer", classID, domain.SideBuy, 100); err != nil {
		t.Fatalf("market buy error: %v", err)
	}

	if got := e.vault.BalanceOf("depositor", classID); got != 0 {
		t.Errorf("depositor balance = %d, want 0", got)
	}
	if got := e.vault.ListHoldersOf(classID); !slices.Equal(got, []string{"buyer"}) {
		t.Errorf("holders = %v, want [buyer]", got)
	}

	// A resting bid from someone else is released when the book closes.
	e.fund(t, "other", 100)
	e.limit(t, "other", classID, domain.SideBuy, 10, 3)

	class, closed, err := e.matcher.Redeem(context.Background(), "buyer", classID)
	if err != nil {
		t.Fatalf("Redeem() error = %v", err)
	}
	if class.TotalSupply != 100 {
		t.Errorf("redeemed supply = %d, want 100", class.TotalSupply)
	}
	if len(closed) != 1 || closed[0].Trader != "other" || closed[0].Status() != domain.OrderStatusDeleted {
		t.Errorf("closed orders = %+v", closed)
	}
	if got := e.ledger.CurrencyBalance("other"); got.Reserved != 0 || got.Total != 100 {
		t.Errorf("other currency = %+v, want 100/0", got)
	}

	owner, _ := e.registry.OwnerOf(context.Background(), class.Asset)
	if owner != "buyer" {
		t.Errorf("asset owner = %q, want buyer", owner)
	}
	if _, err := e.matcher.CreateLimitOrder("buyer", classID, domain.SideBuy, 1, 1); !errors.Is(err, domain.ErrUnknownToken) {
		t.Errorf("placement on redeemed class error = %v, want ErrUnknownToken", err)
	}
}

func TestRedeem_FailureLeavesBookOpen(t *testing.T) {
	e := newTestMatcher()
	classID := e.depositClass(t, "alice", 100)
	e.fund(t, "bob", 100)
	e.limit(t, "bob", classID, domain.SideBuy, 10, 1)

	if _, _, err := e.matcher.Redeem(context.Background(), "bob", classID); !errors.Is(err, domain.ErrNotSoleOwner) {
		t.Fatalf("expected ErrNotSoleOwner, got %v", err)
	}
	if buys, _ := e.matcher.GetOrders(classID, domain.SideBuy); len(buys) != 1 {
		t.Fatalf("book changed after failed redeem: %+v", buys)
	}
}

func TestRedeem_ReentrantCallFromCustody(t *testing.T) {
	e := newTestMatcher()
	classID := e.depositClass(t, "alice", 100)
	e.fund(t, "alice", 100)

	var inner []error
	e.registry.SetTransferHook(func(ctx context.Context, _ domain.AssetRef, _, _ string) {
		_, err := e.matcher.CreateLimitOrder("alice", classID, domain.SideBuy, 1, 1)
		inner = append(inner, err)
		_, err = e.matcher.CreateMarketOrder("alice", classID, domain.SideBuy, 1)
		inner = append(inner, err)
		_, err = e.matcher.DeleteOrder("alice", classID, domain.SideBuy, 1)
		inner = append(inner, err)
		_, _, err = e.matcher.Redeem(ctx, "alice", classID)
		inner = append(inner, err)
	})

	if _, _, err := e.matcher.Redeem(context.Background(), "alice", classID); err != nil {
		t.Fatalf("Redeem() error = %v", err)
	}
	if len(inner) != 4 {
		t.Fatalf("hook ran %d calls, want 4", len(inner))
	}
	for i, err := range inner {
		if !errors.Is(err, domain.ErrReentrantCall) {
			t.Errorf("inner call %d error = %v, want ErrReentrantCall", i, err)
		}
	}
}

func TestQuote(t *testing.T) {
	e := newTestMatcher()
	classID := e.depositClass(t, "seller", 100)
	e.limit(t, "seller", classID, domain.SideSell, 10, 2)
	e.limit(t, "seller", classID, domain.SideSell, 10, 2)
	e.limit(t, "seller", classID, domain.SideSell, 10, 4)

	q, err := e.matcher.Quote(classID, domain.SideBuy, 25)
	if err != nil {
		t.Fatalf("Quote() error = %v", err)
	}
	if q.QuantityAvailable != 25 || !q.FullyFillable {
		t.Errorf("quote = %+v", q)
	}
	if q.EstimatedTotal == nil || *q.EstimatedTotal != 60 {
		t.Errorf("EstimatedTotal = %v, want 60", q.EstimatedTotal)
	}
	if q.EstimatedAvgPrice == nil || *q.EstimatedAvgPrice != 2 {
		t.Errorf("EstimatedAvgPrice = %v, want 2", q.EstimatedAvgPrice)
	}
	if len(q.PriceLevels) != 2 || q.PriceLevels[0] != (QuotePriceLevel{Price: 2, Quantity: 20}) {
		t.Errorf("PriceLevels = %+v", q.PriceLevels)
	}

	q, _ = e.matcher.Quote(classID, domain.SideSell, 5)
	if q.QuantityAvailable != 0 || q.FullyFillable || q.EstimatedTotal != nil {
		t.Errorf("quote against empty bids = %+v", q)
	}
}

func TestDepth(t *testing.T) {
	e := newTestMatcher()
	classID := e.depositClass(t, "seller", 100)
	e.fund(t, "buyer", 100)
	e.limit(t, "seller", classID, domain.SideSell, 10, 3)
	e.limit(t, "buyer", classID, domain.SideBuy, 5, 1)
	e.limit(t, "buyer", classID, domain.SideBuy, 5, 1)

	bids, asks, err := e.matcher.Depth(classID, 10)
	if err != nil {
		t.Fatalf("Depth() error = %v", err)
	}
	if len(bids) != 1 || bids[0] != (PriceLevel{Price: 1, TotalQuantity: 10, OrderCount: 2}) {
		t.Errorf("bids = %+v", bids)
	}
	if len(asks) != 1 || asks[0].Price != 3 {
		t.Errorf("asks = %+v", asks)
	}
}

func TestCurrency_DepositWithdraw(t *testing.T) {
	e := newTestMatcher()

	if _, err := e.matcher.DepositCurrency("alice", 0); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("deposit 0 error = %v, want ErrInvalidAmount", err)
	}
	b, err := e.matcher.DepositCurrency("alice", 100)
	if err != nil || b.Total != 100 {
		t.Fatalf("DepositCurrency() = %+v, %v", b, err)
	}
	if _, err := e.matcher.WithdrawCurrency("alice", 101); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("over-withdraw error = %v, want ErrInsufficientFunds", err)
	}
	if got := e.ledger.CurrencyBalance("alice").Total; got != 100 {
		t.Fatalf("balance after rejected withdraw = %d, want 100", got)
	}
	b, err = e.matcher.WithdrawCurrency("alice", 40)
	if err != nil || b.Total != 60 {
		t.Fatalf("WithdrawCurrency() = %+v, %v", b, err)
	}
}

func TestWithdrawCurrency_ReservedNotWithdrawable(t *testing.T) {
	e := newTestMatcher()
	classID := e.depositClass(t, "seller", 100)
	e.fund(t, "buyer", 100)
	e.limit(t, "buyer", classID, domain.SideBuy, 30, 3)

	if _, err := e.matcher.WithdrawCurrency("buyer", 11); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("error = %v, want ErrInsufficientFunds", err)
	}
	if _, err := e.matcher.WithdrawCurrency("buyer", 10); err != nil {
		t.Fatalf("WithdrawCurrency() error = %v", err)
	}
}

func TestMatcher_ConcurrentMarketOrders(t *testing.T) {
	e := newTestMatcher()
	classID := e.depositClass(t, "seller", 1000)
	e.limit(t, "seller", classID, domain.SideSell, 1000, 1)

	const buyers = 20
	for i := 0; i < buyers; i++ {
		e.fund(t, fmt.Sprintf("buyer-%d", i), 100)
	}

	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = e.matcher.CreateMarketOrder(fmt.Sprintf("buyer-%d", i), classID, domain.SideBuy, 50)
		}(i)
	}
	wg.Wait()

	if got := e.ledger.TotalShares(classID); got != 1000 {
		t.Fatalf("TotalShares() = %d, want 1000", got)
	}
	if got := e.ledger.ShareBalance("seller", classID); got.Total != 0 || got.Reserved != 0 {
		t.Fatalf("seller = %+v, want 0/0", got)
	}
}

// stubCustody wraps a registry and lets a test take over transfers.
type stubCustody struct {
	*custody.Registry
	transfer func() error
}

func (s *stubCustody) TransferTo(ctx context.Context, operator string, ref domain.AssetRef, to string) error {
	if s.transfer != nil {
		return s.transfer()
	}
	return s.Registry.TransferTo(ctx, operator, ref, to)
}

func TestDeposit_PlacementQueuedOnBookCannotTradeDuringCustody(t *testing.T) {
	ledger := store.NewLedger()
	registry := custody.NewRegistry()
	entered := make(chan struct{})
	release := make(chan struct{})
	stub := &stubCustody{Registry: registry, transfer: func() error {
		close(entered)
		<-release
		return errors.New("custody down")
	}}
	v := vault.New(ledger, stub, testVaultAccount)
	m := NewMatcher(NewBookManager(), v, ledger, store.NewOrderStore(), store.NewTradeStore(), sequence.New(0))

	ref := domain.AssetRef{Collection: "art", TokenID: "1"}
	_ = registry.Mint(ref, "alice")
	_ = registry.Approve("alice", ref, testVaultAccount)

	// Hold class 1's book so the placement passes the early guard check and
	// waits on the lock while the deposit registers the class.
	book := m.books.GetOrCreate(1)
	book.mu.Lock()

	placed := make(chan error, 1)
	go func() {
		_, err := m.CreateLimitOrder("alice", 1, domain.SideSell, 10, 1)
		placed <- err
	}()
	time.Sleep(20 * time.Millisecond)

	deposited := make(chan error, 1)
	go func() {
		_, err := v.Deposit(context.Background(), "alice", ref, 100)
		deposited <- err
	}()
	<-entered
	book.mu.Unlock()

	if err := <-placed; !errors.Is(err, domain.ErrReentrantCall) {
		t.Errorf("placement during custody call error = %v, want ErrReentrantCall", err)
	}
	close(release)

	err := <-deposited
	if !errors.Is(err, domain.ErrCustody) {
		t.Fatalf("Deposit() error = %v, want ErrCustody", err)
	}
	if errors.Is(err, domain.ErrInsufficientShares) {
		t.Errorf("rollback failed: %v", err)
	}
	if _, err := v.ShareClass(1); !errors.Is(err, domain.ErrUnknownToken) {
		t.Errorf("ShareClass() after failed deposit error = %v, want ErrUnknownToken", err)
	}
	if b := ledger.ShareBalance("alice", 1); b != (domain.ShareBalance{}) {
		t.Errorf("alice balance after failed deposit = %+v, want zero", b)
	}
}

func TestRedeem_SoleOwnerWithRestingSell(t *testing.T) {
	e := newTestMatcher()
	classID := e.depositClass(t, "alice", 100)
	e.fund(t, "bob", 5)
	e.limit(t, "alice", classID, domain.SideSell, 20, 3)
	e.limit(t, "bob", classID, domain.SideBuy, 5, 1)

	class, closed, err := e.matcher.Redeem(context.Background(), "alice", classID)
	if err != nil {
		t.Fatalf("Redeem() error = %v", err)
	}
	if class.TotalSupply != 100 {
		t.Errorf("redeemed class = %+v", class)
	}
	if len(closed) != 2 {
		t.Fatalf("closed %d orders, want 2", len(closed))
	}
	for _, o := range closed {
		if !o.Deleted {
			t.Errorf("order %d not marked deleted", o.ID)
		}
	}
	if b := e.ledger.ShareBalance("alice", classID); b != (domain.ShareBalance{}) {
		t.Errorf("alice shares = %+v, want zero", b)
	}
	if b := e.ledger.CurrencyBalance("bob"); b.Total != 5 || b.Reserved != 0 {
		t.Errorf("bob currency = %+v, want 5 with nothing reserved", b)
	}
	owner, _ := e.registry.OwnerOf(context.Background(), domain.AssetRef{Collection: "art", TokenID: "1"})
	if owner != "alice" {
		t.Errorf("asset owner = %q, want alice", owner)
	}
}

func TestRedeem_CustodyFailureKeepsRestingSell(t *testing.T) {
	ledger := store.NewLedger()
	registry := custody.NewRegistry()
	stub := &stubCustody{Registry: registry}
	v := vault.New(ledger, stub, testVaultAccount)
	m := NewMatcher(NewBookManager(), v, ledger, store.NewOrderStore(), store.NewTradeStore(), sequence.New(0))

	ref := domain.AssetRef{Collection: "art", TokenID: "1"}
	_ = registry.Mint(ref, "alice")
	_ = registry.Approve("alice", ref, testVaultAccount)
	class, err := v.Deposit(context.Background(), "alice", ref, 100)
	if err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}
	if _, err := m.CreateLimitOrder("alice", class.ID, domain.SideSell, 20, 3); err != nil {
		t.Fatalf("CreateLimitOrder() error = %v", err)
	}

	stub.transfer = func() error { return errors.New("custody down") }
	if _, _, err := m.Redeem(context.Background(), "alice", class.ID); !errors.Is(err, domain.ErrCustody) {
		t.Fatalf("Redeem() error = %v, want ErrCustody", err)
	}

	if b := ledger.ShareBalance("alice", class.ID); b.Total != 100 || b.Reserved != 20 {
		t.Errorf("alice shares = %+v, want 100 with 20 reserved", b)
	}
	sells, err := m.GetOrders(class.ID, domain.SideSell)
	if err != nil || len(sells) != 1 {
		t.Fatalf("GetOrders() = %v, %v; want the resting sell", sells, err)
	}
	stub.transfer = nil
	if _, err := m.DeleteOrder("alice", class.ID, domain.SideSell, sells[0].ID); err != nil {
		t.Errorf("DeleteOrder() after restored redeem error = %v", err)
	}
}

// blockingPublisher holds every Publish until release is closed.
type blockingPublisher struct {
	mu      sync.Mutex
	entered chan struct{}
	release chan struct{}
	seqs    []uint64
}

func (p *blockingPublisher) Publish(trades []domain.Trade) {
	p.entered <- struct{}{}
	<-p.release
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, tr := range trades {
		p.seqs = append(p.seqs, tr.Seq)
	}
}

func TestCreateMarketOrder_BlockedPublishDoesNotHoldBook(t *testing.T) {
	e := newTestMatcher()
	pub := &blockingPublisher{entered: make(chan struct{}, 2), release: make(chan struct{})}
	e.matcher.SetPublisher(pub)
	classID := e.depositClass(t, "alice", 100)
	e.fund(t, "bob", 1000)
	e.limit(t, "alice", classID, domain.SideSell, 10, 2)
	e.limit(t, "alice", classID, domain.SideSell, 10, 3)

	first := make(chan error, 1)
	go func() {
		_, err := e.matcher.CreateMarketOrder("bob", classID, domain.SideBuy, 10)
		first <- err
	}()
	<-pub.entered

	// The book is free while the first batch waits on the stream.
	if _, err := e.matcher.CreateLimitOrder("alice", classID, domain.SideSell, 5, 4); err != nil {
		t.Fatalf("CreateLimitOrder() during blocked publish error = %v", err)
	}
	if _, err := e.matcher.GetOrders(classID, domain.SideSell); err != nil {
		t.Fatalf("GetOrders() during blocked publish error = %v", err)
	}

	second := make(chan error, 1)
	go func() {
		_, err := e.matcher.CreateMarketOrder("bob", classID, domain.SideBuy, 10)
		second <- err
	}()

	close(pub.release)
	if err := <-first; err != nil {
		t.Fatalf("first market order error = %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("second market order error = %v", err)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.seqs) != 2 || pub.seqs[0] >= pub.seqs[1] {
		t.Errorf("published seqs = %v, want two in execution order", pub.seqs)
	}
}
