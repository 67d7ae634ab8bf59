package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/efreitasn/fractionex/internal/domain"
	"pgregory.net/rapid"
)

var propTraders = []string{"t0", "t1", "t2", "t3"}

// checkInvariants verifies, for every class and trader:
//   - the sum of balances equals the class supply;
//   - 0 ≤ reserved ≤ total for currency and shares;
//   - reserved amounts equal what the resting orders hold.
func checkInvariants(t *rapid.T, e *testEngine, classes []uint64) {
	wantCash := make(map[string]int64)
	wantShares := make(map[string]map[uint64]int64)

	for _, classID := range classes {
		class, err := e.vault.GetShareClass(classID)
		if err != nil {
			t.Fatalf("GetShareClass(%d): %v", classID, err)
		}
		if got := e.ledger.TotalShares(classID); got != class.TotalSupply {
			t.Fatalf("class %d: sum of balances %d != supply %d", classID, got, class.TotalSupply)
		}

		for _, side := range []domain.Side{domain.SideBuy, domain.SideSell} {
			book := e.matcher.books.GetOrCreate(classID)
			book.mu.RLock()
			orders := book.Orders(side)
			book.mu.RUnlock()
			for _, o := range orders {
				if o.Filled < 0 || o.Filled >= o.Amount {
					t.Fatalf("order %d on book with filled %d of %d", o.ID, o.Filled, o.Amount)
				}
				if side == domain.SideBuy {
					wantCash[o.Trader] += o.Remaining() * o.Price
				} else {
					if wantShares[o.Trader] == nil {
						wantShares[o.Trader] = make(map[uint64]int64)
					}
					wantShares[o.Trader][classID] += o.Remaining()
				}
			}
		}
	}

	for _, tr := range propTraders {
		cb := e.ledger.CurrencyBalance(tr)
		if cb.Reserved < 0 || cb.Reserved > cb.Total {
			t.Fatalf("%s currency out of bounds: %+v", tr, cb)
		}
		if cb.Reserved != wantCash[tr] {
			t.Fatalf("%s reserved currency %d, open orders hold %d", tr, cb.Reserved, wantCash[tr])
		}
		for _, classID := range classes {
			sb := e.ledger.ShareBalance(tr, classID)
			if sb.Reserved < 0 || sb.Reserved > sb.Total {
				t.Fatalf("%s shares of %d out of bounds: %+v", tr, classID, sb)
			}
			if sb.Reserved != wantShares[tr][classID] {
				t.Fatalf("%s reserved shares of %d = %d, open orders hold %d",
					tr, classID, sb.Reserved, wantShares[tr][classID])
			}
		}
	}
}

func TestProperty_LedgerInvariantsUnderRandomOperations(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e := newTestMatcher()

		var classes []uint64
		for i := 0; i < 2; i++ {
			owner := rapid.SampledFrom(propTraders).Draw(t, fmt.Sprintf("owner-%d", i))
			supply := rapid.Int64Range(1, 200).Draw(t, fmt.Sprintf("supply-%d", i))
			classes = append(classes, e.depositClass(t, owner, supply))
		}
		for _, tr := range propTraders {
			e.fund(t, tr, rapid.Int64Range(1, 2000).Draw(t, "cash-"+tr))
		}

		var lastID uint64
		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			trader := rapid.SampledFrom(propTraders).Draw(t, "trader")
			classID := rapid.SampledFrom(classes).Draw(t, "class")
			side := rapid.SampledFrom([]domain.Side{domain.SideBuy, domain.SideSell}).Draw(t, "side")
			amount := rapid.Int64Range(0, 120).Draw(t, "amount")

			switch rapid.IntRange(0, 5).Draw(t, "op") {
			case 0, 1:
				price := rapid.Int64Range(1, 10).Draw(t, "price")
				o, err := e.matcher.CreateLimitOrder(trader, classID, side, amount, price)
				if err == nil {
					if o.ID <= lastID {
						t.Fatalf("order id %d not greater than %d", o.ID, lastID)
					}
					lastID = o.ID
				}
			case 2, 3:
				_, _ = e.matcher.CreateMarketOrder(trader, classID, side, amount)
			case 4:
				orders, _ := e.matcher.GetOrders(classID, side)
				if len(orders) > 0 {
					o := rapid.SampledFrom(orders).Draw(t, "victim")
					_, _ = e.matcher.DeleteOrder(trader, classID, side, o.ID)
				}
			case 5:
				to := rapid.SampledFrom(propTraders).Draw(t, "to")
				_ = e.vault.TransferShares(context.Background(), trader, to, classID, amount)
			}

			checkInvariants(t, e, classes)
		}
	})
}

func TestProperty_MarketFillsAtRestingPrices(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e := newTestMatcher()
		classID := e.depositClass(t, "t0", 1000)
		e.fund(t, "t1", 1_000_000)

		prices := make(map[uint64]int64)
		n := rapid.IntRange(1, 10).Draw(t, "numSells")
		for i := 0; i < n; i++ {
			price := rapid.Int64Range(1, 20).Draw(t, fmt.Sprintf("price-%d", i))
			amount := rapid.Int64Range(1, 50).Draw(t, fmt.Sprintf("amount-%d", i))
			o := e.limit(t, "t0", classID, domain.SideSell, amount, price)
			prices[o.ID] = price
		}

		amount := rapid.Int64Range(1, 600).Draw(t, "buy")
		trades, err := e.matcher.CreateMarketOrder("t1", classID, domain.SideBuy, amount)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var filled, spent int64
		var prevPrice int64
		for _, tr := range trades {
			if tr.Price != prices[tr.OrderID] {
				t.Fatalf("trade at %d, resting order %d priced %d", tr.Price, tr.OrderID, prices[tr.OrderID])
			}
			if tr.Price < prevPrice {
				t.Fatalf("buy walked asks out of price order: %d after %d", tr.Price, prevPrice)
			}
			prevPrice = tr.Price
			filled += tr.Amount
			spent += tr.Amount * tr.Price
		}
		if filled > amount {
			t.Fatalf("filled %d more than requested %d", filled, amount)
		}
		if got := e.ledger.CurrencyBalance("t1"); got.Total != 1_000_000-spent || got.Reserved != 0 {
			t.Fatalf("buyer currency = %+v, spent %d", got, spent)
		}
		if got := e.ledger.ShareBalance("t1", classID).Total; got != filled {
			t.Fatalf("buyer shares = %d, filled %d", got, filled)
		}
	})
}
