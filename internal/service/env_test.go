package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/efreitasn/fractionex/internal/custody"
	"github.com/efreitasn/fractionex/internal/domain"
	"github.com/efreitasn/fractionex/internal/engine"
	"github.com/efreitasn/fractionex/internal/metrics"
	"github.com/efreitasn/fractionex/internal/sequence"
	"github.com/efreitasn/fractionex/internal/store"
	"github.com/efreitasn/fractionex/internal/vault"
)

const (
	testVaultAccount = "vault"
	testAdmin        = "admin"
)

type testEnv struct {
	ledger   *store.Ledger
	registry *custody.Registry
	vault    *vault.Vault
	matcher  *engine.Matcher
	orders   *store.OrderStore
	trades   *store.TradeStore
	metrics  *metrics.Metrics

	accounts *AccountService
	vaults   *VaultService
	orderSvc *OrderService
	tradeSvc *TradeService
	custody  *CustodyService

	assets int
}

func newTestEnv() *testEnv {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := store.NewLedger()
	registry := custody.NewRegistry()
	v := vault.New(ledger, registry, testVaultAccount)
	orders := store.NewOrderStore()
	trades := store.NewTradeStore()
	matcher := engine.NewMatcher(engine.NewBookManager(), v, ledger, orders, trades, sequence.New(0))
	m := metrics.New()

	return &testEnv{
		ledger:   ledger,
		registry: registry,
		vault:    v,
		matcher:  matcher,
		orders:   orders,
		trades:   trades,
		metrics:  m,
		accounts: NewAccountService(matcher, ledger, 2, logger),
		vaults:   NewVaultService(v, matcher, testAdmin, m, logger),
		orderSvc: NewOrderService(matcher, orders, 2, m, logger),
		tradeSvc: NewTradeService(trades, v, nil, 5*time.Minute),
		custody:  NewCustodyService(registry, logger),
	}
}

// depositClass mints and approves a fresh asset, then fractionalizes it.
func (e *testEnv) depositClass(t *testing.T, owner string, supply int64) uint64 {
	t.Helper()
	e.assets++
	ref := domain.AssetRef{Collection: "art", TokenID: fmt.Sprint(e.assets)}
	if err := e.custody.Mint(owner, ref); err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if err := e.custody.Approve(owner, ref, testVaultAccount); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	class, err := e.vaults.Deposit(context.Background(), DepositRequest{
		Caller:      owner,
		Collection:  ref.Collection,
		TokenID:     ref.TokenID,
		TotalSupply: supply,
	})
	if err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}
	return class.ID
}

func (e *testEnv) fund(t *testing.T, account, amount string) {
	t.Helper()
	if _, err := e.accounts.Deposit(account, amount); err != nil {
		t.Fatalf("Deposit(%s, %s) error = %v", account, amount, err)
	}
}

func (e *testEnv) limit(t *testing.T, trader string, classID uint64, side domain.Side, amount int64, price string) domain.Order {
	t.Helper()
	res, err := e.orderSvc.Place(PlaceOrderRequest{
		Type:         domain.OrderTypeLimit,
		Trader:       trader,
		ShareClassID: classID,
		Side:         side,
		Amount:       amount,
		Price:        &price,
	})
	if err != nil {
		t.Fatalf("Place(limit %s %s %d@%s) error = %v", trader, side, amount, price, err)
	}
	return *res.Order
}

func strPtr(s string) *string { return &s }
