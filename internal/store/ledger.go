package store

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/efreitasn/fractionex/internal/domain"
)

// ErrReleaseExceedsReserved is returned when a caller releases more than is
// currently reserved. It indicates unpaired reserve/release calls.
var ErrReleaseExceedsReserved = errors.New("release exceeds reserved amount")

// ShareObserver receives every committed change of an account's total share
// balance, in the order the changes were first staged. It is invoked with the
// ledger lock held and must not call back into the ledger.
type ShareObserver interface {
	ShareBalanceChanged(classID uint64, account string, before, after int64)
}

type shareKey struct {
	account string
	classID uint64
}

// Ledger is the in-memory balance ledger: currency per account and share
// quantity per (account, share class), each with a reserved part. All
// mutations go through a Txn so that multi-account changes land together.
type Ledger struct {
	mu       sync.Mutex
	currency map[string]domain.CurrencyBalance
	shares   map[string]map[uint64]domain.ShareBalance // account → class → balance
	observer ShareObserver
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{
		currency: make(map[string]domain.CurrencyBalance),
		shares:   make(map[string]map[uint64]domain.ShareBalance),
	}
}

// SetObserver installs the share observer. Call it during wiring, before
// the ledger is used.
func (l *Ledger) SetObserver(o ShareObserver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observer = o
}

// CurrencyBalance returns the committed currency balance of an account.
func (l *Ledger) CurrencyBalance(account string) domain.CurrencyBalance {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currency[account]
}

// ShareBalance returns the committed balance of an account in a share class.
func (l *Ledger) ShareBalance(account string, classID uint64) domain.ShareBalance {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.shares[account][classID]
}

// ShareBalances returns a copy of every non-zero share balance of an account.
func (l *Ledger) ShareBalances(account string) map[uint64]domain.ShareBalance {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make(map[uint64]domain.ShareBalance, len(l.shares[account]))
	for id, b := range l.shares[account] {
		result[id] = b
	}
	return result
}

// TotalShares sums every account's balance in a share class.
func (l *Ledger) TotalShares(classID uint64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var total int64
	for _, classes := range l.shares {
		total += classes[classID].Total
	}
	return total
}

// Begin starts a unit of work. The ledger stays locked until Commit or
// Rollback; callers should always defer Rollback.
func (l *Ledger) Begin() *Txn {
	l.mu.Lock()
	return &Txn{
		l:        l,
		currency: make(map[string]domain.CurrencyBalance),
		shares:   make(map[shareKey]domain.ShareBalance),
	}
}

// Txn stages ledger mutations. Reads through a Txn observe its own staged
// writes. A failed operation stages nothing.
type Txn struct {
	l        *Ledger
	currency map[string]domain.CurrencyBalance
	shares   map[shareKey]domain.ShareBalance
	touched  []shareKey
	done     bool
}

// CurrencyBalance returns the staged currency balance of an account.
func (tx *Txn) CurrencyBalance(account string) domain.CurrencyBalance {
	if b, ok := tx.currency[account]; ok {
		return b
	}
	return tx.l.currency[account]
}

// ShareBalance returns the staged share balance of an account.
func (tx *Txn) ShareBalance(account string, classID uint64) domain.ShareBalance {
	if b, ok := tx.shares[shareKey{account, classID}]; ok {
		return b
	}
	return tx.l.shares[account][classID]
}

func (tx *Txn) putShares(account string, classID uint64, b domain.ShareBalance) {
	k := shareKey{account, classID}
	if _, ok := tx.shares[k]; !ok {
		tx.touched = append(tx.touched, k)
	}
	tx.shares[k] = b
}

// CreditCurrency adds amount to the account's currency total.
func (tx *Txn) CreditCurrency(account string, amount int64) error {
	b := tx.CurrencyBalance(account)
	if err := checkCredit(b.Total, amount); err != nil {
		return err
	}
	b.Total += amount
	tx.currency[account] = b
	return nil
}

// DebitCurrency removes amount from the account's spendable currency.
func (tx *Txn) DebitCurrency(account string, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	b := tx.CurrencyBalance(account)
	if b.Spendable() < amount {
		return domain.ErrInsufficientFunds
	}
	b.Total -= amount
	tx.currency[account] = b
	return nil
}

// ReserveCurrency moves amount from spendable to reserved currency.
func (tx *Txn) ReserveCurrency(account string, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	b := tx.CurrencyBalance(account)
	if b.Spendable() < amount {
		return domain.ErrInsufficientFunds
	}
	b.Reserved += amount
	tx.currency[account] = b
	return nil
}

// ReleaseCurrency moves amount from reserved back to spendable currency.
func (tx *Txn) ReleaseCurrency(account string, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	b := tx.CurrencyBalance(account)
	if b.Reserved < amount {
		return fmt.Errorf("currency of %s: %w", account, ErrReleaseExceedsReserved)
	}
	b.Reserved -= amount
	tx.currency[account] = b
	return nil
}

// CreditShares adds amount shares of a class to the account.
func (tx *Txn) CreditShares(account string, classID uint64, amount int64) error {
	b := tx.ShareBalance(account, classID)
	if err := checkCredit(b.Total, amount); err != nil {
		return err
	}
	b.Total += amount
	tx.putShares(account, classID, b)
	return nil
}

// DebitShares removes amount spendable shares of a class from the account.
func (tx *Txn) DebitShares(account string, classID uint64, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	b := tx.ShareBalance(account, classID)
	if b.Spendable() < amount {
		return domain.ErrInsufficientShares
	}
	b.Total -= amount
	tx.putShares(account, classID, b)
	return nil
}

// ReserveShares moves amount shares from spendable to reserved.
func (tx *Txn) ReserveShares(account string, classID uint64, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	b := tx.ShareBalance(account, classID)
	if b.Spendable() < amount {
		return domain.ErrInsufficientShares
	}
	b.Reserved += amount
	tx.putShares(account, classID, b)
	return nil
}

// ReleaseShares moves amount shares from reserved back to spendable.
func (tx *Txn) ReleaseShares(account string, classID uint64, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	b := tx.ShareBalance(account, classID)
	if b.Reserved < amount {
		return fmt.Errorf("shares of %s in class %d: %w", account, classID, ErrReleaseExceedsReserved)
	}
	b.Reserved -= amount
	tx.putShares(account, classID, b)
	return nil
}

// TransferShares moves amount spendable shares from one account to another.
func (tx *Txn) TransferShares(from, to string, classID uint64, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	src := tx.ShareBalance(from, classID)
	if src.Spendable() < amount {
		return domain.ErrInsufficientShares
	}
	if from == to {
		return nil
	}
	if err := checkCredit(tx.ShareBalance(to, classID).Total, amount); err != nil {
		return err
	}
	if err := tx.DebitShares(from, classID, amount); err != nil {
		return err
	}
	return tx.CreditShares(to, classID, amount)
}

// Commit writes every staged balance and notifies the share observer. It
// releases the ledger lock.
func (tx *Txn) Commit() {
	if tx.done {
		return
	}
	tx.done = true
	l := tx.l
	defer l.mu.Unlock()

	for account, b := range tx.currency {
		if b == (domain.CurrencyBalance{}) {
			delete(l.currency, account)
			continue
		}
		l.currency[account] = b
	}

	type change struct {
		key           shareKey
		before, after int64
	}
	changes := make([]change, 0, len(tx.touched))
	for _, k := range tx.touched {
		b := tx.shares[k]
		before := l.shares[k.account][k.classID].Total
		if b == (domain.ShareBalance{}) {
			if classes, ok := l.shares[k.account]; ok {
				delete(classes, k.classID)
				if len(classes) == 0 {
					delete(l.shares, k.account)
				}
			}
		} else {
			if l.shares[k.account] == nil {
				l.shares[k.account] = make(map[uint64]domain.ShareBalance)
			}
			l.shares[k.account][k.classID] = b
		}
		if before != b.Total {
			changes = append(changes, change{k, before, b.Total})
		}
	}

	if l.observer != nil {
		for _, c := range changes {
			l.observer.ShareBalanceChanged(c.key.classID, c.key.account, c.before, c.after)
		}
	}
}

// Rollback discards staged changes and releases the ledger lock. It is a
// no-op after Commit.
func (tx *Txn) Rollback() {
	if tx.done {
		return
	}
	tx.done = true
	tx.l.mu.Unlock()
}

func checkCredit(total, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	if total > math.MaxInt64-amount {
		return fmt.Errorf("balance overflow: %w", domain.ErrInvalidAmount)
	}
	return nil
}
