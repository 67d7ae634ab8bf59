// Package vault holds custodied assets and the share classes minted
// against them.
package vault

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/efreitasn/fractionex/internal/custody"
	"github.com/efreitasn/fractionex/internal/domain"
	"github.com/efreitasn/fractionex/internal/sequence"
	"github.com/efreitasn/fractionex/internal/store"
)

// Vault is the fractionalization vault. It owns the share class registry,
// mints and burns share supply through the ledger, and moves the original
// assets through the custody layer.
//
// Lock order: registry (Vault.mu) → ledger → owner index.
type Vault struct {
	mu      sync.RWMutex
	classes map[uint64]*domain.ShareClass // includes redeemed classes
	active  []uint64                      // ascending

	ledger  *store.Ledger
	custody custody.Custody
	account string // custody account the vault holds assets under
	owners  *OwnerIndex
	guard   *Guard
	ids     *sequence.Sequencer
	paused  atomic.Bool
	now     func() time.Time
}

// New creates a Vault holding assets under account. It registers its owner
// index as the ledger's share observer.
func New(ledger *store.Ledger, c custody.Custody, account string) *Vault {
	v := &Vault{
		classes: make(map[uint64]*domain.ShareClass),
		ledger:  ledger,
		custody: c,
		account: account,
		owners:  NewOwnerIndex(),
		guard:   NewGuard(),
		ids:     sequence.New(0),
		now:     time.Now,
	}
	ledger.SetObserver(v.owners)
	return v
}

// Account returns the custody account the vault holds assets under.
func (v *Vault) Account() string {
	return v.account
}

// Guard returns the re-entrancy guard shared with the matching engine.
func (v *Vault) Guard() *Guard {
	return v.guard
}

// Deposit locks the caller's asset in custody and mints supply shares of a
// new class to the caller. The caller must have approved the vault account
// as operator of the asset in the custody layer.
func (v *Vault) Deposit(ctx context.Context, caller string, ref domain.AssetRef, supply int64) (domain.ShareClass, error) {
	if supply <= 0 {
		return domain.ShareClass{}, domain.ErrInvalidAmount
	}
	if ref.Collection == "" || ref.TokenID == "" {
		return domain.ShareClass{}, &domain.ValidationError{Message: "collection and token_id are required"}
	}
	if v.Paused() {
		return domain.ShareClass{}, domain.ErrPaused
	}

	assetKey := AssetKey(ref)
	if !v.guard.Enter(assetKey) {
		return domain.ShareClass{}, domain.ErrReentrantCall
	}
	defer v.guard.Leave(assetKey)

	owner, err := v.custody.OwnerOf(ctx, ref)
	if err != nil {
		if errors.Is(err, custody.ErrAssetNotFound) {
			return domain.ShareClass{}, fmt.Errorf("%w: %w", domain.ErrNotOwner, err)
		}
		return domain.ShareClass{}, fmt.Errorf("%w: %w", domain.ErrCustody, err)
	}
	if owner != caller {
		return domain.ShareClass{}, domain.ErrNotOwner
	}

	v.mu.Lock()
	class := &domain.ShareClass{
		ID:          v.ids.Next(),
		Asset:       ref,
		TotalSupply: supply,
		Depositor:   caller,
		CreatedAt:   v.now(),
	}
	tx := v.ledger.Begin()
	if err := tx.CreditShares(caller, class.ID, supply); err != nil {
		tx.Rollback()
		v.mu.Unlock()
		return domain.ShareClass{}, err
	}
	// The new class stays guarded until custody confirms the transfer, so
	// nothing can trade or move its shares before a possible rollback.
	classKey := ClassKey(class.ID)
	v.guard.Enter(classKey)
	defer v.guard.Leave(classKey)
	v.classes[class.ID] = class
	v.active = append(v.active, class.ID)
	tx.Commit()
	v.mu.Unlock()

	if err := v.custody.TransferTo(ctx, v.account, ref, v.account); err != nil {
		if rbErr := v.undoDeposit(class.ID, caller, supply); rbErr != nil {
			return domain.ShareClass{}, errors.Join(fmt.Errorf("%w: %w", domain.ErrCustody, err), rbErr)
		}
		return domain.ShareClass{}, fmt.Errorf("%w: %w", domain.ErrCustody, err)
	}

	return *class, nil
}

func (v *Vault) undoDeposit(classID uint64, caller string, supply int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	tx := v.ledger.Begin()
	defer tx.Rollback()
	if err := tx.DebitShares(caller, classID, supply); err != nil {
		return fmt.Errorf("undo deposit of class %d: %w", classID, err)
	}
	delete(v.classes, classID)
	v.active = slices.DeleteFunc(v.active, func(id uint64) bool { return id == classID })
	tx.Commit()
	return nil
}

// Redeem burns the caller's entire holding of a class and returns the
// original asset to the caller. The caller's balance, reserved shares
// included, must equal the total supply. Reserved shares are released and
// burned with the rest, so the caller must also drop the class's resting
// orders (Matcher.Redeem closes the book). The returned record describes the
// class as it was before redemption.
func (v *Vault) Redeem(ctx context.Context, caller string, classID uint64) (domain.ShareClass, error) {
	if v.Paused() {
		return domain.ShareClass{}, domain.ErrPaused
	}

	classKey := ClassKey(classID)
	if !v.guard.Enter(classKey) {
		return domain.ShareClass{}, domain.ErrReentrantCall
	}
	defer v.guard.Leave(classKey)

	v.mu.Lock()
	class, ok := v.classes[classID]
	if !ok || !class.Active() {
		v.mu.Unlock()
		return domain.ShareClass{}, domain.ErrUnknownToken
	}

	tx := v.ledger.Begin()
	bal := tx.ShareBalance(caller, classID)
	if bal.Total != class.TotalSupply {
		tx.Rollback()
		v.mu.Unlock()
		return domain.ShareClass{}, domain.ErrNotSoleOwner
	}
	if bal.Reserved > 0 {
		if err := tx.ReleaseShares(caller, classID, bal.Reserved); err != nil {
			tx.Rollback()
			v.mu.Unlock()
			return domain.ShareClass{}, err
		}
	}
	if err := tx.DebitShares(caller, classID, class.TotalSupply); err != nil {
		tx.Rollback()
		v.mu.Unlock()
		return domain.ShareClass{}, err
	}
	redeemed := *class
	*class = domain.ShareClass{ID: classID}
	v.active = slices.DeleteFunc(v.active, func(id uint64) bool { return id == classID })
	tx.Commit()
	v.mu.Unlock()

	if err := v.custody.TransferTo(ctx, v.account, redeemed.Asset, caller); err != nil {
		if rbErr := v.undoRedeem(redeemed, caller, bal.Reserved); rbErr != nil {
			return domain.ShareClass{}, errors.Join(fmt.Errorf("%w: %w", domain.ErrCustody, err), rbErr)
		}
		return domain.ShareClass{}, fmt.Errorf("%w: %w", domain.ErrCustody, err)
	}

	return redeemed, nil
}

func (v *Vault) undoRedeem(class domain.ShareClass, caller string, reserved int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	tx := v.ledger.Begin()
	defer tx.Rollback()
	if err := tx.CreditShares(caller, class.ID, class.TotalSupply); err != nil {
		return fmt.Errorf("undo redemption of class %d: %w", class.ID, err)
	}
	if reserved > 0 {
		if err := tx.ReserveShares(caller, class.ID, reserved); err != nil {
			return fmt.Errorf("undo redemption of class %d: %w", class.ID, err)
		}
	}
	restored := class
	v.classes[class.ID] = &restored
	i, _ := slices.BinarySearch(v.active, class.ID)
	v.active = slices.Insert(v.active, i, class.ID)
	tx.Commit()
	return nil
}

// TransferShares moves spendable shares of an active class between
// accounts. It is not gated by pause.
func (v *Vault) TransferShares(_ context.Context, from, to string, classID uint64, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.guard.Held(ClassKey(classID)) {
		return domain.ErrReentrantCall
	}
	if c, ok := v.classes[classID]; !ok || !c.Active() {
		return domain.ErrUnknownToken
	}

	tx := v.ledger.Begin()
	defer tx.Rollback()
	if err := tx.TransferShares(from, to, classID, amount); err != nil {
		return err
	}
	tx.Commit()
	return nil
}

// ShareClass returns the active class with the given id, or
// domain.ErrUnknownToken.
func (v *Vault) ShareClass(classID uint64) (domain.ShareClass, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	c, ok := v.classes[classID]
	if !ok || !c.Active() {
		return domain.ShareClass{}, domain.ErrUnknownToken
	}
	return *c, nil
}

// TradableShareClass is ShareClass for operations that reserve or move
// shares. It fails with domain.ErrReentrantCall while the class is inside a
// custody call.
func (v *Vault) TradableShareClass(classID uint64) (domain.ShareClass, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	// Deposit claims the key under v.mu.
	if v.guard.Held(ClassKey(classID)) {
		return domain.ShareClass{}, domain.ErrReentrantCall
	}
	c, ok := v.classes[classID]
	if !ok || !c.Active() {
		return domain.ShareClass{}, domain.ErrUnknownToken
	}
	return *c, nil
}

// GetShareClass returns the record of any class ever created. A redeemed
// class is returned with zeroed fields. Unknown ids fail with
// domain.ErrUnknownToken.
func (v *Vault) GetShareClass(classID uint64) (domain.ShareClass, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	c, ok := v.classes[classID]
	if !ok {
		return domain.ShareClass{}, domain.ErrUnknownToken
	}
	return *c, nil
}

// ListShareClassIDs returns the ids of all active classes in ascending order.
func (v *Vault) ListShareClassIDs() []uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.active)
}

// ListShareClassIDsHeldBy returns the classes in which account has a
// non-zero balance.
func (v *Vault) ListShareClassIDsHeldBy(account string) []uint64 {
	return v.owners.ClassesOf(account)
}

// ListHoldersOf returns the accounts holding a class, in the order they
// acquired their first share.
func (v *Vault) ListHoldersOf(classID uint64) []string {
	return v.owners.Holders(classID)
}

// BalanceOf returns the account's total balance in a class, including
// shares reserved by open sell orders.
func (v *Vault) BalanceOf(account string, classID uint64) int64 {
	return v.ledger.ShareBalance(account, classID).Total
}

// ActiveCount returns the number of active classes.
func (v *Vault) ActiveCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.active)
}

// Pause stops deposits and redemptions.
func (v *Vault) Pause() {
	v.paused.Store(true)
}

// Unpause resumes deposits and redemptions.
func (v *Vault) Unpause() {
	v.paused.Store(false)
}

// Paused reports whether the vault is paused.
func (v *Vault) Paused() bool {
	return v.paused.Load()
}
