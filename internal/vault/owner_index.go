package vault

import (
	"slices"
	"sync"
)

// OwnerIndex tracks, per share class, the accounts with a non-zero balance
// in the order they first acquired shares, and per account the classes it
// holds. It is fed exclusively by committed ledger changes.
type OwnerIndex struct {
	mu      sync.RWMutex
	holders map[uint64][]string
	classes map[string]map[uint64]struct{}
}

// NewOwnerIndex creates an empty OwnerIndex.
func NewOwnerIndex() *OwnerIndex {
	return &OwnerIndex{
		holders: make(map[uint64][]string),
		classes: make(map[string]map[uint64]struct{}),
	}
}

// ShareBalanceChanged implements store.ShareObserver.
func (x *OwnerIndex) ShareBalanceChanged(classID uint64, account string, before, after int64) {
	switch {
	case before == 0 && after > 0:
		x.add(classID, account)
	case before > 0 && after == 0:
		x.remove(classID, account)
	}
}

func (x *OwnerIndex) add(classID uint64, account string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if slices.Contains(x.holders[classID], account) {
		return
	}
	x.holders[classID] = append(x.holders[classID], account)
	if x.classes[account] == nil {
		x.classes[account] = make(map[uint64]struct{})
	}
	x.classes[account][classID] = struct{}{}
}

func (x *OwnerIndex) remove(classID uint64, account string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	holders := x.holders[classID]
	if i := slices.Index(holders, account); i >= 0 {
		holders = slices.Delete(holders, i, i+1)
		if len(holders) == 0 {
			delete(x.holders, classID)
		} else {
			x.holders[classID] = holders
		}
	}
	if held, ok := x.classes[account]; ok {
		delete(held, classID)
		if len(held) == 0 {
			delete(x.classes, account)
		}
	}
}

// Holders returns the holders of a class in acquisition order.
func (x *OwnerIndex) Holders(classID uint64) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([]string{}, x.holders[classID]...)
}

// ClassesOf returns the classes an account holds, in ascending id order.
func (x *OwnerIndex) ClassesOf(account string) []uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()

	ids := make([]uint64, 0, len(x.classes[account]))
	for id := range x.classes[account] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
