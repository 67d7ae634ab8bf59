package domain

import (
	"fmt"
	"time"
)

// AssetRef identifies a unique asset in the custody layer: the collection
// (custody-layer identifier) and the asset id within it.
type AssetRef struct {
	Collection string
	TokenID    string
}

// IsZero reports whether the reference is empty.
func (r AssetRef) IsZero() bool {
	return r.Collection == "" && r.TokenID == ""
}

func (r AssetRef) String() string {
	return fmt.Sprintf("%s/%s", r.Collection, r.TokenID)
}

// ShareClass is the fungible share token minted against one custodied asset.
// A redeemed class keeps its id but has a zero Asset and TotalSupply.
type ShareClass struct {
	ID          uint64
	Asset       AssetRef
	TotalSupply int64
	Depositor   string
	CreatedAt   time.Time
}

// Active reports whether the class still represents a custodied asset.
func (c ShareClass) Active() bool {
	return c.TotalSupply > 0
}
