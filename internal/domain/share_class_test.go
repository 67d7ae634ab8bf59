package domain

import "testing"

func TestAssetRef(t *testing.T) {
	ref := AssetRef{Collection: "0xC0F3", TokenID: "1"}
	if ref.IsZero() {
		t.Error("IsZero() = true for populated reference")
	}
	if got := ref.String(); got != "0xC0F3/1" {
		t.Errorf("String() = %q, want %q", got, "0xC0F3/1")
	}
	if !(AssetRef{}).IsZero() {
		t.Error("IsZero() = false for empty reference")
	}
}

func TestShareClass_Active(t *testing.T) {
	c := ShareClass{ID: 1, Asset: AssetRef{Collection: "c", TokenID: "1"}, TotalSupply: 100}
	if !c.Active() {
		t.Error("Active() = false for class with supply")
	}
	redeemed := ShareClass{ID: 1}
	if redeemed.Active() {
		t.Error("Active() = true for redeemed class")
	}
}
