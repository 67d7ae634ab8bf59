package service

import (
	"context"
	"errors"
	"testing"

	"github.com/efreitasn/fractionex/internal/custody"
	"github.com/efreitasn/fractionex/internal/domain"
)

func TestCustodyService(t *testing.T) {
	e := newTestEnv()
	ref := domain.AssetRef{Collection: "art", TokenID: "7"}

	if err := e.custody.Mint("alice", ref); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.custody.Mint("bob", ref); !errors.Is(err, custody.ErrAssetExists) {
		t.Errorf("got %v, want ErrAssetExists", err)
	}

	owner, err := e.custody.OwnerOf(context.Background(), ref)
	if err != nil || owner != "alice" {
		t.Errorf("got (%q, %v), want alice", owner, err)
	}

	if err := e.custody.Approve("bob", ref, testVaultAccount); !errors.Is(err, domain.ErrNotOwner) {
		t.Errorf("got %v, want ErrNotOwner", err)
	}
	if err := e.custody.Approve("alice", ref, testVaultAccount); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = e.custody.OwnerOf(context.Background(), domain.AssetRef{Collection: "art", TokenID: "8"})
	if !errors.Is(err, custody.ErrAssetNotFound) {
		t.Errorf("got %v, want ErrAssetNotFound", err)
	}
}

func TestCustodyService_ValidatesAccounts(t *testing.T) {
	e := newTestEnv()
	ref := domain.AssetRef{Collection: "art", TokenID: "1"}
	var ve *domain.ValidationError

	if err := e.custody.Mint("", ref); !errors.As(err, &ve) {
		t.Errorf("got %v, want ValidationError", err)
	}
	if err := e.custody.Approve("alice", ref, "no spaces"); !errors.As(err, &ve) {
		t.Errorf("got %v, want ValidationError", err)
	}
}
