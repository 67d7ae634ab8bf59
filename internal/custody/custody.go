// Package custody is the boundary to the system that holds the original
// assets. The vault only needs to ask who owns an asset and to move it.
package custody

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/efreitasn/fractionex/internal/domain"
)

var (
	ErrAssetNotFound = errors.New("asset not found")
	ErrAssetExists   = errors.New("asset already exists")
	ErrNotApproved   = errors.New("operator is neither owner nor approved")
)

// Custody is the external custody layer.
type Custody interface {
	// OwnerOf returns the account that currently holds the asset.
	OwnerOf(ctx context.Context, ref domain.AssetRef) (string, error)
	// TransferTo moves the asset to another account on behalf of operator.
	TransferTo(ctx context.Context, operator string, ref domain.AssetRef, to string) error
}

type asset struct {
	owner    string
	approved string
}

// TransferHook is invoked by Registry after a successful transfer, outside
// the registry lock. Tests use it to simulate callbacks from the custody
// layer.
type TransferHook func(ctx context.Context, ref domain.AssetRef, from, to string)

// Registry is an in-memory custody layer. Assets are minted to an owner, and
// a transfer must be made by the owner or by the single operator the owner
// approved. Approval is cleared on every transfer.
type Registry struct {
	mu     sync.RWMutex
	assets map[domain.AssetRef]*asset
	hook   TransferHook
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		assets: make(map[domain.AssetRef]*asset),
	}
}

// SetTransferHook installs a hook called after each transfer.
func (r *Registry) SetTransferHook(h TransferHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hook = h
}

// Mint creates a new asset owned by owner.
func (r *Registry) Mint(ref domain.AssetRef, owner string) error {
	if ref.Collection == "" || ref.TokenID == "" || owner == "" {
		return &domain.ValidationError{Message: "collection, token_id and owner are required"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.assets[ref]; ok {
		return fmt.Errorf("%s: %w", ref, ErrAssetExists)
	}
	r.assets[ref] = &asset{owner: owner}
	return nil
}

// Approve lets operator transfer the asset on the owner's behalf. Only the
// current owner can approve; an empty operator revokes the approval.
func (r *Registry) Approve(owner string, ref domain.AssetRef, operator string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.assets[ref]
	if !ok {
		return fmt.Errorf("%s: %w", ref, ErrAssetNotFound)
	}
	if a.owner != owner {
		return fmt.Errorf("approve %s: %w", ref, domain.ErrNotOwner)
	}
	a.approved = operator
	return nil
}

// Approved returns the operator approved for the asset, if any.
func (r *Registry) Approved(ref domain.AssetRef) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.assets[ref]
	if !ok {
		return "", fmt.Errorf("%s: %w", ref, ErrAssetNotFound)
	}
	return a.approved, nil
}

// OwnerOf implements Custody.
func (r *Registry) OwnerOf(_ context.Context, ref domain.AssetRef) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.assets[ref]
	if !ok {
		return "", fmt.Errorf("%s: %w", ref, ErrAssetNotFound)
	}
	return a.owner, nil
}

// TransferTo implements Custody.
func (r *Registry) TransferTo(ctx context.Context, operator string, ref domain.AssetRef, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to == "" {
		return &domain.ValidationError{Message: "transfer recipient is required"}
	}

	r.mu.Lock()
	a, ok := r.assets[ref]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", ref, ErrAssetNotFound)
	}
	if operator != a.owner && operator != a.approved {
		r.mu.Unlock()
		return fmt.Errorf("transfer %s by %s: %w", ref, operator, ErrNotApproved)
	}
	from := a.owner
	a.owner = to
	a.approved = ""
	hook := r.hook
	r.mu.Unlock()

	if hook != nil {
		hook(ctx, ref, from, to)
	}
	return nil
}
