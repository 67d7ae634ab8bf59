package service

import (
	"context"
	"log/slog"

	"github.com/efreitasn/fractionex/internal/custody"
	"github.com/efreitasn/fractionex/internal/domain"
)

// CustodyService exposes the in-memory custody registry: minting assets,
// approving an operator and ownership lookups.
type CustodyService struct {
	registry *custody.Registry
	logger   *slog.Logger
}

// NewCustodyService creates a new CustodyService.
func NewCustodyService(registry *custody.Registry, logger *slog.Logger) *CustodyService {
	return &CustodyService{registry: registry, logger: logger}
}

// Mint creates an asset owned by owner.
func (s *CustodyService) Mint(owner string, ref domain.AssetRef) error {
	if err := validateAccount("owner", owner); err != nil {
		return err
	}
	if err := s.registry.Mint(ref, owner); err != nil {
		return err
	}
	s.logger.Info("asset minted", slog.String("asset", ref.String()), slog.String("owner", owner))
	return nil
}

// Approve lets operator transfer the owner's asset once.
func (s *CustodyService) Approve(owner string, ref domain.AssetRef, operator string) error {
	if err := validateAccount("owner", owner); err != nil {
		return err
	}
	if err := validateAccount("operator", operator); err != nil {
		return err
	}
	return s.registry.Approve(owner, ref, operator)
}

// OwnerOf returns the current owner of an asset.
func (s *CustodyService) OwnerOf(ctx context.Context, ref domain.AssetRef) (string, error) {
	return s.registry.OwnerOf(ctx, ref)
}
