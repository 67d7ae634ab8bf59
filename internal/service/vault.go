package service

import (
	"context"
	"log/slog"

	"github.com/efreitasn/fractionex/internal/domain"
	"github.com/efreitasn/fractionex/internal/engine"
	"github.com/efreitasn/fractionex/internal/metrics"
	"github.com/efreitasn/fractionex/internal/vault"
)

// DepositRequest represents the input for fractionalizing an asset.
type DepositRequest struct {
	Caller      string
	Collection  string
	TokenID     string
	TotalSupply int64
}

// RedeemResult is a redeemed share class together with the orders that
// were still resting on its book.
type RedeemResult struct {
	ShareClass   domain.ShareClass
	ClosedOrders []domain.Order
}

// VaultService handles fractionalization, redemption, share transfers and
// the administrative pause switch.
type VaultService struct {
	vault   *vault.Vault
	matcher *engine.Matcher
	admin   string
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewVaultService creates a new VaultService. admin is the only account
// allowed to pause and unpause; an empty admin disables both.
func NewVaultService(
	v *vault.Vault,
	matcher *engine.Matcher,
	admin string,
	m *metrics.Metrics,
	logger *slog.Logger,
) *VaultService {
	return &VaultService{
		vault:   v,
		matcher: matcher,
		admin:   admin,
		metrics: m,
		logger:  logger,
	}
}

// Deposit validates the request and locks the asset in the vault in
// exchange for TotalSupply shares credited to the caller.
func (s *VaultService) Deposit(ctx context.Context, req DepositRequest) (domain.ShareClass, error) {
	if err := validateAccount("caller", req.Caller); err != nil {
		return domain.ShareClass{}, err
	}
	if req.Collection == "" || req.TokenID == "" {
		return domain.ShareClass{}, &domain.ValidationError{
			Message: "collection and token_id are required",
		}
	}
	if req.TotalSupply <= 0 {
		return domain.ShareClass{}, domain.ErrInvalidAmount
	}

	ref := domain.AssetRef{Collection: req.Collection, TokenID: req.TokenID}
	class, err := s.vault.Deposit(ctx, req.Caller, ref, req.TotalSupply)
	if err != nil {
		return domain.ShareClass{}, err
	}

	s.metrics.ShareClassesActive.Set(float64(s.vault.ActiveCount()))
	s.logger.Info("asset deposited",
		slog.Uint64("share_class_id", class.ID),
		slog.String("asset", ref.String()),
		slog.String("depositor", req.Caller),
		slog.Int64("total_supply", class.TotalSupply),
	)
	return class, nil
}

// Redeem returns the asset to a caller holding the full supply and closes
// the class's book.
func (s *VaultService) Redeem(ctx context.Context, caller string, classID uint64) (*RedeemResult, error) {
	if err := validateAccount("caller", caller); err != nil {
		return nil, err
	}

	class, closed, err := s.matcher.Redeem(ctx, caller, classID)
	if err != nil && class.ID == 0 {
		return nil, err
	}
	if err != nil {
		// The asset has already left the vault; only order cleanup failed.
		s.logger.Error("closing redeemed share class book failed",
			slog.Uint64("share_class_id", classID),
			slog.String("error", err.Error()),
		)
	}

	s.metrics.ShareClassesActive.Set(float64(s.vault.ActiveCount()))
	s.logger.Info("asset redeemed",
		slog.Uint64("share_class_id", classID),
		slog.String("asset", class.Asset.String()),
		slog.String("redeemer", caller),
		slog.Int("closed_orders", len(closed)),
	)
	return &RedeemResult{ShareClass: class, ClosedOrders: closed}, nil
}

// Transfer moves spendable shares between accounts.
func (s *VaultService) Transfer(ctx context.Context, from, to string, classID uint64, amount int64) error {
	if err := validateAccount("from", from); err != nil {
		return err
	}
	if err := validateAccount("to", to); err != nil {
		return err
	}
	if err := s.vault.TransferShares(ctx, from, to, classID, amount); err != nil {
		return err
	}
	s.logger.Info("shares transferred",
		slog.Uint64("share_class_id", classID),
		slog.String("from", from),
		slog.String("to", to),
		slog.Int64("amount", amount),
	)
	return nil
}

// GetShareClass returns a share class record. Redeemed classes are
// returned with a zero asset and supply.
func (s *VaultService) GetShareClass(classID uint64) (domain.ShareClass, error) {
	return s.vault.GetShareClass(classID)
}

// ListShareClassIDs returns the active share class ids in creation order.
func (s *VaultService) ListShareClassIDs() []uint64 {
	return s.vault.ListShareClassIDs()
}

// ListShareClassIDsHeldBy returns the ids of classes in which account holds
// a positive balance.
func (s *VaultService) ListShareClassIDsHeldBy(account string) ([]uint64, error) {
	if err := validateAccount("account", account); err != nil {
		return nil, err
	}
	return s.vault.ListShareClassIDsHeldBy(account), nil
}

// ListHoldersOf returns the accounts holding a positive balance of the
// class, in the order they first acquired it.
func (s *VaultService) ListHoldersOf(classID uint64) ([]string, error) {
	if _, err := s.vault.GetShareClass(classID); err != nil {
		return nil, err
	}
	return s.vault.ListHoldersOf(classID), nil
}

// Pause stops deposits and redemptions.
func (s *VaultService) Pause(caller string) error {
	if err := s.authorize(caller); err != nil {
		return err
	}
	s.vault.Pause()
	s.logger.Warn("vault paused", slog.String("by", caller))
	return nil
}

// Unpause resumes deposits and redemptions.
func (s *VaultService) Unpause(caller string) error {
	if err := s.authorize(caller); err != nil {
		return err
	}
	s.vault.Unpause()
	s.logger.Warn("vault unpaused", slog.String("by", caller))
	return nil
}

// Paused reports whether the vault is paused.
func (s *VaultService) Paused() bool {
	return s.vault.Paused()
}

func (s *VaultService) authorize(caller string) error {
	if s.admin == "" || caller != s.admin {
		return domain.ErrUnauthorized
	}
	return nil
}
