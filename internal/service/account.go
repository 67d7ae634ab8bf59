package service

import (
	"cmp"
	"fmt"
	"log/slog"
	"regexp"
	"slices"

	"github.com/efreitasn/fractionex/internal/domain"
	"github.com/efreitasn/fractionex/internal/engine"
	"github.com/efreitasn/fractionex/internal/store"
)

var accountIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// validateAccount checks an account identifier supplied as field.
func validateAccount(field, id string) error {
	if !accountIDRegex.MatchString(id) {
		return &domain.ValidationError{
			Message: fmt.Sprintf("%s must match ^[a-zA-Z0-9_-]{1,64}$", field),
		}
	}
	return nil
}

// BalanceResponse represents an account's currency and share positions.
type BalanceResponse struct {
	Account  string
	Currency domain.CurrencyBalance
	Shares   []ShareHolding
}

// ShareHolding represents the account's position in one share class.
type ShareHolding struct {
	ShareClassID uint64
	Balance      domain.ShareBalance
}

// AccountService handles currency movements and balance queries.
type AccountService struct {
	matcher  *engine.Matcher
	ledger   *store.Ledger
	decimals int32
	logger   *slog.Logger
}

// NewAccountService creates a new AccountService. decimals is the number of
// currency decimal places accepted in amounts.
func NewAccountService(matcher *engine.Matcher, ledger *store.Ledger, decimals int32, logger *slog.Logger) *AccountService {
	return &AccountService{
		matcher:  matcher,
		ledger:   ledger,
		decimals: decimals,
		logger:   logger,
	}
}

// Decimals returns the configured number of currency decimal places.
func (s *AccountService) Decimals() int32 {
	return s.decimals
}

// Deposit credits a decimal currency amount to the account.
func (s *AccountService) Deposit(account, amount string) (domain.CurrencyBalance, error) {
	if err := validateAccount("account", account); err != nil {
		return domain.CurrencyBalance{}, err
	}
	minor, err := s.parseAmount(amount)
	if err != nil {
		return domain.CurrencyBalance{}, err
	}

	b, err := s.matcher.DepositCurrency(account, minor)
	if err != nil {
		return domain.CurrencyBalance{}, err
	}
	s.logger.Info("currency deposited", slog.String("account", account), slog.Int64("amount", minor))
	return b, nil
}

// Withdraw debits a decimal currency amount from the account's spendable
// balance.
func (s *AccountService) Withdraw(account, amount string) (domain.CurrencyBalance, error) {
	if err := validateAccount("account", account); err != nil {
		return domain.CurrencyBalance{}, err
	}
	minor, err := s.parseAmount(amount)
	if err != nil {
		return domain.CurrencyBalance{}, err
	}

	b, err := s.matcher.WithdrawCurrency(account, minor)
	if err != nil {
		return domain.CurrencyBalance{}, err
	}
	s.logger.Info("currency withdrawn", slog.String("account", account), slog.Int64("amount", minor))
	return b, nil
}

// Balance returns the account's currency balance and every share class it
// holds, ordered by share class id. Unknown accounts have zero balances.
func (s *AccountService) Balance(account string) (*BalanceResponse, error) {
	if err := validateAccount("account", account); err != nil {
		return nil, err
	}

	resp := &BalanceResponse{
		Account:  account,
		Currency: s.ledger.CurrencyBalance(account),
		Shares:   make([]ShareHolding, 0),
	}
	for classID, b := range s.ledger.ShareBalances(account) {
		if b.Total == 0 {
			continue
		}
		resp.Shares = append(resp.Shares, ShareHolding{ShareClassID: classID, Balance: b})
	}
	slices.SortFunc(resp.Shares, func(a, b ShareHolding) int {
		return cmp.Compare(a.ShareClassID, b.ShareClassID)
	})
	return resp, nil
}

func (s *AccountService) parseAmount(amount string) (int64, error) {
	if amount == "" {
		return 0, &domain.ValidationError{Message: "amount is required"}
	}
	minor, err := domain.ParseAmount(amount, s.decimals)
	if err != nil {
		return 0, &domain.ValidationError{Message: err.Error()}
	}
	if minor <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	return minor, nil
}
