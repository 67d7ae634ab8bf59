package domain

import "errors"

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrUnknownToken        = errors.New("unknown_token")
	ErrPaused              = errors.New("paused")
	ErrNotOwner            = errors.New("not_owner")
	ErrNotSoleOwner        = errors.New("not_sole_owner")
	ErrInsufficientFunds   = errors.New("insufficient_funds")
	ErrInsufficientShares  = errors.New("insufficient_shares")
	ErrAmountExceedsSupply = errors.New("amount_exceeds_supply")
	ErrNotOrderOwner       = errors.New("not_order_owner")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrOrderNotFound       = errors.New("order_not_found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrReentrantCall       = errors.New("reentrant_call")
	ErrCustody             = errors.New("custody_failure")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
