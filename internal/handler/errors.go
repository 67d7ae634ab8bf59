package handler

import (
	"errors"
	"net/http"

	"github.com/efreitasn/fractionex/internal/custody"
	"github.com/efreitasn/fractionex/internal/domain"
	"github.com/efreitasn/fractionex/internal/service"
)

// mapError writes the error response for a service error. Unknown errors
// become a 500 without leaking their message.
func mapError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}

	switch {
	case errors.Is(err, domain.ErrInvalidAmount):
		WriteError(w, http.StatusBadRequest, "invalid_amount", err.Error())
	case errors.Is(err, domain.ErrCustody):
		// Checked before ErrNotOwner: a custody failure may wrap it.
		WriteError(w, http.StatusBadGateway, "custody_failure", err.Error())
	case errors.Is(err, domain.ErrNotOwner):
		WriteError(w, http.StatusForbidden, "not_owner", err.Error())
	case errors.Is(err, domain.ErrNotSoleOwner):
		WriteError(w, http.StatusForbidden, "not_sole_owner", err.Error())
	case errors.Is(err, domain.ErrNotOrderOwner):
		WriteError(w, http.StatusForbidden, "not_order_owner", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		WriteError(w, http.StatusForbidden, "unauthorized", err.Error())
	case errors.Is(err, custody.ErrNotApproved):
		WriteError(w, http.StatusForbidden, "not_approved", err.Error())
	case errors.Is(err, domain.ErrUnknownToken):
		WriteError(w, http.StatusNotFound, "unknown_token", err.Error())
	case errors.Is(err, domain.ErrOrderNotFound):
		WriteError(w, http.StatusNotFound, "order_not_found", err.Error())
	case errors.Is(err, custody.ErrAssetNotFound):
		WriteError(w, http.StatusNotFound, "asset_not_found", err.Error())
	case errors.Is(err, service.ErrJournalDisabled):
		WriteError(w, http.StatusNotFound, "journal_disabled", "No trade journal is configured")
	case errors.Is(err, domain.ErrInsufficientFunds):
		WriteError(w, http.StatusConflict, "insufficient_funds", err.Error())
	case errors.Is(err, domain.ErrInsufficientShares):
		WriteError(w, http.StatusConflict, "insufficient_shares", err.Error())
	case errors.Is(err, domain.ErrAmountExceedsSupply):
		WriteError(w, http.StatusConflict, "amount_exceeds_supply", err.Error())
	case errors.Is(err, domain.ErrPaused):
		WriteError(w, http.StatusConflict, "paused", err.Error())
	case errors.Is(err, domain.ErrReentrantCall):
		WriteError(w, http.StatusConflict, "reentrant_call", err.Error())
	case errors.Is(err, custody.ErrAssetExists):
		WriteError(w, http.StatusConflict, "asset_exists", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
