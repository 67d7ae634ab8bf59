package handler

import (
	"net/http"

	"github.com/efreitasn/fractionex/internal/domain"
	"github.com/efreitasn/fractionex/internal/service"
)

// VaultHandler handles HTTP requests for share class and admin endpoints.
type VaultHandler struct {
	vaultSvc *service.VaultService
	money    money
}

// NewVaultHandler creates a new VaultHandler.
func NewVaultHandler(vaultSvc *service.VaultService, decimals int32) *VaultHandler {
	return &VaultHandler{vaultSvc: vaultSvc, money: money(decimals)}
}

// depositRequest is the JSON request body for POST /share-classes.
type depositRequest struct {
	Caller      string `json:"caller"`
	Collection  string `json:"collection"`
	TokenID     string `json:"token_id"`
	TotalSupply int64  `json:"total_supply"`
}

// redeemRequest is the JSON request body for POST /share-classes/{id}/redeem.
type redeemRequest struct {
	Caller string `json:"caller"`
}

// transferRequest is the JSON request body for POST /share-classes/{id}/transfer.
type transferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

// shareClassResponse is the JSON representation of a share class. Redeemed
// classes report active=false with an empty asset.
type shareClassResponse struct {
	ShareClassID uint64 `json:"share_class_id"`
	Collection   string `json:"collection"`
	TokenID      string `json:"token_id"`
	TotalSupply  int64  `json:"total_supply"`
	Depositor    string `json:"depositor"`
	Active       bool   `json:"active"`
	CreatedAt    string `json:"created_at"`
}

// redeemResponse is the JSON response for a redemption.
type redeemResponse struct {
	ShareClass   shareClassResponse `json:"share_class"`
	ClosedOrders []orderResponse    `json:"closed_orders"`
}

// holdersResponse lists the holders of a share class.
type holdersResponse struct {
	ShareClassID uint64   `json:"share_class_id"`
	Holders      []string `json:"holders"`
}

// pauseResponse reports the vault's pause state.
type pauseResponse struct {
	Paused bool `json:"paused"`
}

func buildShareClassResponse(c domain.ShareClass) shareClassResponse {
	return shareClassResponse{
		ShareClassID: c.ID,
		Collection:   c.Asset.Collection,
		TokenID:      c.Asset.TokenID,
		TotalSupply:  c.TotalSupply,
		Depositor:    c.Depositor,
		Active:       c.Active(),
		CreatedAt:    formatTime(c.CreatedAt),
	}
}

// Deposit handles POST /share-classes.
func (h *VaultHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	class, err := h.vaultSvc.Deposit(r.Context(), service.DepositRequest{
		Caller:      req.Caller,
		Collection:  req.Collection,
		TokenID:     req.TokenID,
		TotalSupply: req.TotalSupply,
	})
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, buildShareClassResponse(class))
}

// ListShareClasses handles GET /share-classes.
func (h *VaultHandler) ListShareClasses(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, shareClassIDsResponse{
		ShareClassIDs: nonNil(h.vaultSvc.ListShareClassIDs()),
	})
}

// GetShareClass handles GET /share-classes/{id}.
func (h *VaultHandler) GetShareClass(w http.ResponseWriter, r *http.Request) {
	classID, err := classIDParam(r)
	if err != nil {
		mapError(w, err)
		return
	}
	class, err := h.vaultSvc.GetShareClass(classID)
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildShareClassResponse(class))
}

// ListHolders handles GET /share-classes/{id}/holders.
func (h *VaultHandler) ListHolders(w http.ResponseWriter, r *http.Request) {
	classID, err := classIDParam(r)
	if err != nil {
		mapError(w, err)
		return
	}
	holders, err := h.vaultSvc.ListHoldersOf(classID)
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, holdersResponse{ShareClassID: classID, Holders: nonNil(holders)})
}

// Redeem handles POST /share-classes/{id}/redeem.
func (h *VaultHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	classID, err := classIDParam(r)
	if err != nil {
		mapError(w, err)
		return
	}
	var req redeemRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := h.vaultSvc.Redeem(r.Context(), req.Caller, classID)
	if err != nil {
		mapError(w, err)
		return
	}

	resp := redeemResponse{
		ShareClass:   buildShareClassResponse(res.ShareClass),
		ClosedOrders: make([]orderResponse, len(res.ClosedOrders)),
	}
	// The returned record is the pre-redemption one; report it as inactive.
	resp.ShareClass.Active = false
	for i := range res.ClosedOrders {
		resp.ClosedOrders[i] = buildOrderResponse(h.money, &res.ClosedOrders[i])
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Transfer handles POST /share-classes/{id}/transfer.
func (h *VaultHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	classID, err := classIDParam(r)
	if err != nil {
		mapError(w, err)
		return
	}
	var req transferRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if err := h.vaultSvc.Transfer(r.Context(), req.From, req.To, classID, req.Amount); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Pause handles POST /admin/pause. The caller is taken from X-Account.
func (h *VaultHandler) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.vaultSvc.Pause(r.Header.Get(accountHeader)); err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, pauseResponse{Paused: true})
}

// Unpause handles POST /admin/unpause. The caller is taken from X-Account.
func (h *VaultHandler) Unpause(w http.ResponseWriter, r *http.Request) {
	if err := h.vaultSvc.Unpause(r.Header.Get(accountHeader)); err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, pauseResponse{Paused: false})
}

// GetPauseState handles GET /admin/pause.
func (h *VaultHandler) GetPauseState(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, pauseResponse{Paused: h.vaultSvc.Paused()})
}
