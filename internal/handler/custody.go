package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/fractionex/internal/domain"
	"github.com/efreitasn/fractionex/internal/service"
)

// CustodyHandler handles HTTP requests for the in-memory custody registry.
type CustodyHandler struct {
	custodySvc *service.CustodyService
}

// NewCustodyHandler creates a new CustodyHandler.
func NewCustodyHandler(custodySvc *service.CustodyService) *CustodyHandler {
	return &CustodyHandler{custodySvc: custodySvc}
}

// mintRequest is the JSON request body for POST /custody/assets.
type mintRequest struct {
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
	Owner      string `json:"owner"`
}

// approveRequest is the JSON request body for POST /custody/assets/approve.
type approveRequest struct {
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
	Owner      string `json:"owner"`
	Operator   string `json:"operator"`
}

// assetResponse is the JSON representation of a custodied asset.
type assetResponse struct {
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
	Owner      string `json:"owner"`
}

// Mint handles POST /custody/assets.
func (h *CustodyHandler) Mint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	ref := domain.AssetRef{Collection: req.Collection, TokenID: req.TokenID}
	if err := h.custodySvc.Mint(req.Owner, ref); err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, assetResponse{
		Collection: ref.Collection,
		TokenID:    ref.TokenID,
		Owner:      req.Owner,
	})
}

// Approve handles POST /custody/assets/approve.
func (h *CustodyHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	ref := domain.AssetRef{Collection: req.Collection, TokenID: req.TokenID}
	if err := h.custodySvc.Approve(req.Owner, ref, req.Operator); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// OwnerOf handles GET /custody/assets/{collection}/{token_id}.
func (h *CustodyHandler) OwnerOf(w http.ResponseWriter, r *http.Request) {
	ref := domain.AssetRef{
		Collection: chi.URLParam(r, "collection"),
		TokenID:    chi.URLParam(r, "token_id"),
	}
	owner, err := h.custodySvc.OwnerOf(r.Context(), ref)
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, assetResponse{
		Collection: ref.Collection,
		TokenID:    ref.TokenID,
		Owner:      owner,
	})
}
