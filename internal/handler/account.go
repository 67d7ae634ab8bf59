package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/fractionex/internal/domain"
	"github.com/efreitasn/fractionex/internal/service"
)

// AccountHandler handles HTTP requests for account endpoints.
type AccountHandler struct {
	accountSvc *service.AccountService
	vaultSvc   *service.VaultService
	orderSvc   *service.OrderService
	money      money
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(
	accountSvc *service.AccountService,
	vaultSvc *service.VaultService,
	orderSvc *service.OrderService,
) *AccountHandler {
	return &AccountHandler{
		accountSvc: accountSvc,
		vaultSvc:   vaultSvc,
		orderSvc:   orderSvc,
		money:      money(accountSvc.Decimals()),
	}
}

// currencyRequest is the JSON request body for deposits and withdrawals.
type currencyRequest struct {
	Amount string `json:"amount"`
}

// currencyResponse is an account's currency position.
type currencyResponse struct {
	Total     string `json:"total"`
	Reserved  string `json:"reserved"`
	Spendable string `json:"spendable"`
}

// shareHoldingResponse is a single share class position.
type shareHoldingResponse struct {
	ShareClassID uint64 `json:"share_class_id"`
	Total        int64  `json:"total"`
	Reserved     int64  `json:"reserved"`
	Spendable    int64  `json:"spendable"`
}

// balanceResponse is the JSON response for GET /accounts/{account}/balance.
type balanceResponse struct {
	Account  string                 `json:"account"`
	Currency currencyResponse       `json:"currency"`
	Shares   []shareHoldingResponse `json:"shares"`
}

// shareClassIDsResponse lists share class ids.
type shareClassIDsResponse struct {
	ShareClassIDs []uint64 `json:"share_class_ids"`
}

// orderListResponse is the JSON response for GET /accounts/{account}/orders.
type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
	Total  int             `json:"total"`
	Page   int             `json:"page"`
	Limit  int             `json:"limit"`
}

func (h *AccountHandler) currency(b domain.CurrencyBalance) currencyResponse {
	return currencyResponse{
		Total:     h.money.format(b.Total),
		Reserved:  h.money.format(b.Reserved),
		Spendable: h.money.format(b.Spendable()),
	}
}

// Deposit handles POST /accounts/{account}/deposit.
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req currencyRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	b, err := h.accountSvc.Deposit(chi.URLParam(r, "account"), req.Amount)
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.currency(b))
}

// Withdraw handles POST /accounts/{account}/withdraw.
func (h *AccountHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req currencyRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	b, err := h.accountSvc.Withdraw(chi.URLParam(r, "account"), req.Amount)
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.currency(b))
}

// GetBalance handles GET /accounts/{account}/balance.
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.accountSvc.Balance(chi.URLParam(r, "account"))
	if err != nil {
		mapError(w, err)
		return
	}

	resp := balanceResponse{
		Account:  bal.Account,
		Currency: h.currency(bal.Currency),
		Shares:   make([]shareHoldingResponse, len(bal.Shares)),
	}
	for i, s := range bal.Shares {
		resp.Shares[i] = shareHoldingResponse{
			ShareClassID: s.ShareClassID,
			Total:        s.Balance.Total,
			Reserved:     s.Balance.Reserved,
			Spendable:    s.Balance.Spendable(),
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// ListShareClasses handles GET /accounts/{account}/share-classes.
func (h *AccountHandler) ListShareClasses(w http.ResponseWriter, r *http.Request) {
	ids, err := h.vaultSvc.ListShareClassIDsHeldBy(chi.URLParam(r, "account"))
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, shareClassIDsResponse{ShareClassIDs: nonNil(ids)})
}

// ListOrders handles GET /accounts/{account}/orders.
func (h *AccountHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	page, err := intQuery(r, "page", 1)
	if err != nil {
		mapError(w, err)
		return
	}
	limit, err := intQuery(r, "limit", 20)
	if err != nil {
		mapError(w, err)
		return
	}
	var status *domain.OrderStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := domain.OrderStatus(s)
		status = &st
	}

	orders, total, err := h.orderSvc.ListOrders(chi.URLParam(r, "account"), status, page, limit)
	if err != nil {
		mapError(w, err)
		return
	}

	resp := orderListResponse{
		Orders: make([]orderResponse, len(orders)),
		Total:  total,
		Page:   page,
		Limit:  limit,
	}
	for i := range orders {
		resp.Orders[i] = buildOrderResponse(h.money, &orders[i])
	}
	WriteJSON(w, http.StatusOK, resp)
}
