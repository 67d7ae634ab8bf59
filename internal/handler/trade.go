package handler

import (
	"net/http"
	"strconv"

	"github.com/efreitasn/fractionex/internal/service"
)

// TradeHandler handles HTTP requests for trade history and prices.
type TradeHandler struct {
	tradeSvc *service.TradeService
	money    money
}

// NewTradeHandler creates a new TradeHandler.
func NewTradeHandler(tradeSvc *service.TradeService, decimals int32) *TradeHandler {
	return &TradeHandler{tradeSvc: tradeSvc, money: money(decimals)}
}

// priceResponse is the JSON response for GET /share-classes/{id}/price.
type priceResponse struct {
	ShareClassID uint64  `json:"share_class_id"`
	CurrentPrice *string `json:"current_price"`
	Window       string  `json:"window"`
	TradesInWin  int     `json:"trades_in_window"`
	LastTradeAt  *string `json:"last_trade_at"`
}

// GetTrades handles GET /share-classes/{id}/trades?limit=N.
func (h *TradeHandler) GetTrades(w http.ResponseWriter, r *http.Request) {
	classID, err := classIDParam(r)
	if err != nil {
		mapError(w, err)
		return
	}
	limit, err := intQuery(r, "limit", 0)
	if err != nil {
		mapError(w, err)
		return
	}

	trades, err := h.tradeSvc.History(classID, limit)
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildTradeResponses(h.money, trades))
}

// GetPrice handles GET /share-classes/{id}/price.
func (h *TradeHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	classID, err := classIDParam(r)
	if err != nil {
		mapError(w, err)
		return
	}

	price, err := h.tradeSvc.GetPrice(classID)
	if err != nil {
		mapError(w, err)
		return
	}

	resp := priceResponse{
		ShareClassID: price.ShareClassID,
		CurrentPrice: h.money.formatPtr(price.CurrentPrice),
		Window:       price.Window,
		TradesInWin:  price.TradesInWindow,
	}
	if price.LastTradeAt != nil {
		s := formatTime(*price.LastTradeAt)
		resp.LastTradeAt = &s
	}
	WriteJSON(w, http.StatusOK, resp)
}

// GetJournal handles GET /trades/journal?from=SEQ&limit=N.
func (h *TradeHandler) GetJournal(w http.ResponseWriter, r *http.Request) {
	var from uint64
	if v := r.URL.Query().Get("from"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "from must be a non-negative integer")
			return
		}
		from = n
	}
	limit, err := intQuery(r, "limit", 100)
	if err != nil {
		mapError(w, err)
		return
	}

	trades, err := h.tradeSvc.Replay(from, limit)
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildTradeResponses(h.money, trades))
}
