package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/fractionex/internal/domain"
	"github.com/efreitasn/fractionex/internal/service"
)

// OrderHandler handles HTTP requests for order and book endpoints.
type OrderHandler struct {
	orderSvc *service.OrderService
	money    money
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderSvc *service.OrderService, decimals int32) *OrderHandler {
	return &OrderHandler{orderSvc: orderSvc, money: money(decimals)}
}

// placeOrderRequest is the JSON request body for POST /orders.
type placeOrderRequest struct {
	Type         string  `json:"type"`
	Trader       string  `json:"trader"`
	ShareClassID uint64  `json:"share_class_id"`
	Side         string  `json:"side"`
	Amount       int64   `json:"amount"`
	Price        *string `json:"price"`
}

// orderResponse is the JSON representation of a limit order.
type orderResponse struct {
	OrderID      uint64 `json:"order_id"`
	ShareClassID uint64 `json:"share_class_id"`
	Side         string `json:"side"`
	Trader       string `json:"trader"`
	Price        string `json:"price"`
	Amount       int64  `json:"amount"`
	Filled       int64  `json:"filled"`
	Remaining    int64  `json:"remaining"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
}

// tradeResponse is the JSON representation of a trade.
type tradeResponse struct {
	TradeID      string `json:"trade_id"`
	Seq          uint64 `json:"seq"`
	OrderID      uint64 `json:"order_id"`
	ShareClassID uint64 `json:"share_class_id"`
	Trader1      string `json:"trader1"`
	Trader2      string `json:"trader2"`
	Amount       int64  `json:"amount"`
	Price        string `json:"price"`
	ExecutedAt   string `json:"executed_at"`
}

// marketOrderResponse is the JSON response for market orders.
type marketOrderResponse struct {
	Type   string          `json:"type"`
	Filled int64           `json:"filled"`
	Trades []tradeResponse `json:"trades"`
}

// bookLevelResponse is a single price level in the book response.
type bookLevelResponse struct {
	Price         string `json:"price"`
	TotalQuantity int64  `json:"total_quantity"`
	OrderCount    int    `json:"order_count"`
}

// bookResponse is the JSON response for GET /share-classes/{id}/book.
type bookResponse struct {
	ShareClassID uint64              `json:"share_class_id"`
	Bids         []bookLevelResponse `json:"bids"`
	Asks         []bookLevelResponse `json:"asks"`
	Spread       *string             `json:"spread"`
	SnapshotAt   string              `json:"snapshot_at"`
}

// quoteLevelResponse is a single price level in the quote response.
type quoteLevelResponse struct {
	Price    string `json:"price"`
	Quantity int64  `json:"quantity"`
}

// quoteResponse is the JSON response for GET /share-classes/{id}/quote.
type quoteResponse struct {
	ShareClassID      uint64               `json:"share_class_id"`
	Side              string               `json:"side"`
	QuantityRequested int64                `json:"quantity_requested"`
	QuantityAvailable int64                `json:"quantity_available"`
	FullyFillable     bool                 `json:"fully_fillable"`
	EstimatedAvgPrice *string              `json:"estimated_average_price"`
	EstimatedTotal    *string              `json:"estimated_total"`
	PriceLevels       []quoteLevelResponse `json:"price_levels"`
	QuotedAt          string               `json:"quoted_at"`
}

func buildOrderResponse(m money, o *domain.Order) orderResponse {
	return orderResponse{
		OrderID:      o.ID,
		ShareClassID: o.ShareClassID,
		Side:         string(o.Side),
		Trader:       o.Trader,
		Price:        m.format(o.Price),
		Amount:       o.Amount,
		Filled:       o.Filled,
		Remaining:    o.Remaining(),
		Status:       string(o.Status()),
		CreatedAt:    formatTime(o.CreatedAt),
	}
}

func buildTradeResponses(m money, trades []domain.Trade) []tradeResponse {
	out := make([]tradeResponse, len(trades))
	for i, t := range trades {
		out[i] = tradeResponse{
			TradeID:      t.TradeID,
			Seq:          t.Seq,
			OrderID:      t.OrderID,
			ShareClassID: t.ShareClassID,
			Trader1:      t.Trader1,
			Trader2:      t.Trader2,
			Amount:       t.Amount,
			Price:        m.format(t.Price),
			ExecutedAt:   formatTime(t.ExecutedAt),
		}
	}
	return out
}

// PlaceOrder handles POST /orders.
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := h.orderSvc.Place(service.PlaceOrderRequest{
		Type:         domain.OrderType(req.Type),
		Trader:       req.Trader,
		ShareClassID: req.ShareClassID,
		Side:         domain.Side(req.Side),
		Amount:       req.Amount,
		Price:        req.Price,
	})
	if err != nil {
		mapError(w, err)
		return
	}

	if res.Order != nil {
		WriteJSON(w, http.StatusCreated, buildOrderResponse(h.money, res.Order))
		return
	}

	var filled int64
	for _, t := range res.Trades {
		filled += t.Amount
	}
	WriteJSON(w, http.StatusOK, marketOrderResponse{
		Type:   string(domain.OrderTypeMarket),
		Filled: filled,
		Trades: buildTradeResponses(h.money, res.Trades),
	})
}

// GetOrder handles GET /orders/{order_id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseUint(chi.URLParam(r, "order_id"), 10, 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "order_id must be a positive integer")
		return
	}

	order, err := h.orderSvc.GetOrder(orderID)
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildOrderResponse(h.money, &order))
}

// DeleteOrder handles DELETE /share-classes/{id}/orders/{side}/{order_id}.
// The acting trader is taken from the X-Account header.
func (h *OrderHandler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	classID, err := classIDParam(r)
	if err != nil {
		mapError(w, err)
		return
	}
	orderID, err := strconv.ParseUint(chi.URLParam(r, "order_id"), 10, 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "order_id must be a positive integer")
		return
	}

	order, err := h.orderSvc.DeleteOrder(
		r.Header.Get(accountHeader),
		classID,
		domain.Side(chi.URLParam(r, "side")),
		orderID,
	)
	if err != nil {
		mapError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildOrderResponse(h.money, &order))
}

// GetOrders handles GET /share-classes/{id}/orders/{side}.
func (h *OrderHandler) GetOrders(w http.ResponseWriter, r *http.Request) {
	classID, err := classIDParam(r)
	if err != nil {
		mapError(w, err)
		return
	}

	orders, err := h.orderSvc.GetOrders(classID, domain.Side(chi.URLParam(r, "side")))
	if err != nil {
		mapError(w, err)
		return
	}

	resp := make([]orderResponse, len(orders))
	for i := range orders {
		resp[i] = buildOrderResponse(h.money, &orders[i])
	}
	WriteJSON(w, http.StatusOK, resp)
}

// GetBook handles GET /share-classes/{id}/book.
func (h *OrderHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	classID, err := classIDParam(r)
	if err != nil {
		mapError(w, err)
		return
	}
	// Parse depth query param (default 10, max 50).
	depth, err := intQuery(r, "depth", 10)
	if err != nil {
		mapError(w, err)
		return
	}

	book, err := h.orderSvc.GetBook(classID, depth)
	if err != nil {
		mapError(w, err)
		return
	}

	resp := bookResponse{
		ShareClassID: book.ShareClassID,
		Bids:         h.bookLevels(book.Bids),
		Asks:         h.bookLevels(book.Asks),
		Spread:       h.money.formatPtr(book.Spread),
		SnapshotAt:   formatTime(book.SnapshotAt),
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *OrderHandler) bookLevels(levels []service.BookPriceLevel) []bookLevelResponse {
	out := make([]bookLevelResponse, len(levels))
	for i, l := range levels {
		out[i] = bookLevelResponse{
			Price:         h.money.format(l.Price),
			TotalQuantity: l.TotalQuantity,
			OrderCount:    l.OrderCount,
		}
	}
	return out
}

// GetQuote handles GET /share-classes/{id}/quote?side=buy&quantity=N.
func (h *OrderHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	classID, err := classIDParam(r)
	if err != nil {
		mapError(w, err)
		return
	}
	qtyStr := r.URL.Query().Get("quantity")
	if qtyStr == "" {
		WriteError(w, http.StatusBadRequest, "validation_error", "quantity is required")
		return
	}
	qty, err := strconv.ParseInt(qtyStr, 10, 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "quantity must be an integer")
		return
	}
	side := domain.Side(r.URL.Query().Get("side"))

	q, err := h.orderSvc.GetQuote(classID, side, qty)
	if err != nil {
		mapError(w, err)
		return
	}

	levels := make([]quoteLevelResponse, len(q.PriceLevels))
	for i, l := range q.PriceLevels {
		levels[i] = quoteLevelResponse{Price: h.money.format(l.Price), Quantity: l.Quantity}
	}
	WriteJSON(w, http.StatusOK, quoteResponse{
		ShareClassID:      q.ShareClassID,
		Side:              string(q.Side),
		QuantityRequested: q.QuantityRequested,
		QuantityAvailable: q.QuantityAvailable,
		FullyFillable:     q.FullyFillable,
		EstimatedAvgPrice: h.money.formatPtr(q.EstimatedAvgPrice),
		EstimatedTotal:    h.money.formatPtr(q.EstimatedTotal),
		PriceLevels:       levels,
		QuotedAt:          formatTime(q.QuotedAt),
	})
}
