package service

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/efreitasn/fractionex/internal/domain"
	"github.com/efreitasn/fractionex/internal/engine"
	"github.com/efreitasn/fractionex/internal/metrics"
	"github.com/efreitasn/fractionex/internal/store"
)

// ValidOrderStatuses lists all valid order status values for validation.
var ValidOrderStatuses = map[domain.OrderStatus]bool{
	domain.OrderStatusOpen:            true,
	domain.OrderStatusPartiallyFilled: true,
	domain.OrderStatusFilled:          true,
	domain.OrderStatusDeleted:         true,
}

// PlaceOrderRequest represents the input for order placement.
type PlaceOrderRequest struct {
	Type         domain.OrderType
	Trader       string
	ShareClassID uint64
	Side         domain.Side
	Amount       int64
	Price        *string // decimal; required for limit, must be nil for market
}

// PlaceOrderResult holds the resting order of a limit placement or the
// trades of a market placement.
type PlaceOrderResult struct {
	Order  *domain.Order
	Trades []domain.Trade
}

// BookPriceLevel represents an aggregated price level in the book response.
type BookPriceLevel struct {
	Price         int64
	TotalQuantity int64
	OrderCount    int
}

// BookResponse represents an aggregated depth snapshot of a class's book.
type BookResponse struct {
	ShareClassID uint64
	Bids         []BookPriceLevel
	Asks         []BookPriceLevel
	Spread       *int64 // nil if either side empty
	SnapshotAt   time.Time
}

// QuotePriceLevel represents a single price level in the quote response.
type QuotePriceLevel struct {
	Price    int64
	Quantity int64
}

// QuoteResponse represents the estimated result of a market order.
type QuoteResponse struct {
	ShareClassID      uint64
	Side              domain.Side
	QuantityRequested int64
	QuantityAvailable int64
	FullyFillable     bool
	EstimatedAvgPrice *int64 // nil when no liquidity
	EstimatedTotal    *int64 // nil when no liquidity
	PriceLevels       []QuotePriceLevel
	QuotedAt          time.Time
}

// OrderService handles order placement, deletion and book queries.
type OrderService struct {
	matcher    *engine.Matcher
	orderStore *store.OrderStore
	decimals   int32
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewOrderService creates a new OrderService with the given dependencies.
func NewOrderService(
	matcher *engine.Matcher,
	orderStore *store.OrderStore,
	decimals int32,
	m *metrics.Metrics,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		matcher:    matcher,
		orderStore: orderStore,
		decimals:   decimals,
		metrics:    m,
		logger:     logger,
	}
}

// Place validates the request and either rests a limit order on the book
// or executes a market order against it.
func (s *OrderService) Place(req PlaceOrderRequest) (*PlaceOrderResult, error) {
	if req.Type != domain.OrderTypeLimit && req.Type != domain.OrderTypeMarket {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("Unknown order type: %s. Must be one of: limit, market", req.Type),
		}
	}
	if err := validateAccount("trader", req.Trader); err != nil {
		return nil, err
	}
	if !req.Side.Valid() {
		return nil, &domain.ValidationError{
			Message: "side must be 'buy' or 'sell'",
		}
	}

	if req.Type == domain.OrderTypeLimit {
		return s.placeLimitOrder(req)
	}
	return s.placeMarketOrder(req)
}

func (s *OrderService) placeLimitOrder(req PlaceOrderRequest) (*PlaceOrderResult, error) {
	if req.Price == nil {
		return nil, &domain.ValidationError{
			Message: "price is required for limit orders",
		}
	}
	price, err := domain.ParseAmount(*req.Price, s.decimals)
	if err != nil {
		return nil, &domain.ValidationError{Message: err.Error()}
	}

	order, err := s.matcher.CreateLimitOrder(req.Trader, req.ShareClassID, req.Side, req.Amount, price)
	if err != nil {
		return nil, err
	}

	s.metrics.OrdersPlaced.WithLabelValues(string(domain.OrderTypeLimit), string(req.Side)).Inc()
	s.logger.Info("limit order placed",
		slog.Uint64("order_id", order.ID),
		slog.Uint64("share_class_id", order.ShareClassID),
		slog.String("trader", order.Trader),
		slog.String("side", string(order.Side)),
		slog.Int64("amount", order.Amount),
		slog.Int64("price", order.Price),
	)
	return &PlaceOrderResult{Order: &order}, nil
}

func (s *OrderService) placeMarketOrder(req PlaceOrderRequest) (*PlaceOrderResult, error) {
	if req.Price != nil {
		return nil, &domain.ValidationError{
			Message: "market orders must not include price",
		}
	}

	trades, err := s.matcher.CreateMarketOrder(req.Trader, req.ShareClassID, req.Side, req.Amount)
	s.recordTrades(trades)
	if err != nil {
		if len(trades) > 0 {
			s.logger.Error("market order stopped after partial execution",
				slog.Uint64("share_class_id", req.ShareClassID),
				slog.String("trader", req.Trader),
				slog.Int("trades", len(trades)),
				slog.String("error", err.Error()),
			)
		}
		return nil, err
	}

	s.metrics.OrdersPlaced.WithLabelValues(string(domain.OrderTypeMarket), string(req.Side)).Inc()
	s.logger.Info("market order executed",
		slog.Uint64("share_class_id", req.ShareClassID),
		slog.String("trader", req.Trader),
		slog.String("side", string(req.Side)),
		slog.Int64("amount", req.Amount),
		slog.Int("trades", len(trades)),
	)
	if trades == nil {
		trades = make([]domain.Trade, 0)
	}
	return &PlaceOrderResult{Trades: trades}, nil
}

func (s *OrderService) recordTrades(trades []domain.Trade) {
	for _, t := range trades {
		s.metrics.Trades.Inc()
		s.metrics.TradedShares.Add(float64(t.Amount))
	}
}

// DeleteOrder removes a resting order on behalf of its trader.
func (s *OrderService) DeleteOrder(caller string, classID uint64, side domain.Side, orderID uint64) (domain.Order, error) {
	if err := validateAccount("caller", caller); err != nil {
		return domain.Order{}, err
	}
	if !side.Valid() {
		return domain.Order{}, &domain.ValidationError{
			Message: "side must be 'buy' or 'sell'",
		}
	}

	order, err := s.matcher.DeleteOrder(caller, classID, side, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	s.metrics.OrdersDeleted.Inc()
	s.logger.Info("order deleted",
		slog.Uint64("order_id", order.ID),
		slog.Uint64("share_class_id", classID),
		slog.String("trader", caller),
	)
	return order, nil
}

// GetOrders returns one side of a class's book in priority order.
func (s *OrderService) GetOrders(classID uint64, side domain.Side) ([]domain.Order, error) {
	if !side.Valid() {
		return nil, &domain.ValidationError{
			Message: "side must be 'buy' or 'sell'",
		}
	}
	return s.matcher.GetOrders(classID, side)
}

// GetOrder retrieves an order by id, including filled and deleted ones.
func (s *OrderService) GetOrder(orderID uint64) (domain.Order, error) {
	return s.orderStore.Get(orderID)
}

// ListOrders returns a paginated list of a trader's orders with optional
// status filtering.
func (s *OrderService) ListOrders(trader string, status *domain.OrderStatus, page, limit int) ([]domain.Order, int, error) {
	if err := validateAccount("account", trader); err != nil {
		return nil, 0, err
	}

	// Validate status if provided.
	if status != nil {
		if !ValidOrderStatuses[*status] {
			return nil, 0, &domain.ValidationError{
				Message: fmt.Sprintf("Invalid status filter: '%s'. Must be one of: open, partially_filled, filled, deleted", *status),
			}
		}
	}

	// Validate pagination.
	if page < 1 {
		return nil, 0, &domain.ValidationError{
			Message: "page must be >= 1",
		}
	}
	if limit < 1 || limit > 100 {
		return nil, 0, &domain.ValidationError{
			Message: "limit must be between 1 and 100",
		}
	}

	orders, total := s.orderStore.ListByTrader(trader, status, page, limit)
	return orders, total, nil
}

// GetBook returns the top depth price levels of a class's book.
func (s *OrderService) GetBook(classID uint64, depth int) (*BookResponse, error) {
	if depth < 1 || depth > 50 {
		return nil, &domain.ValidationError{
			Message: "depth must be between 1 and 50",
		}
	}

	topBids, topAsks, err := s.matcher.Depth(classID, depth)
	if err != nil {
		return nil, err
	}

	resp := &BookResponse{
		ShareClassID: classID,
		Bids:         bookLevels(topBids),
		Asks:         bookLevels(topAsks),
		SnapshotAt:   time.Now(),
	}

	// Compute spread = best_ask - best_bid (null if either side empty).
	if len(topBids) > 0 && len(topAsks) > 0 {
		spread := topAsks[0].Price - topBids[0].Price
		resp.Spread = &spread
	}

	return resp, nil
}

func bookLevels(levels []engine.PriceLevel) []BookPriceLevel {
	out := make([]BookPriceLevel, len(levels))
	for i, pl := range levels {
		out[i] = BookPriceLevel{
			Price:         pl.Price,
			TotalQuantity: pl.TotalQuantity,
			OrderCount:    pl.OrderCount,
		}
	}
	return out
}

// GetQuote simulates a market order against the current book and returns
// the estimated result without placing an order.
func (s *OrderService) GetQuote(classID uint64, side domain.Side, quantity int64) (*QuoteResponse, error) {
	result, err := s.matcher.Quote(classID, side, quantity)
	if err != nil {
		return nil, err
	}

	priceLevels := make([]QuotePriceLevel, len(result.PriceLevels))
	for i, pl := range result.PriceLevels {
		priceLevels[i] = QuotePriceLevel{
			Price:    pl.Price,
			Quantity: pl.Quantity,
		}
	}

	return &QuoteResponse{
		ShareClassID:      classID,
		Side:              side,
		QuantityRequested: quantity,
		QuantityAvailable: result.QuantityAvailable,
		FullyFillable:     result.FullyFillable,
		EstimatedAvgPrice: result.EstimatedAvgPrice,
		EstimatedTotal:    result.EstimatedTotal,
		PriceLevels:       priceLevels,
		QuotedAt:          time.Now(),
	}, nil
}
