package domain

import "time"

// OrderType distinguishes limit orders from market orders.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// Side indicates whether an order buys or sells shares.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is one of the two book sides.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the side an order of side s matches against.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusDeleted         OrderStatus = "deleted"
)

// Order is a limit order resting on a share class book. Market orders are
// never materialised as Order values.
type Order struct {
	ID           uint64
	ShareClassID uint64
	Side         Side
	Trader       string
	Price        int64 // currency minor units per share
	Amount       int64
	Filled       int64
	Deleted      bool
	CreatedAt    time.Time
}

// Remaining returns the unfilled part of the order.
func (o *Order) Remaining() int64 {
	return o.Amount - o.Filled
}

// Status derives the lifecycle state from the fill and deletion fields.
func (o *Order) Status() OrderStatus {
	switch {
	case o.Deleted:
		return OrderStatusDeleted
	case o.Filled == o.Amount:
		return OrderStatusFilled
	case o.Filled > 0:
		return OrderStatusPartiallyFilled
	}
	return OrderStatusOpen
}
