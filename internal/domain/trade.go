package domain

import "time"

// Trade is a single fill between a resting order and an incoming market
// order. Trader1 owns the resting order, Trader2 submitted the market order.
type Trade struct {
	TradeID      string
	Seq          uint64
	OrderID      uint64
	ShareClassID uint64
	Trader1      string
	Trader2      string
	Amount       int64
	Price        int64 // currency minor units per share
	ExecutedAt   time.Time
}
