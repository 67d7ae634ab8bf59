// Package stream fans settled trades out to external observers: a Kafka
// topic, a durable Pebble journal, an HTTP webhook and in-process WebSocket
// subscribers.
package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/efreitasn/fractionex/internal/domain"
)

// TradeEvent is the wire representation of a trade shared by every sink.
type TradeEvent struct {
	TradeID      string    `json:"trade_id"`
	Seq          uint64    `json:"seq"`
	OrderID      uint64    `json:"order_id"`
	ShareClassID uint64    `json:"share_class_id"`
	Trader1      string    `json:"trader1"`
	Trader2      string    `json:"trader2"`
	Amount       int64     `json:"amount"`
	Price        string    `json:"price"`
	ExecutedAt   time.Time `json:"executed_at"`
}

// Codec converts trades to and from TradeEvent JSON, rendering prices with
// a fixed number of currency decimals.
type Codec struct {
	Decimals int32
}

// Event converts a trade into its wire form.
func (c Codec) Event(t domain.Trade) TradeEvent {
	return TradeEvent{
		TradeID:      t.TradeID,
		Seq:          t.Seq,
		OrderID:      t.OrderID,
		ShareClassID: t.ShareClassID,
		Trader1:      t.Trader1,
		Trader2:      t.Trader2,
		Amount:       t.Amount,
		Price:        domain.FormatAmount(t.Price, c.Decimals),
		ExecutedAt:   t.ExecutedAt,
	}
}

// Encode marshals a trade as TradeEvent JSON.
func (c Codec) Encode(t domain.Trade) ([]byte, error) {
	return json.Marshal(c.Event(t))
}

// Decode parses TradeEvent JSON back into a trade.
func (c Codec) Decode(b []byte) (domain.Trade, error) {
	var ev TradeEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return domain.Trade{}, fmt.Errorf("decode trade event: %w", err)
	}
	price, err := domain.ParseAmount(ev.Price, c.Decimals)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("decode trade %d price: %w", ev.Seq, err)
	}
	return domain.Trade{
		TradeID:      ev.TradeID,
		Seq:          ev.Seq,
		OrderID:      ev.OrderID,
		ShareClassID: ev.ShareClassID,
		Trader1:      ev.Trader1,
		Trader2:      ev.Trader2,
		Amount:       ev.Amount,
		Price:        price,
		ExecutedAt:   ev.ExecutedAt,
	}, nil
}
