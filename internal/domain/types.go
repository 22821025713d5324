// Package domain holds the value types shared by the broker, the exchange
// simulator, the stores and the backtester.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market identifies the exchange family a symbol trades on.
type Market string

const (
	MarketUS Market = "us"
	MarketCN Market = "cn"
)

// Bar is one OHLCV bar for a symbol.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// Position is the signed holding in one symbol. Price is the average entry
// price and carries no meaning while Size is zero.
type Position struct {
	Symbol string
	Size   decimal.Decimal
	Price  decimal.Decimal
}

// IsFlat reports whether the position holds nothing.
func (p Position) IsFlat() bool { return p.Size.IsZero() }

// Update applies a signed fill of size at price and returns the resulting
// position together with the opened and closed quantities. Both quantities
// carry the sign of the fill. A fill that flips the position sign closes the
// old position entirely and opens the remainder at price.
//
// The receiver is not modified.
func (p Position) Update(size, price decimal.Decimal) (next Position, opened, closed decimal.Decimal) {
	next = Position{Symbol: p.Symbol, Size: p.Size.Add(size), Price: p.Price}
	oldSize := p.Size

	switch {
	case next.Size.IsZero():
		// Flat after the fill: everything was a close.
		opened, closed = decimal.Zero, size
		next.Price = decimal.Zero

	case oldSize.IsZero():
		opened, closed = size, decimal.Zero
		next.Price = price

	case oldSize.Sign() == size.Sign():
		// Adding to the position: weighted average entry.
		opened, closed = size, decimal.Zero
		next.Price = p.Price.Mul(oldSize).Add(price.Mul(size)).Div(next.Size)

	case next.Size.Sign() == oldSize.Sign():
		// Reducing without crossing zero.
		opened, closed = decimal.Zero, size

	default:
		// Reversal.
		closed = oldSize.Neg()
		opened = next.Size
		next.Price = price
	}
	return next, opened, closed
}

// TradeRecord is one fill as written to the trade journal.
type TradeRecord struct {
	Time          time.Time       `csv:"time"`
	Ref           uint64          `csv:"ref"`
	Symbol        string          `csv:"symbol"`
	Side          OrderSide       `csv:"side"`
	Type          OrderType       `csv:"type"`
	Size          decimal.Decimal `csv:"size"`
	Price         decimal.Decimal `csv:"price"`
	Commission    decimal.Decimal `csv:"commission"`
	PnL           decimal.Decimal `csv:"pnl"`
	PositionSize  decimal.Decimal `csv:"position_size"`
	PositionPrice decimal.Decimal `csv:"position_price"`
	Cash          decimal.Decimal `csv:"cash"`
	Status        OrderStatus     `csv:"status"`
}
