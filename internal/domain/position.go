package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the net exposure held on one symbol.
type Position struct {
	Symbol       string          `json:"symbol"`
	Quantity     decimal.Decimal `json:"quantity"`     // Positive for long, negative for short
	AveragePrice decimal.Decimal `json:"averagePrice"` // Cost basis of the open quantity, zero when flat
	RealizedPnL  decimal.Decimal `json:"realizedPnl"`  // Cumulative, adjusted only by closing fills
	LastUpdated  time.Time       `json:"lastUpdated"`
}

// IsLong checks if the position holds positive quantity.
func (p *Position) IsLong() bool {
	return p.Quantity.IsPositive()
}

// IsShort checks if the position holds negative quantity.
func (p *Position) IsShort() bool {
	return p.Quantity.IsNegative()
}

// IsFlat checks if the position has no open quantity.
func (p *Position) IsFlat() bool {
	return p.Quantity.IsZero()
}

// UnrealizedPnL values the open quantity against a mark price.
func (p *Position) UnrealizedPnL(mark decimal.Decimal) decimal.Decimal {
	if p.IsFlat() {
		return decimal.Zero
	}
	return p.Quantity.Mul(mark.Sub(p.AveragePrice))
}

// Fill is a single execution applied to a position.
type Fill struct {
	OrderID    string          `json:"orderId"`
	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	ExecutedAt time.Time       `json:"executedAt"`
}
