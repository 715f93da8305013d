package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultUserID is used for orders submitted without an owner tag.
const DefaultUserID = "anonymous"

// OrderRequest is the unvalidated input for a new order.
type OrderRequest struct {
	UserID         string              `json:"userId,omitempty"`
	Symbol         string              `json:"symbol"`
	Side           string              `json:"side"`
	Type           string              `json:"type"`
	Quantity       decimal.Decimal     `json:"quantity"`
	Price          decimal.NullDecimal `json:"price"`
	StopPrice      decimal.NullDecimal `json:"stopPrice"`
	TimeInForce    string              `json:"timeInForce,omitempty"`
	ReferencePrice decimal.NullDecimal `json:"referencePrice"`
}

// Order represents a trade order tracked by the engine.
// Quantity, Price and StopPrice never change after creation; FilledQuantity and
// AveragePrice are written only when the order executes.
type Order struct {
	ID             string              `json:"id"`
	UserID         string              `json:"userId"`
	Symbol         string              `json:"symbol"`
	Side           OrderSide           `json:"side"`
	Type           OrderType           `json:"type"`
	Quantity       decimal.Decimal     `json:"quantity"`
	Price          decimal.NullDecimal `json:"price"`
	StopPrice      decimal.NullDecimal `json:"stopPrice"`
	TimeInForce    TimeInForce         `json:"timeInForce"`
	Status         OrderStatus         `json:"status"`
	FilledQuantity decimal.Decimal     `json:"filledQuantity"`
	AveragePrice   decimal.NullDecimal `json:"averagePrice"`
	ReferencePrice decimal.NullDecimal `json:"referencePrice"`
	RejectReason   string              `json:"rejectReason,omitempty"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

// IsLimitLike reports whether the order carries its own limit price.
func (o *Order) IsLimitLike() bool {
	return o.Type.RequiresPrice() && o.Price.Valid
}

// FillReference returns the price a simulated execution is perturbed around:
// the order's own price for limit-like orders, the submission reference otherwise.
func (o *Order) FillReference() (decimal.Decimal, bool) {
	if o.IsLimitLike() {
		return o.Price.Decimal, true
	}
	if o.ReferencePrice.Valid {
		return o.ReferencePrice.Decimal, true
	}
	return decimal.Zero, false
}

// RemainingQuantity is the part of the order not yet executed.
func (o *Order) RemainingQuantity() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// OrderFilter selects active orders. Zero values match everything.
type OrderFilter struct {
	Symbol string
	Status OrderStatus
	UserID string
}

// Matches reports whether the order satisfies every set criterion.
func (f OrderFilter) Matches(o *Order) bool {
	if f.Symbol != "" && o.Symbol != f.Symbol {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.UserID != "" && o.UserID != f.UserID {
		return false
	}
	return true
}

// HistoryFilter selects archived orders. Limit <= 0 returns everything.
type HistoryFilter struct {
	Symbol string
	UserID string
	Limit  int
}

// Matches reports whether the archived order satisfies the symbol and user criteria.
func (f HistoryFilter) Matches(o *Order) bool {
	if f.Symbol != "" && o.Symbol != f.Symbol {
		return false
	}
	if f.UserID != "" && o.UserID != f.UserID {
		return false
	}
	return true
}
