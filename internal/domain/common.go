package domain

import (
	"fmt"
	"strings"
)

// OrderSide represents the side of an order (buy or sell).
type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// ParseOrderSide converts a user supplied side (any case) to an OrderSide.
func ParseOrderSide(s string) (OrderSide, error) {
	switch OrderSide(strings.ToLower(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	default:
		return "", fmt.Errorf("unknown order side %q", s)
	}
}

// OrderType represents how an order is priced.
type OrderType string

const (
	Market    OrderType = "market"
	Limit     OrderType = "limit"
	Stop      OrderType = "stop"
	StopLimit OrderType = "stop_limit"
)

// ParseOrderType converts a user supplied order type (any case) to an OrderType.
func ParseOrderType(s string) (OrderType, error) {
	switch OrderType(strings.ToLower(strings.TrimSpace(s))) {
	case Market:
		return Market, nil
	case Limit:
		return Limit, nil
	case Stop:
		return Stop, nil
	case StopLimit:
		return StopLimit, nil
	default:
		return "", fmt.Errorf("unknown order type %q", s)
	}
}

// RequiresPrice reports whether orders of this type must carry a limit price.
func (t OrderType) RequiresPrice() bool {
	return t == Limit || t == StopLimit
}

// RequiresStopPrice reports whether orders of this type must carry a stop price.
func (t OrderType) RequiresStopPrice() bool {
	return t == Stop || t == StopLimit
}

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending  OrderStatus = "pending"
	StatusFilled   OrderStatus = "filled"
	StatusPartial  OrderStatus = "partially_filled"
	StatusCanceled OrderStatus = "canceled"
	StatusRejected OrderStatus = "rejected"
)

// ParseOrderStatus converts a wire status to an OrderStatus.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch OrderStatus(strings.ToLower(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending, nil
	case StatusFilled:
		return StatusFilled, nil
	case StatusPartial, "partial":
		return StatusPartial, nil
	case StatusCanceled, "cancelled":
		return StatusCanceled, nil
	case StatusRejected:
		return StatusRejected, nil
	default:
		return "", fmt.Errorf("unknown order status %q", s)
	}
}

// IsTerminal reports whether no further transitions are allowed from this status.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusFilled || s == StatusCanceled || s == StatusRejected
}

// CanTransitionTo reports whether moving from s to next keeps the lifecycle monotonic.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusFilled || next == StatusPartial || next == StatusCanceled || next == StatusRejected
	case StatusPartial:
		return next == StatusFilled || next == StatusPartial || next == StatusCanceled
	default:
		return false
	}
}

// TimeInForce is the lifetime policy tag of an order. It is stored, not enforced.
type TimeInForce string

const (
	GTC TimeInForce = "GTC"
	IOC TimeInForce = "IOC"
	FOK TimeInForce = "FOK"
	DAY TimeInForce = "DAY"
)

// ParseTimeInForce converts a user supplied policy to a TimeInForce. Empty means GTC.
func ParseTimeInForce(s string) (TimeInForce, error) {
	switch TimeInForce(strings.ToUpper(strings.TrimSpace(s))) {
	case "", GTC:
		return GTC, nil
	case IOC:
		return IOC, nil
	case FOK:
		return FOK, nil
	case DAY:
		return DAY, nil
	default:
		return "", fmt.Errorf("unknown time in force %q", s)
	}
}
