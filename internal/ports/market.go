package ports

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceProvider supplies the current market reference price for a symbol.
// The engine consults it only when a market-style order arrives without one.
type PriceProvider interface {
	ReferencePrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}
