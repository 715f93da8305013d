package pricing

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"execEngine/internal/ports"

	"github.com/shopspring/decimal"
)

var (
	fallbackBTC   = decimal.NewFromInt(50000)
	fallbackOther = decimal.NewFromInt(3000)
)

var _ ports.PriceProvider = (*StaticProvider)(nil)

// StaticProvider serves reference prices from a fixed table. Symbols missing from the
// table fall back to 50000 when they contain BTC and 3000 otherwise.
type StaticProvider struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStaticProvider creates a provider with the given overrides. Keys are matched
// case-insensitively.
func NewStaticProvider(overrides map[string]decimal.Decimal) *StaticProvider {
	p := &StaticProvider{prices: make(map[string]decimal.Decimal, len(overrides))}
	for sym, price := range overrides {
		p.prices[normalize(sym)] = price
	}
	return p
}

// ReferencePrice returns the table price for a symbol or the fallback.
func (p *StaticProvider) ReferencePrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	sym := normalize(symbol)
	if sym == "" {
		return decimal.Zero, fmt.Errorf("empty symbol: %w", ports.ErrPriceUnavailable)
	}
	p.mu.RLock()
	price, ok := p.prices[sym]
	p.mu.RUnlock()
	if ok {
		return price, nil
	}
	if strings.Contains(sym, "BTC") {
		return fallbackBTC, nil
	}
	return fallbackOther, nil
}

// Set overrides the price for one symbol.
func (p *StaticProvider) Set(symbol string, price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("price for %s must be positive: %w", symbol, ports.ErrInvalidRequest)
	}
	p.mu.Lock()
	p.prices[normalize(symbol)] = price
	p.mu.Unlock()
	return nil
}

// ParseStaticPrices parses "SYM=PRICE,SYM=PRICE" into an override table.
func ParseStaticPrices(raw string) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal)
	if strings.TrimSpace(raw) == "" {
		return prices, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		sym, val, ok := strings.Cut(pair, "=")
		sym = normalize(sym)
		if !ok || sym == "" {
			return nil, fmt.Errorf("invalid price entry %q, expected SYMBOL=PRICE", pair)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(val))
		if err != nil {
			return nil, fmt.Errorf("invalid price for %s: %w", sym, err)
		}
		if !price.IsPositive() {
			return nil, fmt.Errorf("price for %s must be positive", sym)
		}
		prices[sym] = price
	}
	return prices, nil
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
