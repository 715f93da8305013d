// Package ledger holds one position per symbol and is the only place positions change.
package ledger

import (
	"sort"
	"sync"
	"time"

	"execEngine/internal/domain"
	"execEngine/internal/ports"

	"github.com/shopspring/decimal"
)

// Compile-time interface check.
var _ ports.PositionLedger = (*Ledger)(nil)

// book is the mutable state for one symbol. Its mutex serializes Apply for that symbol.
type book struct {
	mu  sync.Mutex
	pos domain.Position
	// cost is the cost basis of the open quantity. Realized P/L is taken from it rather
	// than from AveragePrice, so closing a position realizes exactly what was paid.
	cost decimal.Decimal
}

// Ledger applies fills to per-symbol positions. Different symbols proceed in parallel.
type Ledger struct {
	mu    sync.RWMutex
	books map[string]*book
	now   func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used for LastUpdated.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		books: make(map[string]*book),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) book(symbol string) *book {
	l.mu.RLock()
	b, ok := l.books[symbol]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.books[symbol]; ok {
		return b
	}
	b = &book{pos: domain.Position{
		Symbol:       symbol,
		Quantity:     decimal.Zero,
		AveragePrice: decimal.Zero,
		RealizedPnL:  decimal.Zero,
	}}
	l.books[symbol] = b
	return b
}

// Apply folds one fill into the symbol's position as a single atomic step and returns
// the updated snapshot. It panics with *ports.LedgerConsistencyError if the fill is
// malformed or the resulting position breaks an invariant.
func (l *Ledger) Apply(fill domain.Fill) domain.Position {
	if fill.Symbol == "" || !fill.Quantity.IsPositive() || !fill.Price.IsPositive() ||
		(fill.Side != domain.Buy && fill.Side != domain.Sell) {
		panic(&ports.LedgerConsistencyError{Symbol: fill.Symbol, Reason: "malformed fill for order " + fill.OrderID})
	}

	b := l.book(fill.Symbol)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.apply(fill)
	b.pos.LastUpdated = l.now()
	b.check()
	return b.pos
}

func (b *book) apply(f domain.Fill) {
	signed := f.Quantity
	if f.Side == domain.Sell {
		signed = signed.Neg()
	}

	q := b.pos.Quantity
	if q.IsZero() || q.Sign() == signed.Sign() {
		// Flat or same side: blend the cost basis.
		b.cost = b.cost.Add(f.Quantity.Mul(f.Price))
		b.pos.Quantity = q.Add(signed)
		b.pos.AveragePrice = b.cost.Div(b.pos.Quantity.Abs())
		return
	}

	open := q.Abs()
	closeQty := decimal.Min(f.Quantity, open)
	// Share of the cost basis being closed; all of it when the position goes flat.
	closedCost := b.cost
	if closeQty.LessThan(open) {
		closedCost = b.cost.Mul(closeQty).Div(open)
	}
	proceeds := closeQty.Mul(f.Price)
	if q.IsPositive() {
		b.pos.RealizedPnL = b.pos.RealizedPnL.Add(proceeds.Sub(closedCost))
	} else {
		b.pos.RealizedPnL = b.pos.RealizedPnL.Add(closedCost.Sub(proceeds))
	}

	if remainder := f.Quantity.Sub(closeQty); remainder.IsPositive() {
		// Flip through flat: the remainder opens the other side at the fill price.
		if signed.IsNegative() {
			b.pos.Quantity = remainder.Neg()
		} else {
			b.pos.Quantity = remainder
		}
		b.pos.AveragePrice = f.Price
		b.cost = remainder.Mul(f.Price)
		return
	}

	left := open.Sub(closeQty)
	if left.IsZero() {
		b.pos.Quantity = decimal.Zero
		b.pos.AveragePrice = decimal.Zero
		b.cost = decimal.Zero
		return
	}
	if q.IsNegative() {
		b.pos.Quantity = left.Neg()
	} else {
		b.pos.Quantity = left
	}
	// A partial close keeps the entry price of what stays open.
	b.cost = b.cost.Sub(closedCost)
}

func (b *book) check() {
	p := b.pos
	switch {
	case p.Quantity.IsZero() && !p.AveragePrice.IsZero():
		panic(&ports.LedgerConsistencyError{Symbol: p.Symbol, Reason: "flat position carries an average price"})
	case !p.Quantity.IsZero() && !p.AveragePrice.IsPositive():
		panic(&ports.LedgerConsistencyError{Symbol: p.Symbol, Reason: "open position without a positive average price"})
	case b.cost.IsNegative():
		panic(&ports.LedgerConsistencyError{Symbol: p.Symbol, Reason: "negative cost basis"})
	}
}

// Get returns a snapshot of the symbol's position. Symbols never traded are absent.
func (l *Ledger) Get(symbol string) (domain.Position, bool) {
	l.mu.RLock()
	b, ok := l.books[symbol]
	l.mu.RUnlock()
	if !ok {
		return domain.Position{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pos, true
}

// List returns snapshots sorted by symbol, or only the given symbol when set.
func (l *Ledger) List(symbol string) []domain.Position {
	if symbol != "" {
		if p, ok := l.Get(symbol); ok {
			return []domain.Position{p}
		}
		return []domain.Position{}
	}

	l.mu.RLock()
	books := make([]*book, 0, len(l.books))
	for _, b := range l.books {
		books = append(books, b)
	}
	l.mu.RUnlock()

	positions := make([]domain.Position, 0, len(books))
	for _, b := range books {
		b.mu.Lock()
		positions = append(positions, b.pos)
		b.mu.Unlock()
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions
}

// Restore seeds the ledger from persisted snapshots, replacing any existing state for
// those symbols. It is meant to run before the first fill.
func (l *Ledger) Restore(positions []domain.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range positions {
		if p.Symbol == "" {
			continue
		}
		b := &book{pos: p}
		if p.Quantity.IsZero() {
			b.pos.AveragePrice = decimal.Zero
		}
		b.cost = b.pos.AveragePrice.Mul(p.Quantity.Abs())
		l.books[p.Symbol] = b
	}
}
