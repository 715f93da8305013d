package ledger

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"execEngine/internal/domain"
	"execEngine/internal/ports"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, label string) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "%s: want %s, got %s", label, want, got)
}

func buy(symbol, qty, price string) domain.Fill {
	return domain.Fill{Symbol: symbol, Side: domain.Buy, Quantity: dec(qty), Price: dec(price)}
}

func sell(symbol, qty, price string) domain.Fill {
	return domain.Fill{Symbol: symbol, Side: domain.Sell, Quantity: dec(qty), Price: dec(price)}
}

func TestLedger_Apply(t *testing.T) {
	tests := []struct {
		name         string
		fills        []domain.Fill
		wantQty      string
		wantAvg      string
		wantRealized string
	}{
		{
			name:         "open long",
			fills:        []domain.Fill{buy("BTC", "1", "50000")},
			wantQty:      "1",
			wantAvg:      "50000",
			wantRealized: "0",
		},
		{
			name:         "blend long",
			fills:        []domain.Fill{buy("BTC", "2", "100"), buy("BTC", "2", "120")},
			wantQty:      "4",
			wantAvg:      "110",
			wantRealized: "0",
		},
		{
			name:         "blend short on magnitude",
			fills:        []domain.Fill{sell("BTC", "2", "100"), sell("BTC", "2", "110")},
			wantQty:      "-4",
			wantAvg:      "105",
			wantRealized: "0",
		},
		{
			name:         "partial close long keeps entry price",
			fills:        []domain.Fill{buy("BTC", "4", "100"), sell("BTC", "1", "90")},
			wantQty:      "3",
			wantAvg:      "100",
			wantRealized: "-10",
		},
		{
			name:         "partial close short realizes profit below entry",
			fills:        []domain.Fill{sell("BTC", "4", "105"), buy("BTC", "1", "95")},
			wantQty:      "-3",
			wantAvg:      "105",
			wantRealized: "10",
		},
		{
			name:         "flip long to short",
			fills:        []domain.Fill{buy("BTC", "5", "100"), sell("BTC", "8", "110")},
			wantQty:      "-3",
			wantAvg:      "110",
			wantRealized: "50",
		},
		{
			name:         "flip short to long",
			fills:        []domain.Fill{sell("BTC", "2", "200"), buy("BTC", "5", "150")},
			wantQty:      "3",
			wantAvg:      "150",
			wantRealized: "100",
		},
		{
			name:         "close exactly to flat resets average price",
			fills:        []domain.Fill{buy("BTC", "2", "100"), buy("BTC", "2", "120"), sell("BTC", "4", "130")},
			wantQty:      "0",
			wantAvg:      "0",
			wantRealized: "80",
		},
		{
			name: "reopen after flat keeps realized",
			fills: []domain.Fill{
				buy("BTC", "2", "100"), buy("BTC", "2", "120"), sell("BTC", "4", "130"), buy("BTC", "1", "50"),
			},
			wantQty:      "1",
			wantAvg:      "50",
			wantRealized: "80",
		},
		{
			name:         "fractional quantities",
			fills:        []domain.Fill{buy("ETH", "0.5", "3000"), buy("ETH", "0.25", "3300"), sell("ETH", "0.75", "3200")},
			wantQty:      "0",
			wantAvg:      "0",
			wantRealized: "75",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New()
			var pos domain.Position
			for _, f := range tt.fills {
				pos = l.Apply(f)
			}
			assertDecimal(t, tt.wantQty, pos.Quantity, "quantity")
			assertDecimal(t, tt.wantAvg, pos.AveragePrice, "average price")
			assertDecimal(t, tt.wantRealized, pos.RealizedPnL, "realized pnl")

			stored, ok := l.Get(pos.Symbol)
			require.True(t, ok)
			assert.True(t, stored.Quantity.Equal(pos.Quantity))
		})
	}
}

func TestLedger_FlipScenario(t *testing.T) {
	l := New()
	l.Apply(buy("XYZ", "5", "100"))
	pos := l.Apply(sell("XYZ", "8", "110"))

	assertDecimal(t, "50", pos.RealizedPnL, "realized pnl")
	assertDecimal(t, "-3", pos.Quantity, "quantity")
	assertDecimal(t, "110", pos.AveragePrice, "average price")
	assert.True(t, pos.IsShort())
}

func TestLedger_LastUpdatedUsesClock(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := New(WithClock(func() time.Time { return fixed }))

	pos := l.Apply(buy("BTC", "1", "100"))
	assert.Equal(t, fixed, pos.LastUpdated)
}

func TestLedger_GetAndList(t *testing.T) {
	l := New()
	_, ok := l.Get("BTC")
	assert.False(t, ok)
	assert.Empty(t, l.List(""))

	l.Apply(buy("ETH", "1", "3000"))
	l.Apply(buy("BTC", "1", "50000"))
	l.Apply(sell("ADA", "10", "0.5"))

	all := l.List("")
	require.Len(t, all, 3)
	assert.Equal(t, "ADA", all[0].Symbol)
	assert.Equal(t, "BTC", all[1].Symbol)
	assert.Equal(t, "ETH", all[2].Symbol)

	one := l.List("BTC")
	require.Len(t, one, 1)
	assert.Equal(t, "BTC", one[0].Symbol)

	assert.Empty(t, l.List("DOGE"))
}

// Realized P/L plus the open cost basis must always account for every unit of cash
// that moved, and equal it exactly whenever the position is flat.
func TestLedger_AccountingClosure(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	l := New()

	cash := decimal.Zero
	expectedQty := decimal.Zero
	flats := 0
	for i := 0; i < 500; i++ {
		side := domain.Buy
		if rng.Intn(2) == 0 {
			side = domain.Sell
		}
		f := domain.Fill{
			Symbol:   "BTC",
			Side:     side,
			Quantity: decimal.NewFromInt(int64(rng.Intn(9) + 1)),
			Price:    decimal.NewFromInt(int64(rng.Intn(41) + 80)),
		}
		notional := f.Quantity.Mul(f.Price)
		if side == domain.Buy {
			cash = cash.Sub(notional)
			expectedQty = expectedQty.Add(f.Quantity)
		} else {
			cash = cash.Add(notional)
			expectedQty = expectedQty.Sub(f.Quantity)
		}

		after := l.Apply(f)
		require.True(t, expectedQty.Equal(after.Quantity), "step %d", i)

		cost := l.books["BTC"].cost
		want := cash
		switch {
		case after.Quantity.IsPositive():
			want = cash.Add(cost)
		case after.Quantity.IsNegative():
			want = cash.Sub(cost)
		}
		require.True(t, want.Equal(after.RealizedPnL), "step %d: want %s got %s", i, want, after.RealizedPnL)
		if after.IsFlat() {
			flats++
			require.True(t, after.AveragePrice.IsZero(), "step %d: stale average price", i)
			require.True(t, cash.Equal(after.RealizedPnL), "step %d: flat position leaked P/L", i)
		}
	}
	assert.Positive(t, flats)
}

func TestLedger_CloseOfUnevenBlendRealizesExactly(t *testing.T) {
	tests := []struct {
		name  string
		fills []domain.Fill
	}{
		{
			name:  "single full close",
			fills: []domain.Fill{buy("BTC", "1", "100"), buy("BTC", "2", "101"), sell("BTC", "3", "101")},
		},
		{
			name: "partial closes",
			fills: []domain.Fill{
				buy("BTC", "1", "100"), buy("BTC", "2", "101"),
				sell("BTC", "1", "101"), sell("BTC", "1", "101"), sell("BTC", "1", "101"),
			},
		},
		{
			name:  "close through a flip",
			fills: []domain.Fill{buy("BTC", "1", "100"), buy("BTC", "2", "101"), sell("BTC", "5", "101"), buy("BTC", "2", "101")},
		},
		{
			name:  "short side",
			fills: []domain.Fill{sell("BTC", "1", "102"), sell("BTC", "2", "101"), buy("BTC", "3", "101")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New()
			var pos domain.Position
			for _, f := range tt.fills {
				pos = l.Apply(f)
			}
			assert.True(t, pos.IsFlat())
			assertDecimal(t, "1", pos.RealizedPnL, "realized")
			assertDecimal(t, "0", pos.AveragePrice, "average price")
		})
	}
}

func TestLedger_SymbolsAreIndependent(t *testing.T) {
	l := New()
	l.Apply(buy("BTC", "1", "100"))
	l.Apply(sell("ETH", "2", "10"))
	l.Apply(sell("BTC", "1", "150"))

	btc, _ := l.Get("BTC")
	eth, _ := l.Get("ETH")
	assertDecimal(t, "50", btc.RealizedPnL, "btc realized")
	assertDecimal(t, "0", eth.RealizedPnL, "eth realized")
	assertDecimal(t, "-2", eth.Quantity, "eth quantity")
}

func TestLedger_ConcurrentIncreasesAreOrderIndependent(t *testing.T) {
	const n = 200
	fills := make([]domain.Fill, n)
	for i := 0; i < n; i++ {
		fills[i] = domain.Fill{
			OrderID:  fmt.Sprintf("o-%d", i),
			Symbol:   "BTC",
			Side:     domain.Buy,
			Quantity: decimal.NewFromInt(int64(i%7 + 1)),
			Price:    decimal.NewFromInt(int64(100 + i%13)),
		}
	}

	sequential := New()
	for _, f := range fills {
		sequential.Apply(f)
	}
	want, _ := sequential.Get("BTC")

	for round := 0; round < 5; round++ {
		l := New()
		var wg sync.WaitGroup
		for _, f := range fills {
			wg.Add(1)
			go func(f domain.Fill) {
				defer wg.Done()
				l.Apply(f)
			}(f)
		}
		wg.Wait()

		got, ok := l.Get("BTC")
		require.True(t, ok)
		assert.True(t, want.Quantity.Equal(got.Quantity), "quantity %s vs %s", want.Quantity, got.Quantity)
		assert.True(t, want.AveragePrice.Equal(got.AveragePrice), "avg %s vs %s", want.AveragePrice, got.AveragePrice)
		assert.True(t, got.RealizedPnL.IsZero())
	}
}

func TestLedger_FixedOrderWithFlipsIsDeterministic(t *testing.T) {
	sequence := []domain.Fill{
		buy("BTC", "5", "100"),
		sell("BTC", "8", "110"),
		buy("BTC", "2", "105"),
		buy("BTC", "4", "90"),
	}

	run := func() domain.Position {
		l := New()
		var pos domain.Position
		for _, f := range sequence {
			pos = l.Apply(f)
		}
		return pos
	}

	first := run()
	assertDecimal(t, "3", first.Quantity, "quantity")
	assertDecimal(t, "90", first.AveragePrice, "average price")
	assertDecimal(t, "80", first.RealizedPnL, "realized pnl")

	second := run()
	assert.True(t, first.Quantity.Equal(second.Quantity))
	assert.True(t, first.AveragePrice.Equal(second.AveragePrice))
	assert.True(t, first.RealizedPnL.Equal(second.RealizedPnL))
}

func TestLedger_ConcurrentSymbolsInParallel(t *testing.T) {
	l := New()
	symbols := []string{"BTC", "ETH", "SOL", "ADA"}

	var wg sync.WaitGroup
	for _, sym := range symbols {
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(sym string) {
				defer wg.Done()
				l.Apply(buy(sym, "1", "10"))
			}(sym)
		}
	}
	wg.Wait()

	for _, sym := range symbols {
		pos, ok := l.Get(sym)
		require.True(t, ok)
		assertDecimal(t, "50", pos.Quantity, sym)
		assertDecimal(t, "10", pos.AveragePrice, sym)
	}
}

func TestLedger_MalformedFillPanics(t *testing.T) {
	tests := []struct {
		name string
		fill domain.Fill
	}{
		{name: "zero quantity", fill: buy("BTC", "0", "100")},
		{name: "negative price", fill: buy("BTC", "1", "-5")},
		{name: "missing symbol", fill: buy("", "1", "100")},
		{name: "unknown side", fill: domain.Fill{Symbol: "BTC", Side: "hold", Quantity: dec("1"), Price: dec("1")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New()
			err := recoverLedgerError(func() { l.Apply(tt.fill) })
			require.Error(t, err)
			assert.True(t, errors.Is(err, ports.ErrLedgerConsistency))
		})
	}
}

func TestLedger_RestoreSeedsPositions(t *testing.T) {
	l := New()
	l.Restore([]domain.Position{
		{Symbol: "BTC", Quantity: dec("5"), AveragePrice: dec("100"), RealizedPnL: dec("12")},
		{Symbol: "ETH", Quantity: dec("0"), AveragePrice: dec("999"), RealizedPnL: dec("-3")},
		{Symbol: ""},
	})

	assert.Len(t, l.List(""), 2)

	eth, ok := l.Get("ETH")
	require.True(t, ok)
	assertDecimal(t, "0", eth.AveragePrice, "flat restore clears average price")

	pos := l.Apply(sell("BTC", "8", "110"))
	assertDecimal(t, "62", pos.RealizedPnL, "realized pnl")
	assertDecimal(t, "-3", pos.Quantity, "quantity")
	assertDecimal(t, "110", pos.AveragePrice, "average price")
}

func recoverLedgerError(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			var lce *ports.LedgerConsistencyError
			if e, ok := r.(error); ok && errors.As(e, &lce) {
				err = lce
				return
			}
			err = fmt.Errorf("unexpected panic: %v", r)
		}
	}()
	fn()
	return nil
}
