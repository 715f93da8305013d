package simulator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"execEngine/internal/domain"
	"execEngine/internal/ledger"
	"execEngine/internal/orderstore"
	"execEngine/internal/ports"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	mu     sync.Mutex
	orders []*domain.Order
	pos    []domain.Position
}

func (r *recordingListener) OrderFilled(ctx context.Context, order *domain.Order, pos domain.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, order)
	r.pos = append(r.pos, pos)
}

func (r *recordingListener) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

func slippageOf(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func fixedRand(u float64) func() float64 {
	return func() float64 { return u }
}

func setup(t *testing.T, cfg Config) (*Simulator, *orderstore.Store, *ledger.Ledger) {
	t.Helper()
	store := orderstore.New()
	l := ledger.New()
	sim, err := New(cfg, store, l)
	require.NoError(t, err)
	t.Cleanup(sim.Close)
	return sim, store, l
}

func marketOrder(id, symbol string, side domain.OrderSide, qty, ref string) *domain.Order {
	now := time.Now()
	return &domain.Order{
		ID:             id,
		UserID:         domain.DefaultUserID,
		Symbol:         symbol,
		Side:           side,
		Type:           domain.Market,
		Quantity:       decimal.RequireFromString(qty),
		TimeInForce:    domain.GTC,
		Status:         domain.StatusPending,
		ReferencePrice: decimal.NewNullDecimal(decimal.RequireFromString(ref)),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestNew_Validation(t *testing.T) {
	store := orderstore.New()
	l := ledger.New()

	tests := []struct {
		name   string
		cfg    Config
		store  ports.OrderStore
		ledger ports.PositionLedger
	}{
		{name: "missing store", cfg: Config{}, ledger: l},
		{name: "missing ledger", cfg: Config{}, store: store},
		{name: "negative delay", cfg: Config{Delay: -time.Second}, store: store, ledger: l},
		{name: "negative slippage", cfg: Config{Slippage: slippageOf("-0.1")}, store: store, ledger: l},
		{name: "slippage of one", cfg: Config{Slippage: slippageOf("1")}, store: store, ledger: l},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.store, tt.ledger)
			assert.True(t, errors.Is(err, ports.ErrConfigurationError))
		})
	}

	sim, err := New(Config{}, store, l)
	require.NoError(t, err)
	assert.Equal(t, DefaultDelay, sim.delay)
	assert.True(t, DefaultSlippage.Equal(sim.slippage))
}

func TestSimulator_ExecutionPriceBounds(t *testing.T) {
	ref := decimal.NewFromInt(50000)

	tests := []struct {
		name string
		u    float64
		want string
	}{
		{name: "lower bound", u: 0, want: "49000"},
		{name: "midpoint", u: 0.5, want: "50000"},
		{name: "quarter", u: 0.25, want: "49500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim, _, _ := setup(t, Config{Rand: fixedRand(tt.u)})
			got := sim.ExecutionPrice(ref)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}

	sim, _, _ := setup(t, Config{Rand: fixedRand(0.999999)})
	assert.True(t, sim.ExecutionPrice(ref).LessThan(decimal.NewFromInt(51000)))
}

func TestSimulator_ZeroSlippageFillsAtReference(t *testing.T) {
	sim, err := New(Config{Slippage: slippageOf("0"), Rand: fixedRand(0.9)}, orderstore.New(), ledger.New())
	require.NoError(t, err)
	t.Cleanup(sim.Close)

	assert.True(t, sim.slippage.IsZero())
	ref := decimal.RequireFromString("50000.12345678")
	assert.True(t, ref.Equal(sim.ExecutionPrice(ref)), "got %s", sim.ExecutionPrice(ref))
}

func TestSimulator_ExecutionPriceRoundsToEightPlaces(t *testing.T) {
	sim, _, _ := setup(t, Config{Rand: fixedRand(0.123456789123)})
	got := sim.ExecutionPrice(decimal.RequireFromString("0.00001234"))
	assert.LessOrEqual(t, -got.Exponent(), int32(8))
}

func TestSimulator_FillsMarketOrderEndToEnd(t *testing.T) {
	listener := &recordingListener{}
	sim, store, l := setup(t, Config{Delay: 20 * time.Millisecond})
	sim.SetListener(listener)

	order := marketOrder("btc-1", "BTC", domain.Buy, "1", "50000")
	require.NoError(t, store.Insert(order))
	require.NoError(t, sim.Schedule(order))

	require.Eventually(t, func() bool { return listener.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	_, active := store.Get("btc-1")
	assert.False(t, active, "filled order must leave the active store")

	filled, ok := store.Lookup("btc-1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusFilled, filled.Status)
	assert.True(t, filled.FilledQuantity.Equal(filled.Quantity))
	require.True(t, filled.AveragePrice.Valid)

	price := filled.AveragePrice.Decimal
	assert.True(t, price.GreaterThanOrEqual(decimal.NewFromInt(49000)), "price %s", price)
	assert.True(t, price.LessThanOrEqual(decimal.NewFromInt(51000)), "price %s", price)

	pos, ok := l.Get("BTC")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(1)))
	assert.True(t, pos.AveragePrice.Equal(price))
	assert.True(t, pos.RealizedPnL.IsZero())

	assert.Equal(t, 0, sim.Pending())
}

func TestSimulator_LimitOrderUsesOwnPrice(t *testing.T) {
	listener := &recordingListener{}
	sim, store, _ := setup(t, Config{Delay: 5 * time.Millisecond, Rand: fixedRand(0.5)})
	sim.SetListener(listener)

	order := marketOrder("lim-1", "ETH", domain.Sell, "2", "3000")
	order.Type = domain.Limit
	order.Price = decimal.NewNullDecimal(decimal.NewFromInt(3100))
	require.NoError(t, store.Insert(order))
	require.NoError(t, sim.Schedule(order))

	require.Eventually(t, func() bool { return listener.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	filled, _ := store.Lookup("lim-1")
	assert.True(t, filled.AveragePrice.Decimal.Equal(decimal.NewFromInt(3100)))
	assert.True(t, listener.pos[0].Quantity.Equal(decimal.NewFromInt(-2)))
}

func TestSimulator_CancelSuppressesFill(t *testing.T) {
	listener := &recordingListener{}
	sim, store, l := setup(t, Config{Delay: 50 * time.Millisecond})
	sim.SetListener(listener)

	order := marketOrder("c-1", "BTC", domain.Buy, "1", "50000")
	require.NoError(t, store.Insert(order))
	require.NoError(t, sim.Schedule(order))

	assert.True(t, sim.Cancel("c-1"))
	assert.False(t, sim.Cancel("c-1"), "second cancel finds no timer")

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 0, listener.count())
	_, ok := l.Get("BTC")
	assert.False(t, ok)

	still, ok := store.Get("c-1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusPending, still.Status)
}

func TestSimulator_FillOnCanceledOrderIsNoop(t *testing.T) {
	listener := &recordingListener{}
	sim, store, l := setup(t, Config{Delay: 10 * time.Millisecond})
	sim.SetListener(listener)

	order := marketOrder("c-2", "BTC", domain.Buy, "1", "50000")
	require.NoError(t, store.Insert(order))
	require.NoError(t, sim.Schedule(order))

	// Cancel wins the store transition but never stops the timer.
	_, err := store.Update("c-2", func(o *domain.Order) error {
		o.Status = domain.StatusCanceled
		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sim.Pending() == 0 }, time.Second, 5*time.Millisecond)
	sim.Close()

	assert.Equal(t, 0, listener.count())
	_, ok := l.Get("BTC")
	assert.False(t, ok)
	got, _ := store.Get("c-2")
	assert.Equal(t, domain.StatusCanceled, got.Status)
	assert.True(t, got.FilledQuantity.IsZero())
	assert.False(t, got.AveragePrice.Valid)
}

func TestSimulator_ScheduleErrors(t *testing.T) {
	sim, store, _ := setup(t, Config{Delay: time.Hour})

	noRef := marketOrder("n-1", "BTC", domain.Buy, "1", "1")
	noRef.ReferencePrice = decimal.NullDecimal{}
	err := sim.Schedule(noRef)
	assert.True(t, errors.Is(err, ports.ErrPriceUnavailable))

	order := marketOrder("d-1", "BTC", domain.Buy, "1", "100")
	require.NoError(t, store.Insert(order))
	require.NoError(t, sim.Schedule(order))
	assert.True(t, errors.Is(sim.Schedule(order), ports.ErrDuplicateOrder))
	assert.Equal(t, 1, sim.Pending())

	sim.Close()
	assert.Equal(t, 0, sim.Pending())
	assert.True(t, errors.Is(sim.Schedule(marketOrder("d-2", "BTC", domain.Buy, "1", "100")), ports.ErrEngineClosed))

	// Close is idempotent.
	sim.Close()
}

func TestSimulator_ManyOrdersAcrossSymbols(t *testing.T) {
	listener := &recordingListener{}
	sim, store, l := setup(t, Config{Delay: 5 * time.Millisecond, Rand: fixedRand(0.5)})
	sim.SetListener(listener)

	symbols := []string{"BTC", "ETH", "SOL"}
	const perSymbol = 20
	for _, sym := range symbols {
		for i := 0; i < perSymbol; i++ {
			o := marketOrder(sym+"-"+string(rune('a'+i)), sym, domain.Buy, "1", "100")
			require.NoError(t, store.Insert(o))
			require.NoError(t, sim.Schedule(o))
		}
	}

	require.Eventually(t, func() bool { return listener.count() == len(symbols)*perSymbol }, 3*time.Second, 10*time.Millisecond)
	for _, sym := range symbols {
		pos, ok := l.Get(sym)
		require.True(t, ok)
		assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(perSymbol)), "%s qty %s", sym, pos.Quantity)
		assert.True(t, pos.AveragePrice.Equal(decimal.NewFromInt(100)))
	}
	active, archived := store.Counts()
	assert.Equal(t, 0, active)
	assert.Equal(t, len(symbols)*perSymbol, archived)
}
