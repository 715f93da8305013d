// Package simulator executes pending orders asynchronously after a delay.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"execEngine/internal/domain"
	"execEngine/internal/ports"

	"github.com/shopspring/decimal"
)

const (
	// DefaultDelay is the time between submission and the simulated fill.
	DefaultDelay = 2 * time.Second
	// pricePlaces is the precision of simulated execution prices.
	pricePlaces = 8
)

// DefaultSlippage bounds the random perturbation around the reference price (±2%).
var DefaultSlippage = decimal.NewFromFloat(0.02)

var errNotPending = errors.New("order is no longer pending")

// Compile-time interface check.
var _ ports.FillScheduler = (*Simulator)(nil)

// Config holds the simulator settings. Zero values fall back to the defaults.
type Config struct {
	Delay time.Duration
	// Slippage defaults to DefaultSlippage when nil. Zero disables slippage.
	Slippage *decimal.Decimal
	// Rand returns a uniform value in [0, 1). Defaults to math/rand.
	Rand   func() float64
	Now    func() time.Time
	Logger ports.Logger
}

// Simulator runs one cancellable timer per pending order.
type Simulator struct {
	store    ports.OrderStore
	ledger   ports.PositionLedger
	listener ports.FillListener
	logger   ports.Logger

	delay    time.Duration
	slippage decimal.Decimal
	randFn   func() float64
	randMu   sync.Mutex
	now      func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
	wg     sync.WaitGroup
}

// New creates a simulator that fills orders held in store and applies them to ledger.
func New(cfg Config, store ports.OrderStore, ledger ports.PositionLedger) (*Simulator, error) {
	if store == nil || ledger == nil {
		return nil, fmt.Errorf("simulator requires an order store and a position ledger: %w", ports.ErrConfigurationError)
	}
	if cfg.Delay < 0 {
		return nil, fmt.Errorf("fill delay must not be negative: %w", ports.ErrConfigurationError)
	}
	slippage := DefaultSlippage
	if cfg.Slippage != nil {
		slippage = *cfg.Slippage
	}
	if slippage.IsNegative() || slippage.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("slippage must be in [0, 1): %w", ports.ErrConfigurationError)
	}

	s := &Simulator{
		store:    store,
		ledger:   ledger,
		logger:   cfg.Logger,
		delay:    cfg.Delay,
		slippage: slippage,
		randFn:   cfg.Rand,
		now:      cfg.Now,
		timers:   make(map[string]*time.Timer),
	}
	if s.logger == nil {
		s.logger = ports.NopLogger{}
	}
	if s.delay == 0 {
		s.delay = DefaultDelay
	}
	if s.randFn == nil {
		s.randFn = rand.Float64
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// SetListener registers the component notified after each fill.
func (s *Simulator) SetListener(l ports.FillListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

// Schedule arms the fill timer for a pending order.
func (s *Simulator) Schedule(order *domain.Order) error {
	ref, ok := order.FillReference()
	if !ok {
		return fmt.Errorf("schedule order %s: %w", order.ID, ports.ErrPriceUnavailable)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ports.ErrEngineClosed
	}
	if _, exists := s.timers[order.ID]; exists {
		return fmt.Errorf("schedule order %s: %w", order.ID, ports.ErrDuplicateOrder)
	}

	id := order.ID
	s.wg.Add(1)
	s.timers[id] = time.AfterFunc(s.delay, func() { s.fire(id, ref) })
	return nil
}

// Cancel stops the pending fill for an order. It reports whether a timer was stopped
// before it fired.
func (s *Simulator) Cancel(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[orderID]
	if !ok {
		return false
	}
	delete(s.timers, orderID)
	if t.Stop() {
		s.wg.Done()
		return true
	}
	return false
}

// Pending returns the number of armed timers.
func (s *Simulator) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close stops every armed timer and waits for fills already running.
func (s *Simulator) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	s.closed = true
	for id, t := range s.timers {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// ExecutionPrice perturbs ref by a uniform factor in [1-slippage, 1+slippage).
func (s *Simulator) ExecutionPrice(ref decimal.Decimal) decimal.Decimal {
	s.randMu.Lock()
	u := s.randFn()
	s.randMu.Unlock()

	one := decimal.NewFromInt(1)
	factor := one.Sub(s.slippage).Add(s.slippage.Mul(decimal.NewFromInt(2)).Mul(decimal.NewFromFloat(u)))
	return ref.Mul(factor).Round(pricePlaces)
}

func (s *Simulator) fire(id string, ref decimal.Decimal) {
	defer s.wg.Done()
	ctx := context.Background()

	s.mu.Lock()
	delete(s.timers, id)
	listener := s.listener
	s.mu.Unlock()

	price := s.ExecutionPrice(ref)
	now := s.now()

	// The status check and the transition happen under the store lock, so a cancel
	// that already won leaves nothing to do here.
	var qty decimal.Decimal
	filled, err := s.store.Update(id, func(o *domain.Order) error {
		if o.Status != domain.StatusPending {
			return errNotPending
		}
		qty = o.RemainingQuantity()
		o.FilledQuantity = o.FilledQuantity.Add(qty)
		o.AveragePrice = decimal.NewNullDecimal(price)
		o.Status = domain.StatusFilled
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		if errors.Is(err, errNotPending) || errors.Is(err, ports.ErrOrderNotFound) {
			s.logger.Debug(ctx, "Skipping fill for order that is no longer pending", map[string]interface{}{"orderId": id})
			return
		}
		s.logger.Error(ctx, err, "Failed to mark order filled", map[string]interface{}{"orderId": id})
		return
	}

	pos := s.ledger.Apply(domain.Fill{
		OrderID:    filled.ID,
		Symbol:     filled.Symbol,
		Side:       filled.Side,
		Quantity:   qty,
		Price:      price,
		ExecutedAt: now,
	})

	archived, err := s.store.Archive(id)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to archive filled order", map[string]interface{}{"orderId": id})
		archived = filled
	}

	s.logger.Info(ctx, "Order filled", map[string]interface{}{
		"orderId":  id,
		"symbol":   filled.Symbol,
		"side":     string(filled.Side),
		"quantity": qty.String(),
		"price":    price.String(),
	})

	if listener != nil {
		listener.OrderFilled(ctx, archived, pos)
	}
}
