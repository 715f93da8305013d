package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"execEngine/internal/domain"
	"execEngine/internal/ports"

	"github.com/shopspring/decimal"
)

// RiskConfig holds the pre-trade limits. A zero value disables the limit.
type RiskConfig struct {
	MaxOrderQuantity    decimal.Decimal
	MaxOrderNotional    decimal.Decimal
	MaxPositionQuantity decimal.Decimal
}

// Enabled reports whether any limit is set.
func (c RiskConfig) Enabled() bool {
	return c.MaxOrderQuantity.IsPositive() || c.MaxOrderNotional.IsPositive() || c.MaxPositionQuantity.IsPositive()
}

// PositionReader is the read side of the position ledger.
type PositionReader interface {
	Get(symbol string) (domain.Position, bool)
}

// RiskManager checks orders against the configured limits before they are scheduled.
type RiskManager struct {
	config    RiskConfig
	positions PositionReader

	mu    sync.Mutex
	stats RiskStats
}

// RiskStats holds risk check counters.
type RiskStats struct {
	Checked          int64
	Rejected         int64
	LastRejectReason string
	LastRejectTime   time.Time
}

// Compile-time interface check.
var _ ports.OrderGuard = (*RiskManager)(nil)

// NewRiskManager creates a new risk manager instance. positions may be nil when no
// position limit is configured.
func NewRiskManager(config RiskConfig, positions PositionReader) *RiskManager {
	return &RiskManager{
		config:    config,
		positions: positions,
	}
}

// ValidateOrder checks a validated order against every enabled limit.
func (r *RiskManager) ValidateOrder(ctx context.Context, order *domain.Order) error {
	err := r.check(order)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Checked++
	if err != nil {
		r.stats.Rejected++
		r.stats.LastRejectReason = err.Error()
		r.stats.LastRejectTime = time.Now()
	}
	return err
}

func (r *RiskManager) check(order *domain.Order) error {
	// Check order size
	if max := r.config.MaxOrderQuantity; max.IsPositive() && order.Quantity.GreaterThan(max) {
		return fmt.Errorf("order quantity %s exceeds maximum allowed %s: %w", order.Quantity, max, ports.ErrRiskLimitBreached)
	}

	// Check notional value against the price the order would fill around
	if max := r.config.MaxOrderNotional; max.IsPositive() {
		if ref, ok := order.FillReference(); ok {
			notional := order.Quantity.Mul(ref)
			if notional.GreaterThan(max) {
				return fmt.Errorf("order notional %s exceeds maximum allowed %s: %w", notional, max, ports.ErrRiskLimitBreached)
			}
		}
	}

	// Check the position the order would leave behind
	if max := r.config.MaxPositionQuantity; max.IsPositive() && r.positions != nil {
		current := decimal.Zero
		if pos, ok := r.positions.Get(order.Symbol); ok {
			current = pos.Quantity
		}
		projected := current.Add(order.Quantity)
		if order.Side == domain.Sell {
			projected = current.Sub(order.Quantity)
		}
		if projected.Abs().GreaterThan(max) {
			return fmt.Errorf("resulting position %s on %s exceeds maximum allowed %s: %w",
				projected, order.Symbol, max, ports.ErrRiskLimitBreached)
		}
	}

	return nil
}

// GetStats returns a copy of the current risk statistics
func (r *RiskManager) GetStats() RiskStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
