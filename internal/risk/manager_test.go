package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"execEngine/internal/domain"
	"execEngine/internal/ports"

	"github.com/shopspring/decimal"
)

type stubPositions map[string]domain.Position

func (s stubPositions) Get(symbol string) (domain.Position, bool) {
	p, ok := s[symbol]
	return p, ok
}

func testOrder(side domain.OrderSide, qty, ref string) *domain.Order {
	return &domain.Order{
		ID:             "o-1",
		Symbol:         "BTCUSDT",
		Side:           side,
		Type:           domain.Market,
		Quantity:       decimal.RequireFromString(qty),
		Status:         domain.StatusPending,
		ReferencePrice: decimal.NewNullDecimal(decimal.RequireFromString(ref)),
		CreatedAt:      time.Now(),
	}
}

func TestRiskManager(t *testing.T) {
	// Create risk manager configuration
	config := RiskConfig{
		MaxOrderQuantity:    decimal.NewFromInt(2),
		MaxOrderNotional:    decimal.NewFromInt(120000),
		MaxPositionQuantity: decimal.NewFromInt(3),
	}
	positions := stubPositions{
		"BTCUSDT": {Symbol: "BTCUSDT", Quantity: decimal.NewFromInt(2), AveragePrice: decimal.NewFromInt(50000)},
	}

	manager := NewRiskManager(config, positions)
	ctx := context.Background()

	// Test valid order
	if err := manager.ValidateOrder(ctx, testOrder(domain.Buy, "1", "50000")); err != nil {
		t.Errorf("Expected no error for valid order, got %v", err)
	}

	// Test order quantity limit
	err := manager.ValidateOrder(ctx, testOrder(domain.Sell, "2.5", "100"))
	if !errors.Is(err, ports.ErrRiskLimitBreached) {
		t.Errorf("Expected quantity limit breach, got %v", err)
	}

	// Test notional limit
	err = manager.ValidateOrder(ctx, testOrder(domain.Sell, "2", "70000"))
	if !errors.Is(err, ports.ErrRiskLimitBreached) {
		t.Errorf("Expected notional limit breach, got %v", err)
	}

	// Test resulting position limit: 2 + 2 = 4 > 3
	err = manager.ValidateOrder(ctx, testOrder(domain.Buy, "2", "100"))
	if !errors.Is(err, ports.ErrRiskLimitBreached) {
		t.Errorf("Expected position limit breach, got %v", err)
	}

	// Selling through flat stays inside the limit: 2 - 2 = 0
	if err := manager.ValidateOrder(ctx, testOrder(domain.Sell, "2", "100")); err != nil {
		t.Errorf("Expected no error for reducing order, got %v", err)
	}

	stats := manager.GetStats()
	if stats.Checked != 5 {
		t.Errorf("Expected 5 checks, got %d", stats.Checked)
	}
	if stats.Rejected != 3 {
		t.Errorf("Expected 3 rejections, got %d", stats.Rejected)
	}
	if stats.LastRejectReason == "" || stats.LastRejectTime.IsZero() {
		t.Error("Expected last rejection to be recorded")
	}
}

func TestRiskManagerDisabledLimits(t *testing.T) {
	manager := NewRiskManager(RiskConfig{}, nil)
	if manager.config.Enabled() {
		t.Error("Expected zero config to disable every limit")
	}

	if err := manager.ValidateOrder(context.Background(), testOrder(domain.Buy, "1000000", "50000")); err != nil {
		t.Errorf("Expected no error with limits disabled, got %v", err)
	}
}

func TestRiskManagerShortPositionLimit(t *testing.T) {
	manager := NewRiskManager(RiskConfig{MaxPositionQuantity: decimal.NewFromInt(5)}, stubPositions{})

	// Opening a short from flat counts by magnitude
	err := manager.ValidateOrder(context.Background(), testOrder(domain.Sell, "6", "1"))
	if !errors.Is(err, ports.ErrRiskLimitBreached) {
		t.Errorf("Expected short position limit breach, got %v", err)
	}

	if err := manager.ValidateOrder(context.Background(), testOrder(domain.Sell, "5", "1")); err != nil {
		t.Errorf("Expected no error at the limit, got %v", err)
	}
}
