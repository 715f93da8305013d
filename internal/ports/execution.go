package ports

import (
	"context"
	"time"

	"execEngine/internal/domain"
)

// OrderStore holds active orders and the append-only history log.
// Every method returns copies; callers never share the stored records.
type OrderStore interface {
	// Insert adds a new active order. Fails with ErrDuplicateOrder if the ID is taken.
	Insert(order *domain.Order) error
	// Get looks up an active order.
	Get(id string) (*domain.Order, bool)
	// Lookup searches the active orders first and then the history.
	Lookup(id string) (*domain.Order, bool)
	// Remove deletes an active order without archiving it.
	Remove(id string) (*domain.Order, bool)
	// AppendHistory appends an order to the history log.
	AppendHistory(order *domain.Order)
	// Update runs fn against the active order under the store lock. This is the
	// single test-and-set path for status transitions: if fn returns an error
	// the order is left untouched.
	Update(id string, fn func(o *domain.Order) error) (*domain.Order, error)
	// Archive atomically moves an active order into the history log.
	Archive(id string) (*domain.Order, error)
	// List returns active orders matching the filter in insertion order.
	List(filter domain.OrderFilter) []*domain.Order
	// History returns archived orders, newest created first.
	History(filter domain.HistoryFilter) []*domain.Order
}

// PositionLedger is the single mutation point for positions.
type PositionLedger interface {
	// Apply folds a fill into the symbol's position atomically and returns the result.
	Apply(fill domain.Fill) domain.Position
	// Get returns a snapshot of the symbol's position.
	Get(symbol string) (domain.Position, bool)
	// List returns snapshots of all positions, or only the given symbol when set.
	List(symbol string) []domain.Position
}

// FillScheduler executes pending orders asynchronously.
type FillScheduler interface {
	// Schedule arms the fill task for a pending order.
	Schedule(order *domain.Order) error
	// Cancel suppresses a pending fill task. Reports whether a task was stopped.
	Cancel(orderID string) bool
	// Close stops all pending tasks and waits for running ones.
	Close()
}

// OrderGuard runs pre-trade checks on a validated order. A breach returns an error
// wrapping ErrRiskLimitBreached and the order is rejected.
type OrderGuard interface {
	ValidateOrder(ctx context.Context, order *domain.Order) error
}

// FillListener is notified after an order has been filled and archived.
type FillListener interface {
	OrderFilled(ctx context.Context, order *domain.Order, pos domain.Position)
}

// EventPublisher pushes order and position changes to display surfaces.
type EventPublisher interface {
	PublishOrder(ctx context.Context, order *domain.Order) error
	PublishPosition(ctx context.Context, pos *domain.Position) error
}

// ExecutionMetrics records engine activity.
type ExecutionMetrics interface {
	OrderSubmitted(order *domain.Order)
	OrderFilled(order *domain.Order, sinceSubmit time.Duration)
	OrderCanceled(order *domain.Order)
	OrderRejected(order *domain.Order)
	PositionUpdated(pos *domain.Position)
}
