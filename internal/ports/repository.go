package ports

import (
	"context"

	"execEngine/internal/domain"
)

// OrderJournal persists orders that reached a terminal state.
type OrderJournal interface {
	// RecordOrder saves the final state of an archived order.
	// Recording the same order ID twice replaces the earlier row.
	RecordOrder(ctx context.Context, order *domain.Order) error
	// FindHistory retrieves archived orders, newest created first.
	FindHistory(ctx context.Context, filter domain.HistoryFilter) ([]*domain.Order, error)
	// FindOrder retrieves one journaled order.
	// Returns nil, nil if the order was never journaled.
	FindOrder(ctx context.Context, id string) (*domain.Order, error)
}

// PositionRepository persists position snapshots so the ledger survives restarts.
type PositionRepository interface {
	// SavePosition upserts the snapshot for the position's symbol.
	SavePosition(ctx context.Context, pos *domain.Position) error
	// FindPosition retrieves the snapshot for a symbol.
	// Returns nil, nil if no snapshot exists.
	FindPosition(ctx context.Context, symbol string) (*domain.Position, error)
	// FindAllPositions retrieves every stored snapshot ordered by symbol.
	FindAllPositions(ctx context.Context) ([]*domain.Position, error)
}
