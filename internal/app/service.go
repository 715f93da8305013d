package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"execEngine/internal/domain"
	"execEngine/internal/ports"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// positionRestorer is implemented by ledgers that can be seeded from snapshots.
type positionRestorer interface {
	Restore(positions []domain.Position)
}

// ExecutionService is the facade over the order store, the position ledger and the
// fill scheduler. It validates requests, enforces the order state machine and fans
// terminal transitions out to persistence, events and metrics.
type ExecutionService struct {
	logger    ports.Logger
	store     ports.OrderStore
	ledger    ports.PositionLedger
	scheduler ports.FillScheduler

	// Optional collaborators
	prices    ports.PriceProvider
	guard     ports.OrderGuard
	journal   ports.OrderJournal
	posRepo   ports.PositionRepository
	publisher ports.EventPublisher
	metrics   ports.ExecutionMetrics

	now   func() time.Time
	newID func() string

	mu     sync.RWMutex
	closed bool
}

// Option configures optional collaborators of the ExecutionService.
type Option func(*ExecutionService)

// WithPriceProvider resolves reference prices for market and stop orders submitted without one.
func WithPriceProvider(p ports.PriceProvider) Option {
	return func(s *ExecutionService) { s.prices = p }
}

// WithOrderGuard enables pre-trade limit checks.
func WithOrderGuard(g ports.OrderGuard) Option {
	return func(s *ExecutionService) { s.guard = g }
}

// WithOrderJournal persists every order that reaches a terminal status.
func WithOrderJournal(j ports.OrderJournal) Option {
	return func(s *ExecutionService) { s.journal = j }
}

// WithPositionRepository persists position snapshots after each fill.
func WithPositionRepository(r ports.PositionRepository) Option {
	return func(s *ExecutionService) { s.posRepo = r }
}

// WithEventPublisher publishes order and position changes.
func WithEventPublisher(p ports.EventPublisher) Option {
	return func(s *ExecutionService) { s.publisher = p }
}

// WithMetrics records engine activity.
func WithMetrics(m ports.ExecutionMetrics) Option {
	return func(s *ExecutionService) { s.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *ExecutionService) { s.now = now }
}

// WithIDGenerator overrides order ID generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *ExecutionService) { s.newID = gen }
}

// NewExecutionService creates a new application service instance.
func NewExecutionService(
	logger ports.Logger,
	store ports.OrderStore,
	ledger ports.PositionLedger,
	scheduler ports.FillScheduler,
	opts ...Option,
) (*ExecutionService, error) {

	// Validate dependencies
	if logger == nil || store == nil || ledger == nil || scheduler == nil {
		return nil, fmt.Errorf("missing required dependencies for ExecutionService")
	}

	s := &ExecutionService{
		logger:    logger,
		store:     store,
		ledger:    ledger,
		scheduler: scheduler,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Restore reloads persisted positions into the ledger and the order journal into history.
func (s *ExecutionService) Restore(ctx context.Context) error {
	if s.posRepo != nil {
		restorer, ok := s.ledger.(positionRestorer)
		if !ok {
			return fmt.Errorf("position ledger cannot be restored: %w", ports.ErrConfigurationError)
		}
		positions, err := s.posRepo.FindAllPositions(ctx)
		if err != nil {
			return fmt.Errorf("failed to load position snapshots: %w", err)
		}
		snapshot := make([]domain.Position, 0, len(positions))
		for _, p := range positions {
			snapshot = append(snapshot, *p)
		}
		restorer.Restore(snapshot)
		s.logger.Info(ctx, "Restored positions", map[string]interface{}{"count": len(snapshot)})
	}

	if s.journal != nil {
		orders, err := s.journal.FindHistory(ctx, domain.HistoryFilter{})
		if err != nil {
			return fmt.Errorf("failed to load order history: %w", err)
		}
		// Journal returns newest first; append oldest first.
		for i := len(orders) - 1; i >= 0; i-- {
			s.store.AppendHistory(orders[i])
		}
		s.logger.Info(ctx, "Restored order history", map[string]interface{}{"count": len(orders)})
	}
	return nil
}

// Submit validates the request and creates a PENDING order whose fill is scheduled
// asynchronously. It returns without waiting for the fill.
func (s *ExecutionService) Submit(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	if s.isClosed() {
		return nil, ports.ErrEngineClosed
	}

	order, err := validateRequest(req)
	if err != nil {
		s.logger.Debug(ctx, "Rejected invalid order request", map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	if !order.IsLimitLike() && !order.ReferencePrice.Valid {
		ref, err := s.resolveReference(ctx, order.Symbol)
		if err != nil {
			verr := &ports.ValidationError{}
			verr.Add("referencePrice", err.Error())
			return nil, verr
		}
		order.ReferencePrice.Decimal = ref
		order.ReferencePrice.Valid = true
	}

	now := s.now()
	order.ID = s.newID()
	order.CreatedAt = now
	order.UpdatedAt = now

	if s.guard != nil {
		if err := s.guard.ValidateOrder(ctx, order); err != nil {
			if !errors.Is(err, ports.ErrRiskLimitBreached) {
				return nil, fmt.Errorf("pre-trade check failed: %w", err)
			}
			return s.reject(ctx, order, err), nil
		}
	}

	if err := s.store.Insert(order); err != nil {
		return nil, fmt.Errorf("failed to store order: %w", err)
	}
	// Copy before scheduling; the fill may update the stored order at any point after.
	created := *order
	if err := s.scheduler.Schedule(order); err != nil {
		s.store.Remove(order.ID)
		return nil, fmt.Errorf("failed to schedule fill for order %s: %w", order.ID, err)
	}

	s.logger.Info(ctx, "Order submitted", map[string]interface{}{
		"orderId":  created.ID,
		"symbol":   created.Symbol,
		"side":     string(created.Side),
		"type":     string(created.Type),
		"quantity": created.Quantity.String(),
	})
	if s.metrics != nil {
		s.metrics.OrderSubmitted(&created)
	}
	s.publishOrder(ctx, &created)
	return &created, nil
}

func (s *ExecutionService) resolveReference(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if s.prices == nil {
		return decimal.Zero, fmt.Errorf("is required for market and stop orders")
	}
	ref, err := s.prices.ReferencePrice(ctx, symbol)
	if err != nil {
		s.logger.Warn(ctx, "Reference price lookup failed", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		return decimal.Zero, fmt.Errorf("could not be resolved for %s", symbol)
	}
	if !ref.IsPositive() {
		return decimal.Zero, fmt.Errorf("resolved to non-positive value %s", ref)
	}
	return ref, nil
}

func (s *ExecutionService) reject(ctx context.Context, order *domain.Order, reason error) *domain.Order {
	order.Status = domain.StatusRejected
	order.RejectReason = reason.Error()
	s.store.AppendHistory(order)

	s.logger.Warn(ctx, "Order rejected by risk limits", map[string]interface{}{
		"orderId": order.ID,
		"symbol":  order.Symbol,
		"reason":  order.RejectReason,
	})
	if s.metrics != nil {
		s.metrics.OrderRejected(order)
	}
	s.recordTerminal(ctx, order)

	rejected := *order
	return &rejected
}

// Cancel moves a PENDING or PARTIAL order to CANCELED and suppresses its pending fill.
// Orders already filled, canceled or rejected fail with ErrIllegalCancel.
func (s *ExecutionService) Cancel(ctx context.Context, orderID string) (*domain.Order, error) {
	now := s.now()
	_, err := s.store.Update(orderID, func(o *domain.Order) error {
		if o.Status == domain.StatusFilled || o.Status.IsTerminal() {
			return fmt.Errorf("order %s is %s: %w", orderID, o.Status, ports.ErrIllegalCancel)
		}
		o.Status = domain.StatusCanceled
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		if errors.Is(err, ports.ErrOrderNotFound) {
			// Already archived means it reached a terminal status first.
			if archived, ok := s.store.Lookup(orderID); ok {
				return nil, fmt.Errorf("order %s is %s: %w", orderID, archived.Status, ports.ErrIllegalCancel)
			}
			return nil, fmt.Errorf("cancel order %s: %w", orderID, ports.ErrOrderNotFound)
		}
		return nil, err
	}

	s.scheduler.Cancel(orderID)
	canceled, err := s.store.Archive(orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to archive canceled order %s: %w", orderID, err)
	}

	s.logger.Info(ctx, "Order canceled", map[string]interface{}{"orderId": orderID, "symbol": canceled.Symbol})
	if s.metrics != nil {
		s.metrics.OrderCanceled(canceled)
	}
	s.recordTerminal(ctx, canceled)
	return canceled, nil
}

// Get searches active orders, then history, then the order journal.
func (s *ExecutionService) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	if order, ok := s.store.Lookup(orderID); ok {
		return order, nil
	}
	if s.journal != nil {
		order, err := s.journal.FindOrder(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up order %s: %w", orderID, err)
		}
		if order != nil {
			return order, nil
		}
	}
	return nil, fmt.Errorf("order %s: %w", orderID, ports.ErrOrderNotFound)
}

// List returns active orders matching the filter in insertion order.
func (s *ExecutionService) List(ctx context.Context, filter domain.OrderFilter) []*domain.Order {
	return s.store.List(filter)
}

// History returns archived orders, newest created first.
func (s *ExecutionService) History(ctx context.Context, filter domain.HistoryFilter) []*domain.Order {
	return s.store.History(filter)
}

// Positions returns position snapshots, optionally for one symbol.
func (s *ExecutionService) Positions(ctx context.Context, symbol string) []domain.Position {
	return s.ledger.List(symbol)
}

// Position returns the snapshot for one symbol.
func (s *ExecutionService) Position(ctx context.Context, symbol string) (domain.Position, error) {
	pos, ok := s.ledger.Get(symbol)
	if !ok {
		return domain.Position{}, fmt.Errorf("position %s: %w", symbol, ports.ErrPositionNotFound)
	}
	return pos, nil
}

// ReferencePrice exposes the configured price provider to read surfaces that value
// open positions.
func (s *ExecutionService) ReferencePrice(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	if s.prices == nil {
		return decimal.Zero, false
	}
	ref, err := s.prices.ReferencePrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, false
	}
	return ref, true
}

// OrderFilled implements ports.FillListener.
func (s *ExecutionService) OrderFilled(ctx context.Context, order *domain.Order, pos domain.Position) {
	if s.metrics != nil {
		s.metrics.OrderFilled(order, order.UpdatedAt.Sub(order.CreatedAt))
	}
	s.recordTerminal(ctx, order)

	// The ledger may have moved on since this fill; persist the latest view.
	if latest, ok := s.ledger.Get(pos.Symbol); ok {
		pos = latest
	}
	if s.metrics != nil {
		s.metrics.PositionUpdated(&pos)
	}
	if s.posRepo != nil {
		if err := s.posRepo.SavePosition(ctx, &pos); err != nil {
			s.logger.Error(ctx, err, "Failed to save position snapshot", map[string]interface{}{"symbol": pos.Symbol})
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishPosition(ctx, &pos); err != nil {
			s.logger.Warn(ctx, "Failed to publish position update", map[string]interface{}{"symbol": pos.Symbol, "error": err.Error()})
		}
	}
}

// SnapshotPositions persists every position held by the ledger.
func (s *ExecutionService) SnapshotPositions(ctx context.Context) (int, error) {
	if s.posRepo == nil {
		return 0, nil
	}
	positions := s.ledger.List("")
	for i := range positions {
		if err := s.posRepo.SavePosition(ctx, &positions[i]); err != nil {
			return i, fmt.Errorf("failed to snapshot position %s: %w", positions[i].Symbol, err)
		}
	}
	return len(positions), nil
}

// recordTerminal journals and publishes an order that reached a terminal status.
// Failures are logged and never reach the accounting path.
func (s *ExecutionService) recordTerminal(ctx context.Context, order *domain.Order) {
	if s.journal != nil {
		if err := s.journal.RecordOrder(ctx, order); err != nil {
			s.logger.Error(ctx, err, "Failed to journal order", map[string]interface{}{"orderId": order.ID, "status": string(order.Status)})
		}
	}
	s.publishOrder(ctx, order)
}

func (s *ExecutionService) publishOrder(ctx context.Context, order *domain.Order) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishOrder(ctx, order); err != nil {
		s.logger.Warn(ctx, "Failed to publish order update", map[string]interface{}{"orderId": order.ID, "error": err.Error()})
	}
}

func (s *ExecutionService) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close refuses new submissions, stops pending fills and waits for running ones.
// Orders still open afterwards can never fill, so they are canceled and journaled.
func (s *ExecutionService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.scheduler.Close()

	ctx := context.Background()
	canceled := s.cancelOpenOrders(ctx)
	s.logger.Info(ctx, "Execution service stopped", map[string]interface{}{"canceledOrders": canceled})
}

func (s *ExecutionService) cancelOpenOrders(ctx context.Context) int {
	n := 0
	for _, open := range s.store.List(domain.OrderFilter{}) {
		now := s.now()
		_, err := s.store.Update(open.ID, func(o *domain.Order) error {
			if o.Status == domain.StatusFilled || o.Status.IsTerminal() {
				return ports.ErrIllegalCancel
			}
			o.Status = domain.StatusCanceled
			o.UpdatedAt = now
			return nil
		})
		if err != nil {
			// Lost a race with a client cancel.
			continue
		}
		order, err := s.store.Archive(open.ID)
		if err != nil {
			s.logger.Error(ctx, err, "Failed to archive order canceled at shutdown", map[string]interface{}{"orderId": open.ID})
			continue
		}
		s.logger.Info(ctx, "Order canceled at shutdown", map[string]interface{}{"orderId": order.ID, "symbol": order.Symbol})
		if s.metrics != nil {
			s.metrics.OrderCanceled(order)
		}
		s.recordTerminal(ctx, order)
		n++
	}
	return n
}
