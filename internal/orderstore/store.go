// Package orderstore keeps active orders and the append-only order history in memory.
package orderstore

import (
	"fmt"
	"sort"
	"sync"

	"execEngine/internal/domain"
	"execEngine/internal/ports"
)

// Compile-time interface check.
var _ ports.OrderStore = (*Store)(nil)

type activeEntry struct {
	order *domain.Order
	seq   uint64
}

type historyEntry struct {
	order *domain.Order
	seq   uint64
}

// Store is guarded by one coarse lock. The lock doubles as the per-order lock for
// status transitions, so a fill and a cancel on the same order are serialized.
type Store struct {
	mu         sync.RWMutex
	active     map[string]activeEntry
	history    []historyEntry
	historyIdx map[string]int
	seq        uint64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		active:     make(map[string]activeEntry),
		historyIdx: make(map[string]int),
	}
}

func clone(o *domain.Order) *domain.Order {
	c := *o
	return &c
}

// Insert adds a new active order.
func (s *Store) Insert(order *domain.Order) error {
	if order == nil || order.ID == "" {
		return fmt.Errorf("insert order: %w", ports.ErrInvalidRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[order.ID]; ok {
		return fmt.Errorf("insert order %s: %w", order.ID, ports.ErrDuplicateOrder)
	}
	if _, ok := s.historyIdx[order.ID]; ok {
		return fmt.Errorf("insert order %s: %w", order.ID, ports.ErrDuplicateOrder)
	}
	s.seq++
	s.active[order.ID] = activeEntry{order: clone(order), seq: s.seq}
	return nil
}

// Get looks up an active order.
func (s *Store) Get(id string) (*domain.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.active[id]
	if !ok {
		return nil, false
	}
	return clone(e.order), true
}

// Lookup searches active orders, then history.
func (s *Store) Lookup(id string) (*domain.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.active[id]; ok {
		return clone(e.order), true
	}
	if i, ok := s.historyIdx[id]; ok {
		return clone(s.history[i].order), true
	}
	return nil, false
}

// Remove deletes an active order without archiving it.
func (s *Store) Remove(id string) (*domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.active[id]
	if !ok {
		return nil, false
	}
	delete(s.active, id)
	return clone(e.order), true
}

// AppendHistory appends an order to the history log. Entries are immutable once appended;
// appending an ID that is already archived is ignored.
func (s *Store) AppendHistory(order *domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendHistoryLocked(clone(order))
}

func (s *Store) appendHistoryLocked(order *domain.Order) {
	if _, ok := s.historyIdx[order.ID]; ok {
		return
	}
	s.seq++
	s.historyIdx[order.ID] = len(s.history)
	s.history = append(s.history, historyEntry{order: order, seq: s.seq})
}

// Update applies fn to a working copy of the active order and commits it only when fn
// succeeds and the result keeps the order invariants.
func (s *Store) Update(id string, fn func(o *domain.Order) error) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.active[id]
	if !ok {
		return nil, fmt.Errorf("update order %s: %w", id, ports.ErrOrderNotFound)
	}
	working := clone(e.order)
	if err := fn(working); err != nil {
		return clone(e.order), err
	}
	if err := checkTransition(e.order, working); err != nil {
		return clone(e.order), err
	}
	e.order = working
	s.active[id] = e
	return clone(working), nil
}

func checkTransition(before, after *domain.Order) error {
	if after.ID != before.ID || !after.Quantity.Equal(before.Quantity) {
		return fmt.Errorf("order %s: identity fields are immutable: %w", before.ID, ports.ErrIllegalTransition)
	}
	if after.Status != before.Status && !before.Status.CanTransitionTo(after.Status) {
		return fmt.Errorf("order %s: %s -> %s: %w", before.ID, before.Status, after.Status, ports.ErrIllegalTransition)
	}
	if after.FilledQuantity.GreaterThan(after.Quantity) {
		return fmt.Errorf("order %s: filled %s exceeds quantity %s: %w",
			before.ID, after.FilledQuantity, after.Quantity, ports.ErrIllegalTransition)
	}
	if after.FilledQuantity.IsPositive() != after.AveragePrice.Valid {
		return fmt.Errorf("order %s: average price must be set exactly when quantity is filled: %w",
			before.ID, ports.ErrIllegalTransition)
	}
	return nil
}

// Archive moves a terminal active order into history in one step.
func (s *Store) Archive(id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.active[id]
	if !ok {
		return nil, fmt.Errorf("archive order %s: %w", id, ports.ErrOrderNotFound)
	}
	if !e.order.Status.IsTerminal() {
		return nil, fmt.Errorf("archive order %s in status %s: %w", id, e.order.Status, ports.ErrIllegalTransition)
	}
	delete(s.active, id)
	s.appendHistoryLocked(e.order)
	return clone(e.order), nil
}

// List returns active orders matching the filter in insertion order.
func (s *Store) List(filter domain.OrderFilter) []*domain.Order {
	s.mu.RLock()
	entries := make([]activeEntry, 0, len(s.active))
	for _, e := range s.active {
		if filter.Matches(e.order) {
			entries = append(entries, activeEntry{order: clone(e.order), seq: e.seq})
		}
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	orders := make([]*domain.Order, len(entries))
	for i, e := range entries {
		orders[i] = e.order
	}
	return orders
}

// History returns archived orders, newest created first. Orders created at the same
// instant are returned most recently archived first.
func (s *Store) History(filter domain.HistoryFilter) []*domain.Order {
	s.mu.RLock()
	entries := make([]historyEntry, 0, len(s.history))
	for _, e := range s.history {
		if filter.Matches(e.order) {
			entries = append(entries, historyEntry{order: clone(e.order), seq: e.seq})
		}
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		ci, cj := entries[i].order.CreatedAt, entries[j].order.CreatedAt
		if !ci.Equal(cj) {
			return ci.After(cj)
		}
		return entries[i].seq > entries[j].seq
	})
	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	orders := make([]*domain.Order, len(entries))
	for i, e := range entries {
		orders[i] = e.order
	}
	return orders
}

// Counts reports the number of active and archived orders.
func (s *Store) Counts() (active, archived int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active), len(s.history)
}
