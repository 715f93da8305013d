package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"execEngine/internal/domain"
	"execEngine/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Compile-time interface checks.
var (
	_ ports.OrderJournal       = (*Repository)(nil)
	_ ports.PositionRepository = (*Repository)(nil)
)

// Repository implements the ports.OrderJournal and ports.PositionRepository interfaces using SQLite.
// Decimals are stored as TEXT to keep them exact; timestamps as UTC unix nanoseconds so they sort.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/execution.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Data directory checked/created", map[string]interface{}{"path": filepath.Dir(dbPath)})

	// Open database connection
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %v: %w", dbPath, err, ports.ErrDBConnection)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %v: %w", dbPath, err, ports.ErrDBConnection)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Fill callbacks write from many goroutines; one connection serializes them.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS order_history (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		type TEXT NOT NULL,
		quantity TEXT NOT NULL,
		price TEXT DEFAULT NULL,
		stop_price TEXT DEFAULT NULL,
		time_in_force TEXT NOT NULL,
		status TEXT NOT NULL,
		filled_quantity TEXT NOT NULL,
		average_price TEXT DEFAULT NULL,
		reference_price TEXT DEFAULT NULL,
		reject_reason TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS positions (
		symbol TEXT PRIMARY KEY,
		quantity TEXT NOT NULL,
		average_price TEXT NOT NULL,
		realized_pnl TEXT NOT NULL,
		last_updated INTEGER NOT NULL
	);
	-- Add indexes for common lookups
	CREATE INDEX IF NOT EXISTS idx_order_history_created_at ON order_history (created_at);
	CREATE INDEX IF NOT EXISTS idx_order_history_symbol_created_at ON order_history (symbol, created_at);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%v: %w", err, ports.ErrDBConnection)
	}
	return nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// --- OrderJournal Implementation ---

// RecordOrder saves the final state of a terminal order. Recording the same ID again
// replaces the earlier row.
func (r *Repository) RecordOrder(ctx context.Context, order *domain.Order) error {
	const query = `
	INSERT OR REPLACE INTO order_history (id, user_id, symbol, side, type, quantity, price, stop_price,
	                                     time_in_force, status, filled_quantity, average_price,
	                                     reference_price, reject_reason, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		order.ID, order.UserID, order.Symbol, string(order.Side), string(order.Type), order.Quantity,
		order.Price, order.StopPrice, string(order.TimeInForce), string(order.Status), order.FilledQuantity,
		order.AveragePrice, order.ReferencePrice, order.RejectReason,
		toNanos(order.CreatedAt), toNanos(order.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert order %s into history: %v: %w", order.ID, err, ports.ErrUpdateFailed)
	}
	r.logger.Debug(ctx, "Order journaled", map[string]interface{}{"orderId": order.ID, "status": string(order.Status)})
	return nil
}

// FindHistory returns journaled orders, newest created first.
func (r *Repository) FindHistory(ctx context.Context, filter domain.HistoryFilter) ([]*domain.Order, error) {
	const query = `
	SELECT id, user_id, symbol, side, type, quantity, price, stop_price, time_in_force, status,
	       filled_quantity, average_price, reference_price, reject_reason, created_at, updated_at
	FROM order_history
	WHERE (? = '' OR symbol = ?) AND (? = '' OR user_id = ?)
	ORDER BY created_at DESC, rowid DESC
	LIMIT ?`

	limit := filter.Limit
	if limit <= 0 {
		limit = -1 // No limit in SQLite
	}

	rows, err := r.db.QueryContext(ctx, query, filter.Symbol, filter.Symbol, filter.UserID, filter.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query order history: %v: %w", err, ports.ErrQueryFailed)
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order during FindHistory: %w", err)
		}
		orders = append(orders, order)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order history rows: %w", err)
	}
	return orders, nil
}

// FindOrder retrieves a journaled order by ID, returning nil when absent.
func (r *Repository) FindOrder(ctx context.Context, id string) (*domain.Order, error) {
	const query = `
	SELECT id, user_id, symbol, side, type, quantity, price, stop_price, time_in_force, status,
	       filled_quantity, average_price, reference_price, reject_reason, created_at, updated_at
	FROM order_history
	WHERE id = ?`

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "Order not found in history", map[string]interface{}{"orderId": id})
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query order %s: %v: %w", id, err, ports.ErrQueryFailed)
	}
	return order, nil
}

// CountByStatus counts journaled orders per status.
func (r *Repository) CountByStatus(ctx context.Context) (map[domain.OrderStatus]int, error) {
	const query = `SELECT status, COUNT(*) FROM order_history GROUP BY status`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count orders by status: %v: %w", err, ports.ErrQueryFailed)
	}
	defer rows.Close()

	counts := make(map[domain.OrderStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[domain.OrderStatus(status)] = n
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}
	return counts, nil
}

// --- PositionRepository Implementation ---

// SavePosition upserts the snapshot for a symbol. A snapshot older than the stored one
// is ignored, so out-of-order writers cannot roll a position back.
func (r *Repository) SavePosition(ctx context.Context, pos *domain.Position) error {
	const query = `
	INSERT INTO positions (symbol, quantity, average_price, realized_pnl, last_updated)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(symbol) DO UPDATE SET
		quantity = excluded.quantity,
		average_price = excluded.average_price,
		realized_pnl = excluded.realized_pnl,
		last_updated = excluded.last_updated
	WHERE excluded.last_updated >= positions.last_updated`

	_, err := r.db.ExecContext(ctx, query,
		pos.Symbol, pos.Quantity, pos.AveragePrice, pos.RealizedPnL, toNanos(pos.LastUpdated))
	if err != nil {
		return fmt.Errorf("failed to save position %s: %v: %w", pos.Symbol, err, ports.ErrUpdateFailed)
	}
	r.logger.Debug(ctx, "Position saved", map[string]interface{}{"symbol": pos.Symbol, "quantity": pos.Quantity.String()})
	return nil
}

// FindPosition retrieves the snapshot for a symbol, returning nil when absent.
func (r *Repository) FindPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	const query = `
	SELECT symbol, quantity, average_price, realized_pnl, last_updated
	FROM positions
	WHERE symbol = ?`

	pos, err := scanPosition(r.db.QueryRowContext(ctx, query, symbol))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "No position snapshot found for symbol", map[string]interface{}{"symbol": symbol})
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query position %s: %v: %w", symbol, err, ports.ErrQueryFailed)
	}
	return pos, nil
}

// FindAllPositions retrieves every snapshot ordered by symbol.
func (r *Repository) FindAllPositions(ctx context.Context) ([]*domain.Position, error) {
	const query = `
	SELECT symbol, quantity, average_price, realized_pnl, last_updated
	FROM positions
	ORDER BY symbol`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query all positions: %v: %w", err, ports.ErrQueryFailed)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position during FindAllPositions: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanOrder scans a row into a domain.Order struct.
func scanOrder(s scanner) (*domain.Order, error) {
	o := &domain.Order{}
	var side, typ, tif, status string
	var createdAt, updatedAt int64
	err := s.Scan(
		&o.ID, &o.UserID, &o.Symbol, &side, &typ, &o.Quantity, &o.Price, &o.StopPrice, &tif, &status,
		&o.FilledQuantity, &o.AveragePrice, &o.ReferencePrice, &o.RejectReason, &createdAt, &updatedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(typ)
	o.TimeInForce = domain.TimeInForce(tif)
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = fromNanos(createdAt)
	o.UpdatedAt = fromNanos(updatedAt)
	return o, nil
}

// scanPosition scans a row into a domain.Position struct.
func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var lastUpdated int64
	err := s.Scan(&p.Symbol, &p.Quantity, &p.AveragePrice, &p.RealizedPnL, &lastUpdated)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	p.LastUpdated = fromNanos(lastUpdated)
	return p, nil
}
