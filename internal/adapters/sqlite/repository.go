package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/shopspring/decimal"

	"cryptoLedgerBot/internal/domain"
	"cryptoLedgerBot/internal/ports"
)

// Repository implements the ports.Repository interface using SQLite.
//
// Positions and ledger balances are persisted as whole documents: every
// Set replaces the full table contents in one transaction. The engine is
// the single writer and owns consistency; this layer only persists.
// Monetary amounts are stored as TEXT to keep decimal exactness.
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
		dbPath = "./data/ledger_bot.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Open database connection
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Set connection pool settings (important for SQLite)
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

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity TEXT NOT NULL,
		entry_price TEXT NOT NULL,
		current_price TEXT NOT NULL,
		leverage INTEGER NOT NULL,
		stop_loss TEXT NOT NULL,
		take_profit TEXT NOT NULL,
		status TEXT NOT NULL,
		owner TEXT NOT NULL,
		order_id INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ledger (
		asset TEXT PRIMARY KEY,
		free TEXT NOT NULL,
		locked TEXT NOT NULL,
		borrowed TEXT NOT NULL,
		interest TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS history (
		id TEXT PRIMARY KEY,
		position_id TEXT NOT NULL,
		order_id INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity TEXT NOT NULL,
		price TEXT NOT NULL,
		owner TEXT NOT NULL,
		leverage INTEGER NOT NULL,
		currency TEXT NOT NULL,
		margin TEXT NOT NULL,
		fees_paid TEXT NOT NULL,
		close_price TEXT NOT NULL,
		close_time TIMESTAMP NOT NULL,
		net_pnl TEXT NOT NULL,
		reason TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS daily_risk (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		day TIMESTAMP NOT NULL,
		pnl TEXT NOT NULL,
		trades INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_positions_owner_symbol ON positions (owner, symbol);
	CREATE INDEX IF NOT EXISTS idx_history_close_time ON history (close_time);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("schema creation failed: %w: %w", ports.ErrQueryFailed, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// GetPositions loads the full active position set.
func (r *Repository) GetPositions(ctx context.Context) ([]*domain.Position, error) {
	op := "GetPositions"
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, symbol, side, quantity, entry_price, current_price, leverage,
		       stop_loss, take_profit, status, owner, order_id, created_at, updated_at
		FROM positions`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ports.ErrQueryFailed, err)
	}
	return positions, nil
}

// SetPositions replaces the persisted active position set in one transaction.
func (r *Repository) SetPositions(ctx context.Context, positions []*domain.Position) error {
	op := "SetPositions"
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ports.ErrDBConnection, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM positions`); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ports.ErrUpdateFailed, err)
	}
	for _, p := range positions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO positions (id, symbol, side, quantity, entry_price, current_price,
			                       leverage, stop_loss, take_profit, status, owner, order_id,
			                       created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Symbol, string(p.Side), p.Quantity.Value.String(),
			p.EntryPrice.Value.String(), p.CurrentPrice.Value.String(), p.Leverage,
			p.StopLoss.Value.String(), p.TakeProfit.Value.String(), string(p.Status),
			p.Owner, p.OrderID, p.CreatedAt, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("%s: position %s: %w: %w", op, p.ID, ports.ErrUpdateFailed, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ports.ErrUpdateFailed, err)
	}
	return nil
}

// GetLedger loads the per-asset free/locked balances.
func (r *Repository) GetLedger(ctx context.Context) ([]domain.AssetBalance, error) {
	op := "GetLedger"
	rows, err := r.db.QueryContext(ctx, `SELECT asset, free, locked, borrowed, interest FROM ledger`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	var balances []domain.AssetBalance
	for rows.Next() {
		var asset, free, locked, borrowed, interest string
		if err := rows.Scan(&asset, &free, &locked, &borrowed, &interest); err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, ports.ErrQueryFailed, err)
		}
		balance := domain.AssetBalance{Asset: asset}
		if balance.Free, err = decimal.NewFromString(free); err != nil {
			return nil, fmt.Errorf("%s: parsing free balance for %s: %w", op, asset, err)
		}
		if balance.Locked, err = decimal.NewFromString(locked); err != nil {
			return nil, fmt.Errorf("%s: parsing locked balance for %s: %w", op, asset, err)
		}
		if balance.Borrowed, err = decimal.NewFromString(borrowed); err != nil {
			return nil, fmt.Errorf("%s: parsing borrowed balance for %s: %w", op, asset, err)
		}
		if balance.Interest, err = decimal.NewFromString(interest); err != nil {
			return nil, fmt.Errorf("%s: parsing interest for %s: %w", op, asset, err)
		}
		balances = append(balances, balance)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ports.ErrQueryFailed, err)
	}
	return balances, nil
}

// SetLedger replaces the persisted ledger in one transaction.
func (r *Repository) SetLedger(ctx context.Context, balances []domain.AssetBalance) error {
	op := "SetLedger"
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ports.ErrDBConnection, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM ledger`); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ports.ErrUpdateFailed, err)
	}
	for _, b := range balances {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ledger (asset, free, locked, borrowed, interest)
			VALUES (?, ?, ?, ?, ?)`,
			b.Asset, b.Free.String(), b.Locked.String(), b.Borrowed.String(), b.Interest.String())
		if err != nil {
			return fmt.Errorf("%s: asset %s: %w: %w", op, b.Asset, ports.ErrUpdateFailed, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ports.ErrUpdateFailed, err)
	}
	return nil
}

// GetHistory retrieves the most recent closed order records, newest first.
// limit <= 0 returns all records.
func (r *Repository) GetHistory(ctx context.Context, limit int) ([]*domain.OrderRecord, error) {
	op := "GetHistory"
	query := `
		SELECT id, position_id, order_id, symbol, side, quantity, price, owner,
		       leverage, currency, margin, fees_paid, close_price, close_time,
		       net_pnl, reason, created_at
		FROM history ORDER BY close_time DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	var records []*domain.OrderRecord
	for rows.Next() {
		rec, err := scanHistoryRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ports.ErrQueryFailed, err)
	}
	return records, nil
}

// AppendHistory appends one closed order record to the history.
func (r *Repository) AppendHistory(ctx context.Context, record *domain.OrderRecord) error {
	op := "AppendHistory"
	if record == nil {
		return fmt.Errorf("%s: record is nil: %w", op, ports.ErrInvalidRequest)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO history (id, position_id, order_id, symbol, side, quantity, price,
		                     owner, leverage, currency, margin, fees_paid, close_price,
		                     close_time, net_pnl, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.PositionID, record.OrderID, record.Symbol, string(record.Side),
		record.Quantity.Value.String(), record.Price.Value.String(), record.Owner,
		record.Leverage, record.NetPnL.Currency, record.Margin.Amount.String(),
		record.FeesPaid.Amount.String(), record.ClosePrice.Value.String(), record.CloseTime,
		record.NetPnL.Amount.String(), string(record.Reason), record.CreatedAt)
	if err != nil {
		return fmt.Errorf("%s: record %s: %w: %w", op, record.ID, ports.ErrUpdateFailed, err)
	}
	return nil
}

// GetDailyRisk loads the persisted daily risk state. Returns nil, nil when
// no state has been saved yet.
func (r *Repository) GetDailyRisk(ctx context.Context) (*domain.DailyRiskState, error) {
	op := "GetDailyRisk"
	row := r.db.QueryRowContext(ctx, `SELECT day, pnl, trades FROM daily_risk WHERE id = 1`)

	var day time.Time
	var pnl string
	var trades int
	if err := row.Scan(&day, &pnl, &trades); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w: %w", op, ports.ErrQueryFailed, err)
	}

	state := &domain.DailyRiskState{Day: day.UTC(), Trades: trades}
	var err error
	if state.PnL, err = decimal.NewFromString(pnl); err != nil {
		return nil, fmt.Errorf("%s: parsing pnl '%s': %w", op, pnl, err)
	}
	return state, nil
}

// SetDailyRisk replaces the persisted daily risk state.
func (r *Repository) SetDailyRisk(ctx context.Context, state *domain.DailyRiskState) error {
	op := "SetDailyRisk"
	if state == nil {
		return fmt.Errorf("%s: state is nil: %w", op, ports.ErrInvalidRequest)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO daily_risk (id, day, pnl, trades) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET day = excluded.day, pnl = excluded.pnl, trades = excluded.trades`,
		state.Day, state.PnL.String(), state.Trades)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ports.ErrUpdateFailed, err)
	}
	return nil
}

// --- Scan Helpers ---

func scanPosition(rows *sql.Rows) (*domain.Position, error) {
	var pos domain.Position
	var side, quantity, entryPrice, currentPrice, stopLoss, takeProfit, status string

	err := rows.Scan(&pos.ID, &pos.Symbol, &side, &quantity, &entryPrice, &currentPrice,
		&pos.Leverage, &stopLoss, &takeProfit, &status, &pos.Owner, &pos.OrderID,
		&pos.CreatedAt, &pos.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scanning position row: %w: %w", ports.ErrQueryFailed, err)
	}

	pos.Side = domain.OrderSide(side)
	pos.Status = domain.PositionStatus(status)
	if pos.Quantity, err = parseQuantity(quantity, pos.Symbol); err != nil {
		return nil, err
	}
	if pos.EntryPrice, err = parsePrice(entryPrice, pos.Symbol); err != nil {
		return nil, err
	}
	if pos.CurrentPrice, err = parsePrice(currentPrice, pos.Symbol); err != nil {
		return nil, err
	}
	if pos.StopLoss, err = parsePrice(stopLoss, pos.Symbol); err != nil {
		return nil, err
	}
	if pos.TakeProfit, err = parsePrice(takeProfit, pos.Symbol); err != nil {
		return nil, err
	}
	pos.CreatedAt = pos.CreatedAt.UTC()
	pos.UpdatedAt = pos.UpdatedAt.UTC()
	return &pos, nil
}

func scanHistoryRecord(rows *sql.Rows) (*domain.OrderRecord, error) {
	var rec domain.OrderRecord
	var side, quantity, price, currency, margin, feesPaid, closePrice, netPnL, reason string

	err := rows.Scan(&rec.ID, &rec.PositionID, &rec.OrderID, &rec.Symbol, &side,
		&quantity, &price, &rec.Owner, &rec.Leverage, &currency, &margin, &feesPaid,
		&closePrice, &rec.CloseTime, &netPnL, &reason, &rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scanning history row: %w: %w", ports.ErrQueryFailed, err)
	}

	rec.Side = domain.OrderSide(side)
	rec.Status = domain.OrderClosed
	rec.Reason = domain.CloseReason(reason)
	if rec.Quantity, err = parseQuantity(quantity, rec.Symbol); err != nil {
		return nil, err
	}
	if rec.Price, err = parsePrice(price, rec.Symbol); err != nil {
		return nil, err
	}
	if rec.ClosePrice, err = parsePrice(closePrice, rec.Symbol); err != nil {
		return nil, err
	}
	if rec.Margin, err = parseMoney(margin, currency); err != nil {
		return nil, err
	}
	if rec.FeesPaid, err = parseMoney(feesPaid, currency); err != nil {
		return nil, err
	}
	if rec.NetPnL, err = parseMoney(netPnL, currency); err != nil {
		return nil, err
	}
	rec.CloseTime = rec.CloseTime.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.CloseTime
	return &rec, nil
}

func parsePrice(s, symbol string) (domain.Price, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return domain.Price{}, fmt.Errorf("parsing price '%s': %w", s, err)
	}
	return domain.Price{Value: v, Symbol: symbol}, nil
}

func parseQuantity(s, symbol string) (domain.Quantity, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return domain.Quantity{}, fmt.Errorf("parsing quantity '%s': %w", s, err)
	}
	return domain.Quantity{Value: v, Symbol: symbol}, nil
}

func parseMoney(s, currency string) (domain.Money, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return domain.Money{}, fmt.Errorf("parsing amount '%s': %w", s, err)
	}
	return domain.NewMoney(v, currency), nil
}
