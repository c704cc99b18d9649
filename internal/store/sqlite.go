package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/errors"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/models"
	"github.com/EXPOSINGskIDS258/Telegram-CT-v2-sub000/internal/risk"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Completed trades
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		token_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		quantity REAL NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		pnl REAL NOT NULL,
		pnl_percent REAL NOT NULL,
		exit_reason TEXT NOT NULL,
		source_channel TEXT,
		is_paper INTEGER DEFAULT 0,
		opened_at DATETIME NOT NULL,
		closed_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_token ON trades(token_id);
	CREATE INDEX IF NOT EXISTS idx_trades_closed ON trades(closed_at);

	-- Venue state checkpoints, one row per name
	CREATE TABLE IF NOT EXISTS checkpoints (
		name TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		saved_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Risk session counters, single row
	CREATE TABLE IF NOT EXISTS risk_session (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		state TEXT NOT NULL,
		saved_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LogTrade saves a completed trade to the journal.
func (s *SQLiteStore) LogTrade(ctx context.Context, trade *models.Trade) error {
	isPaper := 0
	if trade.IsPaper {
		isPaper = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (id, token_id, symbol, quantity, entry_price, exit_price, pnl, pnl_percent, exit_reason, source_channel, is_paper, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, trade.ID, trade.TokenID, trade.Symbol, trade.Quantity, trade.EntryPrice, trade.ExitPrice, trade.PnL, trade.PnLPercent, trade.ExitReason, trade.SourceChannel, isPaper, trade.OpenedAt, trade.ClosedAt)
	if err != nil {
		return fmt.Errorf("failed to log trade: %w", err)
	}
	return nil
}

// GetTrades retrieves trades from the journal.
func (s *SQLiteStore) GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error) {
	query := "SELECT id, token_id, symbol, quantity, entry_price, exit_price, pnl, pnl_percent, exit_reason, source_channel, is_paper, opened_at, closed_at FROM trades WHERE 1=1"
	args := []interface{}{}

	if filter.TokenID != "" {
		query += " AND token_id = ?"
		args = append(args, filter.TokenID)
	}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.SourceChannel != "" {
		query += " AND source_channel = ?"
		args = append(args, filter.SourceChannel)
	}
	if filter.ExitReason != "" {
		query += " AND exit_reason = ?"
		args = append(args, filter.ExitReason)
	}
	if !filter.StartDate.IsZero() {
		query += " AND closed_at >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND closed_at <= ?"
		args = append(args, filter.EndDate)
	}
	if filter.IsPaper != nil {
		isPaper := 0
		if *filter.IsPaper {
			isPaper = 1
		}
		query += " AND is_paper = ?"
		args = append(args, isPaper)
	}

	query += " ORDER BY closed_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		var isPaper int
		if err := rows.Scan(&t.ID, &t.TokenID, &t.Symbol, &t.Quantity, &t.EntryPrice, &t.ExitPrice, &t.PnL, &t.PnLPercent, &t.ExitReason, &t.SourceChannel, &isPaper, &t.OpenedAt, &t.ClosedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.IsPaper = isPaper == 1
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// GetTradeStats computes summary figures over the filtered trade set.
func (s *SQLiteStore) GetTradeStats(ctx context.Context, filter TradeFilter) (*TradeStats, error) {
	trades, err := s.GetTrades(ctx, filter)
	if err != nil {
		return nil, err
	}

	stats := &TradeStats{TotalTrades: len(trades)}
	for i, t := range trades {
		stats.TotalPnL += t.PnL
		if t.PnL >= 0 {
			stats.WinningTrades++
		} else {
			stats.LosingTrades++
		}
		if i == 0 || t.PnL > stats.BestPnL {
			stats.BestPnL = t.PnL
		}
		if i == 0 || t.PnL < stats.WorstPnL {
			stats.WorstPnL = t.PnL
		}
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades) * 100
	}
	return stats, nil
}

// SaveCheckpoint upserts an opaque checkpoint blob under name.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, name string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (name, data, saved_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, saved_at = CURRENT_TIMESTAMP
	`, name, data)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint returns the checkpoint blob for name, or
// ErrDataNotFound when none has been saved.
func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM checkpoints WHERE name = ?", name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrDataNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return data, nil
}

// SaveRiskSession upserts the session counters.
func (s *SQLiteStore) SaveRiskSession(ctx context.Context, state risk.SessionState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal risk session: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_session (id, state, saved_at) VALUES (1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state, saved_at = CURRENT_TIMESTAMP
	`, string(payload))
	if err != nil {
		return fmt.Errorf("failed to save risk session: %w", err)
	}
	return nil
}

// LoadRiskSession returns the persisted session counters, or
// ErrDataNotFound when no session has been saved.
func (s *SQLiteStore) LoadRiskSession(ctx context.Context) (*risk.SessionState, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT state FROM risk_session WHERE id = 1").Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrDataNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load risk session: %w", err)
	}

	var state risk.SessionState
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal risk session: %w", err)
	}
	return &state, nil
}

// Ensure SQLiteStore implements DataStore.
var _ DataStore = (*SQLiteStore)(nil)
