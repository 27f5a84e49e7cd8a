// Package store persists fills, per-wallet sync status and daily session
// rollups in PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Store struct {
	db     *DB
	logger *slog.Logger
}

type DB struct {
	raw *sql.DB
}

type Tx struct {
	raw *sql.Tx
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.raw.ExecContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.raw.QueryContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.raw.QueryRowContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.raw.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{raw: tx}, nil
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.raw.ExecContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (tx *Tx) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	return tx.raw.PrepareContext(ctx, rebindPostgresPlaceholders(query))
}

// rebindPostgresPlaceholders turns `?` into `$n`, leaving quoted literals alone.
func rebindPostgresPlaceholders(query string) string {
	var out strings.Builder
	out.Grow(len(query) + 16)

	arg := 1
	quoted := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'' && quoted && i+1 < len(query) && query[i+1] == '\'':
			out.WriteString("''")
			i++
			continue
		case ch == '\'':
			quoted = !quoted
		case ch == '?' && !quoted:
			out.WriteByte('$')
			out.WriteString(strconv.Itoa(arg))
			arg++
			continue
		}
		out.WriteByte(ch)
	}
	return out.String()
}

func New(dsn string, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("open postgres: empty dsn")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetConnMaxIdleTime(30 * time.Second)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(16)

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	store := &Store{db: &DB{raw: db}, logger: logger}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.raw.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.raw.PingContext(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.raw.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.raw.Commit()
}

func (s *Store) migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS fills (
			signature TEXT PRIMARY KEY,
			tx_signature TEXT NOT NULL,
			wallet TEXT NOT NULL,
			instrument_id BIGINT NOT NULL,
			symbol TEXT NOT NULL DEFAULT '',
			side TEXT NOT NULL,
			market_kind TEXT NOT NULL,
			order_type TEXT NOT NULL,
			price TEXT NOT NULL,
			quantity TEXT NOT NULL,
			fee TEXT NOT NULL,
			leverage INTEGER NOT NULL DEFAULT 0,
			ioc INTEGER NOT NULL DEFAULT 0,
			order_id BIGINT NOT NULL DEFAULT 0,
			client_id BIGINT NOT NULL DEFAULT 0,
			low_confidence INTEGER NOT NULL DEFAULT 0,
			executed_at BIGINT NOT NULL,
			created_at BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_fills_wallet_executed ON fills(wallet, executed_at);`,
		`CREATE INDEX IF NOT EXISTS idx_fills_wallet_instrument ON fills(wallet, instrument_id);`,
		`CREATE TABLE IF NOT EXISTS sync_status (
			wallet TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			last_signature TEXT NOT NULL DEFAULT '',
			total_trades_synced BIGINT NOT NULL DEFAULT 0,
			last_synced_at BIGINT NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			last_sync_id TEXT NOT NULL DEFAULT '',
			updated_at BIGINT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS trading_sessions (
			wallet TEXT NOT NULL,
			session_date TEXT NOT NULL,
			trades BIGINT NOT NULL,
			wins BIGINT NOT NULL,
			losses BIGINT NOT NULL,
			pnl TEXT NOT NULL,
			volume TEXT NOT NULL,
			fees TEXT NOT NULL,
			win_rate TEXT NOT NULL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (wallet, session_date)
		);`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
