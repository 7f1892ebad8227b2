// Package storage is the sqlite implementation of store.Store, plus the
// note and source tables used by the note sync.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/store"
	_ "modernc.org/sqlite" // Registers the sqlite driver
)

// Config holds database settings.
type Config struct {
	// Path is the sqlite database file.
	Path string
	// BusyTimeout is how long a connection waits on a locked database.
	BusyTimeout time.Duration
	// JournalMode is the sqlite journal mode, WAL by default.
	JournalMode  string
	MaxOpenConns int
	// AutoMigrate applies pending migrations on Open.
	AutoMigrate bool
	Logger      *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(path string) *Config {
	return &Config{
		Path:         path,
		BusyTimeout:  5 * time.Second,
		JournalMode:  "WAL",
		MaxOpenConns: 4,
		AutoMigrate:  true,
	}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB represents a wrapper around the SQL database connection. A DB returned
// by Transact is bound to a single transaction.
type DB struct {
	conn *sql.DB
	q    querier
	tx   *sql.Tx
	log  *slog.Logger
}

var _ store.Store = (*DB)(nil)

// Open creates a new database connection, applying migrations first when
// AutoMigrate is set.
func Open(config *Config) (*DB, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(config.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	if config.AutoMigrate {
		mgr, err := NewMigrationManager(config.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create migration manager: %w", err)
		}
		upErr := mgr.Up()
		if err := mgr.Close(); err != nil && upErr == nil {
			upErr = err
		}
		if upErr != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", upErr)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(%s)&_pragma=foreign_keys(1)",
		config.Path, config.BusyTimeout.Milliseconds(), config.JournalMode)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if config.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(config.MaxOpenConns)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{conn: conn, q: conn, log: logger}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Transact runs fn with a DB bound to a transaction, committing when fn
// returns nil and rolling back otherwise. Nested calls join the outer
// transaction.
func (db *DB) Transact(ctx context.Context, fn func(store.Store) error) error {
	return db.withTx(ctx, func(tx *DB) error { return fn(tx) })
}

func (db *DB) withTx(ctx context.Context, fn func(*DB) error) (err error) {
	if db.tx != nil {
		return fn(db)
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("transaction error: %w, rollback error: %v", err, rbErr)
			}
		} else if err = tx.Commit(); err != nil {
			err = fmt.Errorf("failed to commit transaction: %w", err)
		}
	}()

	return fn(&DB{conn: db.conn, q: tx, tx: tx, log: db.log})
}

// Collection loads the collection-wide settings row.
func (db *DB) Collection(ctx context.Context) (*domain.Collection, error) {
	var (
		col                 domain.Collection
		crt, collapse       int64
		dayLearnFirst       bool
		spread, reviewOrder int
	)
	err := db.q.QueryRowContext(ctx, `
		SELECT crt, rollover, collapse_time, new_spread, day_learn_first, review_order,
			last_unburied, cur_deck, next_pos, mod
		FROM col WHERE id = 1
	`).Scan(&crt, &col.RolloverHour, &collapse, &spread, &dayLearnFirst, &reviewOrder,
		&col.LastUnburied, &col.CurrentDeck, &col.NextPosition, &col.Mod)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("collection row: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load collection: %w", err)
	}
	col.Created = time.Unix(crt, 0)
	col.CollapseTime = time.Duration(collapse) * time.Second
	col.NewSpread = domain.NewSpread(spread)
	col.DayLearnFirst = dayLearnFirst
	col.ReviewOrder = domain.ReviewOrder(reviewOrder)
	return &col, nil
}

// SaveCollection writes the collection-wide settings row.
func (db *DB) SaveCollection(ctx context.Context, col *domain.Collection) error {
	_, err := db.q.ExecContext(ctx, `
		UPDATE col SET crt = ?, rollover = ?, collapse_time = ?, new_spread = ?, day_learn_first = ?,
			review_order = ?, last_unburied = ?, cur_deck = ?, next_pos = ?, mod = ?
		WHERE id = 1
	`,
		col.Created.Unix(),
		col.RolloverHour,
		int64(col.CollapseTime/time.Second),
		int(col.NewSpread),
		col.DayLearnFirst,
		int(col.ReviewOrder),
		col.LastUnburied,
		col.CurrentDeck,
		col.NextPosition,
		col.Mod,
	)
	if err != nil {
		return fmt.Errorf("failed to save collection: %w", err)
	}
	return nil
}

// placeholders returns "?, ?, ?" for n values.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
