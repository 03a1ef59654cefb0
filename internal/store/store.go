package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store provides idempotent persistence of extracted transactions.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and applies
// pending migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite
	db.SetConnMaxLifetime(0)

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertIfAbsent inserts t unless a transaction with the same message id
// already exists. It reports whether a new row was inserted; a duplicate is
// a no-op, not an error.
func (s *Store) InsertIfAbsent(ctx context.Context, t Transaction) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
	INSERT OR IGNORE INTO transactions(
	 message_id, thread_id, sender, subject, transaction_date, amount, description, category, raw_data)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
	`,
		t.MessageID, t.ThreadID, t.Sender, t.Subject, t.Date.Format(DateLayout),
		t.Amount, t.Description, t.Category, t.RawData)
	if err != nil {
		return false, fmt.Errorf("insert transaction %s: %w", t.MessageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Exists reports whether a transaction for the given source message id has
// already been stored. This is the pipeline's dedup boundary.
func (s *Store) Exists(ctx context.Context, messageID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM transactions WHERE message_id = ?`, messageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check message %s: %w", messageID, err)
	}
	return true, nil
}

// MaxTransactionDate returns the most recent transaction date across all
// stored transactions. ok is false when the store is empty.
func (s *Store) MaxTransactionDate(ctx context.Context) (time.Time, bool, error) {
	var max sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(transaction_date) FROM transactions`).Scan(&max)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("max transaction date: %w", err)
	}
	if !max.Valid || max.String == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(DateLayout, max.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse stored date %q: %w", max.String, err)
	}
	return t, true, nil
}

// ClearAll removes every stored transaction. The only supported deletion.
func (s *Store) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transactions`); err != nil {
		return fmt.Errorf("clear transactions: %w", err)
	}
	return nil
}

// Count returns the number of stored transactions.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

// List returns up to limit transactions ordered by transaction date
// descending. A read-only query for the reporting dashboard.
func (s *Store) List(ctx context.Context, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT message_id, thread_id, sender, subject, transaction_date, amount, description, category, raw_data, created_at
	FROM transactions
	ORDER BY transaction_date DESC, id DESC
	LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		var date string
		if err := rows.Scan(&t.MessageID, &t.ThreadID, &t.Sender, &t.Subject, &date,
			&t.Amount, &t.Description, &t.Category, &t.RawData, &t.CreatedAt); err != nil {
			return nil, err
		}
		if t.Date, err = time.Parse(DateLayout, date); err != nil {
			return nil, fmt.Errorf("parse stored date %q: %w", date, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
