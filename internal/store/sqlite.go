package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kingrea/director/internal/store/migrations"
	_ "modernc.org/sqlite"
)

// SQLiteSlots keeps slots in a single SQLite table.
type SQLiteSlots struct {
	db    *sql.DB
	clock func() time.Time
}

// OpenSQLite opens (creating if needed) and migrates the slot database at path.
func OpenSQLite(path string) (*SQLiteSlots, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store: sqlite path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("store: ensure state dir: %w", err)
	}
	dsn := "file:" + cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping sqlite db: %w", err)
	}
	if err := applyMigrations(db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: run migrations: %w", err)
	}
	return &SQLiteSlots{db: db, clock: time.Now}, nil
}

// Get returns the value stored under key.
func (s *SQLiteSlots) Get(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, fmt.Errorf("store: sqlite slots are not open")
	}
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM slots WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("store: get %s: %w", key, err)
	}
	return value, true, nil
}

// Put upserts every entry in one transaction.
func (s *SQLiteSlots) Put(ctx context.Context, entries ...Entry) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store: sqlite slots are not open")
	}
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin put: %w", err)
	}
	now := s.clock().UTC().UnixMilli()
	for _, entry := range entries {
		if strings.TrimSpace(entry.Key) == "" {
			_ = tx.Rollback()
			return fmt.Errorf("store: slot key is required")
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO slots (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, entry.Key, entry.Value, now); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("store: put %s: %w", entry.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit put: %w", err)
	}
	return nil
}

// Delete removes keys; missing keys are ignored.
func (s *SQLiteSlots) Delete(ctx context.Context, keys ...string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store: sqlite slots are not open")
	}
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, key := range keys {
		args[i] = key
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM slots WHERE key IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("store: delete slots: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteSlots) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
