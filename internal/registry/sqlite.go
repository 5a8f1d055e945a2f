package registry

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/infodancer/relayd/internal/identity"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS approved_identities (
	id          TEXT PRIMARY KEY,
	approved_at INTEGER NOT NULL
)`

// SQLiteStore keeps the set in a SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens the database at path and creates the table if needed.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load returns all stored identities.
func (s *SQLiteStore) Load(ctx context.Context) ([]identity.Identity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM approved_identities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query approved identities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []identity.Identity
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan approved identity: %w", err)
		}
		id, err := identity.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: row %q: %v", ErrMalformed, raw, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Save replaces the table contents. Rows for identities that remain keep
// their original approval time.
func (s *SQLiteStore) Save(ctx context.Context, ids []identity.Identity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `CREATE TEMP TABLE IF NOT EXISTS keep_ids (id TEXT PRIMARY KEY)`); err != nil {
		return fmt.Errorf("create temp table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM keep_ids`); err != nil {
		return fmt.Errorf("reset temp table: %w", err)
	}

	now := time.Now().UTC().UnixMilli()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `INSERT INTO keep_ids (id) VALUES (?)`, id.String()); err != nil {
			return fmt.Errorf("stage %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO approved_identities (id, approved_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
			id.String(), now); err != nil {
			return fmt.Errorf("insert %s: %w", id, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM approved_identities WHERE id NOT IN (SELECT id FROM keep_ids)`); err != nil {
		return fmt.Errorf("prune approved identities: %w", err)
	}
	return tx.Commit()
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
