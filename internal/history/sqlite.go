package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SQLiteFile is the relational artifact name inside the data directory.
const SQLiteFile = "history.db"

// Migration is a schema change applied once, in Version order.
type Migration struct {
	Version     int
	Description string
	Up          string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial scan_history table",
		Up: `
CREATE TABLE IF NOT EXISTS scan_history (
    id          TEXT PRIMARY KEY,
    url         TEXT NOT NULL,
    timestamp   TEXT NOT NULL
);`,
	},
	{
		Version:     2,
		Description: "Insertion sequence for stable ordering of equal timestamps",
		Up: `
CREATE TABLE scan_history_v2 (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    id          TEXT NOT NULL UNIQUE,
    url         TEXT NOT NULL,
    timestamp   TEXT NOT NULL
);
INSERT INTO scan_history_v2 (id, url, timestamp)
    SELECT id, url, timestamp FROM scan_history ORDER BY timestamp ASC;
DROP TABLE scan_history;
ALTER TABLE scan_history_v2 RENAME TO scan_history;
CREATE INDEX IF NOT EXISTS idx_scan_history_timestamp ON scan_history(timestamp);`,
	},
}

// SQLite stores history in a single table. Every call opens the database,
// does its work and closes it again, so no handle outlives an operation.
type SQLite struct {
	path string
}

// NewSQLite returns the relational backend for dataDir.
func NewSQLite(dataDir string) *SQLite {
	return &SQLite{path: filepath.Join(dataDir, SQLiteFile)}
}

func (s *SQLite) Kind() Kind { return KindRelational }
func (s *SQLite) Path() string { return s.path }

func (s *SQLite) openRaw() (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return nil, storageError("create data directory", err)
	}

	db, err := sql.Open(driverName, dsn(s.path))
	if err != nil {
		return nil, storageError("open database", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func (s *SQLite) open(ctx context.Context) (*sql.DB, error) {
	db, err := s.openRaw()
	if err != nil {
		return nil, err
	}
	if err := migrateDB(ctx, db); err != nil {
		db.Close()
		return nil, storageError("migrate database", err)
	}
	return db, nil
}

// migrateDB brings the schema up to date. Transactions begin IMMEDIATE, so
// the version is re-read under the write lock and concurrent first opens
// apply each migration once.
func migrateDB(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  INTEGER NOT NULL,
			description TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	latest := migrations[len(migrations)-1].Version
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current >= latest {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer tx.Rollback()

	current, err = schemaVersion(ctx, tx)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.Up); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.Version, time.Now().UnixNano(), m.Description,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func schemaVersion(ctx context.Context, q queryRower) (int, error) {
	var v int
	if err := q.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("get current version: %w", err)
	}
	return v, nil
}

// Append inserts rec and trims the table to the max newest rows in one
// transaction. A record whose ID is already stored replaces the old row.
func (s *SQLite) Append(ctx context.Context, rec Record, max uint32) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return storageError("begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO scan_history (id, url, timestamp) VALUES (?, ?, ?)",
		rec.ID, rec.URL, rec.Timestamp,
	); err != nil {
		return storageError("insert scan", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM scan_history WHERE seq NOT IN (
			SELECT seq FROM scan_history ORDER BY timestamp DESC, seq DESC LIMIT ?
		)`, int64(max),
	); err != nil {
		return storageError("trim history", err)
	}

	if err := tx.Commit(); err != nil {
		return storageError("commit scan", err)
	}
	return nil
}

// List returns up to max rows ordered by timestamp, newest first.
func (s *SQLite) List(ctx context.Context, max uint32) ([]Record, error) {
	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		"SELECT id, url, timestamp FROM scan_history ORDER BY timestamp DESC, seq DESC LIMIT ?",
		int64(max),
	)
	if err != nil {
		return nil, storageError("query history", err)
	}
	defer rows.Close()

	recs := []Record{}
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.URL, &r.Timestamp); err != nil {
			return nil, storageError("scan row", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterate history", err)
	}
	return recs, nil
}

// Clear deletes every row.
func (s *SQLite) Clear(ctx context.Context) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, "DELETE FROM scan_history"); err != nil {
		return storageError("clear history", err)
	}
	return nil
}

var _ Backend = (*SQLite)(nil)
