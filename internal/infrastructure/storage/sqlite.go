package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get when no record exists for the key
var ErrNotFound = errors.New("record not found")

const schema = `
CREATE TABLE IF NOT EXISTS notebooks (
	key        TEXT PRIMARY KEY,
	cells      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// Record is one stored notebook document
type Record struct {
	Key       string
	Data      []byte
	UpdatedAt time.Time
}

// DB is a SQLite-backed document store keyed by notebook key
type DB struct {
	conn *sql.DB
	Path string
}

// Open opens (creating if needed) the database at path with WAL mode and a
// busy timeout applied. Use ":memory:" for a throwaway store.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// every connection to :memory: is a separate database
		conn.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &DB{conn: conn, Path: path}, nil
}

// Put overwrites the record stored under key
func (d *DB) Put(ctx context.Context, key string, data []byte, updatedAt time.Time) error {
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO notebooks (key, cells, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET cells = excluded.cells, updated_at = excluded.updated_at`,
		key, string(data), updatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("writing record %s: %w", key, err)
	}
	return nil
}

// Get reads the record stored under key
func (d *DB) Get(ctx context.Context, key string) (Record, error) {
	var (
		data string
		ms   int64
	)
	err := d.conn.QueryRowContext(ctx,
		`SELECT cells, updated_at FROM notebooks WHERE key = ?`, key,
	).Scan(&data, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return Record{}, fmt.Errorf("reading record %s: %w", key, err)
	}
	return Record{Key: key, Data: []byte(data), UpdatedAt: time.UnixMilli(ms)}, nil
}

// Delete removes the record stored under key. Missing keys are not an error.
func (d *DB) Delete(ctx context.Context, key string) error {
	if _, err := d.conn.ExecContext(ctx, `DELETE FROM notebooks WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting record %s: %w", key, err)
	}
	return nil
}

// Keys lists stored notebook keys, most recently updated first
func (d *DB) Keys(ctx context.Context) ([]string, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT key FROM notebooks ORDER BY updated_at DESC, key`)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.conn.Close()
}
