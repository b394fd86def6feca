package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// sqlBackend stores one row per collection in a "documents" table. It serves
// both the embedded SQLite engine and PostgreSQL; only the placeholder
// syntax differs.
type sqlBackend struct {
	db        *sql.DB
	loadQuery string
	saveQuery string
}

const createDocumentsTable = `CREATE TABLE IF NOT EXISTS documents (
	name       TEXT PRIMARY KEY,
	body       TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

func newSQLiteBackend(ctx context.Context, path string) (*sqlBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer per file even under WAL. A single connection
	// queues statements of different collections instead of failing busy.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return newSQLBackend(ctx, db,
		`SELECT body FROM documents WHERE name = ?`,
		`INSERT INTO documents (name, body, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
	)
}

func newPostgresBackend(ctx context.Context, uri string) (*sqlBackend, error) {
	if uri == "" {
		return nil, errors.New("POSTGRES_URI is required for postgresql storage")
	}
	db, err := sql.Open("postgres", uri)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return newSQLBackend(ctx, db,
		`SELECT body FROM documents WHERE name = $1`,
		`INSERT INTO documents (name, body, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`,
	)
}

func newSQLBackend(ctx context.Context, db *sql.DB, loadQuery, saveQuery string) (*sqlBackend, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, createDocumentsTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create documents table: %w", err)
	}
	return &sqlBackend{db: db, loadQuery: loadQuery, saveQuery: saveQuery}, nil
}

func (b *sqlBackend) load(ctx context.Context, name string) ([]byte, bool, error) {
	var body string
	err := b.db.QueryRowContext(ctx, b.loadQuery, name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(body), true, nil
}

func (b *sqlBackend) save(ctx context.Context, name string, data []byte) error {
	_, err := b.db.ExecContext(ctx, b.saveQuery, name, string(data), time.Now().UTC().Format(time.RFC3339))
	return err
}

func (b *sqlBackend) close() error {
	return b.db.Close()
}
