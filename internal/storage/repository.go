// Package storage persists the small per-browser key-value space the shell
// keeps its session token in.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Repository is a key-value string store partitioned by client.
type Repository interface {
	Get(ctx context.Context, clientID, key string) (string, bool, error)
	Set(ctx context.Context, clientID, key, value string) error
	Delete(ctx context.Context, clientID, key string) error
	Ping(ctx context.Context) error
	Close() error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) Get(ctx context.Context, clientID, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM client_storage WHERE client_id = ? AND key = ?`,
		clientID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s for client %s: %w", key, clientID, err)
	}
	return value, true, nil
}

func (r *SQLiteRepository) Set(ctx context.Context, clientID, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO client_storage (client_id, key, value, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(client_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, clientID, key, value)
	if err != nil {
		return fmt.Errorf("set %s for client %s: %w", key, clientID, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, clientID, key string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM client_storage WHERE client_id = ? AND key = ?`,
		clientID, key)
	if err != nil {
		return fmt.Errorf("delete %s for client %s: %w", key, clientID, err)
	}
	return nil
}
