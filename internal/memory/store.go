// Package memory implements the durable (namespace, key) -> value store
// backing the memory_put/memory_get tool family (spec §4.5, §3).
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ainoobmenpg/cc-gateway/internal/models"
)

// ErrNotFound is returned when a (namespace, key) pair has no entry.
var ErrNotFound = errors.New("memory: not found")

// Store persists MemoryEntry values. It applies no namespace default:
// callers always pass the namespace, and the memory_put/memory_get tools
// use "default" when the model omits one.
type Store interface {
	Put(ctx context.Context, namespace, key, value string) error
	Get(ctx context.Context, namespace, key string) (models.MemoryEntry, error)
	Delete(ctx context.Context, namespace, key string) error
}

// SQLiteStore implements Store against the shared sqlite database's
// `memory` table (the same file the session store uses).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB (typically sessions.SQLiteStore.DB()).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Put(ctx context.Context, namespace, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		namespace, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("memory: put: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, namespace, key string) (models.MemoryEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT value, updated_at FROM memory WHERE namespace = ? AND key = ?`, namespace, key)
	var entry models.MemoryEntry
	entry.Namespace, entry.Key = namespace, key
	if err := row.Scan(&entry.Value, &entry.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return models.MemoryEntry{}, ErrNotFound
		}
		return models.MemoryEntry{}, fmt.Errorf("memory: get: %w", err)
	}
	return entry, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memory WHERE namespace = ? AND key = ?`, namespace, key)
	if err != nil {
		return fmt.Errorf("memory: delete: %w", err)
	}
	return nil
}
