// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/rigrun-stream/internal/util"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS request_cache (
    fingerprint   TEXT PRIMARY KEY,
    preset        TEXT NOT NULL,
    url           TEXT NOT NULL,
    model         TEXT NOT NULL,
    key_fragment  TEXT NOT NULL,
    success       INTEGER NOT NULL,
    created_at    INTEGER NOT NULL,  -- Unix ms
    updated_at    INTEGER NOT NULL,
    last_accessed INTEGER NOT NULL,
    access_count  INTEGER NOT NULL,
    seq           INTEGER NOT NULL
) WITHOUT ROWID;

CREATE INDEX IF NOT EXISTS idx_request_cache_last_accessed ON request_cache(last_accessed);
`

// SQLiteStore persists entries in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the cache database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := util.EnsurePrivateDir(dir); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fingerprint, preset, url, model, key_fragment, success,
		       created_at, updated_at, last_accessed, access_count, seq
		FROM request_cache`)
	if err != nil {
		return nil, fmt.Errorf("load cache entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                              Entry
			success                        int
			created, updated, lastAccessed int64
		)
		if err := rows.Scan(&e.Fingerprint, &e.Preset, &e.URL, &e.Model, &e.KeyFragment, &success,
			&created, &updated, &lastAccessed, &e.AccessCount, &e.Seq); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		e.Success = success != 0
		e.CreatedAt = time.UnixMilli(created)
		e.UpdatedAt = time.UnixMilli(updated)
		e.LastAccessed = time.UnixMilli(lastAccessed)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Put(ctx context.Context, e Entry) error {
	success := 0
	if e.Success {
		success = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO request_cache (fingerprint, preset, url, model, key_fragment, success,
		                           created_at, updated_at, last_accessed, access_count, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
		    success = excluded.success,
		    updated_at = excluded.updated_at,
		    last_accessed = excluded.last_accessed,
		    access_count = excluded.access_count`,
		e.Fingerprint, e.Preset, e.URL, e.Model, e.KeyFragment, success,
		e.CreatedAt.UnixMilli(), e.UpdatedAt.UnixMilli(), e.LastAccessed.UnixMilli(), e.AccessCount, e.Seq)
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, fingerprints ...string) error {
	if len(fingerprints) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(fingerprints)), ",")
	args := make([]any, len(fingerprints))
	for i, fp := range fingerprints {
		args[i] = fp
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM request_cache WHERE fingerprint IN ("+placeholders+")", args...); err != nil {
		return fmt.Errorf("delete cache entries: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM request_cache"); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}
