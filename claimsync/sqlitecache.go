// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package claimsync

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteCache is the default CacheStore implementation, backed by a single
// key/value table in a device-local SQLite database. It emulates the quota
// behavior of platform storage: a value larger than MaxValueBytes is refused
// without touching the previously stored value.
type SQLiteCache struct {
	db *sql.DB

	// MaxValueBytes caps the serialized size of one stored value.
	// 0 means unlimited.
	MaxValueBytes int

	// InlineAttachmentLimit is the per-record serialized size above which
	// inline attachment bytes are elided before storage. 0 disables elision.
	InlineAttachmentLimit int

	mu sync.Mutex
}

// NewSQLiteCache opens (or creates) the cache table on the given database.
func NewSQLiteCache(db *sql.DB) (*SQLiteCache, error) {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS _cache_kv (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache table: %w", err)
	}
	return &SQLiteCache{db: db}, nil
}

// Load reads and self-heals the record array stored under key.
// It never fails: missing keys and unparseable content yield an empty array.
func (c *SQLiteCache) Load(key string) []Record {
	raw, ok := c.GetRaw(key)
	if !ok {
		return []Record{}
	}
	return decodeRecords(raw)
}

// Save overwrites the array stored under key. On quota overflow it returns a
// StorageQuotaError and the previously stored value is untouched.
func (c *SQLiteCache) Save(key string, records []Record) error {
	value, err := encodeRecords(records, c.InlineAttachmentLimit)
	if err != nil {
		return fmt.Errorf("failed to encode records for %q: %w", key, err)
	}
	return c.SetRaw(key, value)
}

// Append reads the current array, pushes one record and writes the result.
// On write failure the pre-append length is returned and storage is left
// untouched, so an unrelated caller's next Load sees the prior state.
func (c *SQLiteCache) Append(key string, rec Record) (int, error) {
	current := c.Load(key)
	next := append(append([]Record{}, current...), rec)
	if err := c.Save(key, next); err != nil {
		return len(current), err
	}
	return len(next), nil
}

// GetRaw returns the stored value verbatim.
func (c *SQLiteCache) GetRaw(key string) (string, bool) {
	var value string
	err := c.db.QueryRow(`SELECT value FROM _cache_kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	if err != nil {
		// Treat a broken read like missing content; Load self-heals to [].
		return "", false
	}
	return value, true
}

// SetRaw stores a value verbatim, enforcing the quota. The write is a single
// upsert statement, so a refused or failed write never leaves a partial value.
func (c *SQLiteCache) SetRaw(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.MaxValueBytes > 0 && len(value) > c.MaxValueBytes {
		return &StorageQuotaError{Key: key, Size: len(value)}
	}
	_, err := c.db.Exec(`
		INSERT INTO _cache_kv (key, value, updated_at)
		VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write cache key %q: %w", key, err)
	}
	return nil
}
