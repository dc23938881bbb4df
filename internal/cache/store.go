package cache

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the persistent cache tier: a single SQLite key/value table with
// expiration timestamps. It survives process restarts; the in-memory tier
// reads through to it on a miss and writes through to it on every Set.
type Store struct {
	db *sql.DB
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key              TEXT PRIMARY KEY,
	payload          BLOB NOT NULL,
	created_at       INTEGER NOT NULL,
	last_accessed_at INTEGER NOT NULL,
	access_count     INTEGER NOT NULL DEFAULT 0,
	ttl_seconds      INTEGER NOT NULL DEFAULT 0,
	expires_at       INTEGER,
	size_bytes       INTEGER NOT NULL,
	category         TEXT NOT NULL,
	checksum         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_category ON cache_entries(category);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_at);
`

// OpenStore opens (creating if needed) the SQLite store at path. Use
// ":memory:" for tests.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}
	// The store is guarded by the cache's lock; a single connection keeps
	// modernc's file locking out of the picture.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache store schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Put upserts one entry.
func (s *Store) Put(e *Entry) error {
	var expires sql.NullInt64
	if !e.ExpiresAt.IsZero() {
		expires = sql.NullInt64{Int64: e.ExpiresAt.Unix(), Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO cache_entries
		(key, payload, created_at, last_accessed_at, access_count, ttl_seconds, expires_at, size_bytes, category, checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Key, e.Payload, e.CreatedAt.Unix(), e.LastAccessedAt.Unix(), e.AccessCount,
		e.TTLSeconds, expires, e.SizeBytes, e.Category, e.Checksum,
	)
	if err != nil {
		return fmt.Errorf("store put %s: %w", e.Key, err)
	}
	return nil
}

// Get returns the stored entry regardless of expiration, or nil when the key
// is absent. Expiry policy belongs to the caller so that stale fallback
// reads keep working.
func (s *Store) Get(key string) (*Entry, error) {
	row := s.db.QueryRow(`
		SELECT key, payload, created_at, last_accessed_at, access_count, ttl_seconds, expires_at, size_bytes, category, checksum
		FROM cache_entries WHERE key = ?`, key)

	var e Entry
	var created, accessed int64
	var expires sql.NullInt64
	err := row.Scan(&e.Key, &e.Payload, &created, &accessed, &e.AccessCount,
		&e.TTLSeconds, &expires, &e.SizeBytes, &e.Category, &e.Checksum)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store get %s: %w", key, err)
	}
	e.CreatedAt = time.Unix(created, 0).UTC()
	e.LastAccessedAt = time.Unix(accessed, 0).UTC()
	if expires.Valid {
		e.ExpiresAt = time.Unix(expires.Int64, 0).UTC()
	}
	return &e, nil
}

// Delete removes one key. Missing keys are not an error.
func (s *Store) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("store delete %s: %w", key, err)
	}
	return nil
}

// DeleteCategory removes all entries in a category and returns the count.
func (s *Store) DeleteCategory(category string) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM cache_entries WHERE category = ?`, category)
	if err != nil {
		return 0, fmt.Errorf("store delete category %s: %w", category, err)
	}
	return res.RowsAffected()
}

// DeletePattern removes all entries whose key contains the substring.
func (s *Store) DeletePattern(pattern string) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM cache_entries WHERE instr(key, ?) > 0`, pattern)
	if err != nil {
		return 0, fmt.Errorf("store delete pattern %s: %w", pattern, err)
	}
	return res.RowsAffected()
}

// DeleteAll empties the table and returns the count.
func (s *Store) DeleteAll() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM cache_entries`)
	if err != nil {
		return 0, fmt.Errorf("store delete all: %w", err)
	}
	return res.RowsAffected()
}

// DeleteExpired removes all rows whose expires_at has passed.
func (s *Store) DeleteExpired(now time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM cache_entries WHERE expires_at IS NOT NULL AND expires_at < ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("store delete expired: %w", err)
	}
	return res.RowsAffected()
}

// Touch persists read-side bookkeeping for a key.
func (s *Store) Touch(key string, accessCount uint64, lastAccessed time.Time) error {
	_, err := s.db.Exec(`UPDATE cache_entries SET access_count = ?, last_accessed_at = ? WHERE key = ?`,
		accessCount, lastAccessed.Unix(), key)
	if err != nil {
		return fmt.Errorf("store touch %s: %w", key, err)
	}
	return nil
}
