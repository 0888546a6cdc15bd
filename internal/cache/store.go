package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists cache entries as keyed records on local disk, namespaced
// by class. Same-key write races resolve last-writer-wins.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the SQLite database at dbPath
func NewStore(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	// Serialize access; concurrent fetch workers write through one handle
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS cache_entries (
			class TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			ttl_seconds INTEGER NOT NULL,
			PRIMARY KEY (class, key)
		);
		CREATE INDEX IF NOT EXISTS idx_cache_created ON cache_entries(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate cache schema: %w", err)
	}
	return nil
}

// Record is a stored cache entry with its freshness metadata
type Record struct {
	Value     []byte
	CreatedAt time.Time
	TTL       time.Duration
}

// Get returns the stored record for (class, key), if any
func (s *Store) Get(class Class, key string) (*Record, error) {
	row := s.db.QueryRow(
		`SELECT value, created_at, ttl_seconds FROM cache_entries WHERE class = ? AND key = ?`,
		string(class), key,
	)

	var value []byte
	var createdAt, ttlSeconds int64
	if err := row.Scan(&value, &createdAt, &ttlSeconds); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	return &Record{
		Value:     value,
		CreatedAt: time.Unix(createdAt, 0),
		TTL:       time.Duration(ttlSeconds) * time.Second,
	}, nil
}

// Put inserts or replaces the record for (class, key)
func (s *Store) Put(class Class, key string, value []byte, createdAt time.Time, ttl time.Duration) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO cache_entries (class, key, value, created_at, ttl_seconds) VALUES (?, ?, ?, ?, ?)`,
		string(class), key, value, createdAt.Unix(), int64(ttl.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Delete removes a single entry
func (s *Store) Delete(class Class, key string) error {
	_, err := s.db.Exec(`DELETE FROM cache_entries WHERE class = ? AND key = ?`, string(class), key)
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// DeleteClass removes all entries in a class
func (s *Store) DeleteClass(class Class) error {
	_, err := s.db.Exec(`DELETE FROM cache_entries WHERE class = ?`, string(class))
	if err != nil {
		return fmt.Errorf("failed to clear cache class %s: %w", class, err)
	}
	return nil
}

// DeleteAll removes every entry
func (s *Store) DeleteAll() error {
	if _, err := s.db.Exec(`DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// DeleteExpired removes entries whose TTL elapsed before now, returning the count
func (s *Store) DeleteExpired(now time.Time) (int64, error) {
	result, err := s.db.Exec(
		`DELETE FROM cache_entries WHERE created_at + ttl_seconds <= ?`,
		now.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep cache: %w", err)
	}
	return result.RowsAffected()
}

// CountByClass returns the number of stored entries per class
func (s *Store) CountByClass() (map[Class]int64, error) {
	rows, err := s.db.Query(`SELECT class, COUNT(*) FROM cache_entries GROUP BY class`)
	if err != nil {
		return nil, fmt.Errorf("failed to count cache entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[Class]int64)
	for rows.Next() {
		var class string
		var count int64
		if err := rows.Scan(&class, &count); err != nil {
			return nil, fmt.Errorf("failed to scan cache counts: %w", err)
		}
		counts[Class(class)] = count
	}
	return counts, rows.Err()
}

// Ping verifies the database is reachable
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}
