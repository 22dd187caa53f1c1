package queue

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists queue items to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLite queue store.
// The path should be a file path (e.g., "./queues.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS queue_items (
			queue TEXT NOT NULL,
			seq INTEGER NOT NULL,
			enqueued_at TEXT NOT NULL,
			data BLOB NOT NULL,
			PRIMARY KEY (queue, seq)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(queue string, seq int64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		INSERT INTO queue_items (queue, seq, enqueued_at, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(queue, seq) DO UPDATE SET
			enqueued_at = excluded.enqueued_at,
			data = excluded.data
	`, queue, seq, time.Now().UTC().Format(time.RFC3339Nano), data)
	if err != nil {
		return fmt.Errorf("put queue item: %w", err)
	}
	return nil
}

// Remove implements Store.
func (s *SQLiteStore) Remove(queue string, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.Exec(`
		DELETE FROM queue_items WHERE queue = ? AND seq = ?
	`, queue, seq); err != nil {
		return fmt.Errorf("remove queue item: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(queue string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT seq, enqueued_at, data
		FROM queue_items
		WHERE queue = ?
		ORDER BY seq
	`, queue)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec := Record{Queue: queue}
		var enqueuedAt string
		if err := rows.Scan(&rec.Seq, &enqueuedAt, &rec.Data); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		rec.EnqueuedAt, _ = time.Parse(time.RFC3339Nano, enqueuedAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue items: %w", err)
	}
	return records, nil
}

// Queues implements Store.
func (s *SQLiteStore) Queues() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`SELECT DISTINCT queue FROM queue_items ORDER BY queue`)
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan queue name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Clear implements Store.
func (s *SQLiteStore) Clear(queue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.Exec(`DELETE FROM queue_items WHERE queue = ?`, queue); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
