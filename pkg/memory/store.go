// Package memory persists customer facts across sessions. Facts are
// small key/value observations the agent records during conversations,
// keyed by customer so a later session can recall them.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/sundesk/sundesk/internal/observability"
)

// ErrNotFound indicates no fact exists for the requested key
var ErrNotFound = errors.New("memory: fact not found")

// Fact is one remembered observation about a customer
type Fact struct {
	CustomerID string    `json:"customer_id"`
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store is the sqlite-backed fact store. Writes for the same customer
// are serialized so a read issued after a write in the same session
// observes the written value.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore opens the fact database at path
func NewStore(path string, logger zerolog.Logger) (*Store, error) {
	observability.EnsureRegistered()

	if path == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS facts (
			customer_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (customer_id, key)
		);
		CREATE INDEX IF NOT EXISTS idx_facts_customer ON facts(customer_id, updated_at DESC);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// customerLock returns the per-customer write lock, creating it on
// first use.
func (s *Store) customerLock(customerID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[customerID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[customerID] = lock
	}
	return lock
}

// Remember upserts a fact for the customer. An existing fact with the
// same key is overwritten and its timestamp refreshed.
func (s *Store) Remember(ctx context.Context, customerID, key, value string) error {
	if customerID == "" {
		return errors.New("customer id is required")
	}
	if key == "" {
		return errors.New("fact key is required")
	}

	lock := s.customerLock(customerID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	defer func() { observability.RecordMemoryWrite(time.Since(start)) }()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO facts (customer_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (customer_id, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, customerID, key, value, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to store fact: %w", err)
	}

	s.logger.Debug().
		Str("customer", customerID).
		Str("key", key).
		Msg("Fact stored")

	return nil
}

// Recall fetches a single fact by key
func (s *Store) Recall(ctx context.Context, customerID, key string) (*Fact, error) {
	start := time.Now()
	defer func() { observability.RecordMemoryRead(time.Since(start)) }()

	var f Fact
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT customer_id, key, value, updated_at
		FROM facts
		WHERE customer_id = ? AND key = ?
	`, customerID, key).Scan(&f.CustomerID, &f.Key, &f.Value, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read fact: %w", err)
	}
	f.UpdatedAt = time.Unix(0, updatedAt)
	return &f, nil
}

// Facts lists the customer's facts, most recently updated first,
// truncated to limit. A limit of zero or less returns all facts.
func (s *Store) Facts(ctx context.Context, customerID string, limit int) ([]Fact, error) {
	start := time.Now()
	defer func() { observability.RecordMemoryRead(time.Since(start)) }()

	query := `
		SELECT customer_id, key, value, updated_at
		FROM facts
		WHERE customer_id = ?
		ORDER BY updated_at DESC
	`
	args := []interface{}{customerID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list facts: %w", err)
	}
	defer rows.Close()

	var facts []Fact
	for rows.Next() {
		var f Fact
		var updatedAt int64
		if err := rows.Scan(&f.CustomerID, &f.Key, &f.Value, &updatedAt); err != nil {
			return nil, err
		}
		f.UpdatedAt = time.Unix(0, updatedAt)
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// Forget removes a fact. Removing a missing fact is not an error.
func (s *Store) Forget(ctx context.Context, customerID, key string) error {
	lock := s.customerLock(customerID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	defer func() { observability.RecordMemoryWrite(time.Since(start)) }()

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM facts WHERE customer_id = ? AND key = ?",
		customerID, key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete fact: %w", err)
	}
	return nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}
