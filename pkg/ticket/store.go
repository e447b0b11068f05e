package ticket

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/sundesk/sundesk/internal/observability"
)

// Gateway is the escalation surface the orchestrator talks to
type Gateway interface {
	// Escalate creates a ticket for the request, or returns the
	// existing ticket when the same escalation was already processed.
	// A trigger conflict returns the existing ticket with ErrConflict.
	Escalate(ctx context.Context, req Request) (*Ticket, error)

	// Get fetches a ticket by id
	Get(ctx context.Context, id string) (*Ticket, error)

	// ListByCustomer lists a customer's tickets, newest first
	ListByCustomer(ctx context.Context, customerID string) ([]Ticket, error)

	// UpdateStatus transitions a ticket's status
	UpdateStatus(ctx context.Context, id, status string) error
}

// Store is the sqlite-backed Gateway implementation
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore opens the ticket database at path
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
		CREATE TABLE IF NOT EXISTS tickets (
			id TEXT PRIMARY KEY,
			correlation_id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			escalation_trigger TEXT NOT NULL,
			type TEXT NOT NULL,
			subject TEXT NOT NULL,
			description TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tickets_customer ON tickets(customer_id, created_at DESC);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Escalate creates the ticket for the request. A repeat of an already
// processed escalation returns the original ticket; a correlation id
// collision with a different trigger logs the conflict and returns the
// existing ticket alongside ErrConflict.
func (s *Store) Escalate(ctx context.Context, req Request) (*Ticket, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// The trigger is stored and compared in the same normalized form
	// CorrelationID hashes, so retries that differ only in surrounding
	// whitespace dedupe instead of colliding
	trigger := strings.TrimSpace(req.Trigger)
	correlationID := CorrelationID(req.SessionID, req.Trigger)

	// Check for a prior escalation under the same correlation id
	existing, stored, err := s.getByCorrelation(ctx, correlationID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if existing != nil {
		if stored != trigger {
			return s.conflict(existing, correlationID)
		}
		observability.RecordEscalation("deduplicated")
		s.logger.Debug().
			Str("ticket", existing.ID).
			Str("correlation", correlationID).
			Msg("Escalation deduplicated")
		return existing, nil
	}

	t := &Ticket{
		ID:            uuid.NewString(),
		CorrelationID: correlationID,
		SessionID:     req.SessionID,
		CustomerID:    req.CustomerID,
		Type:          req.Type,
		Subject:       req.Subject,
		Description:   req.Description,
		Status:        StatusOpen,
		CreatedAt:     time.Now(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tickets (id, correlation_id, session_id, customer_id, escalation_trigger, type, subject, description, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.CorrelationID, t.SessionID, t.CustomerID, trigger, t.Type, t.Subject, t.Description, t.Status, t.CreatedAt.UnixNano())
	if err != nil {
		// A concurrent escalation may have won the insert race
		if prior, priorTrigger, lookupErr := s.getByCorrelation(ctx, correlationID); lookupErr == nil && prior != nil {
			if priorTrigger != trigger {
				return s.conflict(prior, correlationID)
			}
			observability.RecordEscalation("deduplicated")
			return prior, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	observability.RecordEscalation("created")
	s.logger.Info().
		Str("ticket", t.ID).
		Str("customer", t.CustomerID).
		Str("type", t.Type).
		Msg("Ticket created")

	return t, nil
}

func (s *Store) conflict(existing *Ticket, correlationID string) (*Ticket, error) {
	observability.RecordEscalationConflict()
	s.logger.Warn().
		Str("ticket", existing.ID).
		Str("correlation", correlationID).
		Msg("Escalation trigger conflict, returning existing ticket")
	return existing, fmt.Errorf("%w: correlation %s", ErrConflict, correlationID)
}

func (s *Store) getByCorrelation(ctx context.Context, correlationID string) (*Ticket, string, error) {
	var t Ticket
	var trigger string
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, correlation_id, session_id, customer_id, escalation_trigger, type, subject, description, status, created_at
		FROM tickets WHERE correlation_id = ?
	`, correlationID).Scan(&t.ID, &t.CorrelationID, &t.SessionID, &t.CustomerID, &trigger, &t.Type, &t.Subject, &t.Description, &t.Status, &createdAt)
	if err != nil {
		return nil, "", err
	}
	t.CreatedAt = time.Unix(0, createdAt)
	return &t, trigger, nil
}

// Get fetches a ticket by id
func (s *Store) Get(ctx context.Context, id string) (*Ticket, error) {
	var t Ticket
	var trigger string
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, correlation_id, session_id, customer_id, escalation_trigger, type, subject, description, status, created_at
		FROM tickets WHERE id = ?
	`, id).Scan(&t.ID, &t.CorrelationID, &t.SessionID, &t.CustomerID, &trigger, &t.Type, &t.Subject, &t.Description, &t.Status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ticket not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	t.CreatedAt = time.Unix(0, createdAt)
	return &t, nil
}

// ListByCustomer lists a customer's tickets, newest first
func (s *Store) ListByCustomer(ctx context.Context, customerID string) ([]Ticket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, correlation_id, session_id, customer_id, type, subject, description, status, created_at
		FROM tickets
		WHERE customer_id = ?
		ORDER BY created_at DESC
	`, customerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var tickets []Ticket
	for rows.Next() {
		var t Ticket
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.CorrelationID, &t.SessionID, &t.CustomerID, &t.Type, &t.Subject, &t.Description, &t.Status, &createdAt); err != nil {
			return nil, err
		}
		t.CreatedAt = time.Unix(0, createdAt)
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// UpdateStatus transitions a ticket's status
func (s *Store) UpdateStatus(ctx context.Context, id, status string) error {
	switch status {
	case StatusOpen, StatusInProgress, StatusResolved:
	default:
		return fmt.Errorf("unknown ticket status: %s", status)
	}

	res, err := s.db.ExecContext(ctx, "UPDATE tickets SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("ticket not found: %s", id)
	}
	return nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}
