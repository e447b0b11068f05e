// Package ticket creates support tickets for escalated sessions. Ticket
// creation is idempotent: a deterministic correlation id derived from
// the session and the escalation trigger dedupes retried requests.
package ticket

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrConflict indicates the correlation id already belongs to an
	// escalation with a different trigger. The existing ticket is
	// returned alongside it.
	ErrConflict = errors.New("ticket: correlation id conflict")

	// ErrUnavailable indicates a transient backend failure; the caller
	// may retry the same request safely
	ErrUnavailable = errors.New("ticket: backend unavailable")
)

// Ticket types mirror the support desk categories
const (
	TypeInstallation = "Installation"
	TypeMaintenance  = "Maintenance"
	TypePerformance  = "Performance"
	TypeBilling      = "Billing"
	TypeTechnical    = "Technical"
)

// Ticket statuses
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusResolved   = "resolved"
)

// Ticket is one support ticket
type Ticket struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	SessionID     string    `json:"session_id"`
	CustomerID    string    `json:"customer_id"`
	Type          string    `json:"type"`
	Subject       string    `json:"subject"`
	Description   string    `json:"description"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// Request describes an escalation to turn into a ticket
type Request struct {
	SessionID   string
	CustomerID  string
	Trigger     string
	Type        string
	Subject     string
	Description string
}

// Validate checks the request fields
func (r Request) Validate() error {
	if r.SessionID == "" {
		return errors.New("session id is required")
	}
	if r.CustomerID == "" {
		return errors.New("customer id is required")
	}
	if strings.TrimSpace(r.Trigger) == "" {
		return errors.New("escalation trigger is required")
	}
	if r.Subject == "" {
		return errors.New("subject is required")
	}
	switch r.Type {
	case TypeInstallation, TypeMaintenance, TypePerformance, TypeBilling, TypeTechnical:
	default:
		return fmt.Errorf("unknown ticket type: %s", r.Type)
	}
	return nil
}

// CorrelationID derives the deterministic dedupe key for an escalation.
// The same session and trigger always produce the same id, so a retried
// escalation maps onto the ticket the first attempt created.
func CorrelationID(sessionID, trigger string) string {
	h := sha256.New()
	h.Write([]byte(sessionID))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(trigger)))
	return hex.EncodeToString(h.Sum(nil))
}
