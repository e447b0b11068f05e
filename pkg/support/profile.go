// Package support holds the solar desk domain: customer profiles,
// warranty and performance analysis, and the tools the agent can call
// during a session.
package support

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// ErrProfileNotFound indicates no profile matches the lookup
var ErrProfileNotFound = errors.New("support: customer profile not found")

// Purchase is one line of a customer's purchase history
type Purchase struct {
	PurchaseID   string    `json:"purchase_id"`
	ProductName  string    `json:"product_name"`
	ProductType  string    `json:"product_type"`
	Price        float64   `json:"price"`
	Quantity     int       `json:"quantity"`
	PurchaseDate time.Time `json:"purchase_date"`
}

// Preferences holds customer contact preferences
type Preferences struct {
	ContactPreference   string `json:"contact_preference"`
	Newsletter          bool   `json:"newsletter"`
	MaintenanceReminder bool   `json:"maintenance_reminder"`
}

// Profile is one customer record
type Profile struct {
	CustomerID      string      `json:"customer_id"`
	Name            string      `json:"name"`
	Email           string      `json:"email"`
	Country         string      `json:"country"`
	State           string      `json:"state"`
	PurchaseHistory []Purchase  `json:"purchase_history"`
	Preferences     Preferences `json:"preferences"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// ProfileStore persists customer profiles in sqlite. Purchase history
// and preferences are stored as JSON columns; lookups only ever go
// through customer id or email.
type ProfileStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewProfileStore opens the profile database at path
func NewProfileStore(path string, logger zerolog.Logger) (*ProfileStore, error) {
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
		CREATE TABLE IF NOT EXISTS profiles (
			customer_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			country TEXT NOT NULL,
			state TEXT NOT NULL,
			purchase_history TEXT NOT NULL,
			preferences TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_profiles_email ON profiles(email);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &ProfileStore{db: db, logger: logger}, nil
}

// Save upserts a profile
func (ps *ProfileStore) Save(ctx context.Context, p *Profile) error {
	if p.CustomerID == "" {
		return errors.New("customer id is required")
	}
	if p.Email == "" {
		return errors.New("email is required")
	}

	purchases, err := json.Marshal(p.PurchaseHistory)
	if err != nil {
		return fmt.Errorf("failed to marshal purchase history: %w", err)
	}
	prefs, err := json.Marshal(p.Preferences)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}

	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err = ps.db.ExecContext(ctx, `
		INSERT INTO profiles (customer_id, name, email, country, state, purchase_history, preferences, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (customer_id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			country = excluded.country,
			state = excluded.state,
			purchase_history = excluded.purchase_history,
			preferences = excluded.preferences,
			updated_at = excluded.updated_at
	`, p.CustomerID, p.Name, p.Email, p.Country, p.State, string(purchases), string(prefs), p.CreatedAt.UnixNano(), p.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

func (ps *ProfileStore) scanProfile(row *sql.Row) (*Profile, error) {
	var p Profile
	var purchases, prefs string
	var createdAt, updatedAt int64
	err := row.Scan(&p.CustomerID, &p.Name, &p.Email, &p.Country, &p.State, &purchases, &prefs, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	if err := json.Unmarshal([]byte(purchases), &p.PurchaseHistory); err != nil {
		return nil, fmt.Errorf("failed to unmarshal purchase history: %w", err)
	}
	if err := json.Unmarshal([]byte(prefs), &p.Preferences); err != nil {
		return nil, fmt.Errorf("failed to unmarshal preferences: %w", err)
	}
	p.CreatedAt = time.Unix(0, createdAt)
	p.UpdatedAt = time.Unix(0, updatedAt)
	return &p, nil
}

const profileColumns = "customer_id, name, email, country, state, purchase_history, preferences, created_at, updated_at"

// GetByID fetches a profile by customer id
func (ps *ProfileStore) GetByID(ctx context.Context, customerID string) (*Profile, error) {
	row := ps.db.QueryRowContext(ctx,
		"SELECT "+profileColumns+" FROM profiles WHERE customer_id = ?", customerID)
	return ps.scanProfile(row)
}

// GetByEmail fetches a profile by email
func (ps *ProfileStore) GetByEmail(ctx context.Context, email string) (*Profile, error) {
	row := ps.db.QueryRowContext(ctx,
		"SELECT "+profileColumns+" FROM profiles WHERE email = ?", email)
	return ps.scanProfile(row)
}

// Lookup resolves a profile by customer id or email; exactly one of the
// two must be set.
func (ps *ProfileStore) Lookup(ctx context.Context, customerID, email string) (*Profile, error) {
	switch {
	case customerID != "":
		return ps.GetByID(ctx, customerID)
	case email != "":
		return ps.GetByEmail(ctx, email)
	default:
		return nil, errors.New("either customer_id or email must be provided")
	}
}

// updatableFields are the profile fields a support tool may change
var updatableFields = map[string]bool{
	"name":                 true,
	"email":                true,
	"country":              true,
	"state":                true,
	"contact_preference":   true,
	"newsletter":           true,
	"maintenance_reminder": true,
}

// ApplyUpdates applies a partial update to the profile. Unknown fields
// are rejected; purchase history is never updatable through this path.
func (ps *ProfileStore) ApplyUpdates(ctx context.Context, customerID string, updates map[string]interface{}) (*Profile, error) {
	if len(updates) == 0 {
		return nil, errors.New("no updates provided")
	}
	for field := range updates {
		if !updatableFields[field] {
			return nil, fmt.Errorf("field %s is not updatable", field)
		}
	}

	p, err := ps.GetByID(ctx, customerID)
	if err != nil {
		return nil, err
	}

	for field, value := range updates {
		switch field {
		case "name":
			if s, ok := value.(string); ok {
				p.Name = s
			}
		case "email":
			if s, ok := value.(string); ok {
				p.Email = s
			}
		case "country":
			if s, ok := value.(string); ok {
				p.Country = s
			}
		case "state":
			if s, ok := value.(string); ok {
				p.State = s
			}
		case "contact_preference":
			if s, ok := value.(string); ok {
				p.Preferences.ContactPreference = s
			}
		case "newsletter":
			if b, ok := value.(bool); ok {
				p.Preferences.Newsletter = b
			}
		case "maintenance_reminder":
			if b, ok := value.(bool); ok {
				p.Preferences.MaintenanceReminder = b
			}
		}
	}

	if err := ps.Save(ctx, p); err != nil {
		return nil, err
	}

	ps.logger.Debug().Str("customer", customerID).Msg("Profile updated")
	return p, nil
}

// Count returns the number of stored profiles
func (ps *ProfileStore) Count(ctx context.Context) (int, error) {
	var n int
	err := ps.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM profiles").Scan(&n)
	return n, err
}

// Close closes the underlying database
func (ps *ProfileStore) Close() error {
	return ps.db.Close()
}
