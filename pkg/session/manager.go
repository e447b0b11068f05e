package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sundesk/sundesk/internal/observability"
)

// Manager owns the live session registry and the JSONL turn log
type Manager struct {
	sessionsDir string

	mu       sync.RWMutex
	sessions map[string]*Session

	locksMu    sync.Mutex
	writeLocks map[string]*sync.Mutex
}

// NewManager creates a session manager persisting under sessionsDir
func NewManager(sessionsDir string) (*Manager, error) {
	observability.EnsureRegistered()

	if sessionsDir == "" {
		return nil, fmt.Errorf("sessions directory is required")
	}
	if err := os.MkdirAll(sessionsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	m := &Manager{
		sessionsDir: sessionsDir,
		sessions:    make(map[string]*Session),
		writeLocks:  make(map[string]*sync.Mutex),
	}

	log.Info().Str("dir", sessionsDir).Msg("Session manager initialized")
	return m, nil
}

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("session id cannot contain '..'")
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("session id cannot contain path separators")
	}
	if strings.Contains(id, "\x00") {
		return fmt.Errorf("session id cannot contain null bytes")
	}
	return nil
}

func (m *Manager) sessionPath(id string) string {
	return filepath.Join(m.sessionsDir, id+".jsonl")
}

func (m *Manager) writeLock(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	lock, ok := m.writeLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.writeLocks[id] = lock
	}
	return lock
}

func (m *Manager) updateActiveSessionsMetric() {
	m.mu.RLock()
	active := 0
	for _, s := range m.sessions {
		if !s.Closed() {
			active++
		}
	}
	m.mu.RUnlock()
	observability.SetActiveSessions(active)
}

// Create starts a new idle session for the customer
func (m *Manager) Create(customerID string) (*Session, error) {
	if customerID == "" {
		return nil, fmt.Errorf("customer id is required")
	}

	now := time.Now()
	s := &Session{
		ID:           NewID(),
		CustomerID:   customerID,
		State:        StateIdle,
		CreatedAt:    now,
		LastActivity: now,
	}

	// Touch the turn log so a crash before the first turn still leaves
	// evidence of the session
	file, err := os.OpenFile(m.sessionPath(s.ID), os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create session file: %w", err)
	}
	file.Close()

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.updateActiveSessionsMetric()
	log.Info().Str("session", s.ID).Str("customer", customerID).Msg("Session created")
	return s, nil
}

// Get returns the live session for id
func (m *Manager) Get(id string) (*Session, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Transition moves the session to the next state, rejecting moves the
// state machine does not allow. A closed session only reports ErrClosed.
func (m *Manager) Transition(s *Session, to State) error {
	s.mu.Lock()
	if s.State == StateClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	if !CanTransition(s.State, to) {
		err := fmt.Errorf("invalid transition %s -> %s", s.State, to)
		s.mu.Unlock()
		return err
	}
	s.State = to
	s.LastActivity = time.Now()
	s.mu.Unlock()

	if to == StateClosed {
		m.updateActiveSessionsMetric()
	}
	return nil
}

// Reset returns a session to idle after an abandoned turn. It bypasses
// the per-turn transition checks; closed sessions stay closed.
func (m *Manager) Reset(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State == StateClosed {
		return
	}
	s.State = StateIdle
	s.LastActivity = time.Now()
}

// AppendTurn records a completed turn in memory and on disk
func (m *Manager) AppendTurn(s *Session, turn Turn) error {
	lock := m.writeLock(s.ID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	s.Turns = append(s.Turns, turn)
	s.LastActivity = time.Now()
	s.mu.Unlock()

	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	file, err := os.OpenFile(m.sessionPath(s.ID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write turn: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync session file: %w", err)
	}

	log.Debug().
		Str("session", s.ID).
		Int("turn", turn.Index).
		Str("outcome", turn.Outcome).
		Msg("Turn recorded")
	return nil
}

// LoadTurns replays the persisted turn log for a session. Corrupt lines
// are skipped rather than failing the whole load.
func (m *Manager) LoadTurns(id string) ([]Turn, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	file, err := os.Open(m.sessionPath(id))
	if os.IsNotExist(err) {
		return []Turn{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	var turns []Turn
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}

		var turn Turn
		if err := json.Unmarshal([]byte(line), &turn); err != nil {
			log.Warn().Str("session", id).Int("line", lineNum).Err(err).Msg("Skipping corrupt turn record")
			continue
		}
		turns = append(turns, turn)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	return turns, nil
}

// Close marks the session terminal. Closing twice is not an error.
func (m *Manager) Close(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.State == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.State = StateClosed
	s.LastActivity = time.Now()
	s.mu.Unlock()

	m.updateActiveSessionsMetric()
	log.Info().Str("session", id).Msg("Session closed")
	return nil
}

// CloseIfIdle closes the session only when it has sat in the idle state
// for at least idleFor. The check and the close happen under the
// session lock, so a turn starting concurrently either transitions
// first (and resets the idle clock) or finds the session closed.
func (m *Manager) CloseIfIdle(id string, idleFor time.Duration) (bool, error) {
	s, err := m.Get(id)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if s.State != StateIdle || time.Since(s.LastActivity) < idleFor {
		s.mu.Unlock()
		return false, nil
	}
	s.State = StateClosed
	s.LastActivity = time.Now()
	s.mu.Unlock()

	m.updateActiveSessionsMetric()
	log.Info().Str("session", id).Msg("Idle session closed")
	return true, nil
}

// List returns the ids of all live sessions
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Remove forgets a session entirely, deleting its turn log
func (m *Manager) Remove(id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	lock := m.writeLock(id)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	if err := os.Remove(m.sessionPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}

	m.locksMu.Lock()
	delete(m.writeLocks, id)
	m.locksMu.Unlock()

	m.updateActiveSessionsMetric()
	return nil
}
