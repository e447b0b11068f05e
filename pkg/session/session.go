// Package session tracks support conversations. Each session belongs to
// one customer and moves through a fixed state machine per turn; closed
// sessions reject further input. Turn records persist as JSONL so a
// restarted daemon can replay history.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// States a session moves through. A turn advances Idle through the
// intermediate states and back to Idle; Closed is terminal.
type State string

const (
	StateIdle              = State("idle")
	StateAwaitingModel     = State("awaiting_model")
	StateDispatchingTools  = State("dispatching_tools")
	StateApplyingGuardrail = State("applying_guardrail")
	StateResponding        = State("responding")
	StateClosed            = State("closed")
)

var (
	// ErrClosed indicates input arrived for a closed session
	ErrClosed = errors.New("session: session is closed")

	// ErrNotFound indicates the session id is unknown
	ErrNotFound = errors.New("session: not found")
)

// validTransitions enumerates the allowed state moves
var validTransitions = map[State][]State{
	StateIdle:              {StateAwaitingModel, StateClosed},
	StateAwaitingModel:     {StateDispatchingTools, StateApplyingGuardrail, StateIdle, StateClosed},
	StateDispatchingTools:  {StateAwaitingModel, StateApplyingGuardrail, StateClosed},
	StateApplyingGuardrail: {StateResponding, StateClosed},
	StateResponding:        {StateIdle, StateClosed},
	StateClosed:            {},
}

// CanTransition reports whether moving from one state to another is allowed
func CanTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ToolInvocation records one tool dispatch within a turn. Seq numbers
// are strictly increasing and gapless across the session.
type ToolInvocation struct {
	Seq      uint64                 `json:"seq"`
	Tool     string                 `json:"tool"`
	Input    map[string]interface{} `json:"input,omitempty"`
	Output   string                 `json:"output,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Duration time.Duration          `json:"duration_ns"`
}

// Turn outcomes
const (
	OutcomeResponded = "responded"
	OutcomeBlocked   = "blocked"
	OutcomeDegraded  = "degraded"
	OutcomeEscalated = "escalated"
)

// Turn is one user message and everything that happened answering it
type Turn struct {
	Index       int              `json:"index"`
	UserMessage string           `json:"user_message"`
	Response    string           `json:"response"`
	Outcome     string           `json:"outcome"`
	Invocations []ToolInvocation `json:"invocations,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
}

// Session is one support conversation. State, LastActivity and Turns
// are written by the turn lane and read by the sweeper and gateway
// concurrently; mu guards them. Readers outside the session package go
// through the accessor methods.
type Session struct {
	ID           string    `json:"id"`
	CustomerID   string    `json:"customer_id"`
	State        State     `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Turns        []Turn    `json:"turns,omitempty"`

	mu      sync.Mutex
	nextSeq uint64
}

// NextSeq hands out the next tool invocation sequence number
func (s *Session) NextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	return s.nextSeq
}

// Closed reports whether the session is terminal
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State == StateClosed
}

// CurrentState returns the session's state
func (s *Session) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

// LastActive returns the time of the session's last state change or
// recorded turn
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LastActivity
}

// TurnCount returns the number of completed turns
func (s *Session) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Turns)
}

// TurnHistory returns a copy of the completed turns
func (s *Session) TurnHistory() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := make([]Turn, len(s.Turns))
	copy(turns, s.Turns)
	return turns
}

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewID generates a session id
func NewID() string {
	id, err := gonanoid.Generate(idAlphabet, 16)
	if err != nil {
		// gonanoid only fails when the platform RNG is broken
		panic(fmt.Sprintf("session id generation failed: %v", err))
	}
	return "sess_" + id
}
