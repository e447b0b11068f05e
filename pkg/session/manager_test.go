package session

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestManager(t *testing.T) *Manager {
	t.Helper()

	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	return m
}

func TestNewManagerEmptyDir(t *testing.T) {
	m, err := NewManager("")
	assert.Error(t, err)
	assert.Nil(t, m)
}

func TestCreateAndGet(t *testing.T) {
	m := createTestManager(t)

	s, err := m.Create("cust-1")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, s.State)
	assert.Equal(t, "cust-1", s.CustomerID)
	assert.False(t, s.CreatedAt.IsZero())

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestCreateRequiresCustomer(t *testing.T) {
	m := createTestManager(t)

	_, err := m.Create("")
	assert.Error(t, err)
}

func TestGetUnknownSession(t *testing.T) {
	m := createTestManager(t)

	_, err := m.Get("sess_doesnotexist00")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetRejectsPathTraversal(t *testing.T) {
	m := createTestManager(t)

	for _, id := range []string{"", "../etc/passwd", "a/b", "a\\b", "bad\x00id"} {
		_, err := m.Get(id)
		assert.Error(t, err, "id %q", id)
	}
}

func TestTransitionEnforcesStateMachine(t *testing.T) {
	m := createTestManager(t)
	s, err := m.Create("cust-1")
	require.NoError(t, err)

	require.NoError(t, m.Transition(s, StateAwaitingModel))
	require.NoError(t, m.Transition(s, StateDispatchingTools))
	require.NoError(t, m.Transition(s, StateApplyingGuardrail))
	require.NoError(t, m.Transition(s, StateResponding))
	require.NoError(t, m.Transition(s, StateIdle))

	// Skipping states is rejected
	assert.Error(t, m.Transition(s, StateResponding))
	assert.Equal(t, StateIdle, s.State)
}

func TestTransitionOnClosedSession(t *testing.T) {
	m := createTestManager(t)
	s, err := m.Create("cust-1")
	require.NoError(t, err)

	require.NoError(t, m.Close(s.ID))
	assert.ErrorIs(t, m.Transition(s, StateAwaitingModel), ErrClosed)
}

func TestCloseIsIdempotent(t *testing.T) {
	m := createTestManager(t)
	s, err := m.Create("cust-1")
	require.NoError(t, err)

	require.NoError(t, m.Close(s.ID))
	require.NoError(t, m.Close(s.ID))
	assert.True(t, s.Closed())
}

func TestAppendAndLoadTurns(t *testing.T) {
	m := createTestManager(t)
	s, err := m.Create("cust-1")
	require.NoError(t, err)

	turn := Turn{
		Index:       0,
		UserMessage: "my inverter is blinking red",
		Response:    "That indicates a ground fault; I have escalated this.",
		Outcome:     OutcomeEscalated,
		Invocations: []ToolInvocation{
			{Seq: 1, Tool: "get_customer_profile"},
			{Seq: 2, Tool: "create_support_ticket"},
		},
		StartedAt:   time.Now(),
		CompletedAt: time.Now(),
	}
	require.NoError(t, m.AppendTurn(s, turn))
	require.Len(t, s.Turns, 1)

	loaded, err := m.LoadTurns(s.ID)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, turn.UserMessage, loaded[0].UserMessage)
	assert.Len(t, loaded[0].Invocations, 2)
	assert.Equal(t, uint64(1), loaded[0].Invocations[0].Seq)
}

func TestLoadTurnsSkipsCorruptLines(t *testing.T) {
	m := createTestManager(t)
	s, err := m.Create("cust-1")
	require.NoError(t, err)

	require.NoError(t, m.AppendTurn(s, Turn{Index: 0, UserMessage: "hi", Outcome: OutcomeResponded}))

	// Corrupt the log then append another valid turn
	path := filepath.Join(m.sessionsDir, s.ID+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	f.Close()

	require.NoError(t, m.AppendTurn(s, Turn{Index: 1, UserMessage: "still there?", Outcome: OutcomeResponded}))

	loaded, err := m.LoadTurns(s.ID)
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
}

func TestRemove(t *testing.T) {
	m := createTestManager(t)
	s, err := m.Create("cust-1")
	require.NoError(t, err)

	require.NoError(t, m.Remove(s.ID))

	_, err = m.Get(s.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, statErr := os.Stat(filepath.Join(m.sessionsDir, s.ID+".jsonl"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSweeperClosesIdleSessions(t *testing.T) {
	m := createTestManager(t)

	idle, err := m.Create("cust-1")
	require.NoError(t, err)
	idle.LastActivity = time.Now().Add(-2 * time.Hour)

	fresh, err := m.Create("cust-2")
	require.NoError(t, err)

	var closedIDs []string
	sweeper := NewSweeper(m, 30*time.Minute, func(id string) {
		closedIDs = append(closedIDs, id)
	})
	sweeper.SweepNow()

	assert.True(t, idle.Closed())
	assert.False(t, fresh.Closed())
	assert.Equal(t, []string{idle.ID}, closedIDs)
}

func TestSweeperIgnoresBusySessions(t *testing.T) {
	m := createTestManager(t)

	s, err := m.Create("cust-1")
	require.NoError(t, err)
	require.NoError(t, m.Transition(s, StateAwaitingModel))
	s.LastActivity = time.Now().Add(-2 * time.Hour)

	sweeper := NewSweeper(m, 30*time.Minute, nil)
	sweeper.SweepNow()

	assert.False(t, s.Closed())
}

func TestCloseIfIdle(t *testing.T) {
	m := createTestManager(t)

	s, err := m.Create("cust-1")
	require.NoError(t, err)

	// Fresh session stays open
	closed, err := m.CloseIfIdle(s.ID, 30*time.Minute)
	require.NoError(t, err)
	assert.False(t, closed)
	assert.False(t, s.Closed())

	s.LastActivity = time.Now().Add(-2 * time.Hour)
	closed, err = m.CloseIfIdle(s.ID, 30*time.Minute)
	require.NoError(t, err)
	assert.True(t, closed)
	assert.True(t, s.Closed())

	// Closing again reports nothing to do
	closed, err = m.CloseIfIdle(s.ID, 30*time.Minute)
	require.NoError(t, err)
	assert.False(t, closed)
}

func TestConcurrentStateAccess(t *testing.T) {
	m := createTestManager(t)

	s, err := m.Create("cust-1")
	require.NoError(t, err)

	// Turn-lane writes racing sweeper/gateway reads; run under -race
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = m.Transition(s, StateAwaitingModel)
			m.Reset(s)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = s.Closed()
			_ = s.CurrentState()
			_ = s.LastActive()
			_ = s.TurnCount()
			_ = s.TurnHistory()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_, _ = m.CloseIfIdle(s.ID, time.Hour)
		}
	}()
	wg.Wait()

	assert.Equal(t, StateIdle, s.CurrentState())
}

func TestSweeperStartRequiresTimeout(t *testing.T) {
	m := createTestManager(t)
	sweeper := NewSweeper(m, 0, nil)
	assert.Error(t, sweeper.Start())
}
