package trace

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvents(t *testing.T, path string) []map[string]interface{} {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestEmitWritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	e, err := NewEmitter(path, 16)
	require.NoError(t, err)

	e.Emit(Event{
		SessionID: "sess-1",
		TurnIndex: 0,
		Seq:       1,
		Step:      StepTurnStart,
		Outcome:   "ok",
	})
	e.Emit(Event{
		SessionID: "sess-1",
		TurnIndex: 0,
		Seq:       2,
		Step:      StepToolDispatch,
		Outcome:   "ok",
		Detail:    map[string]interface{}{"tool": "get_customer_profile"},
	})
	require.NoError(t, e.Close())

	events := readEvents(t, path)
	require.Len(t, events, 2)
	assert.Equal(t, "turn_start", events[0]["step"])
	assert.Equal(t, float64(1), events[0]["seq"])
	assert.Equal(t, "tool_dispatch", events[1]["step"])
	detail, ok := events[1]["detail"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "get_customer_profile", detail["tool"])
}

func TestEmitSetsTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	e, err := NewEmitter(path, 16)
	require.NoError(t, err)

	before := time.Now()
	e.Emit(Event{SessionID: "sess-1", Step: StepResponse, Outcome: "ok"})
	require.NoError(t, e.Close())

	events := readEvents(t, path)
	require.Len(t, events, 1)

	ts, err := time.Parse(time.RFC3339Nano, events[0]["timestamp"].(string))
	require.NoError(t, err)
	assert.False(t, ts.Before(before.Truncate(time.Second)))
}

func TestEmitDropsWhenBufferFull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	e, err := NewEmitter(path, 1)
	require.NoError(t, err)

	// Flood far beyond the buffer; Emit must never block
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			e.Emit(Event{SessionID: "sess-1", Seq: uint64(i), Step: StepModelCall, Outcome: "ok"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Emit blocked on full buffer")
	}
	require.NoError(t, e.Close())

	// Some events may be dropped but the sink stays well formed
	events := readEvents(t, path)
	assert.LessOrEqual(t, len(events), 10000)
	for _, ev := range events {
		assert.Equal(t, "model_call", ev["step"])
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	e, err := NewEmitter(path, 16)
	require.NoError(t, err)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
}

func TestEmitAfterCloseIsDropped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	e, err := NewEmitter(path, 16)
	require.NoError(t, err)

	e.Emit(Event{SessionID: "sess-1", Step: StepTurnStart})
	require.NoError(t, e.Close())

	// A late emitter call must not panic or reopen the sink
	assert.NotPanics(t, func() {
		e.Emit(Event{SessionID: "sess-1", Step: StepTurnEnd})
	})

	events := readEvents(t, path)
	require.Len(t, events, 1)
	assert.Equal(t, StepTurnStart, events[0]["step"])
}

func TestNewEmitterBadPath(t *testing.T) {
	_, err := NewEmitter(filepath.Join(t.TempDir(), "missing", "trace.jsonl"), 16)
	assert.Error(t, err)
}
