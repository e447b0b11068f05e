// Package trace records per-step session events to a JSONL sink. The
// emitter never blocks the turn path: events go through a bounded
// buffer and are dropped, counted, when the buffer is full.
package trace

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sundesk/sundesk/internal/observability"
)

// Step kinds recorded during a turn
const (
	StepTurnStart    = "turn_start"
	StepMemoryRead   = "memory_read"
	StepGuardrail    = "guardrail"
	StepModelCall    = "model_call"
	StepToolDispatch = "tool_dispatch"
	StepEscalation   = "escalation"
	StepMemoryWrite  = "memory_write"
	StepResponse     = "response"
	StepTurnEnd      = "turn_end"
	StepSessionClose = "session_close"
)

// Event is one recorded step of a session turn
type Event struct {
	SessionID string                 `json:"session_id"`
	TurnIndex int                    `json:"turn_index"`
	Seq       uint64                 `json:"seq"`
	Step      string                 `json:"step"`
	Outcome   string                 `json:"outcome"`
	Timestamp time.Time              `json:"timestamp"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
}

// Emitter writes events to the sink asynchronously
type Emitter struct {
	events chan Event
	logger zerolog.Logger
	file   *os.File

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewEmitter opens the JSONL sink at path. bufferSize bounds the number
// of in-flight events.
func NewEmitter(path string, bufferSize int) (*Emitter, error) {
	if bufferSize <= 0 {
		bufferSize = 1024
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace sink: %w", err)
	}

	e := &Emitter{
		events: make(chan Event, bufferSize),
		logger: zerolog.New(file),
		file:   file,
		done:   make(chan struct{}),
	}
	go e.run()
	return e, nil
}

// Emit queues an event for writing. It returns immediately; when the
// buffer is full, or the emitter is already closed, the event is
// dropped and counted.
func (e *Emitter) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	// The read lock pins the channel open against a concurrent Close
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		observability.RecordTraceDrop()
		return
	}

	select {
	case e.events <- ev:
		observability.RecordTraceEvent()
	default:
		observability.RecordTraceDrop()
	}
}

func (e *Emitter) run() {
	defer close(e.done)

	for ev := range e.events {
		entry := e.logger.Log().
			Str("session_id", ev.SessionID).
			Int("turn_index", ev.TurnIndex).
			Uint64("seq", ev.Seq).
			Str("step", ev.Step).
			Str("outcome", ev.Outcome).
			Time("timestamp", ev.Timestamp)
		if ev.Detail != nil {
			entry = entry.Interface("detail", ev.Detail)
		}
		entry.Msg("")
	}
}

// Close drains queued events and closes the sink. Emit calls after
// Close are dropped rather than panicking.
func (e *Emitter) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		close(e.events)
		e.mu.Unlock()

		<-e.done
		err = e.file.Close()
	})
	return err
}
