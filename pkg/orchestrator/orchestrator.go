// Package orchestrator drives support session turns: it serializes
// turns per session, reads cross-session memory into the model prompt,
// applies guardrails on both directions, runs the bounded tool loop,
// and records every step to the trace sink.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sundesk/sundesk/internal/config"
	"github.com/sundesk/sundesk/pkg/guardrail"
	"github.com/sundesk/sundesk/pkg/lane"
	"github.com/sundesk/sundesk/pkg/memory"
	"github.com/sundesk/sundesk/pkg/model"
	"github.com/sundesk/sundesk/pkg/session"
	"github.com/sundesk/sundesk/pkg/tool"
	"github.com/sundesk/sundesk/pkg/trace"
)

// backendEntry pairs a backend with its failover priority.
type backendEntry struct {
	backend  model.Backend
	priority int
}

// Deps collects the collaborators the orchestrator wires together.
type Deps struct {
	Sessions  *session.Manager
	Guardrail *guardrail.Filter
	Memory    *memory.Store
	Registry  *tool.Registry
	Trace     *trace.Emitter
	Logger    zerolog.Logger
}

// Orchestrator owns the turn path for every session.
type Orchestrator struct {
	sessions *session.Manager
	guard    *guardrail.Filter
	refusal  string
	memory   *memory.Store
	registry *tool.Registry
	tracer   *trace.Emitter
	logger   zerolog.Logger

	backends []backendEntry
	modelCfg config.ModelConfig
	cfg      config.OrchestratorConfig

	queue   *lane.Queue
	sweeper *session.Sweeper

	mu          sync.Mutex
	activeTurns map[string]context.CancelFunc
}

const defaultRefusalMessage = "I can't help with that request."

// New builds an orchestrator from its dependencies and configuration.
// Backends are created from the model profiles and tried in priority
// order when a call fails.
func New(deps Deps, cfg config.OrchestratorConfig, modelCfg config.ModelConfig, guardrailCfg config.GuardrailConfig) (*Orchestrator, error) {
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if len(modelCfg.Profiles) == 0 {
		return nil, fmt.Errorf("at least one model profile is required")
	}

	factory := &model.Factory{}
	backends := make([]backendEntry, 0, len(modelCfg.Profiles))
	for _, profile := range modelCfg.Profiles {
		backend, err := factory.NewBackend(profile)
		if err != nil {
			return nil, fmt.Errorf("failed to create backend %s: %w", profile.ID, err)
		}
		backends = append(backends, backendEntry{backend: backend, priority: profile.Priority})
	}
	sort.SliceStable(backends, func(i, j int) bool {
		return backends[i].priority < backends[j].priority
	})

	refusal := guardrailCfg.RefusalMessage
	if refusal == "" {
		refusal = defaultRefusalMessage
	}

	o := &Orchestrator{
		sessions:    deps.Sessions,
		guard:       deps.Guardrail,
		refusal:     refusal,
		memory:      deps.Memory,
		registry:    deps.Registry,
		tracer:      deps.Trace,
		logger:      deps.Logger,
		backends:    backends,
		modelCfg:    modelCfg,
		cfg:         cfg,
		queue:       lane.New(deps.Logger),
		activeTurns: make(map[string]context.CancelFunc),
	}

	o.sweeper = session.NewSweeper(deps.Sessions, cfg.IdleTimeout(), func(sessionID string) {
		o.emit(trace.Event{
			SessionID: sessionID,
			Step:      trace.StepSessionClose,
			Outcome:   "idle_timeout",
		})
	})

	return o, nil
}

// SetBackends replaces the failover chain. Used by tests to install a
// scripted backend.
func (o *Orchestrator) SetBackends(backends ...model.Backend) {
	entries := make([]backendEntry, 0, len(backends))
	for i, b := range backends {
		entries = append(entries, backendEntry{backend: b, priority: i})
	}
	o.mu.Lock()
	o.backends = entries
	o.mu.Unlock()
}

func (o *Orchestrator) backendChain() []backendEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.backends
}

// StartSweeper begins closing idle sessions in the background.
func (o *Orchestrator) StartSweeper() error {
	return o.sweeper.Start()
}

// StopSweeper halts the idle sweep schedule.
func (o *Orchestrator) StopSweeper() {
	o.sweeper.Stop()
}

// StartSession opens a new session for the customer.
func (o *Orchestrator) StartSession(customerID string) (*session.Session, error) {
	return o.sessions.Create(customerID)
}

// Session returns the live session for id.
func (o *Orchestrator) Session(id string) (*session.Session, error) {
	return o.sessions.Get(id)
}

// Turn runs one user message through the session. Turns for the same
// session execute strictly in arrival order; a message for a closed
// session fails with session.ErrClosed.
func (o *Orchestrator) Turn(ctx context.Context, sessionID, userMessage string) (*session.Turn, error) {
	laneName := fmt.Sprintf("session-%s", sessionID)

	value, err := o.queue.Enqueue(ctx, laneName, func(taskCtx context.Context) (interface{}, error) {
		runCtx, cancel := context.WithCancel(taskCtx)
		o.mu.Lock()
		o.activeTurns[sessionID] = cancel
		o.mu.Unlock()
		defer func() {
			cancel()
			o.mu.Lock()
			delete(o.activeTurns, sessionID)
			o.mu.Unlock()
		}()

		return o.executeTurn(runCtx, sessionID, userMessage)
	})
	if err != nil {
		return nil, err
	}

	turn, ok := value.(*session.Turn)
	if !ok {
		return nil, fmt.Errorf("unexpected turn result type %T", value)
	}
	return turn, nil
}

// Abort cancels the in-flight turn for a session, if any.
func (o *Orchestrator) Abort(sessionID string) bool {
	o.mu.Lock()
	cancel, ok := o.activeTurns[sessionID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// CloseSession terminates a session. Closing an already closed session
// is a no-op.
func (o *Orchestrator) CloseSession(id string) error {
	s, err := o.sessions.Get(id)
	if err != nil {
		return err
	}
	alreadyClosed := s.Closed()

	if err := o.sessions.Close(id); err != nil {
		return err
	}
	if !alreadyClosed {
		o.emit(trace.Event{
			SessionID: id,
			Step:      trace.StepSessionClose,
			Outcome:   "requested",
		})
	}
	return nil
}

// Close shuts down the turn queue, waiting for in-flight turns.
func (o *Orchestrator) Close() error {
	return o.queue.Close()
}

func (o *Orchestrator) emit(ev trace.Event) {
	if o.tracer != nil {
		o.tracer.Emit(ev)
	}
}

// backoffDelay returns the delay before retry attempt n, doubling the
// configured base each attempt.
func (o *Orchestrator) backoffDelay(attempt int) time.Duration {
	base := o.cfg.RetryBackoff()
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	return base * time.Duration(1<<attempt)
}
