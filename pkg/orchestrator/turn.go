package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sundesk/sundesk/internal/observability"
	"github.com/sundesk/sundesk/pkg/guardrail"
	"github.com/sundesk/sundesk/pkg/memory"
	"github.com/sundesk/sundesk/pkg/model"
	"github.com/sundesk/sundesk/pkg/session"
	"github.com/sundesk/sundesk/pkg/support"
	"github.com/sundesk/sundesk/pkg/tool"
	"github.com/sundesk/sundesk/pkg/trace"
)

const systemPrompt = `You are Sundesk, the customer support assistant for a solar panel retailer.
Help customers with system performance questions, warranty coverage, support tickets, and general product guidance.
Use the available tools to look up customer data instead of guessing.
When a problem cannot be resolved in conversation, create a support ticket.`

const degradedMessage = "I'm having trouble reaching our systems right now. Please try again in a few minutes, or ask me to create a support ticket so an agent can follow up."

const incompleteMessage = "I wasn't able to finish looking into that within this turn. Could you rephrase the request, or ask me to create a support ticket?"

const (
	defaultMaxToolDepth = 5
	maxFactLength       = 200
)

// turnState accumulates what happened while answering one message.
type turnState struct {
	sess        *session.Session
	turnIndex   int
	userMessage string
	invocations []session.ToolInvocation
	escalated   bool
	degraded    bool
	blocked     bool
	traceSeq    uint64
}

func (ts *turnState) nextTraceSeq() uint64 {
	ts.traceSeq++
	return ts.traceSeq
}

func (o *Orchestrator) executeTurn(ctx context.Context, sessionID, userMessage string) (turn *session.Turn, err error) {
	s, err := o.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if s.Closed() {
		return nil, session.ErrClosed
	}

	// An abandoned turn must not leave the session wedged mid-state.
	defer func() {
		if err != nil {
			o.sessions.Reset(s)
		}
	}()

	start := time.Now()
	ts := &turnState{
		sess:        s,
		turnIndex:   s.TurnCount(),
		userMessage: userMessage,
	}

	o.emitStep(ts, trace.StepTurnStart, "started", map[string]interface{}{
		"message_length": len(userMessage),
	})

	if err := o.sessions.Transition(s, session.StateAwaitingModel); err != nil {
		return nil, err
	}

	facts := o.readMemory(ctx, ts)

	// Inbound guardrail runs before anything reaches the model.
	modelInput := userMessage
	if o.guard != nil {
		decision := o.guard.Check(userMessage, guardrail.Inbound)
		o.emitStep(ts, trace.StepGuardrail, string(decision.Verdict), map[string]interface{}{
			"direction": string(guardrail.Inbound),
			"reason":    decision.Reason,
		})
		switch decision.Verdict {
		case guardrail.VerdictBlock:
			ts.blocked = true
			return o.finishTurn(ctx, ts, o.refusal, start)
		case guardrail.VerdictRedact:
			modelInput = decision.Text
		}
	}

	messages := o.buildMessages(s, modelInput)
	request := model.Request{
		Model:        o.modelCfg.Default,
		Temperature:  o.modelCfg.Temperature,
		MaxTokens:    o.modelCfg.MaxTokens,
		SystemPrompt: o.buildSystemPrompt(facts),
		Tools:        o.registry.Schemas(),
	}

	content, err := o.runToolLoop(ctx, ts, request, messages)
	if err != nil {
		if ctx.Err() != nil {
			// Caller cancelled; unwind without recording a turn.
			return nil, ctx.Err()
		}
		o.logger.Error().
			Str("session", s.ID).
			Err(err).
			Msg("model unavailable, responding degraded")
		ts.degraded = true
		content = degradedMessage
	}

	return o.finishTurn(ctx, ts, content, start)
}

// runToolLoop alternates model calls and tool dispatches until the
// model produces a final answer or the depth bound is hit.
func (o *Orchestrator) runToolLoop(ctx context.Context, ts *turnState, request model.Request, messages []model.Message) (string, error) {
	maxDepth := o.cfg.MaxToolDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxToolDepth
	}

	for depth := 0; depth <= maxDepth; depth++ {
		request.Messages = messages

		resp, err := o.callModel(ctx, ts, request)
		if err != nil {
			return "", err
		}

		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		if depth == maxDepth {
			o.logger.Warn().
				Str("session", ts.sess.ID).
				Int("depth", depth).
				Msg("tool depth exhausted")
			ts.degraded = true
			return incompleteMessage, nil
		}

		if ts.sess.CurrentState() == session.StateAwaitingModel {
			if err := o.sessions.Transition(ts.sess, session.StateDispatchingTools); err != nil {
				return "", err
			}
		}

		messages = append(messages, model.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			result := o.dispatchTool(ctx, ts, tc)
			messages = append(messages, model.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
			})
		}

		if err := o.sessions.Transition(ts.sess, session.StateAwaitingModel); err != nil {
			return "", err
		}
	}

	ts.degraded = true
	return incompleteMessage, nil
}

// callModel tries each backend in priority order, retrying retryable
// failures with exponential backoff before failing over.
func (o *Orchestrator) callModel(ctx context.Context, ts *turnState, request model.Request) (*model.Response, error) {
	var lastErr error

	for _, entry := range o.backendChain() {
		backend := entry.backend
		attempts := o.cfg.ModelRetries + 1
		if attempts < 1 {
			attempts = 1
		}

		for attempt := 0; attempt < attempts; attempt++ {
			callCtx := ctx
			var cancel context.CancelFunc
			if timeout := o.modelCfg.Timeout(); timeout > 0 {
				callCtx, cancel = context.WithTimeout(ctx, timeout)
			}

			callStart := time.Now()
			resp, err := backend.Complete(callCtx, request)
			duration := time.Since(callStart)
			if cancel != nil {
				cancel()
			}

			observability.RecordModelCall(backend.Provider(), duration, err == nil)
			detail := map[string]interface{}{
				"provider": backend.Provider(),
				"attempt":  attempt,
			}
			if err != nil {
				detail["error"] = err.Error()
			}
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			o.emitStep(ts, trace.StepModelCall, outcome, detail)

			if err == nil {
				return resp, nil
			}
			lastErr = err

			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !model.IsRetryable(err) {
				break
			}
			if attempt < attempts-1 {
				select {
				case <-time.After(o.backoffDelay(attempt)):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		}

		o.logger.Warn().
			Str("provider", backend.Provider()).
			Err(lastErr).
			Msg("backend exhausted, failing over")
	}

	return nil, fmt.Errorf("all model backends failed: %w", lastErr)
}

// dispatchTool executes one requested tool call, retrying transient
// failures, and returns the serialized result for the model.
func (o *Orchestrator) dispatchTool(ctx context.Context, ts *turnState, tc model.ToolCall) string {
	opts := tool.DispatchOptions{
		Timeout:        o.cfg.ToolTimeout(),
		IdempotencyKey: ts.sess.ID,
	}

	attempts := o.cfg.ToolRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var outcome tool.Outcome
	for attempt := 0; attempt < attempts; attempt++ {
		outcome = o.registry.Dispatch(ctx, tc.Name, tc.Parameters, opts)
		if outcome.OK() {
			break
		}
		// Schema and registration failures will not heal on retry.
		if errors.Is(outcome.Err, tool.ErrNotFound) || errors.Is(outcome.Err, tool.ErrSchemaMismatch) {
			break
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < attempts-1 {
			select {
			case <-time.After(o.backoffDelay(attempt)):
			case <-ctx.Done():
			}
		}
	}

	seq := ts.sess.NextSeq()
	invocation := session.ToolInvocation{
		Seq:      seq,
		Tool:     tc.Name,
		Input:    tc.Parameters,
		Duration: outcome.Duration,
	}

	var result string
	if outcome.OK() {
		result = marshalToolOutput(outcome.Output)
		invocation.Output = result
	} else {
		result = fmt.Sprintf(`{"error": %q}`, outcome.Err.Error())
		invocation.Error = outcome.Err.Error()
	}
	ts.invocations = append(ts.invocations, invocation)

	stepOutcome := "ok"
	if !outcome.OK() {
		stepOutcome = "error"
	}
	o.emitStep(ts, trace.StepToolDispatch, stepOutcome, map[string]interface{}{
		"tool":        tc.Name,
		"seq":         seq,
		"duration_ms": outcome.Duration.Milliseconds(),
	})

	if tc.Name == support.ToolCreateSupportTicket && outcome.OK() {
		ts.escalated = true
		detail := map[string]interface{}{}
		if out, ok := outcome.Output.(map[string]interface{}); ok {
			detail["ticket_id"] = out["ticket_id"]
			detail["correlation_id"] = out["correlation_id"]
		}
		o.emitStep(ts, trace.StepEscalation, "ok", detail)
	}

	return result
}

// finishTurn applies the outbound guardrail, writes memory, persists
// the turn, and returns the session to idle.
func (o *Orchestrator) finishTurn(ctx context.Context, ts *turnState, content string, start time.Time) (*session.Turn, error) {
	s := ts.sess

	if err := o.sessions.Transition(s, session.StateApplyingGuardrail); err != nil {
		return nil, err
	}

	if o.guard != nil && !ts.blocked {
		decision := o.guard.Check(content, guardrail.Outbound)
		o.emitStep(ts, trace.StepGuardrail, string(decision.Verdict), map[string]interface{}{
			"direction": string(guardrail.Outbound),
			"reason":    decision.Reason,
		})
		switch decision.Verdict {
		case guardrail.VerdictBlock:
			ts.blocked = true
			content = o.refusal
		case guardrail.VerdictRedact:
			content = decision.Text
		}
	}

	if err := o.sessions.Transition(s, session.StateResponding); err != nil {
		return nil, err
	}
	o.emitStep(ts, trace.StepResponse, "ok", map[string]interface{}{
		"response_length": len(content),
	})

	o.writeMemory(ctx, ts)

	outcome := session.OutcomeResponded
	switch {
	case ts.blocked:
		outcome = session.OutcomeBlocked
	case ts.escalated:
		outcome = session.OutcomeEscalated
	case ts.degraded:
		outcome = session.OutcomeDegraded
	}

	turn := session.Turn{
		Index:       ts.turnIndex,
		UserMessage: ts.userMessage,
		Response:    content,
		Outcome:     outcome,
		Invocations: ts.invocations,
		StartedAt:   start,
		CompletedAt: time.Now(),
	}
	if err := o.sessions.AppendTurn(s, turn); err != nil {
		return nil, err
	}

	if err := o.sessions.Transition(s, session.StateIdle); err != nil {
		return nil, err
	}

	duration := time.Since(start)
	observability.RecordTurn(outcome, duration)
	o.emitStep(ts, trace.StepTurnEnd, outcome, map[string]interface{}{
		"duration_ms": duration.Milliseconds(),
		"tool_calls":  len(ts.invocations),
	})

	o.logger.Info().
		Str("session", s.ID).
		Int("turn", turn.Index).
		Str("outcome", outcome).
		Dur("duration", duration).
		Msg("turn completed")

	return &turn, nil
}

// readMemory loads the customer's most recent facts for the prompt.
func (o *Orchestrator) readMemory(ctx context.Context, ts *turnState) []memory.Fact {
	if o.memory == nil || ts.sess.CustomerID == "" {
		return nil
	}

	limit := o.cfg.MaxMemoryFacts
	if limit <= 0 {
		limit = 10
	}

	facts, err := o.memory.Facts(ctx, ts.sess.CustomerID, limit)
	if err != nil {
		o.logger.Warn().
			Str("customer", ts.sess.CustomerID).
			Err(err).
			Msg("memory read failed, continuing without facts")
		facts = nil
	}

	o.emitStep(ts, trace.StepMemoryRead, "ok", map[string]interface{}{
		"facts": len(facts),
	})
	return facts
}

// writeMemory records what this turn was about so later sessions for
// the same customer pick it up.
func (o *Orchestrator) writeMemory(ctx context.Context, ts *turnState) {
	if o.memory == nil || ts.sess.CustomerID == "" {
		return
	}

	issue := ts.userMessage
	if len(issue) > maxFactLength {
		issue = issue[:maxFactLength]
	}
	if err := o.memory.Remember(ctx, ts.sess.CustomerID, "last_issue", issue); err != nil {
		o.logger.Warn().
			Str("customer", ts.sess.CustomerID).
			Err(err).
			Msg("memory write failed")
		return
	}

	if ts.escalated {
		for _, inv := range ts.invocations {
			if inv.Tool != support.ToolCreateSupportTicket || inv.Error != "" {
				continue
			}
			var out map[string]interface{}
			if err := json.Unmarshal([]byte(inv.Output), &out); err == nil {
				if id, ok := out["ticket_id"].(string); ok && id != "" {
					_ = o.memory.Remember(ctx, ts.sess.CustomerID, "last_ticket", id)
				}
			}
			break
		}
	}

	o.emitStep(ts, trace.StepMemoryWrite, "ok", nil)
}

// buildSystemPrompt appends remembered customer facts to the base
// prompt.
func (o *Orchestrator) buildSystemPrompt(facts []memory.Fact) string {
	if len(facts) == 0 {
		return systemPrompt
	}

	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nWhat you remember about this customer from earlier conversations:\n")
	for _, fact := range facts {
		fmt.Fprintf(&b, "- %s: %s\n", fact.Key, fact.Value)
	}
	return b.String()
}

// buildMessages replays the session history and appends the current
// user message.
func (o *Orchestrator) buildMessages(s *session.Session, userMessage string) []model.Message {
	history := s.TurnHistory()
	messages := make([]model.Message, 0, len(history)*2+1)
	for _, turn := range history {
		messages = append(messages,
			model.Message{Role: "user", Content: turn.UserMessage},
			model.Message{Role: "assistant", Content: turn.Response},
		)
	}
	return append(messages, model.Message{Role: "user", Content: userMessage})
}

func (o *Orchestrator) emitStep(ts *turnState, step, outcome string, detail map[string]interface{}) {
	o.emit(trace.Event{
		SessionID: ts.sess.ID,
		TurnIndex: ts.turnIndex,
		Seq:       ts.nextTraceSeq(),
		Step:      step,
		Outcome:   outcome,
		Detail:    detail,
	})
}

func marshalToolOutput(output interface{}) string {
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Sprintf("%v", output)
	}
	return string(data)
}
