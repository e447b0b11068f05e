package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sundesk/sundesk/pkg/session"
)

func stringParam(params map[string]interface{}, key string) (string, error) {
	value, ok := params[key].(string)
	if !ok || value == "" {
		return "", &RPCError{Code: InvalidParams, Message: fmt.Sprintf("missing required parameter: %s", key)}
	}
	return value, nil
}

func intParam(params map[string]interface{}, key string, fallback int) int {
	if value, ok := params[key].(float64); ok && value > 0 {
		return int(value)
	}
	return fallback
}

// registerBuiltinMethods wires the support-session RPC surface.
func (s *Server) registerBuiltinMethods() {
	s.router.RegisterMethod("session.start", s.methodSessionStart)
	s.router.RegisterMethod("session.send", s.methodSessionSend)
	s.router.RegisterMethod("session.close", s.methodSessionClose)
	s.router.RegisterMethod("session.history", s.methodSessionHistory)
	s.router.RegisterMethod("session.list", s.methodSessionList)
	s.router.RegisterMethod("ticket.list", s.methodTicketList)
	s.router.RegisterMethod("ticket.status", s.methodTicketStatus)
	s.router.RegisterMethod("memory.facts", s.methodMemoryFacts)
	s.router.RegisterMethod("health.status", s.methodHealthStatus)

	if s.knowledge != nil {
		s.router.RegisterMethod("kb.search", s.methodKnowledgeSearch)
	}
}

func (s *Server) methodSessionStart(params map[string]interface{}) (interface{}, error) {
	customerID, err := stringParam(params, "customer_id")
	if err != nil {
		return nil, err
	}

	sess, err := s.orchestrator.StartSession(customerID)
	if err != nil {
		return nil, err
	}

	s.broadcaster.BroadcastTyped(EventMessage{
		Event:   "session.started",
		Stream:  StreamTypeLifecycle,
		Session: sess.ID,
		Data:    map[string]interface{}{"customer_id": customerID},
	})

	return map[string]interface{}{
		"session_id":  sess.ID,
		"customer_id": sess.CustomerID,
		"state":       string(sess.CurrentState()),
		"created_at":  sess.CreatedAt,
	}, nil
}

func (s *Server) methodSessionSend(params map[string]interface{}) (interface{}, error) {
	sessionID, err := stringParam(params, "session_id")
	if err != nil {
		return nil, err
	}
	message, err := stringParam(params, "message")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.turnTimeout)
	defer cancel()

	turn, err := s.orchestrator.Turn(ctx, sessionID, message)
	if err != nil {
		if errors.Is(err, session.ErrClosed) {
			return nil, &RPCError{Code: SessionClosed, Message: "session is closed"}
		}
		return nil, err
	}

	s.broadcaster.BroadcastTyped(EventMessage{
		Event:   "turn.completed",
		Stream:  StreamTypeTurn,
		Session: sessionID,
		Data: map[string]interface{}{
			"turn_index": turn.Index,
			"outcome":    turn.Outcome,
			"tool_calls": len(turn.Invocations),
		},
	})

	return map[string]interface{}{
		"session_id": sessionID,
		"turn_index": turn.Index,
		"response":   turn.Response,
		"outcome":    turn.Outcome,
		"tool_calls": len(turn.Invocations),
	}, nil
}

func (s *Server) methodSessionClose(params map[string]interface{}) (interface{}, error) {
	sessionID, err := stringParam(params, "session_id")
	if err != nil {
		return nil, err
	}

	if err := s.orchestrator.CloseSession(sessionID); err != nil {
		return nil, err
	}

	s.broadcaster.BroadcastTyped(EventMessage{
		Event:   "session.closed",
		Stream:  StreamTypeLifecycle,
		Session: sessionID,
		Data:    map[string]interface{}{},
	})

	return map[string]interface{}{"session_id": sessionID, "closed": true}, nil
}

func (s *Server) methodSessionHistory(params map[string]interface{}) (interface{}, error) {
	sessionID, err := stringParam(params, "session_id")
	if err != nil {
		return nil, err
	}

	sess, err := s.orchestrator.Session(sessionID)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"session_id":  sess.ID,
		"customer_id": sess.CustomerID,
		"state":       string(sess.CurrentState()),
		"turns":       sess.TurnHistory(),
	}, nil
}

func (s *Server) methodSessionList(params map[string]interface{}) (interface{}, error) {
	ids := s.sessions.List()
	return map[string]interface{}{"count": len(ids), "sessions": ids}, nil
}

func (s *Server) methodTicketList(params map[string]interface{}) (interface{}, error) {
	customerID, err := stringParam(params, "customer_id")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tickets, err := s.tickets.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"count": len(tickets), "tickets": tickets}, nil
}

func (s *Server) methodTicketStatus(params map[string]interface{}) (interface{}, error) {
	ticketID, err := stringParam(params, "ticket_id")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if status, ok := params["status"].(string); ok && status != "" {
		if err := s.tickets.UpdateStatus(ctx, ticketID, status); err != nil {
			return nil, err
		}
	}

	t, err := s.tickets.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Server) methodMemoryFacts(params map[string]interface{}) (interface{}, error) {
	customerID, err := stringParam(params, "customer_id")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	facts, err := s.memory.Facts(ctx, customerID, intParam(params, "limit", 20))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"count": len(facts), "facts": facts}, nil
}

func (s *Server) methodKnowledgeSearch(params map[string]interface{}) (interface{}, error) {
	query, err := stringParam(params, "query")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hits, err := s.knowledge.Search(ctx, query, nil)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"count": len(hits), "results": hits}, nil
}

func (s *Server) methodHealthStatus(params map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"status":   "ok",
		"clients":  s.clients.Count(),
		"sessions": len(s.sessions.List()),
		"methods":  s.router.Methods(),
	}, nil
}
