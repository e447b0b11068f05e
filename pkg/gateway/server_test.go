package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sundesk/sundesk/internal/config"
	"github.com/sundesk/sundesk/pkg/guardrail"
	"github.com/sundesk/sundesk/pkg/memory"
	"github.com/sundesk/sundesk/pkg/model"
	"github.com/sundesk/sundesk/pkg/orchestrator"
	"github.com/sundesk/sundesk/pkg/session"
	"github.com/sundesk/sundesk/pkg/support"
	"github.com/sundesk/sundesk/pkg/ticket"
	"github.com/sundesk/sundesk/pkg/tool"
)

const testSecret = "gateway-test-secret"

// cannedBackend always answers with the same text.
type cannedBackend struct {
	content string
}

func (b *cannedBackend) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	return &model.Response{Content: b.content}, nil
}

func (b *cannedBackend) Provider() string { return "canned" }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	sessions, err := session.NewManager(filepath.Join(dir, "sessions"))
	require.NoError(t, err)

	guard, err := guardrail.New(config.GuardrailConfig{Enabled: false})
	require.NoError(t, err)

	mem, err := memory.NewStore(filepath.Join(dir, "memory.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { mem.Close() })

	profiles, err := support.NewProfileStore(filepath.Join(dir, "profiles.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { profiles.Close() })
	_, err = support.SeedProfiles(context.Background(), profiles, 1)
	require.NoError(t, err)

	tickets, err := ticket.NewStore(filepath.Join(dir, "tickets.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { tickets.Close() })

	registry := tool.NewRegistry()
	toolset := support.NewToolset(profiles, tickets, nil, zerolog.Nop())
	require.NoError(t, toolset.Register(registry))

	orch, err := orchestrator.New(orchestrator.Deps{
		Sessions:  sessions,
		Guardrail: guard,
		Memory:    mem,
		Registry:  registry,
		Logger:    zerolog.Nop(),
	}, config.OrchestratorConfig{
		MaxToolDepth:       4,
		ToolTimeoutSeconds: 5,
		RetryBackoffMs:     1,
		IdleTimeoutSeconds: 600,
		MaxMemoryFacts:     5,
	}, config.ModelConfig{
		Profiles: []config.ModelProfile{
			{ID: "primary", Provider: "anthropic", APIKey: "test-key", Priority: 1},
		},
		Default:   "claude-sonnet-4-20250514",
		MaxTokens: 512,
	}, config.GuardrailConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { orch.Close() })
	orch.SetBackends(&cannedBackend{content: "Happy to help with your panels."})

	server, err := NewServer(Config{
		Host:         "127.0.0.1",
		Port:         18080,
		SharedSecret: testSecret,
		Orchestrator: orch,
		Sessions:     sessions,
		Memory:       mem,
		Tickets:      tickets,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	return server
}

func postRPC(t *testing.T, ts *httptest.Server, secret string, req RPCRequest) (*http.Response, *RPCResponse) {
	t.Helper()

	body, err := json.Marshal(req)
	require.NoError(t, err)

	httpReq, err := http.NewRequest(http.MethodPost, ts.URL, bytes.NewReader(body))
	require.NoError(t, err)
	httpReq.Header.Set(secretHeader, secret)

	resp, err := ts.Client().Do(httpReq)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var rpcResp RPCResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	}
	return resp, &rpcResp
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(Config{Port: 0})
	assert.ErrorContains(t, err, "invalid port")

	_, err = NewServer(Config{Port: 8080})
	assert.ErrorContains(t, err, "shared secret")
}

func TestHTTPRPCRequiresSecret(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(http.HandlerFunc(s.handleRPC))
	defer ts.Close()

	resp, _ := postRPC(t, ts, "wrong-secret", RPCRequest{ID: "1", Method: "health.status"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(http.HandlerFunc(s.handleRPC))
	defer ts.Close()

	// Start a session.
	_, startResp := postRPC(t, ts, testSecret, RPCRequest{
		ID:     "1",
		Method: "session.start",
		Params: map[string]interface{}{"customer_id": "CUST100"},
	})
	require.Nil(t, startResp.Error)
	result := startResp.Result.(map[string]interface{})
	sessionID := result["session_id"].(string)
	assert.True(t, strings.HasPrefix(sessionID, "sess_"))
	assert.Equal(t, "idle", result["state"])

	// Send a message.
	_, sendResp := postRPC(t, ts, testSecret, RPCRequest{
		ID:     "2",
		Method: "session.send",
		Params: map[string]interface{}{
			"session_id": sessionID,
			"message":    "Do my panels need cleaning?",
		},
	})
	require.Nil(t, sendResp.Error)
	turn := sendResp.Result.(map[string]interface{})
	assert.Equal(t, "Happy to help with your panels.", turn["response"])
	assert.Equal(t, session.OutcomeResponded, turn["outcome"])

	// History shows the turn.
	_, histResp := postRPC(t, ts, testSecret, RPCRequest{
		ID:     "3",
		Method: "session.history",
		Params: map[string]interface{}{"session_id": sessionID},
	})
	require.Nil(t, histResp.Error)
	history := histResp.Result.(map[string]interface{})
	assert.Len(t, history["turns"], 1)

	// Close it; further messages are rejected with the closed code.
	_, closeResp := postRPC(t, ts, testSecret, RPCRequest{
		ID:     "4",
		Method: "session.close",
		Params: map[string]interface{}{"session_id": sessionID},
	})
	require.Nil(t, closeResp.Error)

	_, rejected := postRPC(t, ts, testSecret, RPCRequest{
		ID:     "5",
		Method: "session.send",
		Params: map[string]interface{}{
			"session_id": sessionID,
			"message":    "hello?",
		},
	})
	require.NotNil(t, rejected.Error)
	assert.Equal(t, SessionClosed, rejected.Error.Code)
}

func TestSessionSendIdempotencyKeyReplays(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(http.HandlerFunc(s.handleRPC))
	defer ts.Close()

	_, startResp := postRPC(t, ts, testSecret, RPCRequest{
		ID:     "1",
		Method: "session.start",
		Params: map[string]interface{}{"customer_id": "CUST100"},
	})
	require.Nil(t, startResp.Error)
	sessionID := startResp.Result.(map[string]interface{})["session_id"].(string)

	send := RPCRequest{
		ID:             "2",
		Method:         "session.send",
		IdempotencyKey: "delivery-1",
		Params: map[string]interface{}{
			"session_id": sessionID,
			"message":    "first delivery",
		},
	}
	_, first := postRPC(t, ts, testSecret, send)
	require.Nil(t, first.Error)

	send.ID = "3"
	_, second := postRPC(t, ts, testSecret, send)
	require.Nil(t, second.Error)

	// The retried delivery replays the cached response; only one turn ran.
	sess, err := s.sessions.Get(sessionID)
	require.NoError(t, err)
	assert.Len(t, sess.Turns, 1)
}

func TestMissingParamsReturnInvalidParams(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(http.HandlerFunc(s.handleRPC))
	defer ts.Close()

	_, resp := postRPC(t, ts, testSecret, RPCRequest{ID: "1", Method: "session.start"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, InvalidParams, resp.Error.Code)
}

func TestWebSocketAuthHandshake(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var challenge AuthChallenge
	require.NoError(t, conn.ReadJSON(&challenge))
	assert.Equal(t, "auth.challenge", challenge.Event)
	require.NotEmpty(t, challenge.Challenge)

	// A request before authenticating is refused.
	require.NoError(t, conn.WriteJSON(RPCRequest{ID: "1", Method: "health.status", JSONRPC: "2.0"}))
	var refused RPCResponse
	require.NoError(t, conn.ReadJSON(&refused))
	require.NotNil(t, refused.Error)
	assert.Equal(t, AuthenticationRequired, refused.Error.Code)

	// Sign the challenge and authenticate.
	require.NoError(t, conn.WriteJSON(AuthResponse{
		Method:    "auth.response",
		Signature: signChallenge(testSecret, challenge.Challenge),
	}))
	var authResult AuthResult
	require.NoError(t, conn.ReadJSON(&authResult))
	assert.True(t, authResult.Success)

	// Now RPC works over the socket.
	require.NoError(t, conn.WriteJSON(RPCRequest{ID: "2", Method: "health.status", JSONRPC: "2.0"}))
	var healthResp RPCResponse
	require.NoError(t, conn.ReadJSON(&healthResp))
	require.Nil(t, healthResp.Error)
	health := healthResp.Result.(map[string]interface{})
	assert.Equal(t, "ok", health["status"])
}

func TestWebSocketRejectsBadSignature(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var challenge AuthChallenge
	require.NoError(t, conn.ReadJSON(&challenge))

	require.NoError(t, conn.WriteJSON(AuthResponse{
		Method:    "auth.response",
		Signature: "forged",
	}))
	var authResult AuthResult
	require.NoError(t, conn.ReadJSON(&authResult))
	assert.False(t, authResult.Success)
}
