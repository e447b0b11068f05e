package gateway

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequestValidation(t *testing.T) {
	router := NewRPCRouter()

	tests := []struct {
		name    string
		payload string
		wantErr int
	}{
		{"not json", `{{{`, ParseError},
		{"missing id", `{"method":"session.list"}`, InvalidRequest},
		{"missing method", `{"id":"1"}`, InvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := router.ParseRequest([]byte(tt.payload))
			require.Error(t, err)
			var rpcErr *RPCError
			require.ErrorAs(t, err, &rpcErr)
			assert.Equal(t, tt.wantErr, rpcErr.Code)
		})
	}
}

func TestParseRequestDefaultsVersion(t *testing.T) {
	router := NewRPCRouter()

	req, err := router.ParseRequest([]byte(`{"id":"1","method":"health.status"}`))
	require.NoError(t, err)
	assert.Equal(t, "2.0", req.JSONRPC)
}

func TestRouteRequest(t *testing.T) {
	router := NewRPCRouter()
	require.NoError(t, router.RegisterMethod("echo", func(params map[string]interface{}) (interface{}, error) {
		return params["value"], nil
	}))

	resp := router.RouteRequest(&RPCRequest{
		ID:     "1",
		Method: "echo",
		Params: map[string]interface{}{"value": "hello"},
	})
	require.Nil(t, resp.Error)
	assert.Equal(t, "hello", resp.Result)
	assert.Equal(t, "1", resp.ID)
}

func TestRouteRequestMethodNotFound(t *testing.T) {
	router := NewRPCRouter()

	resp := router.RouteRequest(&RPCRequest{ID: "1", Method: "nope"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, MethodNotFound, resp.Error.Code)
}

func TestRouteRequestHandlerError(t *testing.T) {
	router := NewRPCRouter()
	require.NoError(t, router.RegisterMethod("fail", func(params map[string]interface{}) (interface{}, error) {
		return nil, errors.New("handler exploded")
	}))

	resp := router.RouteRequest(&RPCRequest{ID: "1", Method: "fail"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, InternalError, resp.Error.Code)
	assert.Equal(t, "handler exploded", resp.Error.Message)
}

func TestRouteRequestPreservesRPCErrorCode(t *testing.T) {
	router := NewRPCRouter()
	require.NoError(t, router.RegisterMethod("closed", func(params map[string]interface{}) (interface{}, error) {
		return nil, &RPCError{Code: SessionClosed, Message: "session is closed"}
	}))

	resp := router.RouteRequest(&RPCRequest{ID: "1", Method: "closed"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, SessionClosed, resp.Error.Code)
}

func TestIdempotentRequestsReplayResponse(t *testing.T) {
	router := NewRPCRouter()
	calls := 0
	require.NoError(t, router.RegisterMethod("once", func(params map[string]interface{}) (interface{}, error) {
		calls++
		return calls, nil
	}))

	first := router.RouteRequest(&RPCRequest{ID: "1", Method: "once", IdempotencyKey: "key-1"})
	second := router.RouteRequest(&RPCRequest{ID: "2", Method: "once", IdempotencyKey: "key-1"})

	assert.Equal(t, 1, calls)
	assert.Equal(t, first.Result, second.Result)
	// The replayed response carries the new request id.
	assert.Equal(t, "2", second.ID)
}

func TestIdempotentRequestsReplayErrors(t *testing.T) {
	router := NewRPCRouter()
	defer router.Close()

	calls := 0
	require.NoError(t, router.RegisterMethod("flaky", func(params map[string]interface{}) (interface{}, error) {
		calls++
		return nil, &RPCError{Code: SessionClosed, Message: "session is closed"}
	}))

	router.RouteRequest(&RPCRequest{ID: "1", Method: "flaky", IdempotencyKey: "key-1"})
	second := router.RouteRequest(&RPCRequest{ID: "2", Method: "flaky", IdempotencyKey: "key-1"})

	// The error outcome replays without re-running the handler, and
	// keeps its code
	assert.Equal(t, 1, calls)
	require.NotNil(t, second.Error)
	assert.Equal(t, SessionClosed, second.Error.Code)
}

func TestRequestsWithoutKeyAreNotCached(t *testing.T) {
	router := NewRPCRouter()
	calls := 0
	require.NoError(t, router.RegisterMethod("count", func(params map[string]interface{}) (interface{}, error) {
		calls++
		return calls, nil
	}))

	router.RouteRequest(&RPCRequest{ID: "1", Method: "count"})
	router.RouteRequest(&RPCRequest{ID: "2", Method: "count"})
	assert.Equal(t, 2, calls)
}

func TestUnregisterMethod(t *testing.T) {
	router := NewRPCRouter()
	require.NoError(t, router.RegisterMethod("temp", func(params map[string]interface{}) (interface{}, error) {
		return nil, nil
	}))
	assert.True(t, router.HasMethod("temp"))

	router.UnregisterMethod("temp")
	assert.False(t, router.HasMethod("temp"))
}
