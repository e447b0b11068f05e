package gateway

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sundesk/sundesk/pkg/lane"
)

// RPCRouter registers method handlers and routes parsed requests.
// Requests carrying an idempotency key have their handler result cached
// for a bounded window, so a retried delivery returns the original
// result instead of running the method again.
type RPCRouter struct {
	mu      sync.RWMutex
	methods map[string]RequestHandler
	dedup   *lane.DedupCache
}

func NewRPCRouter() *RPCRouter {
	return &RPCRouter{
		methods: make(map[string]RequestHandler),
		dedup:   lane.NewDedupCache(5 * time.Minute),
	}
}

// Close stops the idempotency cache's expiry loop.
func (r *RPCRouter) Close() {
	r.dedup.Stop()
}

func (r *RPCRouter) RegisterMethod(name string, handler RequestHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[name] = handler
	return nil
}

func (r *RPCRouter) UnregisterMethod(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.methods, name)
}

// ParseRequest parses and validates a JSON-RPC request.
func (r *RPCRouter) ParseRequest(data []byte) (*RPCRequest, error) {
	var req RPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &RPCError{Code: ParseError, Message: "Parse error", Data: err.Error()}
	}

	if req.ID == "" {
		return nil, &RPCError{Code: InvalidRequest, Message: "Invalid request: missing id field"}
	}
	if req.Method == "" {
		return nil, &RPCError{Code: InvalidRequest, Message: "Invalid request: missing method field"}
	}
	if req.JSONRPC == "" {
		req.JSONRPC = "2.0"
	}
	return &req, nil
}

// RouteRequest dispatches a request to its handler.
func (r *RPCRouter) RouteRequest(req *RPCRequest) *RPCResponse {
	if req == nil {
		return &RPCResponse{
			JSONRPC: "2.0",
			Error:   &RPCError{Code: InvalidRequest, Message: "invalid request"},
		}
	}

	r.mu.RLock()
	handler, exists := r.methods[req.Method]
	r.mu.RUnlock()

	if !exists {
		return &RPCResponse{
			ID:      req.ID,
			JSONRPC: "2.0",
			Error:   &RPCError{Code: MethodNotFound, Message: fmt.Sprintf("Method not found: %s", req.Method)},
		}
	}

	// A redelivered request replays the first delivery's result; the
	// cache key scopes the idempotency key to the method
	cacheKey := ""
	if req.IdempotencyKey != "" {
		cacheKey = req.Method + ":" + req.IdempotencyKey
	}
	result, err := r.dedup.Do(cacheKey, func() (interface{}, error) {
		return handler(req.Params)
	})

	response := &RPCResponse{ID: req.ID, JSONRPC: "2.0"}
	if err != nil {
		code := InternalError
		if rpcErr, ok := err.(*RPCError); ok {
			code = rpcErr.Code
		}
		response.Error = &RPCError{Code: code, Message: err.Error()}
	} else {
		response.Result = result
	}
	return response
}

func (r *RPCRouter) HasMethod(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.methods[name]
	return exists
}

func (r *RPCRouter) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	methods := make([]string, 0, len(r.methods))
	for name := range r.methods {
		methods = append(methods, name)
	}
	return methods
}

