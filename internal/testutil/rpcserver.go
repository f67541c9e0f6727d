package testutil

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/rpc"
)

type jrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

type jrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// RPCError is a JSON-RPC error object returned by a fake handler
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// MethodHandler answers one JSON-RPC method. The result is JSON-encoded; nil encodes as null.
type MethodHandler func(params json.RawMessage) (interface{}, *RPCError)

// RPCServer is a fake JSON-RPC endpoint backed by httptest
type RPCServer struct {
	*httptest.Server

	mu         sync.Mutex
	handlers   map[string]MethodHandler
	calls      map[string]int
	httpStatus int
}

// NewRPCServer starts a fake endpoint that is closed when the test ends
func NewRPCServer(t *testing.T, handlers map[string]MethodHandler) *RPCServer {
	t.Helper()
	s := &RPCServer{
		handlers: make(map[string]MethodHandler),
		calls:    make(map[string]int),
	}
	for method, h := range handlers {
		s.handlers[method] = h
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	t.Cleanup(s.Server.Close)
	return s
}

// Handle registers or replaces the handler for method
func (s *RPCServer) Handle(method string, h MethodHandler) {
	s.mu.Lock()
	s.handlers[method] = h
	s.mu.Unlock()
}

// FailWithStatus makes every request fail with the HTTP status; 0 restores normal service
func (s *RPCServer) FailWithStatus(status int) {
	s.mu.Lock()
	s.httpStatus = status
	s.mu.Unlock()
}

// Calls returns how many times method was requested
func (s *RPCServer) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// TotalCalls returns the number of requests across all methods
func (s *RPCServer) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// Dial connects a go-ethereum rpc.Client to the server
func (s *RPCServer) Dial(t *testing.T) *rpc.Client {
	t.Helper()
	c, err := rpc.DialContext(context.Background(), s.URL)
	if err != nil {
		t.Fatalf("Failed to dial fake rpc server: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func (s *RPCServer) serveHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	s.mu.Lock()
	status := s.httpStatus
	s.mu.Unlock()
	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if strings.HasPrefix(strings.TrimSpace(string(body)), "[") {
		var reqs []jrpcRequest
		if err := json.Unmarshal(body, &reqs); err != nil {
			http.Error(w, "invalid batch", http.StatusBadRequest)
			return
		}
		responses := make([]jrpcResponse, 0, len(reqs))
		for _, req := range reqs {
			responses = append(responses, s.dispatch(req))
		}
		_ = json.NewEncoder(w).Encode(responses)
		return
	}

	var req jrpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	_ = json.NewEncoder(w).Encode(s.dispatch(req))
}

func (s *RPCServer) dispatch(req jrpcRequest) jrpcResponse {
	resp := jrpcResponse{JSONRPC: "2.0", ID: req.ID}

	s.mu.Lock()
	s.calls[req.Method]++
	handler, ok := s.handlers[req.Method]
	s.mu.Unlock()

	if !ok {
		resp.Error = &RPCError{Code: -32601, Message: "method not found: " + req.Method}
		return resp
	}

	result, rpcErr := handler(req.Params)
	if rpcErr != nil {
		resp.Error = rpcErr
		return resp
	}
	raw, err := json.Marshal(result)
	if err != nil {
		resp.Error = &RPCError{Code: -32603, Message: err.Error()}
		return resp
	}
	resp.Result = raw
	return resp
}
