// Package api exposes the reconstructed book over JSON-RPC 2.0. The API
// is read-only: the book mutates only from the event feed.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/luxfi/bookd/pkg/feed"
	"github.com/luxfi/bookd/pkg/lob"
	"github.com/luxfi/log"
)

// JSONRPCServer handles JSON-RPC 2.0 requests
type JSONRPCServer struct {
	runner *feed.Runner
	logger log.Logger
}

// NewJSONRPCServer creates a new JSON-RPC server
func NewJSONRPCServer(runner *feed.Runner, logger log.Logger) *JSONRPCServer {
	return &JSONRPCServer{
		runner: runner,
		logger: logger,
	}
}

// JSONRPCRequest represents a JSON-RPC 2.0 request
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// RPCError represents a JSON-RPC error
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements error interface
func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC Error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// ServeHTTP implements http.Handler
func (s *JSONRPCServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, nil, ParseError, "Parse error")
		return
	}

	if req.JSONRPC != "2.0" {
		s.sendError(w, req.ID, InvalidRequest, "Invalid Request")
		return
	}

	result, err := s.handleMethod(req.Method, req.Params)
	if err != nil {
		rpcErr, ok := err.(*RPCError)
		if !ok {
			rpcErr = &RPCError{Code: InternalError, Message: err.Error()}
		}
		s.sendError(w, req.ID, rpcErr.Code, rpcErr.Message)
		return
	}

	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *JSONRPCServer) handleMethod(method string, params json.RawMessage) (interface{}, error) {
	switch method {
	case "book_getState":
		return s.getState()
	case "book_getDepth":
		return s.getDepth(params)
	case "book_getLastTrade":
		return s.getLastTrade()
	case "book_getTrades":
		return s.getTrades()
	case "book_render":
		return s.render()
	default:
		return nil, &RPCError{Code: MethodNotFound, Message: fmt.Sprintf("Method not found: %s", method)}
	}
}

func (s *JSONRPCServer) getState() (interface{}, error) {
	return s.runner.State(), nil
}

// DepthParams selects a side and a maximum number of levels.
type DepthParams struct {
	Side  lob.Side `json:"side"`
	Depth int      `json:"depth"`
}

// DepthResult is one side of the book in priority order.
type DepthResult struct {
	Side   lob.Side    `json:"side"`
	Levels []lob.Level `json:"levels"`
}

func (s *JSONRPCServer) getDepth(params json.RawMessage) (interface{}, error) {
	p := DepthParams{Depth: 45}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
		}
	}
	if p.Depth <= 0 || p.Depth > 1000 {
		return nil, &RPCError{Code: InvalidParams, Message: "depth must be in (0, 1000]"}
	}
	return DepthResult{Side: p.Side, Levels: s.runner.Depth(p.Side, p.Depth)}, nil
}

func (s *JSONRPCServer) getLastTrade() (interface{}, error) {
	trade, ok := s.runner.LastTrade()
	if !ok {
		return nil, nil
	}
	return trade, nil
}

func (s *JSONRPCServer) getTrades() (interface{}, error) {
	return s.runner.Trades(), nil
}

func (s *JSONRPCServer) render() (interface{}, error) {
	return s.runner.Render(), nil
}

func (s *JSONRPCServer) sendError(w http.ResponseWriter, id interface{}, code int, message string) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error:   &RPCError{Code: code, Message: message},
		ID:      id,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
