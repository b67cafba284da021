// Package mcp serves the signal tools over the Model Context Protocol on stdio.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/gammarips/overnightedge/internal/logger"
	"github.com/gammarips/overnightedge/internal/models"
	"github.com/gammarips/overnightedge/internal/signals"
	"github.com/gammarips/overnightedge/internal/tools"
)

const (
	protocolVersion = "2024-11-05"
	serverName      = "overnightedge"

	// maxMessageSize bounds a single JSON-RPC line.
	maxMessageSize = 4 * 1024 * 1024
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// userInfoArg is the argument some clients use to pass caller identity inline.
const userInfoArg = "_user_info"

// Dispatcher runs tool calls.
type Dispatcher interface {
	Call(ctx context.Context, caller signals.Caller, name string, args map[string]any) tools.Result
}

// Server answers MCP requests read from one stream and written to another.
type Server struct {
	dispatcher Dispatcher
	version    string

	mu sync.Mutex // serializes writes
}

// NewServer creates a Server.
func NewServer(dispatcher Dispatcher, version string) *Server {
	return &Server{dispatcher: dispatcher, version: version}
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// isNotification reports whether the sender expects no reply.
func (r *request) isNotification() bool { return len(r.ID) == 0 }

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type initializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	ServerInfo      serverInfo   `json:"serverInfo"`
	Capabilities    capabilities `json:"capabilities"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type capabilities struct {
	Tools struct{} `json:"tools"`
}

type listToolsResult struct {
	Tools []tools.Definition `json:"tools"`
}

type userInfo struct {
	Tier string `json:"tier"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Meta      struct {
		UserInfo *userInfo `json:"user_info"`
	} `json:"_meta"`
}

type callToolResult struct {
	Content []content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

type content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Run reads newline-delimited requests from r and writes replies to w until r is
// exhausted or ctx is cancelled. Requests are handled in order.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxMessageSize)

	logger.Info("MCP server ready on stdio")
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp := s.handle(ctx, line)
		if resp == nil {
			continue
		}
		if err := s.write(w, resp); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read request: %w", err)
	}
	return nil
}

func (s *Server) handle(ctx context.Context, line []byte) *response {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		logger.Warn("Unparseable MCP message: %v", err)
		return errorResponse(nil, codeParseError, "Parse error")
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		if req.isNotification() {
			return nil
		}
		return errorResponse(req.ID, codeInvalidRequest, "Invalid request")
	}

	logger.Debug("MCP %s", req.Method)
	var resp *response
	switch req.Method {
	case "initialize":
		resp = resultResponse(req.ID, initializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      serverInfo{Name: serverName, Version: s.version},
		})
	case "ping":
		resp = resultResponse(req.ID, struct{}{})
	case "tools/list":
		resp = resultResponse(req.ID, listToolsResult{Tools: tools.Definitions()})
	case "tools/call":
		resp = s.callTool(ctx, &req)
	default:
		resp = errorResponse(req.ID, codeMethodNotFound, "Method not found")
	}

	if req.isNotification() {
		return nil
	}
	return resp
}

func (s *Server) callTool(ctx context.Context, req *request) *response {
	var params callToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return errorResponse(req.ID, codeInvalidParams, "Invalid params")
	}

	caller := callerFrom(&params)
	delete(params.Arguments, userInfoArg)

	res := s.dispatcher.Call(ctx, caller, params.Name, params.Arguments)
	body, err := json.Marshal(res.Body)
	if err != nil {
		logger.Error("Failed to encode %s result: %v", params.Name, err)
		return errorResponse(req.ID, codeInvalidParams, "Failed to encode result")
	}
	return resultResponse(req.ID, callToolResult{
		Content: []content{{Type: "text", Text: string(body)}},
		IsError: res.IsError(),
	})
}

// callerFrom reads the caller's tier from the request metadata, or failing that from
// the inline _user_info argument. Anything missing or unknown is the free tier.
func callerFrom(params *callToolParams) signals.Caller {
	if ui := params.Meta.UserInfo; ui != nil && ui.Tier != "" {
		return signals.Caller{Tier: models.ParseTier(ui.Tier)}
	}
	if raw, ok := params.Arguments[userInfoArg].(map[string]any); ok {
		if tier, ok := raw["tier"].(string); ok {
			return signals.Caller{Tier: models.ParseTier(tier)}
		}
	}
	return signals.Caller{Tier: models.TierFree}
}

func (s *Server) write(w io.Writer, resp *response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

func resultResponse(id json.RawMessage, result any) *response {
	return &response{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id json.RawMessage, code int, message string) *response {
	return &response{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}}
}
