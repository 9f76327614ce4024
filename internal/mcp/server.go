// ABOUTME: Stateless MCP dispatcher: POST /mcp/sse routes JSON-RPC methods
// ABOUTME: to tool aggregation, routing, credential resolution, and calls.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/loom/internal/adapters"
	"github.com/2389/loom/internal/logging"
	"github.com/2389/loom/internal/resolver"
)

// defaultProtocolVersion is declared when the client omits one.
const defaultProtocolVersion = "2024-11-05"

// serverName identifies this gateway in initialize responses.
const serverName = "loom-gateway"

// maxBodyBytes caps inbound request bodies.
const maxBodyBytes = 1 << 20

// handlerFunc serves one JSON-RPC method. bearer is the caller's token from
// the Authorization header, empty when absent.
type handlerFunc func(ctx context.Context, bearer string, req *Request) *Response

// Server dispatches MCP requests. It holds no per-client state; every
// request is self-contained.
type Server struct {
	registry *adapters.Registry
	resolver *resolver.Resolver
	version  string
	logger   *slog.Logger
	methods  map[string]handlerFunc
}

// NewServer builds a dispatcher over the given registry and resolver.
func NewServer(registry *adapters.Registry, res *resolver.Resolver, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{registry: registry, resolver: res, version: version, logger: logger}
	s.methods = map[string]handlerFunc{
		"initialize":                s.handleInitialize,
		"notifications/initialized": s.handleInitialized,
		"tools/list":                s.handleToolsList,
		"tools/call":                s.handleToolsCall,
		"resources/list":            s.handleResourcesList,
	}
	return s
}

// ServeHTTP implements POST /mcp/sse.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeResponse(w, errorResponse(nil, codeInvalidRequest, "use POST"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeResponse(w, errorResponse(nil, codeParseError, "unreadable body"))
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeResponse(w, errorResponse(nil, codeParseError, "invalid JSON"))
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeResponse(w, errorResponse(req.ID, codeInvalidRequest, "not a JSON-RPC 2.0 request"))
		return
	}

	handler, ok := s.methods[req.Method]
	if !ok {
		writeResponse(w, errorResponse(req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method)))
		return
	}

	logger := logging.FromContext(r.Context(), s.logger)
	logger.Debug("dispatching", "method", req.Method)
	writeResponse(w, s.dispatch(r.Context(), bearerToken(r), handler, &req))
}

// dispatch runs a handler with panic containment. A panicking handler
// becomes an internal error response instead of killing the connection.
func (s *Server) dispatch(ctx context.Context, bearer string, handler handlerFunc, req *Request) (resp *Response) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("handler panicked", "method", req.Method, "panic", rec)
			resp = errorResponse(req.ID, codeInternalError, "internal error")
		}
	}()
	return handler(ctx, bearer, req)
}

type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
}

func (s *Server) handleInitialize(_ context.Context, _ string, req *Request) *Response {
	var params initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, codeInvalidParams, "invalid initialize params")
		}
	}
	version := params.ProtocolVersion
	if version == "" {
		version = defaultProtocolVersion
	}

	return successResponse(req.ID, map[string]any{
		"protocolVersion": version,
		"capabilities": map[string]any{
			"tools": map[string]any{"listChanged": true},
		},
		"serverInfo": map[string]any{
			"name":    serverName,
			"version": s.version,
		},
	})
}

// handleInitialized answers the initialized notification with an empty
// object even though notifications normally get no body. Existing clients
// depend on receiving one.
func (s *Server) handleInitialized(_ context.Context, _ string, req *Request) *Response {
	return successResponse(req.ID, map[string]any{})
}

// toolDescriptor is the MCP wire shape for a tool; the schema key is
// camelCase on this surface.
type toolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

func (s *Server) handleToolsList(ctx context.Context, _ string, req *Request) *Response {
	tools := s.registry.AllTools(ctx)
	out := make([]toolDescriptor, 0, len(tools))
	for _, t := range tools {
		out = append(out, toolDescriptor{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return successResponse(req.ID, map[string]any{"tools": out})
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall routes and invokes exactly one adapter. Routing misses,
// credential failures, and adapter errors all travel back as isError
// results, never as RPC errors.
func (s *Server) handleToolsCall(ctx context.Context, bearer string, req *Request) *Response {
	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return errorResponse(req.ID, codeInvalidParams, "tools/call needs a tool name")
	}

	entry, err := s.registry.AdapterForTool(params.Name)
	if err != nil {
		return successResponse(req.ID, adapters.ErrorResult(err.Error()))
	}

	credential := ""
	if s.resolver != nil && entry.Provider != "" {
		cred, err := s.resolver.Resolve(ctx, entry.Provider, bearer)
		if err != nil {
			s.logger.Warn("credential resolution failed", "tool", params.Name, "provider", entry.Provider, "error", err)
			return successResponse(req.ID, adapters.ErrorResult(err.Error()))
		}
		credential = cred.AccessToken
		s.logger.Debug("credential resolved", "tool", params.Name, "provider", entry.Provider, "source", cred.Source.String())
	} else if bearer != "" {
		credential = bearer
	}

	result, err := entry.Adapter.CallTool(ctx, params.Name, params.Arguments, credential)
	if err != nil {
		s.logger.Warn("tool call failed", "tool", params.Name, "adapter", entry.Adapter.Name(), "error", err)
		return successResponse(req.ID, adapters.ErrorResult(err.Error()))
	}
	return successResponse(req.ID, result)
}

func (s *Server) handleResourcesList(_ context.Context, _ string, req *Request) *Response {
	return successResponse(req.ID, map[string]any{"resources": []any{}})
}

// HandleServers implements GET /mcp/servers.
func (s *Server) HandleServers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "use GET", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"servers": s.registry.Servers()})
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, prefix) {
		return auth[len(prefix):]
	}
	return ""
}

func writeResponse(w http.ResponseWriter, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
