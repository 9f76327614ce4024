// ABOUTME: Adapter-side HTTP server exposing the /tools, /call, and /health
// ABOUTME: endpoints that HTTPAdapter consumes.
package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/loom/internal/logging"
)

// maxCallBytes caps inbound /call bodies.
const maxCallBytes = 1 << 20

// Server hosts one adapter over HTTP.
type Server struct {
	adapter    Adapter
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds an adapter HTTP server listening on addr.
func NewServer(addr string, adapter Adapter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{adapter: adapter, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/tools", s.handleTools)
	mux.HandleFunc("/call", s.handleCall)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           logging.Middleware(logger, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run serves until ctx is cancelled, then drains.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("adapter server listening", "addr", s.httpServer.Addr, "adapter", s.adapter.Name())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	tools, err := s.adapter.ListTools(r.Context())
	if err != nil {
		logging.FromContext(r.Context(), s.logger).Error("listing tools failed", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	sendJSON(w, http.StatusOK, toolsResponse{Tools: tools})
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	logger := logging.FromContext(r.Context(), s.logger)

	var req callRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallBytes))
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	if err := json.Unmarshal(body, &req); err != nil || req.Name == "" {
		sendJSONError(w, http.StatusBadRequest, "bad_request", "body must be JSON with a tool name")
		return
	}

	credential := bearerToken(r)
	result, err := s.adapter.CallTool(r.Context(), req.Name, req.Args, credential)
	if err != nil {
		if errors.Is(err, ErrToolNotFound) {
			sendJSONError(w, http.StatusNotFound, "tool_not_found", err.Error())
			return
		}
		logger.Error("tool call failed", "tool", req.Name, "call_id", req.ID, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "call_failed", err.Error())
		return
	}

	logger.Info("tool call served", "tool", req.Name, "call_id", req.ID, "is_error", result.IsError)
	sendJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok", "adapter": s.adapter.Name()})
}

// bearerToken extracts a Bearer credential from the Authorization header.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

func sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func sendJSONError(w http.ResponseWriter, status int, code, message string) {
	sendJSON(w, status, map[string]string{"error": code, "message": message})
}
