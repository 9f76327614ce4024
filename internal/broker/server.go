// ABOUTME: HTTP surface of the credential broker: authorization redirect,
// ABOUTME: provider callback, token issuance, and health endpoints

package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/2389/loom/internal/auth"
	"github.com/2389/loom/internal/logging"
	"github.com/2389/loom/internal/store"
)

// maxTokenRequestBody caps POST /token bodies; they carry one user id.
const maxTokenRequestBody = 4 << 10

// Server is the broker HTTP server.
type Server struct {
	flow       *Flow
	issuer     *Issuer
	store      store.Store
	httpServer *http.Server
	logger     *slog.Logger
}

// ServerConfig holds configuration for the broker server.
type ServerConfig struct {
	Flow       *Flow
	Issuer     *Issuer
	Store      store.Store
	ListenAddr string
	Logger     *slog.Logger
}

// tokenRequest is the JSON request body for POST /token/{provider}.
type tokenRequest struct {
	UserID string `json:"user_id"`
}

// NewServer creates the broker HTTP server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Flow == nil {
		return nil, errors.New("flow is required")
	}
	if cfg.Issuer == nil {
		return nil, errors.New("issuer is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "broker")

	s := &Server{
		flow:   cfg.Flow,
		issuer: cfg.Issuer,
		store:  cfg.Store,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/", s.handleAuth)
	mux.HandleFunc("/callback/", s.handleCallback)
	mux.HandleFunc("/token/", s.handleToken)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/ready", s.handleReady)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           logging.Middleware(logger, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Handler exposes the composed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the broker server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("broker HTTP server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown drains in-flight requests with a fresh context.
// Uses context.Background() intentionally since the run context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the server and releases resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down broker")

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	s.flow.Close()
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleAuth handles GET /auth/{provider}?user_id=&scope= by redirecting the
// browser to the provider's authorization URL.
func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}

	logger := logging.FromContext(r.Context(), s.logger)
	provider := strings.Trim(strings.TrimPrefix(r.URL.Path, "/auth/"), "/")
	userID := r.URL.Query().Get("user_id")
	scope := r.URL.Query().Get("scope")

	authURL, err := s.flow.StartAuthorization(provider, userID, scope)
	if err != nil {
		logger.Warn("authorization start rejected", "provider", provider, "error", err)
		switch {
		case errors.Is(err, ErrMissingParam):
			s.sendJSONError(w, http.StatusBadRequest, "missing_parameter", err.Error())
		case errors.Is(err, ErrUnknownProvider):
			s.sendJSONError(w, http.StatusBadRequest, "unknown_provider", err.Error())
		default:
			s.sendJSONError(w, http.StatusInternalServerError, "internal", err.Error())
		}
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleCallback handles GET /callback/{provider}?code=&state=, completing
// the authorization-code exchange.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}

	logger := logging.FromContext(r.Context(), s.logger)
	provider := strings.Trim(strings.TrimPrefix(r.URL.Path, "/callback/"), "/")
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	userID, err := s.flow.CompleteAuthorization(r.Context(), provider, code, state)
	if err != nil {
		logger.Warn("authorization callback rejected", "provider", provider, "error", err)
		switch {
		case errors.Is(err, ErrExchangeFailed):
			// The provider's error body rides along in the message for diagnosis.
			s.sendJSONError(w, http.StatusBadGateway, "exchange_failed", err.Error())
		case errors.Is(err, ErrMissingParam),
			errors.Is(err, ErrUnknownProvider),
			errors.Is(err, ErrReplayedCode),
			errors.Is(err, auth.ErrInvalidState),
			errors.Is(err, auth.ErrExpiredState):
			s.sendJSONError(w, http.StatusBadRequest, "bad_callback", err.Error())
		default:
			s.sendJSONError(w, http.StatusInternalServerError, "internal", err.Error())
		}
		return
	}

	logger.Info("authorization callback complete", "provider", provider, "user_id", userID)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Authorization complete for %s. You can close this window.\n", provider)
}

// handleToken handles POST /token/{provider} with body {"user_id": ...},
// returning {"access_token", "expires_at"} or a typed error status:
// 404 when never connected, 401 when refresh fails.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	logger := logging.FromContext(r.Context(), s.logger)
	provider := strings.Trim(strings.TrimPrefix(r.URL.Path, "/token/"), "/")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxTokenRequestBody))
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return
	}

	var req tokenRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.UserID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "missing_parameter", "user_id is required")
		return
	}

	issued, err := s.issuer.Issue(r.Context(), provider, req.UserID)
	if err != nil {
		logger.Warn("token issuance failed", "provider", provider, "user_id", req.UserID, "error", err)
		switch {
		case errors.Is(err, ErrNotConnected):
			s.sendJSONError(w, http.StatusNotFound, "not_connected", err.Error())
		case errors.Is(err, ErrRefreshFailed):
			s.sendJSONError(w, http.StatusUnauthorized, "refresh_failed", err.Error())
		case errors.Is(err, ErrUnknownProvider):
			s.sendJSONError(w, http.StatusBadRequest, "unknown_provider", err.Error())
		default:
			s.sendJSONError(w, http.StatusInternalServerError, "internal", err.Error())
		}
		return
	}

	logger.Debug("token issued", "provider", provider, "user_id", req.UserID)
	s.sendJSON(w, http.StatusOK, issued)
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady returns 200 once the token store answers queries.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	// Any response other than a storage failure means the store is reachable.
	_, err := s.store.GetToken(r.Context(), "health", "probe")
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// sendJSON writes a JSON response body.
func (s *Server) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error body with a stable shape.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, code, message string) {
	s.sendJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}
