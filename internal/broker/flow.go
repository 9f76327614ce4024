// ABOUTME: OAuth flow controller: builds authorization redirects and
// ABOUTME: completes authorization-code exchanges, persisting token records

package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/2389/loom/internal/auth"
	"github.com/2389/loom/internal/config"
	"github.com/2389/loom/internal/replay"
	"github.com/2389/loom/internal/store"
)

// Flow errors
var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrMissingParam    = errors.New("missing required parameter")
	ErrReplayedCode    = errors.New("authorization code already used")
	ErrExchangeFailed  = errors.New("token exchange failed")
)

// Replay guard sizing for one-time authorization codes.
const (
	replayTTL     = 10 * time.Minute
	replayEntries = 10_000
)

// Flow runs the authorization half of the broker: it builds provider
// authorization URLs and turns callback codes into persisted token records.
type Flow struct {
	providers map[string]*Provider
	store     store.Store
	signer    *auth.Signer
	guard     *replay.Guard
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// FlowConfig holds the dependencies for a Flow.
type FlowConfig struct {
	Providers map[string]*Provider
	Store     store.Store
	Signer    *auth.Signer
	Guard     *replay.Guard
	Timeout   time.Duration
	Logger    *slog.Logger
}

// NewFlow creates a flow controller.
func NewFlow(cfg FlowConfig) (*Flow, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Signer == nil {
		cfg.Signer = auth.NewSigner(nil)
	}
	if cfg.Guard == nil {
		cfg.Guard = replay.New(replayTTL, replayEntries)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = config.DefaultProviderTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Flow{
		providers: cfg.Providers,
		store:     cfg.Store,
		signer:    cfg.Signer,
		guard:     cfg.Guard,
		timeout:   cfg.Timeout,
		logger:    logger.With("component", "flow"),
		now:       time.Now,
	}, nil
}

// Close releases the replay guard's background goroutine.
func (f *Flow) Close() {
	f.guard.Close()
}

// StartAuthorization returns the provider authorization URL for the user.
// The user id travels as the (optionally signed) state parameter; for
// refresh-capable providers the URL requests offline access and forces the
// consent screen so a refresh token is issued even on re-authorization.
// A non-empty scope overrides the provider's configured scope list.
func (f *Flow) StartAuthorization(provider, userID, scope string) (string, error) {
	if provider == "" {
		return "", fmt.Errorf("%w: provider", ErrMissingParam)
	}
	if userID == "" {
		return "", fmt.Errorf("%w: user_id", ErrMissingParam)
	}

	p, ok := f.providers[provider]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	state, err := f.signer.Sign(userID)
	if err != nil {
		return "", fmt.Errorf("signing state: %w", err)
	}

	oauthCfg := *p.OAuth
	if scope != "" {
		oauthCfg.Scopes = strings.Fields(scope)
	}

	var opts []oauth2.AuthCodeOption
	if p.Refreshable() {
		opts = append(opts,
			oauth2.AccessTypeOffline,
			oauth2.SetAuthURLParam("prompt", "consent"),
		)
	}

	f.logger.Info("authorization started",
		"provider", provider,
		"user_id", userID,
		"offline_access", p.Refreshable(),
	)

	return oauthCfg.AuthCodeURL(state, opts...), nil
}

// CompleteAuthorization exchanges the callback code for tokens and persists
// a complete new token record for the (user, provider) key, replacing any
// prior record in full. Returns the user id recovered from the state.
func (f *Flow) CompleteAuthorization(ctx context.Context, provider, code, state string) (string, error) {
	if code == "" {
		return "", fmt.Errorf("%w: code", ErrMissingParam)
	}
	if state == "" {
		return "", fmt.Errorf("%w: state", ErrMissingParam)
	}

	p, ok := f.providers[provider]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	userID, err := f.signer.Verify(state)
	if err != nil {
		return "", fmt.Errorf("verifying state: %w", err)
	}

	if f.guard.CheckAndMark(code) {
		return "", ErrReplayedCode
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	tok, err := p.OAuth.Exchange(exchangeCtx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			// Attach the provider's error body for diagnosis.
			return "", fmt.Errorf("%w: provider returned %s: %s",
				ErrExchangeFailed, retrieveErr.Response.Status, string(retrieveErr.Body))
		}
		return "", fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	rec := &store.TokenRecord{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    computeExpiresAt(p.Policy, tok.Expiry, f.now()),
		Scope:        tokenScope(tok),
	}

	if err := f.store.PutToken(ctx, userID, provider, rec); err != nil {
		return "", fmt.Errorf("persisting token: %w", err)
	}

	f.logger.Info("authorization complete",
		"provider", provider,
		"user_id", userID,
		"has_refresh_token", rec.RefreshToken != "",
		"expires_at", rec.ExpiresAt,
	)

	return userID, nil
}

// tokenScope extracts the granted scope string from a token response.
func tokenScope(tok *oauth2.Token) string {
	if scope, ok := tok.Extra("scope").(string); ok {
		return scope
	}
	return ""
}
