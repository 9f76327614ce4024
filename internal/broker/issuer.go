// ABOUTME: Token issuance service: serves short-lived access tokens on demand,
// ABOUTME: refreshing per provider policy and persisting refreshed records

package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/2389/loom/internal/config"
	"github.com/2389/loom/internal/store"
)

// Issuance errors, mapped to distinct HTTP statuses at the broker boundary.
var (
	// ErrNotConnected means no token record exists; the caller must re-run
	// authorization.
	ErrNotConnected = errors.New("not connected")
	// ErrRefreshFailed means the provider rejected the refresh_token grant.
	ErrRefreshFailed = errors.New("refresh failed")
)

// IssuedToken is what leaves the broker. The refresh token never does.
type IssuedToken struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"`
}

// Issuer serves access tokens from the store, refreshing when the owning
// provider's policy requires it.
type Issuer struct {
	providers map[string]*Provider
	store     store.Store
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// IssuerConfig holds the dependencies for an Issuer.
type IssuerConfig struct {
	Providers map[string]*Provider
	Store     store.Store
	Timeout   time.Duration
	Logger    *slog.Logger
}

// NewIssuer creates an issuance service.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = config.DefaultProviderTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Issuer{
		providers: cfg.Providers,
		store:     cfg.Store,
		timeout:   cfg.Timeout,
		logger:    logger.With("component", "issuer"),
		now:       time.Now,
	}, nil
}

// Issue returns a live access token for the (user, provider) key.
// Returns ErrNotConnected when no record exists and ErrRefreshFailed when a
// required refresh is rejected by the provider.
//
// Concurrent issuance for one key may both observe an expired token and both
// refresh; the store keeps whichever write lands last. That race is accepted:
// the only cost is a redundant refresh call.
func (i *Issuer) Issue(ctx context.Context, provider, userID string) (*IssuedToken, error) {
	p, ok := i.providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	rec, err := i.store.GetToken(ctx, userID, provider)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s has not authorized %s", ErrNotConnected, userID, provider)
	}
	if err != nil {
		return nil, fmt.Errorf("loading token: %w", err)
	}

	if i.shouldRefresh(p, rec) {
		rec, err = i.refresh(ctx, p, userID, rec)
		if err != nil {
			return nil, err
		}
	}

	return &IssuedToken{AccessToken: rec.AccessToken, ExpiresAt: rec.ExpiresAt}, nil
}

// shouldRefresh applies the per-provider refresh policy. A record without a
// refresh token never refreshes, whatever the policy says.
func (i *Issuer) shouldRefresh(p *Provider, rec *store.TokenRecord) bool {
	if rec.RefreshToken == "" {
		return false
	}
	switch p.Policy {
	case RefreshNever:
		return false
	case RefreshAlways:
		return true
	default:
		return i.now().UnixMilli() >= rec.ExpiresAt
	}
}

// refresh runs the refresh_token grant and persists the updated record.
// The stored refresh token is preserved unless the provider rotates in a
// new one.
func (i *Issuer) refresh(ctx context.Context, p *Provider, userID string, rec *store.TokenRecord) (*store.TokenRecord, error) {
	refreshCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	src := p.OAuth.TokenSource(refreshCtx, &oauth2.Token{RefreshToken: rec.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		i.logger.Warn("token refresh failed",
			"provider", p.Name,
			"user_id", userID,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	updated := *rec
	updated.AccessToken = tok.AccessToken
	updated.ExpiresAt = computeExpiresAt(p.Policy, tok.Expiry, i.now())
	if tok.RefreshToken != "" {
		updated.RefreshToken = tok.RefreshToken
	}
	if scope := tokenScope(tok); scope != "" {
		updated.Scope = scope
	}

	if err := i.store.PutToken(ctx, userID, p.Name, &updated); err != nil {
		return nil, fmt.Errorf("persisting refreshed token: %w", err)
	}

	i.logger.Info("token refreshed",
		"provider", p.Name,
		"user_id", userID,
		"rotated_refresh_token", tok.RefreshToken != "" && tok.RefreshToken != rec.RefreshToken,
		"expires_at", updated.ExpiresAt,
	)

	return &updated, nil
}
