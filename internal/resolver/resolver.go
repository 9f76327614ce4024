// ABOUTME: Four-tier credential resolution: caller bearer, in-process issuer,
// ABOUTME: broker HTTP endpoint, then a static fallback token.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/2389/loom/internal/broker"
)

// ErrNoCredential means every tier was unavailable or failed.
var ErrNoCredential = errors.New("no credential available")

// DefaultTimeout bounds the broker network tier when the config leaves it unset.
const DefaultTimeout = 15 * time.Second

// farFutureWindow mirrors the broker's expiry sentinel for tokens that never
// expire from the resolver's point of view.
const farFutureWindow = 365 * 24 * time.Hour

// Source identifies which tier produced a credential.
type Source int

const (
	// SourceBearer is a token the caller supplied on the request itself.
	SourceBearer Source = iota
	// SourceLocal is a token issued by an in-process issuer.
	SourceLocal
	// SourceBroker is a token fetched from a remote broker over HTTP.
	SourceBroker
	// SourceStatic is the configured fallback token.
	SourceStatic
)

func (s Source) String() string {
	switch s {
	case SourceBearer:
		return "bearer"
	case SourceLocal:
		return "local"
	case SourceBroker:
		return "broker"
	case SourceStatic:
		return "static"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// Credential is a resolved access token plus where it came from.
type Credential struct {
	AccessToken string
	ExpiresAt   int64
	Source      Source
}

// Issuer is the in-process issuance surface. The broker's Issuer satisfies it;
// nil means the gateway has no direct store binding.
type Issuer interface {
	Issue(ctx context.Context, provider, userID string) (*broker.IssuedToken, error)
}

// Config assembles a Resolver. Every field is optional; a zero Config resolves
// nothing and Resolve always returns ErrNoCredential.
type Config struct {
	Issuer        Issuer
	BrokerURL     string
	UserID        string
	FallbackToken string
	Timeout       time.Duration
	Logger        *slog.Logger
	HTTPClient    *http.Client
}

// Resolver walks the credential tiers in strict order for each call.
type Resolver struct {
	issuer    Issuer
	brokerURL string
	userID    string
	fallback  string
	timeout   time.Duration
	client    *http.Client
	logger    *slog.Logger
	now       func() time.Time
}

// New builds a Resolver from cfg, filling in defaults for the timeout, HTTP
// client, and logger.
func New(cfg Config) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Resolver{
		issuer:    cfg.Issuer,
		brokerURL: strings.TrimSuffix(cfg.BrokerURL, "/"),
		userID:    cfg.UserID,
		fallback:  cfg.FallbackToken,
		timeout:   cfg.Timeout,
		client:    cfg.HTTPClient,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// Resolve finds a credential for provider. Tiers are tried in order: the
// caller's bearer token, the in-process issuer, the broker over HTTP, and
// finally the static fallback. A failing tier is logged and skipped; only
// when all four come up empty does Resolve return ErrNoCredential.
func (r *Resolver) Resolve(ctx context.Context, provider, bearer string) (*Credential, error) {
	if bearer != "" {
		return &Credential{AccessToken: bearer, Source: SourceBearer}, nil
	}

	if r.issuer != nil {
		tok, err := r.issuer.Issue(ctx, provider, r.userID)
		if err == nil {
			return &Credential{AccessToken: tok.AccessToken, ExpiresAt: tok.ExpiresAt, Source: SourceLocal}, nil
		}
		r.logger.Warn("local issuance failed, falling through", "provider", provider, "error", err)
	}

	if r.brokerURL != "" {
		tok, err := r.fetchFromBroker(ctx, provider)
		if err == nil {
			return &Credential{AccessToken: tok.AccessToken, ExpiresAt: tok.ExpiresAt, Source: SourceBroker}, nil
		}
		r.logger.Warn("broker issuance failed, falling through", "provider", provider, "broker_url", r.brokerURL, "error", err)
	}

	if r.fallback != "" {
		return &Credential{
			AccessToken: r.fallback,
			ExpiresAt:   r.now().Add(farFutureWindow).UnixMilli(),
			Source:      SourceStatic,
		}, nil
	}

	return nil, fmt.Errorf("%w: provider %s", ErrNoCredential, provider)
}

type brokerTokenRequest struct {
	UserID string `json:"user_id"`
}

func (r *Resolver) fetchFromBroker(ctx context.Context, provider string) (*broker.IssuedToken, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	body, err := json.Marshal(brokerTokenRequest{UserID: r.userID})
	if err != nil {
		return nil, fmt.Errorf("encoding token request: %w", err)
	}

	url := r.brokerURL + "/token/" + provider
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling broker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("broker returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var tok broker.IssuedToken
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&tok); err != nil {
		return nil, fmt.Errorf("decoding broker response: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, errors.New("broker response missing access_token")
	}
	return &tok, nil
}
