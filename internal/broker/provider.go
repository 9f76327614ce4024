// ABOUTME: Provider definitions for the credential broker
// ABOUTME: Builds oauth2 configs and refresh policies from the broker config section

package broker

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/2389/loom/internal/config"
)

// RefreshPolicy controls when the issuance service refreshes a stored token.
type RefreshPolicy int

const (
	// RefreshOnExpiry refreshes only when the stored expiry has passed.
	RefreshOnExpiry RefreshPolicy = iota
	// RefreshNever marks providers whose tokens do not expire; no refresh
	// is ever attempted, regardless of the stored expiry.
	RefreshNever
	// RefreshAlways refreshes on every issuance when a refresh token is
	// present, for providers whose granted scopes drift between consents.
	RefreshAlways
)

// String returns the config spelling of the policy.
func (p RefreshPolicy) String() string {
	switch p {
	case RefreshNever:
		return "never"
	case RefreshAlways:
		return "always"
	default:
		return "on_expiry"
	}
}

// ParseRefreshPolicy parses the config spelling of a refresh policy.
// The empty string defaults to on_expiry.
func ParseRefreshPolicy(s string) (RefreshPolicy, error) {
	switch s {
	case "", "on_expiry":
		return RefreshOnExpiry, nil
	case "never":
		return RefreshNever, nil
	case "always":
		return RefreshAlways, nil
	default:
		return 0, fmt.Errorf("unknown refresh policy %q", s)
	}
}

// farFutureWindow is how far ahead the expiry sentinel for non-expiring
// tokens is placed. Downstream expiry checks then use one uniform
// comparison instead of special-casing an absent expiry.
const farFutureWindow = 365 * 24 * time.Hour

// defaultExpiry applies when a provider omits expires_in from its response.
const defaultExpiry = time.Hour

// Provider is one configured identity provider.
type Provider struct {
	Name   string
	OAuth  *oauth2.Config
	Policy RefreshPolicy
}

// Refreshable reports whether authorization should request offline access.
func (p *Provider) Refreshable() bool {
	return p.Policy != RefreshNever
}

// knownEndpoints supplies authorization/token URLs for providers the config
// may omit them for.
var knownEndpoints = map[string]oauth2.Endpoint{
	"github": endpoints.GitHub,
	"google": endpoints.Google,
	"slack":  endpoints.Slack,
}

// BuildProviders turns the broker config section into Provider values.
// Unknown providers must configure both endpoint URLs explicitly.
func BuildProviders(cfg config.BrokerConfig) (map[string]*Provider, error) {
	providers := make(map[string]*Provider, len(cfg.Providers))

	for name, pc := range cfg.Providers {
		endpoint, known := knownEndpoints[name]
		if !known && (pc.AuthURL == "" || pc.TokenURL == "") {
			return nil, fmt.Errorf("provider %q: auth_url and token_url are required for unknown providers", name)
		}
		if pc.AuthURL != "" {
			endpoint.AuthURL = pc.AuthURL
		}
		if pc.TokenURL != "" {
			endpoint.TokenURL = pc.TokenURL
		}

		policy, err := ParseRefreshPolicy(pc.RefreshPolicy)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}

		providers[name] = &Provider{
			Name:   name,
			Policy: policy,
			OAuth: &oauth2.Config{
				ClientID:     pc.ClientID,
				ClientSecret: pc.ClientSecret,
				Endpoint:     endpoint,
				Scopes:       pc.Scopes,
				RedirectURL:  strings.TrimSuffix(cfg.PublicURL, "/") + "/callback/" + name,
			},
		}
	}

	return providers, nil
}

// computeExpiresAt derives the stored expiry in epoch milliseconds.
// Non-expiring providers get the far-future sentinel; providers that omit
// expiry information get a conservative one hour.
func computeExpiresAt(policy RefreshPolicy, expiry time.Time, now time.Time) int64 {
	if policy == RefreshNever {
		return now.Add(farFutureWindow).UnixMilli()
	}
	if !expiry.IsZero() {
		return expiry.UnixMilli()
	}
	return now.Add(defaultExpiry).UnixMilli()
}
