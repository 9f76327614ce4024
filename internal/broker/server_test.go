// ABOUTME: Tests for the broker HTTP surface: auth redirects, callback error
// ABOUTME: mapping, token issuance statuses, and health endpoints.
package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/loom/internal/store"
)

// setupServer wires a full broker over a memory store with one provider.
func setupServer(t *testing.T, p *Provider) (*httptest.Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	providers := map[string]*Provider{p.Name: p}

	flow, err := NewFlow(FlowConfig{Providers: providers, Store: st, Timeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(flow.Close)

	issuer, err := NewIssuer(IssuerConfig{Providers: providers, Store: st, Timeout: 5 * time.Second})
	require.NoError(t, err)

	srv, err := NewServer(ServerConfig{Flow: flow, Issuer: issuer, Store: st})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, st
}

// noRedirectClient returns the 302 instead of following it.
func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func TestAuthEndpoint_RedirectsWithOfflineConsent(t *testing.T) {
	te := newTokenEndpoint(t)
	ts, _ := setupServer(t, testProvider("github", RefreshOnExpiry, te))

	resp, err := noRedirectClient().Get(ts.URL + "/auth/github?user_id=u1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	q := loc.Query()
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "u1", q.Get("state"))
}

func TestAuthEndpoint_NeverPolicyOmitsOfflineConsent(t *testing.T) {
	te := newTokenEndpoint(t)
	ts, _ := setupServer(t, testProvider("github", RefreshNever, te))

	resp, err := noRedirectClient().Get(ts.URL + "/auth/github?user_id=u1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	q := loc.Query()
	assert.Empty(t, q.Get("access_type"))
	assert.Empty(t, q.Get("prompt"))
}

func TestAuthEndpoint_BadRequests(t *testing.T) {
	te := newTokenEndpoint(t)
	ts, _ := setupServer(t, testProvider("github", RefreshOnExpiry, te))

	for name, path := range map[string]string{
		"unknown provider": "/auth/gitlab?user_id=u1",
		"missing user_id":  "/auth/github",
	} {
		t.Run(name, func(t *testing.T) {
			resp, err := noRedirectClient().Get(ts.URL + path)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestCallbackEndpoint_CompletesAndPersists(t *testing.T) {
	te := newTokenEndpoint(t)
	ts, st := setupServer(t, testProvider("github", RefreshOnExpiry, te))

	resp, err := http.Get(ts.URL + "/callback/github?code=code-1&state=u1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	rec, err := st.GetToken(context.Background(), "u1", "github")
	require.NoError(t, err)
	assert.Equal(t, "at-new", rec.AccessToken)
	assert.Equal(t, "rt-new", rec.RefreshToken)
}

func TestCallbackEndpoint_ReplayedCodeIs400(t *testing.T) {
	te := newTokenEndpoint(t)
	ts, _ := setupServer(t, testProvider("github", RefreshOnExpiry, te))

	resp, err := http.Get(ts.URL + "/callback/github?code=code-1&state=u1")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/callback/github?code=code-1&state=u1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 1, te.requests(), "the replayed code never reaches the provider")
}

func TestCallbackEndpoint_ExchangeFailureIs502(t *testing.T) {
	te := newTokenEndpoint(t)
	te.respond = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}
	ts, _ := setupServer(t, testProvider("github", RefreshOnExpiry, te))

	resp, err := http.Get(ts.URL + "/callback/github?code=bad-code&state=u1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestTokenEndpoint_IssuesStoredToken(t *testing.T) {
	te := newTokenEndpoint(t)
	ts, st := setupServer(t, testProvider("github", RefreshOnExpiry, te))

	future := time.Now().Add(time.Hour).UnixMilli()
	require.NoError(t, st.PutToken(context.Background(), "u1", "github",
		&store.TokenRecord{AccessToken: "at-stored", RefreshToken: "rt", ExpiresAt: future}))

	resp, err := http.Post(ts.URL+"/token/github", "application/json", strings.NewReader(`{"user_id":"u1"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var issued IssuedToken
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&issued))
	assert.Equal(t, "at-stored", issued.AccessToken)
	assert.Equal(t, future, issued.ExpiresAt)
}

func TestTokenEndpoint_ErrorStatuses(t *testing.T) {
	te := newTokenEndpoint(t)
	te.respond = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}
	ts, st := setupServer(t, testProvider("github", RefreshOnExpiry, te))

	cases := []struct {
		name    string
		path    string
		body    string
		prepare func()
		status  int
		code    string
	}{
		{
			name:   "never connected",
			path:   "/token/github",
			body:   `{"user_id":"u1"}`,
			status: http.StatusNotFound,
			code:   "not_connected",
		},
		{
			name: "refresh failure",
			path: "/token/github",
			body: `{"user_id":"u1"}`,
			prepare: func() {
				expired := time.Now().Add(-time.Hour).UnixMilli()
				require.NoError(t, st.PutToken(context.Background(), "u1", "github",
					&store.TokenRecord{AccessToken: "at-old", RefreshToken: "rt", ExpiresAt: expired}))
			},
			status: http.StatusUnauthorized,
			code:   "refresh_failed",
		},
		{
			name:   "unknown provider",
			path:   "/token/gitlab",
			body:   `{"user_id":"u1"}`,
			status: http.StatusBadRequest,
			code:   "unknown_provider",
		},
		{
			name:   "missing user_id",
			path:   "/token/github",
			body:   `{}`,
			status: http.StatusBadRequest,
			code:   "missing_parameter",
		},
		{
			name:   "invalid JSON",
			path:   "/token/github",
			body:   `{`,
			status: http.StatusBadRequest,
			code:   "bad_request",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.prepare != nil {
				tc.prepare()
			}
			resp, err := http.Post(ts.URL+tc.path, "application/json", strings.NewReader(tc.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tc.status, resp.StatusCode)

			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tc.code, body["error"])
		})
	}
}

func TestTokenEndpoint_RequiresPost(t *testing.T) {
	te := newTokenEndpoint(t)
	ts, _ := setupServer(t, testProvider("github", RefreshOnExpiry, te))

	resp, err := http.Get(ts.URL + "/token/github")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	te := newTokenEndpoint(t)
	ts, _ := setupServer(t, testProvider("github", RefreshOnExpiry, te))

	for _, path := range []string{"/health", "/health/ready"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
