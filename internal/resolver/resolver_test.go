// ABOUTME: Tests for the credential resolution chain: tier ordering,
// ABOUTME: fall-through on failure, and the terminal ErrNoCredential.
package resolver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/loom/internal/broker"
)

// fakeIssuer is a canned in-process issuer.
type fakeIssuer struct {
	tok   *broker.IssuedToken
	err   error
	calls int
}

func (f *fakeIssuer) Issue(_ context.Context, _, _ string) (*broker.IssuedToken, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.tok, nil
}

func brokerStub(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestResolve_BearerWinsWithoutSideEffects(t *testing.T) {
	issuer := &fakeIssuer{tok: &broker.IssuedToken{AccessToken: "local-token"}}
	r := New(Config{Issuer: issuer, FallbackToken: "static-token"})

	cred, err := r.Resolve(context.Background(), "github", "caller-token")
	require.NoError(t, err)
	assert.Equal(t, "caller-token", cred.AccessToken)
	assert.Equal(t, SourceBearer, cred.Source)
	assert.Equal(t, 0, issuer.calls, "bearer tier must not touch the issuer")
}

func TestResolve_LocalIssuer(t *testing.T) {
	issuer := &fakeIssuer{tok: &broker.IssuedToken{AccessToken: "local-token", ExpiresAt: 42}}
	r := New(Config{Issuer: issuer, UserID: "alice"})

	cred, err := r.Resolve(context.Background(), "github", "")
	require.NoError(t, err)
	assert.Equal(t, "local-token", cred.AccessToken)
	assert.Equal(t, int64(42), cred.ExpiresAt)
	assert.Equal(t, SourceLocal, cred.Source)
}

func TestResolve_LocalFailureFallsThroughToBroker(t *testing.T) {
	issuer := &fakeIssuer{err: errors.New("store offline")}
	srv := brokerStub(t, http.StatusOK, `{"access_token":"broker-token","expires_at":99}`)
	r := New(Config{Issuer: issuer, BrokerURL: srv.URL, UserID: "alice"})

	cred, err := r.Resolve(context.Background(), "github", "")
	require.NoError(t, err)
	assert.Equal(t, "broker-token", cred.AccessToken)
	assert.Equal(t, int64(99), cred.ExpiresAt)
	assert.Equal(t, SourceBroker, cred.Source)
	assert.Equal(t, 1, issuer.calls)
}

func TestResolve_BrokerNon200FallsThroughToStatic(t *testing.T) {
	srv := brokerStub(t, http.StatusNotFound, `{"error":"not_connected"}`)
	r := New(Config{BrokerURL: srv.URL, UserID: "alice", FallbackToken: "static-token"})

	cred, err := r.Resolve(context.Background(), "github", "")
	require.NoError(t, err)
	assert.Equal(t, "static-token", cred.AccessToken)
	assert.Equal(t, SourceStatic, cred.Source)
	assert.Greater(t, cred.ExpiresAt, time.Now().Add(300*24*time.Hour).UnixMilli())
}

func TestResolve_BrokerMalformedBodyFallsThrough(t *testing.T) {
	srv := brokerStub(t, http.StatusOK, `{"nope":`)
	r := New(Config{BrokerURL: srv.URL, FallbackToken: "static-token"})

	cred, err := r.Resolve(context.Background(), "github", "")
	require.NoError(t, err)
	assert.Equal(t, SourceStatic, cred.Source)
}

func TestResolve_BrokerMissingAccessTokenFallsThrough(t *testing.T) {
	srv := brokerStub(t, http.StatusOK, `{"expires_at":99}`)
	r := New(Config{BrokerURL: srv.URL, FallbackToken: "static-token"})

	cred, err := r.Resolve(context.Background(), "github", "")
	require.NoError(t, err)
	assert.Equal(t, SourceStatic, cred.Source)
}

func TestResolve_BrokerUnreachableFallsThrough(t *testing.T) {
	srv := brokerStub(t, http.StatusOK, `{}`)
	url := srv.URL
	srv.Close()
	r := New(Config{BrokerURL: url, FallbackToken: "static-token", Timeout: time.Second})

	cred, err := r.Resolve(context.Background(), "github", "")
	require.NoError(t, err)
	assert.Equal(t, SourceStatic, cred.Source)
}

func TestResolve_AllTiersEmpty(t *testing.T) {
	r := New(Config{})

	cred, err := r.Resolve(context.Background(), "github", "")
	assert.Nil(t, cred)
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestResolve_BrokerRequestShape(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		buf := make([]byte, 256)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_at":1}`))
	}))
	defer srv.Close()

	r := New(Config{BrokerURL: srv.URL + "/", UserID: "alice"})
	_, err := r.Resolve(context.Background(), "slack", "")
	require.NoError(t, err)
	assert.Equal(t, "/token/slack", gotPath)
	assert.JSONEq(t, `{"user_id":"alice"}`, gotBody)
}

func TestSourceString(t *testing.T) {
	assert.Equal(t, "bearer", SourceBearer.String())
	assert.Equal(t, "local", SourceLocal.String())
	assert.Equal(t, "broker", SourceBroker.String())
	assert.Equal(t, "static", SourceStatic.String())
}
