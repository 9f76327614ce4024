package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T, opts SQLiteOptions) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := NewSQLiteStore(dbPath, opts)
	require.NoError(t, err)

	t.Cleanup(func() {
		s.Close()
	})

	return s
}

func TestSQLiteStore_PutGetRoundTrip(t *testing.T) {
	s := setupTestStore(t, SQLiteOptions{})
	ctx := context.Background()

	rec := &TokenRecord{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAt:    time.Now().Add(time.Hour).UnixMilli(),
		Scope:        "repo user",
	}

	require.NoError(t, s.PutToken(ctx, "u1", "github", rec))

	got, err := s.GetToken(ctx, "u1", "github")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestSQLiteStore_GetToken_NotFound(t *testing.T) {
	s := setupTestStore(t, SQLiteOptions{})

	_, err := s.GetToken(context.Background(), "u1", "github")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_PutToken_OverwritesInFull(t *testing.T) {
	s := setupTestStore(t, SQLiteOptions{})
	ctx := context.Background()

	require.NoError(t, s.PutToken(ctx, "u1", "github", &TokenRecord{
		AccessToken:  "old",
		RefreshToken: "rt-old",
		ExpiresAt:    1000,
		Scope:        "repo",
	}))

	// A new authorization replaces the record entirely: no field merge, so
	// the absent refresh token and scope come back absent.
	require.NoError(t, s.PutToken(ctx, "u1", "github", &TokenRecord{
		AccessToken: "new",
		ExpiresAt:   2000,
	}))

	got, err := s.GetToken(ctx, "u1", "github")
	require.NoError(t, err)
	assert.Equal(t, "new", got.AccessToken)
	assert.Empty(t, got.RefreshToken)
	assert.Empty(t, got.Scope)
	assert.Equal(t, int64(2000), got.ExpiresAt)
}

func TestSQLiteStore_KeysAreIndependent(t *testing.T) {
	s := setupTestStore(t, SQLiteOptions{})
	ctx := context.Background()

	require.NoError(t, s.PutToken(ctx, "u1", "github", &TokenRecord{AccessToken: "gh", ExpiresAt: 1}))
	require.NoError(t, s.PutToken(ctx, "u1", "google", &TokenRecord{AccessToken: "gg", ExpiresAt: 2}))
	require.NoError(t, s.PutToken(ctx, "u2", "github", &TokenRecord{AccessToken: "gh2", ExpiresAt: 3}))

	got, err := s.GetToken(ctx, "u1", "github")
	require.NoError(t, err)
	assert.Equal(t, "gh", got.AccessToken)

	got, err = s.GetToken(ctx, "u2", "github")
	require.NoError(t, err)
	assert.Equal(t, "gh2", got.AccessToken)
}

func TestSQLiteStore_ConcurrentWritesStayWellFormed(t *testing.T) {
	s := setupTestStore(t, SQLiteOptions{})
	ctx := context.Background()

	var wg sync.WaitGroup
	tokens := make([]string, 8)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("at-%d", i)
	}

	for _, tok := range tokens {
		wg.Add(1)
		go func(tok string) {
			defer wg.Done()
			err := s.PutToken(ctx, "u1", "github", &TokenRecord{AccessToken: tok, ExpiresAt: 99})
			assert.NoError(t, err)
		}(tok)
	}
	wg.Wait()

	// Last write wins; whichever it was, the record is complete.
	got, err := s.GetToken(ctx, "u1", "github")
	require.NoError(t, err)
	assert.Contains(t, tokens, got.AccessToken)
	assert.Equal(t, int64(99), got.ExpiresAt)
}

func TestSQLiteStore_Encryption(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "enc.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(dbPath, SQLiteOptions{EncryptionKey: "passphrase"})
	require.NoError(t, err)

	rec := &TokenRecord{AccessToken: "at-secret", RefreshToken: "rt-secret", ExpiresAt: 42}
	require.NoError(t, s.PutToken(ctx, "u1", "github", rec))

	t.Run("round trip", func(t *testing.T) {
		got, err := s.GetToken(ctx, "u1", "github")
		require.NoError(t, err)
		assert.Equal(t, rec, got)
	})

	t.Run("ciphertext at rest", func(t *testing.T) {
		var raw string
		err := s.db.QueryRow("SELECT access_token FROM tokens WHERE user_id = 'u1'").Scan(&raw)
		require.NoError(t, err)
		assert.NotEqual(t, "at-secret", raw)
		assert.NotContains(t, raw, "secret")
	})

	require.NoError(t, s.Close())

	t.Run("wrong key fails closed", func(t *testing.T) {
		s2, err := NewSQLiteStore(dbPath, SQLiteOptions{EncryptionKey: "other-passphrase"})
		require.NoError(t, err)
		defer s2.Close()

		_, err = s2.GetToken(ctx, "u1", "github")
		assert.Error(t, err)
	})
}

func TestTokenCipher_EmptyValuesPassThrough(t *testing.T) {
	c, err := newTokenCipher("passphrase")
	require.NoError(t, err)

	out, err := c.encrypt("")
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = c.decrypt("")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestTokenCipher_NilPassesThrough(t *testing.T) {
	var c *tokenCipher

	out, err := c.encrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)

	out, err = c.decrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)
}
