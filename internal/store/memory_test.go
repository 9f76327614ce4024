package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	_, err := m.GetToken(ctx, "u1", "github")
	assert.ErrorIs(t, err, ErrNotFound)

	rec := &TokenRecord{AccessToken: "at", RefreshToken: "rt", ExpiresAt: 7}
	require.NoError(t, m.PutToken(ctx, "u1", "github", rec))

	got, err := m.GetToken(ctx, "u1", "github")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	// Returned record is a copy; mutating it must not affect the store.
	got.AccessToken = "mutated"
	again, err := m.GetToken(ctx, "u1", "github")
	require.NoError(t, err)
	assert.Equal(t, "at", again.AccessToken)
}
