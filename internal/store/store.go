// ABOUTME: Store interface and data types for loom token persistence
// ABOUTME: Defines the TokenRecord struct and the Store interface

package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no token record exists for a key.
var ErrNotFound = errors.New("not found")

// TokenRecord is the stored credential for one (user, provider) pair.
// It is written by the OAuth flow controller on initial exchange and by the
// issuance service on refresh; nothing else reads or writes it.
type TokenRecord struct {
	AccessToken string
	// RefreshToken is empty for providers that never issue one.
	RefreshToken string
	// ExpiresAt is epoch milliseconds. Providers with non-expiring tokens
	// store a far-future sentinel rather than zero, so every expiry check
	// is the same comparison.
	ExpiresAt int64
	// Scope is the last granted scope string, informational only.
	Scope string
}

// Store is the token persistence abstraction. At most one record exists per
// (userID, provider) key; PutToken replaces the record in full, never merges.
// Writes are unconditional overwrites with no locking: concurrent refreshes
// for the same key are last-write-wins, which is accepted (the loser only
// performed a redundant refresh).
type Store interface {
	// GetToken returns the record for the key, or ErrNotFound.
	GetToken(ctx context.Context, userID, provider string) (*TokenRecord, error)
	// PutToken overwrites the record for the key.
	PutToken(ctx context.Context, userID, provider string, rec *TokenRecord) error
	// Close releases any resources held by the store.
	Close() error
}
