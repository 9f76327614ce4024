// ABOUTME: In-memory Store implementation for tests and ephemeral runs
// ABOUTME: Map keyed by (user, provider) under an RWMutex, returning copies

package store

import (
	"context"
	"sync"
)

// MemoryStore implements Store with an in-memory map.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[memoryKey]TokenRecord
}

type memoryKey struct {
	userID   string
	provider string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[memoryKey]TokenRecord)}
}

// GetToken returns a copy of the record for the key, or ErrNotFound.
func (m *MemoryStore) GetToken(_ context.Context, userID, provider string) (*TokenRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[memoryKey{userID, provider}]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// PutToken overwrites the record for the key.
func (m *MemoryStore) PutToken(_ context.Context, userID, provider string, rec *TokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[memoryKey{userID, provider}] = *rec
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
