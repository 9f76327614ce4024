// Package store provides persistent storage for token records using SQLite.
//
// # Data Model
//
// One TokenRecord per (userID, provider) key. PutToken is an unconditional
// full overwrite; there is no merge and no versioning. Concurrent writers to
// the same key are last-write-wins, which the broker accepts: the worst case
// is a redundant refresh call, never a corrupt record.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// There is no read-through cache; every GetToken hits the database so that
// multiple process instances never serve stale tokens.
//
// # Encryption
//
// When an encryption key is configured, access and refresh token columns are
// sealed with AES-256-GCM (key derived via HKDF-SHA256). Decryption failures
// are errors, never silent plaintext fallback.
//
// # Testing
//
// Use NewMemoryStore() for unit tests, or NewSQLiteStore(":memory:", ...) for
// integration tests with real SQLite.
package store
