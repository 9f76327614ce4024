// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides token persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
// Reads always go to the database; there is deliberately no in-process
// cache, so multiple broker instances never serve stale tokens.
type SQLiteStore struct {
	db     *sql.DB
	cipher *tokenCipher
	logger *slog.Logger
}

// SQLiteOptions configures optional store behavior.
type SQLiteOptions struct {
	// EncryptionKey enables at-rest encryption of access and refresh
	// tokens when non-empty.
	EncryptionKey string
	Logger        *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string, opts SQLiteOptions) (*SQLiteStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	cipher, err := newTokenCipher(opts.EncryptionKey)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{
		db:     db,
		cipher: cipher,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite token store initialized", "path", path, "encrypted", cipher != nil)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tokens (
			user_id       TEXT NOT NULL,
			provider      TEXT NOT NULL,
			access_token  TEXT NOT NULL,
			refresh_token TEXT,
			expires_at    INTEGER NOT NULL,
			scope         TEXT,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,

			PRIMARY KEY (user_id, provider)
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// GetToken retrieves the record for a (user, provider) key.
// Returns ErrNotFound if no record exists.
func (s *SQLiteStore) GetToken(ctx context.Context, userID, provider string) (*TokenRecord, error) {
	query := `
		SELECT access_token, refresh_token, expires_at, scope
		FROM tokens
		WHERE user_id = ? AND provider = ?
	`

	var rec TokenRecord
	var refreshToken, scope sql.NullString

	err := s.db.QueryRowContext(ctx, query, userID, provider).Scan(
		&rec.AccessToken,
		&refreshToken,
		&rec.ExpiresAt,
		&scope,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying token: %w", err)
	}

	rec.RefreshToken = refreshToken.String
	rec.Scope = scope.String

	if rec.AccessToken, err = s.cipher.decrypt(rec.AccessToken); err != nil {
		return nil, fmt.Errorf("access token for %s/%s: %w", userID, provider, err)
	}
	if rec.RefreshToken, err = s.cipher.decrypt(rec.RefreshToken); err != nil {
		return nil, fmt.Errorf("refresh token for %s/%s: %w", userID, provider, err)
	}

	return &rec, nil
}

// PutToken overwrites the record for a (user, provider) key in full.
func (s *SQLiteStore) PutToken(ctx context.Context, userID, provider string, rec *TokenRecord) error {
	accessToken, err := s.cipher.encrypt(rec.AccessToken)
	if err != nil {
		return err
	}
	refreshToken, err := s.cipher.encrypt(rec.RefreshToken)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO tokens (user_id, provider, access_token, refresh_token, expires_at, scope, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token  = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at    = excluded.expires_at,
			scope         = excluded.scope,
			updated_at    = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		userID,
		provider,
		accessToken,
		nullString(refreshToken),
		rec.ExpiresAt,
		nullString(rec.Scope),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("storing token: %w", err)
	}

	s.logger.Debug("token record stored", "user_id", userID, "provider", provider)
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// nullString converts an empty string to a NULL column value.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
