package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/gigline/internal/credential"
	"go.uber.org/zap"
)

// CredentialStore persists the single current credential in the credentials
// table. It implements credential.Store.
type CredentialStore struct {
	db     *DB
	logger *zap.Logger
	now    func() time.Time
}

// NewCredentialStore returns a credential.Store backed by db.
func NewCredentialStore(db *DB, logger *zap.Logger) *CredentialStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CredentialStore{db: db, logger: logger, now: time.Now}
}

var _ credential.Store = (*CredentialStore)(nil)

// Get returns the stored credential. Read failures are logged and reported as
// absent.
func (s *CredentialStore) Get() (credential.Credential, bool) {
	var (
		c         credential.Credential
		expiresAt int64
	)
	err := s.db.QueryRow(`
		SELECT access_token, refresh_token, expires_at
		FROM credentials WHERE id = 1`).Scan(&c.AccessToken, &c.RefreshToken, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return credential.Credential{}, false
	}
	if err != nil {
		s.logger.Warn("credential read failed; treating as absent", zap.Error(err))
		return credential.Credential{}, false
	}
	if expiresAt > 0 {
		c.ExpiresAt = time.UnixMilli(expiresAt)
	}
	return c, c.Valid()
}

// Set replaces the stored credential. An empty access token clears it.
func (s *CredentialStore) Set(c credential.Credential) error {
	if !c.Valid() {
		return s.Clear()
	}
	var expiresAt int64
	if !c.ExpiresAt.IsZero() {
		expiresAt = c.ExpiresAt.UnixMilli()
	}
	_, err := s.db.Exec(`
		INSERT INTO credentials (id, access_token, refresh_token, expires_at, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		c.AccessToken, c.RefreshToken, expiresAt, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	return nil
}

// Clear removes the stored credential.
func (s *CredentialStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM credentials`); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	return nil
}
