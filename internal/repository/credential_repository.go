package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/pkg/utils"
)

// CredentialRepository is the durable, authoritative tier for OAuth credentials.
// Tokens are sealed with the TokenCipher before they reach the table.
type CredentialRepository interface {
	Get(ctx context.Context, accountID, platform string) (*models.OAuthCredential, error)
	Upsert(ctx context.Context, tx *sql.Tx, c *models.OAuthCredential) (int64, error)
	CompareAndSwap(ctx context.Context, c *models.OAuthCredential, expectedVersion int64) (int64, bool, error)
	Delete(ctx context.Context, accountID, platform string) error
	ListExpiring(ctx context.Context, platform string, before time.Time) ([]*models.OAuthCredential, error)
}

type credentialRepository struct {
	db     *sql.DB
	cipher *utils.TokenCipher
}

func NewCredentialRepository(db *sql.DB, cipher *utils.TokenCipher) CredentialRepository {
	return &credentialRepository{db: db, cipher: cipher}
}

func (r *credentialRepository) Get(ctx context.Context, accountID, platform string) (*models.OAuthCredential, error) {
	query := `
		SELECT account_id, platform, access_token, refresh_token, expires_at, version, updated_at
		FROM oauth_credentials
		WHERE account_id = $1 AND platform = $2
	`

	var c models.OAuthCredential
	var access, refresh string
	err := r.db.QueryRowContext(ctx, query, accountID, platform).Scan(
		&c.AccountID, &c.Platform, &access, &refresh, &c.ExpiresAt, &c.Version, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}

	if c.AccessToken, err = r.cipher.Decrypt(access); err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}
	if c.RefreshToken, err = r.cipher.Decrypt(refresh); err != nil {
		return nil, fmt.Errorf("decrypt refresh token: %w", err)
	}
	return &c, nil
}

func (r *credentialRepository) seal(c *models.OAuthCredential) (string, string, error) {
	access, err := r.cipher.Encrypt(c.AccessToken)
	if err != nil {
		return "", "", fmt.Errorf("encrypt access token: %w", err)
	}
	refresh, err := r.cipher.Encrypt(c.RefreshToken)
	if err != nil {
		return "", "", fmt.Errorf("encrypt refresh token: %w", err)
	}
	return access, refresh, nil
}

// Upsert writes the credential unconditionally and returns the new version.
func (r *credentialRepository) Upsert(ctx context.Context, tx *sql.Tx, c *models.OAuthCredential) (int64, error) {
	access, refresh, err := r.seal(c)
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO oauth_credentials (account_id, platform, access_token, refresh_token, expires_at, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, NOW())
		ON CONFLICT (account_id, platform) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			version = oauth_credentials.version + 1,
			updated_at = NOW()
		RETURNING version
	`

	var version int64
	err = conn(r.db, tx).QueryRowContext(ctx, query, c.AccountID, c.Platform, access, refresh, c.ExpiresAt).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("upsert credential: %w", err)
	}
	return version, nil
}

// CompareAndSwap replaces the stored credential only if its version is still
// expectedVersion. swapped is false when another writer got there first.
func (r *credentialRepository) CompareAndSwap(ctx context.Context, c *models.OAuthCredential, expectedVersion int64) (int64, bool, error) {
	access, refresh, err := r.seal(c)
	if err != nil {
		return 0, false, err
	}

	query := `
		UPDATE oauth_credentials
		SET
			access_token = $3,
			refresh_token = COALESCE(NULLIF($4, ''), refresh_token),
			expires_at = $5,
			version = version + 1,
			updated_at = NOW()
		WHERE account_id = $1 AND platform = $2 AND version = $6
		RETURNING version
	`

	var version int64
	err = r.db.QueryRowContext(ctx, query, c.AccountID, c.Platform, access, refresh, c.ExpiresAt, expectedVersion).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("swap credential: %w", err)
	}
	return version, true, nil
}

func (r *credentialRepository) Delete(ctx context.Context, accountID, platform string) error {
	query := `DELETE FROM oauth_credentials WHERE account_id = $1 AND platform = $2`
	if _, err := r.db.ExecContext(ctx, query, accountID, platform); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// ListExpiring returns the keys of refreshable credentials expiring before the
// given time. Tokens are not loaded.
func (r *credentialRepository) ListExpiring(ctx context.Context, platform string, before time.Time) ([]*models.OAuthCredential, error) {
	query := `
		SELECT account_id, platform, expires_at, version
		FROM oauth_credentials
		WHERE platform = $1 AND expires_at < $2 AND refresh_token <> ''
		ORDER BY expires_at
	`
	rows, err := r.db.QueryContext(ctx, query, platform, before)
	if err != nil {
		return nil, fmt.Errorf("list expiring credentials: %w", err)
	}
	defer rows.Close()

	var creds []*models.OAuthCredential
	for rows.Next() {
		var c models.OAuthCredential
		if err := rows.Scan(&c.AccountID, &c.Platform, &c.ExpiresAt, &c.Version); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return creds, nil
}
