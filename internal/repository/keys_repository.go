package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/maheshrc27/postflow/internal/models"
)

type ApiKeyRepository interface {
	GetUserIDByHash(ctx context.Context, keyHash string) (int64, bool, error)
	GetByUserID(ctx context.Context, userID int64) ([]*models.ApiKey, error)
	Create(ctx context.Context, key *models.ApiKey) (int64, error)
	RemoveForUser(ctx context.Context, userID, keyID int64) (bool, error)
}

type apiKeyRepository struct {
	db *sql.DB
}

func NewApiKeyRepository(db *sql.DB) ApiKeyRepository {
	return &apiKeyRepository{db: db}
}

func (r *apiKeyRepository) GetUserIDByHash(ctx context.Context, keyHash string) (int64, bool, error) {
	var userID int64
	err := r.db.QueryRowContext(ctx, `SELECT user_id FROM api_keys WHERE key_hash = $1`, keyHash).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get api key: %w", err)
	}
	return userID, true, nil
}

func (r *apiKeyRepository) GetByUserID(ctx context.Context, userID int64) ([]*models.ApiKey, error) {
	query := `SELECT id, user_id, prefix, created_at FROM api_keys WHERE user_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.ApiKey
	for rows.Next() {
		var k models.ApiKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Prefix, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (r *apiKeyRepository) Create(ctx context.Context, key *models.ApiKey) (int64, error) {
	query := `INSERT INTO api_keys (user_id, key_hash, prefix) VALUES ($1, $2, $3) RETURNING id, created_at`
	if err := r.db.QueryRowContext(ctx, query, key.UserID, key.KeyHash, key.Prefix).Scan(&key.ID, &key.CreatedAt); err != nil {
		return 0, fmt.Errorf("create api key: %w", err)
	}
	return key.ID, nil
}

// RemoveForUser deletes the key only if it belongs to userID.
func (r *apiKeyRepository) RemoveForUser(ctx context.Context, userID, keyID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1 AND user_id = $2`, keyID, userID)
	if err != nil {
		return false, fmt.Errorf("remove api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove api key: %w", err)
	}
	return n > 0, nil
}
