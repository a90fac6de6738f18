package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/maheshrc27/postflow/internal/models"
)

type SocialAccountRepository interface {
	CreateOrMatch(ctx context.Context, sa *models.SocialAccount) (*models.SocialAccount, error)
	GetByID(ctx context.Context, id string) (*models.SocialAccount, error)
	CheckByUserID(ctx context.Context, accountID string, userID int64) (bool, error)
}

type socialAccountRepository struct {
	db *sql.DB
}

func NewSocialAccountRepository(db *sql.DB) SocialAccountRepository {
	return &socialAccountRepository{db: db}
}

// CreateOrMatch inserts the account or, when (user, platform, platform user)
// already exists, refreshes its profile fields and returns the existing row.
func (r *socialAccountRepository) CreateOrMatch(ctx context.Context, sa *models.SocialAccount) (*models.SocialAccount, error) {
	query := `
		INSERT INTO social_accounts (
			id,
			user_id,
			platform,
			platform_user_id,
			account_name,
			account_username,
			profile_picture_url,
			group_id,
			account_status,
			login_time
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, platform, platform_user_id) DO UPDATE SET
			account_name = EXCLUDED.account_name,
			account_username = EXCLUDED.account_username,
			profile_picture_url = EXCLUDED.profile_picture_url,
			group_id = COALESCE(NULLIF(EXCLUDED.group_id, ''), social_accounts.group_id),
			account_status = EXCLUDED.account_status,
			login_time = EXCLUDED.login_time,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	out := *sa
	err := r.db.QueryRowContext(ctx, query,
		sa.ID,
		sa.UserID,
		sa.Platform,
		sa.PlatformUserID,
		sa.AccountName,
		sa.AccountUsername,
		sa.ProfilePicture,
		sa.GroupID,
		sa.AccountStatus,
		sa.LoginTime,
	).Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create or match account: %w", err)
	}
	return &out, nil
}

func (r *socialAccountRepository) GetByID(ctx context.Context, id string) (*models.SocialAccount, error) {
	query := `
		SELECT id, user_id, platform, platform_user_id, account_name, account_username,
			profile_picture_url, group_id, account_status, login_time, created_at, updated_at
		FROM social_accounts
		WHERE id = $1
	`

	var sa models.SocialAccount
	err := r.db.QueryRowContext(ctx, query, id).Scan(&sa.ID, &sa.UserID, &sa.Platform, &sa.PlatformUserID,
		&sa.AccountName, &sa.AccountUsername, &sa.ProfilePicture, &sa.GroupID, &sa.AccountStatus,
		&sa.LoginTime, &sa.CreatedAt, &sa.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &sa, nil
}

func (r *socialAccountRepository) CheckByUserID(ctx context.Context, accountID string, userID int64) (bool, error) {
	query := "SELECT 1 FROM social_accounts WHERE id = $1 AND user_id = $2"

	var result int
	err := r.db.QueryRowContext(ctx, query, accountID, userID).Scan(&result)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check account owner: %w", err)
	}
	return result == 1, nil
}
