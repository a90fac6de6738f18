package service

import (
	"context"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/pkg/apperrors"
)

// PlatformService answers per-account credential questions for the owner.
type PlatformService interface {
	TokenStatus(ctx context.Context, userID int64, accountID string) (*models.TokenStatus, error)
	RevokeCredential(ctx context.Context, userID int64, accountID string) error
}

type platformService struct {
	sa          repository.SocialAccountRepository
	registry    *PlatformRegistry
	credentials map[string]*CredentialService
}

func NewPlatformService(sa repository.SocialAccountRepository, registry *PlatformRegistry, credentials ...*CredentialService) PlatformService {
	byPlatform := make(map[string]*CredentialService, len(credentials))
	for _, c := range credentials {
		byPlatform[c.Platform()] = c
	}
	return &platformService{
		sa:          sa,
		registry:    registry,
		credentials: byPlatform,
	}
}

func (s *platformService) owned(ctx context.Context, userID int64, accountID string) (*models.SocialAccount, error) {
	ok, err := s.sa.CheckByUserID(ctx, accountID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NotFound("account", accountID)
	}
	account, err := s.sa.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, apperrors.NotFound("account", accountID)
	}
	return account, nil
}

func (s *platformService) TokenStatus(ctx context.Context, userID int64, accountID string) (*models.TokenStatus, error) {
	account, err := s.owned(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	platform, err := s.registry.Get(account.Platform)
	if err != nil {
		return nil, err
	}
	return platform.AccessTokenStatus(ctx, account.ID)
}

func (s *platformService) RevokeCredential(ctx context.Context, userID int64, accountID string) error {
	account, err := s.owned(ctx, userID, accountID)
	if err != nil {
		return err
	}
	creds, ok := s.credentials[account.Platform]
	if !ok {
		return apperrors.Unsupported("credentials are not managed for " + account.Platform)
	}
	return creds.Revoke(ctx, account.ID)
}
