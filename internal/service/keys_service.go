package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/pkg/apperrors"
	"github.com/maheshrc27/postflow/pkg/utils"
)

const (
	maxApiKeys   = 5
	apiKeyPrefix = "pf_"
)

type ApiKeyService interface {
	Create(ctx context.Context, userID int64) (*models.ApiKey, error)
	List(ctx context.Context, userID int64) ([]*models.ApiKey, error)
	GetUserID(ctx context.Context, apiKey string) (int64, error)
	RemoveAPIKey(ctx context.Context, userID, keyID int64) error
}

type apiKeyService struct {
	k      repository.ApiKeyRepository
	logger *slog.Logger
}

func NewApiKeyService(k repository.ApiKeyRepository, logger *slog.Logger) ApiKeyService {
	return &apiKeyService{k: k, logger: logger}
}

func hashApiKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Create issues a new key. The plaintext is only returned here.
func (s *apiKeyService) Create(ctx context.Context, userID int64) (*models.ApiKey, error) {
	keys, err := s.k.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(keys) >= maxApiKeys {
		return nil, apperrors.Conflict("only " + strconv.Itoa(maxApiKeys) + " API keys can be created")
	}

	secret, err := utils.RandomHex(24)
	if err != nil {
		return nil, fmt.Errorf("generate api key: %w", err)
	}
	secret = apiKeyPrefix + secret

	key := &models.ApiKey{
		UserID:  userID,
		KeyHash: hashApiKey(secret),
		Prefix:  secret[:len(apiKeyPrefix)+6],
	}
	if _, err := s.k.Create(ctx, key); err != nil {
		return nil, err
	}
	key.Secret = secret

	s.logger.Info("api key created", slog.Int64("user_id", userID), slog.String("prefix", key.Prefix))
	return key, nil
}

func (s *apiKeyService) GetUserID(ctx context.Context, apiKey string) (int64, error) {
	userID, ok, err := s.k.GetUserIDByHash(ctx, hashApiKey(apiKey))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, apperrors.NotFound("api key", "")
	}
	return userID, nil
}

func (s *apiKeyService) List(ctx context.Context, userID int64) ([]*models.ApiKey, error) {
	return s.k.GetByUserID(ctx, userID)
}

func (s *apiKeyService) RemoveAPIKey(ctx context.Context, userID, keyID int64) error {
	if keyID <= 0 {
		return apperrors.InvalidInput("key id is not valid")
	}
	removed, err := s.k.RemoveForUser(ctx, userID, keyID)
	if err != nil {
		return err
	}
	if !removed {
		return apperrors.NotFound("api key", strconv.FormatInt(keyID, 10))
	}
	return nil
}
