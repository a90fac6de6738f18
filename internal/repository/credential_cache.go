package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/pkg/utils"
	"github.com/redis/go-redis/v9"
)

// CredentialCache is the fast, non-authoritative tier. A miss is not an error.
type CredentialCache interface {
	Get(ctx context.Context, accountID, platform string) (*models.OAuthCredential, error)
	Set(ctx context.Context, c *models.OAuthCredential, ttl time.Duration) error
	Delete(ctx context.Context, accountID, platform string) error
}

type credentialCache struct {
	rdb    redis.UniversalClient
	cipher *utils.TokenCipher
}

func NewCredentialCache(rdb redis.UniversalClient, cipher *utils.TokenCipher) CredentialCache {
	return &credentialCache{rdb: rdb, cipher: cipher}
}

func credentialKey(accountID, platform string) string {
	return fmt.Sprintf("credential:%s:%s", platform, accountID)
}

func (c *credentialCache) Get(ctx context.Context, accountID, platform string) (*models.OAuthCredential, error) {
	raw, err := c.rdb.Get(ctx, credentialKey(accountID, platform)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache get credential: %w", err)
	}

	var cred models.OAuthCredential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return nil, fmt.Errorf("decode cached credential: %w", err)
	}
	if cred.AccessToken, err = c.cipher.Decrypt(cred.AccessToken); err != nil {
		return nil, fmt.Errorf("decrypt cached access token: %w", err)
	}
	if cred.RefreshToken, err = c.cipher.Decrypt(cred.RefreshToken); err != nil {
		return nil, fmt.Errorf("decrypt cached refresh token: %w", err)
	}
	return &cred, nil
}

func (c *credentialCache) Set(ctx context.Context, cred *models.OAuthCredential, ttl time.Duration) error {
	sealed := *cred
	var err error
	if sealed.AccessToken, err = c.cipher.Encrypt(cred.AccessToken); err != nil {
		return err
	}
	if sealed.RefreshToken, err = c.cipher.Encrypt(cred.RefreshToken); err != nil {
		return err
	}

	raw, err := json.Marshal(&sealed)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	if err := c.rdb.Set(ctx, credentialKey(cred.AccountID, cred.Platform), raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache set credential: %w", err)
	}
	return nil
}

func (c *credentialCache) Delete(ctx context.Context, accountID, platform string) error {
	if err := c.rdb.Del(ctx, credentialKey(accountID, platform)).Err(); err != nil {
		return fmt.Errorf("cache delete credential: %w", err)
	}
	return nil
}
