package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/pkg/apperrors"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const minCacheTTL = time.Second

// TokenRefresher exchanges a refresh token for a new token set.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// TokenRevoker invalidates a token at the provider.
type TokenRevoker interface {
	Revoke(ctx context.Context, token string) error
}

// OAuth2Refresher refreshes through the platform's token endpoint.
type OAuth2Refresher struct {
	Config *oauth2.Config
}

func (r *OAuth2Refresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return r.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}

// CredentialOptions tunes a CredentialService. Zero values fall back to
// defaults.
type CredentialOptions struct {
	RefreshMargin time.Duration
	Revoker       TokenRevoker
	Now           func() time.Time
}

// CredentialService is the two-tier credential store for one platform. Redis
// is a read-through cache; Postgres is authoritative.
type CredentialService struct {
	platform  string
	repo      repository.CredentialRepository
	cache     repository.CredentialCache
	refresher TokenRefresher
	revoker   TokenRevoker
	margin    time.Duration
	now       func() time.Time
	group     singleflight.Group
	logger    *slog.Logger
}

func NewCredentialService(
	platform string,
	repo repository.CredentialRepository,
	cache repository.CredentialCache,
	refresher TokenRefresher,
	logger *slog.Logger,
	opts CredentialOptions,
) *CredentialService {
	if opts.RefreshMargin <= 0 {
		opts.RefreshMargin = 300 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &CredentialService{
		platform:  platform,
		repo:      repo,
		cache:     cache,
		refresher: refresher,
		revoker:   opts.Revoker,
		margin:    opts.RefreshMargin,
		now:       opts.Now,
		logger:    logger.With(slog.String("platform", platform)),
	}
}

func (s *CredentialService) Platform() string {
	return s.platform
}

// Get reads the cache, then the durable store, repopulating the cache on a
// durable hit. A missing credential is AuthExpired.
func (s *CredentialService) Get(ctx context.Context, accountID string) (*models.OAuthCredential, error) {
	cred, err := s.cache.Get(ctx, accountID, s.platform)
	if err != nil {
		s.logger.Warn("credential cache read failed", slog.String("account_id", accountID), slog.Any("error", err))
	}
	if cred != nil {
		return cred, nil
	}

	cred, err = s.repo.Get(ctx, accountID, s.platform)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		return nil, apperrors.AuthExpired("no credential for account "+accountID, nil)
	}

	if err := s.cache.Set(ctx, cred, s.cacheTTL(cred)); err != nil {
		s.logger.Warn("credential cache fill failed", slog.String("account_id", accountID), slog.Any("error", err))
	}
	return cred, nil
}

// Authorize returns a credential that is valid now, refreshing it first if
// its margin-adjusted expiry has passed.
func (s *CredentialService) Authorize(ctx context.Context, accountID string) (*models.OAuthCredential, error) {
	return s.RefreshBefore(ctx, accountID, s.now())
}

// RefreshBefore returns a credential valid at deadline, refreshing when
// ExpiresAt <= deadline. Concurrent callers for one account share a refresh.
func (s *CredentialService) RefreshBefore(ctx context.Context, accountID string, deadline time.Time) (*models.OAuthCredential, error) {
	cred, err := s.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !cred.Expired(deadline) {
		return cred, nil
	}

	v, err, _ := s.group.Do(s.platform+":"+accountID, func() (any, error) {
		return s.refresh(ctx, accountID, deadline)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.OAuthCredential), nil
}

func (s *CredentialService) refresh(ctx context.Context, accountID string, deadline time.Time) (*models.OAuthCredential, error) {
	// The cache may be stale; decide on the durable copy.
	current, err := s.repo.Get(ctx, accountID, s.platform)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if current == nil {
		return nil, apperrors.AuthExpired("no credential for account "+accountID, nil)
	}
	if !current.Expired(deadline) {
		s.fillCache(ctx, current)
		return current, nil
	}
	if current.RefreshToken == "" {
		return nil, apperrors.AuthExpired("credential expired and has no refresh token", nil)
	}

	tok, err := s.refresher.Refresh(ctx, current.RefreshToken)
	if err != nil {
		s.logRefreshError(accountID, err)
		metrics.TokenRefreshes.WithLabelValues(s.platform, "failed").Inc()
		return nil, apperrors.AuthExpired("token refresh failed", err)
	}

	next := s.credentialFromToken(accountID, tok)
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}

	version, swapped, err := s.repo.CompareAndSwap(ctx, next, current.Version)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(s.platform, "failed").Inc()
		return nil, apperrors.AuthExpired("persist refreshed credential", err)
	}
	if !swapped {
		metrics.TokenRefreshes.WithLabelValues(s.platform, "lost_race").Inc()
		return s.reloadWinner(ctx, accountID)
	}
	next.Version = version

	if err := s.cache.Set(ctx, next, s.cacheTTL(next)); err != nil {
		// The swapped row in Postgres is kept on purpose: it holds the only
		// copy of the rotated refresh token. Drop the stale cached copy so
		// readers fall through to it.
		_ = s.cache.Delete(ctx, accountID, s.platform)
		metrics.TokenRefreshes.WithLabelValues(s.platform, "failed").Inc()
		return nil, apperrors.AuthExpired("cache refreshed credential", err)
	}

	metrics.TokenRefreshes.WithLabelValues(s.platform, "ok").Inc()
	s.logger.Info("credential refreshed",
		slog.String("account_id", accountID),
		slog.Time("expires_at", next.ExpiresAt),
	)
	return next, nil
}

// reloadWinner returns the credential written by a concurrent refresher.
func (s *CredentialService) reloadWinner(ctx context.Context, accountID string) (*models.OAuthCredential, error) {
	winner, err := s.repo.Get(ctx, accountID, s.platform)
	if err != nil {
		return nil, fmt.Errorf("reload credential: %w", err)
	}
	if winner == nil || winner.Expired(s.now()) {
		return nil, apperrors.AuthExpired("credential changed during refresh", nil)
	}
	s.fillCache(ctx, winner)
	return winner, nil
}

// Save stores a freshly issued token in both tiers.
func (s *CredentialService) Save(ctx context.Context, accountID string, tok *oauth2.Token) (*models.OAuthCredential, error) {
	if tok == nil || tok.AccessToken == "" {
		return nil, apperrors.InvalidInput("token has no access token")
	}

	cred := s.credentialFromToken(accountID, tok)
	version, err := s.repo.Upsert(ctx, nil, cred)
	if err != nil {
		return nil, fmt.Errorf("save credential: %w", err)
	}
	cred.Version = version

	if err := s.cache.Set(ctx, cred, s.cacheTTL(cred)); err != nil {
		return nil, fmt.Errorf("cache credential: %w", err)
	}
	return cred, nil
}

// Revoke invalidates the tokens at the provider when supported and removes
// the credential from both tiers.
func (s *CredentialService) Revoke(ctx context.Context, accountID string) error {
	cred, err := s.repo.Get(ctx, accountID, s.platform)
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		return apperrors.NotFound("credential", accountID)
	}

	if s.revoker != nil {
		token := cred.RefreshToken
		if token == "" {
			token = cred.AccessToken
		}
		if err := s.revoker.Revoke(ctx, token); err != nil {
			s.logger.Warn("provider token revoke failed", slog.String("account_id", accountID), slog.Any("error", err))
		}
	}

	if err := s.repo.Delete(ctx, accountID, s.platform); err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, accountID, s.platform); err != nil {
		return fmt.Errorf("evict credential: %w", err)
	}
	return nil
}

// TokenStatus reports whether a usable credential exists without refreshing.
func (s *CredentialService) TokenStatus(ctx context.Context, accountID string) (*models.TokenStatus, error) {
	status := &models.TokenStatus{AccountID: accountID, Platform: s.platform}

	cred, err := s.Get(ctx, accountID)
	if err != nil {
		if apperrors.IsKind(err, apperrors.ErrAuthExpired) {
			return status, nil
		}
		return nil, err
	}
	status.ExpiresAt = cred.ExpiresAt
	status.Valid = !cred.Expired(s.now()) || cred.RefreshToken != ""
	return status, nil
}

// ListExpiring lists credentials whose margin-adjusted expiry is before t.
func (s *CredentialService) ListExpiring(ctx context.Context, before time.Time) ([]*models.OAuthCredential, error) {
	return s.repo.ListExpiring(ctx, s.platform, before)
}

func (s *CredentialService) credentialFromToken(accountID string, tok *oauth2.Token) *models.OAuthCredential {
	return &models.OAuthCredential{
		AccountID:    accountID,
		Platform:     s.platform,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    s.expiresAt(tok),
	}
}

// expiresAt is issue time + expires_in - margin. expires_in comes from the
// raw token response when present, else from the parsed expiry.
func (s *CredentialService) expiresAt(tok *oauth2.Token) time.Time {
	now := s.now()
	lifetime := time.Hour
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		lifetime = time.Duration(v) * time.Second
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			lifetime = time.Duration(n) * time.Second
		}
	default:
		if !tok.Expiry.IsZero() {
			lifetime = tok.Expiry.Sub(now)
		}
	}
	return now.Add(lifetime - s.margin)
}

func (s *CredentialService) cacheTTL(c *models.OAuthCredential) time.Duration {
	return max(c.ExpiresAt.Sub(s.now()), minCacheTTL)
}

func (s *CredentialService) fillCache(ctx context.Context, c *models.OAuthCredential) {
	if err := s.cache.Set(ctx, c, s.cacheTTL(c)); err != nil {
		s.logger.Warn("credential cache fill failed", slog.String("account_id", c.AccountID), slog.Any("error", err))
	}
}

func (s *CredentialService) logRefreshError(accountID string, err error) {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		s.logger.Error("token refresh rejected",
			slog.String("account_id", accountID),
			slog.String("error_code", re.ErrorCode),
			slog.String("description", re.ErrorDescription),
			slog.Int("http_status", status),
		)
		return
	}
	s.logger.Error("token refresh transport error",
		slog.String("account_id", accountID),
		slog.Any("error", err),
	)
}
