package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/maheshrc27/postflow/pkg/apperrors"
	"github.com/maheshrc27/postflow/pkg/utils"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/oauth2"
)

// ProfileFetcher reads the authorizing user's remote profile.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, tok *oauth2.Token) (*models.RemoteProfile, error)
}

// OAuthProvider is everything the authorizer needs for one platform.
type OAuthProvider struct {
	Platform string
	Config   *oauth2.Config
	// ExchangeOptions are added to the code exchange, e.g. client_id in the
	// form for providers that want it alongside Basic auth.
	ExchangeOptions []oauth2.AuthCodeOption
	AuthOptions     []oauth2.AuthCodeOption
	Profile         ProfileFetcher
	Credentials     *CredentialService
}

type OAuthService interface {
	GenerateAuthorizeURL(ctx context.Context, platform string, userID int64, scopes []string, spaceID string) (*transfer.AuthorizeURLResponse, error)
	GetTaskStatus(ctx context.Context, platform, state string) (*models.AuthTask, error)
	HandleCallback(ctx context.Context, platform, code, state string) *transfer.CallbackResult
}

type oauthService struct {
	providers map[string]*OAuthProvider
	tasks     repository.AuthTaskRepository
	accounts  repository.SocialAccountRepository
	ttl       time.Duration
	extendTTL time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

func NewOAuthService(
	providers []*OAuthProvider,
	tasks repository.AuthTaskRepository,
	accounts repository.SocialAccountRepository,
	ttl, extendTTL time.Duration,
	logger *slog.Logger,
) OAuthService {
	byName := make(map[string]*OAuthProvider, len(providers))
	for _, p := range providers {
		byName[p.Platform] = p
	}
	return &oauthService{
		providers: byName,
		tasks:     tasks,
		accounts:  accounts,
		ttl:       ttl,
		extendTTL: extendTTL,
		now:       time.Now,
		logger:    logger,
	}
}

func (s *oauthService) provider(platform string) (*OAuthProvider, error) {
	p, ok := s.providers[platform]
	if !ok {
		return nil, apperrors.Unsupported("platform " + platform + " does not support oauth")
	}
	return p, nil
}

func (s *oauthService) GenerateAuthorizeURL(ctx context.Context, platform string, userID int64, scopes []string, spaceID string) (*transfer.AuthorizeURLResponse, error) {
	p, err := s.provider(platform)
	if err != nil {
		return nil, err
	}

	state, err := utils.GenerateRandomKey(32)
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	task := &models.AuthTask{
		State:        state,
		TaskID:       state,
		UserID:       userID,
		Platform:     platform,
		CodeVerifier: verifier,
		SpaceID:      spaceID,
		Status:       models.AuthTaskStatusPending,
	}
	if err := s.tasks.Create(ctx, task, s.ttl); err != nil {
		return nil, fmt.Errorf("persist auth task: %w", err)
	}

	conf := *p.Config
	if len(scopes) > 0 {
		conf.Scopes = scopes
	}
	opts := append([]oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}, p.AuthOptions...)

	return &transfer.AuthorizeURLResponse{
		URL:    conf.AuthCodeURL(state, opts...),
		TaskID: state,
	}, nil
}

func (s *oauthService) GetTaskStatus(ctx context.Context, platform, state string) (*models.AuthTask, error) {
	return s.tasks.Get(ctx, platform, state)
}

func (s *oauthService) HandleCallback(ctx context.Context, platform, code, state string) *transfer.CallbackResult {
	log := s.logger.With(slog.String("platform", platform), slog.String("state", state))

	p, err := s.provider(platform)
	if err != nil {
		return callbackFailure(transfer.CallbackTaskNotFound, "unsupported platform")
	}

	task, err := s.tasks.Get(ctx, platform, state)
	if err != nil {
		log.Error("load auth task", slog.Any("error", err))
		return callbackFailure(transfer.CallbackTaskNotFound, "authorization task could not be loaded")
	}
	if task == nil {
		return callbackFailure(transfer.CallbackTaskNotFound, "authorization task expired or unknown")
	}
	if task.Completed() {
		return &transfer.CallbackResult{Status: transfer.CallbackOK, Message: "already authorized", AccountID: task.AccountID}
	}
	if code == "" {
		return callbackFailure(transfer.CallbackTokenExchangeFailed, "missing authorization code")
	}

	if !task.Extended {
		task.Extended = true
		if err := s.tasks.Save(ctx, task, s.extendTTL); err != nil {
			log.Warn("extend auth task", slog.Any("error", err))
		}
	}

	opts := append([]oauth2.AuthCodeOption{oauth2.VerifierOption(task.CodeVerifier)}, p.ExchangeOptions...)
	tok, err := p.Config.Exchange(ctx, code, opts...)
	if err != nil {
		logExchangeError(log, err)
		return callbackFailure(transfer.CallbackTokenExchangeFailed, "token exchange failed")
	}

	profile, err := p.Profile.FetchProfile(ctx, tok)
	if err != nil {
		log.Error("fetch profile", slog.Any("error", err))
		return callbackFailure(transfer.CallbackProfileFetchFailed, "could not read account profile")
	}

	id, err := gonanoid.New()
	if err != nil {
		log.Error("generate account id", slog.Any("error", err))
		return callbackFailure(transfer.CallbackAccountCreationFailed, "could not create account")
	}
	account, err := s.accounts.CreateOrMatch(ctx, &models.SocialAccount{
		ID:              id,
		UserID:          task.UserID,
		Platform:        platform,
		PlatformUserID:  profile.ID,
		AccountName:     profile.Name,
		AccountUsername: profile.Username,
		ProfilePicture:  profile.ProfilePicture,
		GroupID:         task.SpaceID,
		AccountStatus:   models.AccountStatusNormal,
		LoginTime:       s.now(),
	})
	if err != nil {
		log.Error("create account", slog.Any("error", err))
		return callbackFailure(transfer.CallbackAccountCreationFailed, "could not create account")
	}

	if _, err := p.Credentials.Save(ctx, account.ID, tok); err != nil {
		log.Error("persist credential", slog.String("account_id", account.ID), slog.Any("error", err))
		return callbackFailure(transfer.CallbackCredentialPersistFailed, "could not store credential")
	}

	task.Status = models.AuthTaskStatusCompleted
	task.AccountID = account.ID
	if err := s.tasks.Save(ctx, task, 0); err != nil {
		log.Error("complete auth task", slog.Any("error", err))
		return callbackFailure(transfer.CallbackTaskUpdateFailed, "authorization succeeded but task could not be updated")
	}

	log.Info("account authorized", slog.String("account_id", account.ID), slog.Int64("user_id", task.UserID))
	return &transfer.CallbackResult{Status: transfer.CallbackOK, Message: "authorized", AccountID: account.ID}
}

func callbackFailure(status transfer.CallbackStatus, msg string) *transfer.CallbackResult {
	return &transfer.CallbackResult{Status: status, Message: msg}
}

func logExchangeError(log *slog.Logger, err error) {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		log.Error("token exchange rejected",
			slog.String("error_code", re.ErrorCode),
			slog.String("description", re.ErrorDescription),
			slog.Int("http_status", status),
		)
		return
	}
	log.Error("token exchange transport error", slog.Any("error", err))
}
