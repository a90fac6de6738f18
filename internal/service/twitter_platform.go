package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/transfer"
	"golang.org/x/oauth2"
)

const PlatformTwitter = "twitter"

// TwitterPlatform publishes to X. It is its own MediaUploader.
type TwitterPlatform struct {
	api         *TwitterAPI
	credentials *CredentialService
	accounts    repository.SocialAccountRepository
	logger      *slog.Logger
}

func NewTwitterPlatform(api *TwitterAPI, credentials *CredentialService, accounts repository.SocialAccountRepository, logger *slog.Logger) *TwitterPlatform {
	return &TwitterPlatform{
		api:         api,
		credentials: credentials,
		accounts:    accounts,
		logger:      logger.With(slog.String("platform", PlatformTwitter)),
	}
}

func (p *TwitterPlatform) Name() string { return PlatformTwitter }

func (p *TwitterPlatform) Capabilities() Capabilities {
	return Capabilities{ChunkedUpload: true, DeletePost: true}
}

func (p *TwitterPlatform) Uploader() MediaUploader { return p }

func (p *TwitterPlatform) token(ctx context.Context, accountID string) (string, error) {
	cred, err := p.credentials.Authorize(ctx, accountID)
	if err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}

func (p *TwitterPlatform) CreatePost(ctx context.Context, accountID string, draft PostDraft) (*PostResult, error) {
	token, err := p.token(ctx, accountID)
	if err != nil {
		return nil, err
	}

	body := transfer.TwitterCreatePostRequest{Text: draft.Text}
	if len(draft.MediaIDs) > 0 {
		body.Media = &transfer.TwitterPostMedia{MediaIDs: draft.MediaIDs}
	}
	postID, err := p.api.CreatePost(ctx, token, body)
	if err != nil {
		return nil, err
	}

	return &PostResult{PostID: postID, Permalink: p.permalink(ctx, accountID, postID)}, nil
}

func (p *TwitterPlatform) permalink(ctx context.Context, accountID, postID string) string {
	account, err := p.accounts.GetByID(ctx, accountID)
	if err != nil || account == nil {
		return fmt.Sprintf("https://x.com/i/web/status/%s", postID)
	}
	handle := strings.TrimPrefix(account.AccountUsername, "@")
	if handle == "" {
		return fmt.Sprintf("https://x.com/i/web/status/%s", postID)
	}
	return fmt.Sprintf("https://x.com/%s/status/%s", url.PathEscape(handle), postID)
}

func (p *TwitterPlatform) DeletePost(ctx context.Context, accountID, postID string) error {
	token, err := p.token(ctx, accountID)
	if err != nil {
		return err
	}
	deleted, err := p.api.DeletePost(ctx, token, postID)
	if err != nil {
		return err
	}
	if !deleted {
		p.logger.Warn("post delete not confirmed", slog.String("account_id", accountID), slog.String("post_id", postID))
	}
	return nil
}

func (p *TwitterPlatform) AccessTokenStatus(ctx context.Context, accountID string) (*models.TokenStatus, error) {
	return p.credentials.TokenStatus(ctx, accountID)
}

func (p *TwitterPlatform) InitUpload(ctx context.Context, accountID string, req InitMediaRequest) (string, error) {
	token, err := p.token(ctx, accountID)
	if err != nil {
		return "", err
	}
	return p.api.InitUpload(ctx, token, transfer.TwitterMediaInitRequest{
		MediaType:     req.MimeType,
		TotalBytes:    req.TotalBytes,
		MediaCategory: twitterMediaCategory(req.Category, req.MimeType),
	})
}

func (p *TwitterPlatform) AppendSegment(ctx context.Context, accountID, mediaID string, index int, chunk []byte) error {
	token, err := p.token(ctx, accountID)
	if err != nil {
		return err
	}
	if err := p.api.AppendUpload(ctx, token, mediaID, index, chunk); err != nil {
		return err
	}
	metrics.MediaSegments.WithLabelValues(PlatformTwitter).Inc()
	return nil
}

func (p *TwitterPlatform) FinalizeUpload(ctx context.Context, accountID, mediaID string) (MediaState, error) {
	token, err := p.token(ctx, accountID)
	if err != nil {
		return "", err
	}
	data, err := p.api.FinalizeUpload(ctx, token, mediaID)
	if err != nil {
		return "", err
	}
	return twitterMediaState(data), nil
}

func (p *TwitterPlatform) UploadStatus(ctx context.Context, accountID, mediaID string) (MediaState, error) {
	token, err := p.token(ctx, accountID)
	if err != nil {
		return "", err
	}
	data, err := p.api.UploadStatus(ctx, token, mediaID)
	if err != nil {
		return "", err
	}
	return twitterMediaState(data), nil
}

// FetchProfile implements ProfileFetcher for the OAuth callback.
func (p *TwitterPlatform) FetchProfile(ctx context.Context, tok *oauth2.Token) (*models.RemoteProfile, error) {
	user, err := p.api.GetMe(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}
	return &models.RemoteProfile{
		ID:             user.ID,
		Username:       user.Username,
		Name:           user.Name,
		ProfilePicture: user.ProfileImageURL,
	}, nil
}
