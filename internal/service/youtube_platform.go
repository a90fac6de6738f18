package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/pkg/apperrors"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const (
	PlatformYoutube  = "youtube"
	googleRevokeURL  = "https://oauth2.googleapis.com/revoke"
	youtubeWatchBase = "https://youtu.be/"
)

// YoutubePlatform uploads videos straight from their source URL through the
// resumable upload of the Data API. It has no separate upload protocol.
type YoutubePlatform struct {
	credentials *CredentialService
	media       *MediaFetcher
	httpClient  *http.Client
	endpoint    string
	logger      *slog.Logger
}

// NewYoutubePlatform builds the platform. endpoint overrides the API base URL
// and is empty in production.
func NewYoutubePlatform(credentials *CredentialService, media *MediaFetcher, httpClient *http.Client, endpoint string, logger *slog.Logger) *YoutubePlatform {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &YoutubePlatform{
		credentials: credentials,
		media:       media,
		httpClient:  httpClient,
		endpoint:    endpoint,
		logger:      logger.With(slog.String("platform", PlatformYoutube)),
	}
}

func (p *YoutubePlatform) Name() string { return PlatformYoutube }

func (p *YoutubePlatform) Capabilities() Capabilities {
	return Capabilities{ChunkedUpload: false, DeletePost: true}
}

func (p *YoutubePlatform) Uploader() MediaUploader { return nil }

func (p *YoutubePlatform) service(ctx context.Context, accessToken string) (*youtube.Service, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if p.endpoint != "" {
		opts = append(opts, option.WithEndpoint(p.endpoint))
	}
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("create youtube service: %w", err))
	}
	return svc, nil
}

func (p *YoutubePlatform) authorized(ctx context.Context, accountID string) (*youtube.Service, error) {
	cred, err := p.credentials.Authorize(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return p.service(ctx, cred.AccessToken)
}

func (p *YoutubePlatform) CreatePost(ctx context.Context, accountID string, draft PostDraft) (*PostResult, error) {
	if draft.VideoURL == "" {
		return nil, apperrors.NonRetryable("youtube posts require a video", nil)
	}

	svc, err := p.authorized(ctx, accountID)
	if err != nil {
		return nil, err
	}

	body, err := p.media.Open(ctx, draft.VideoURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	title := draft.Title
	if title == "" {
		title = firstLine(draft.Text, 100)
	}
	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       title,
			Description: draft.Text,
			CategoryId:  "22",
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: "public",
		},
	}

	resp, err := svc.Videos.Insert([]string{"snippet", "status"}, video).
		Media(body, googleapi.ChunkSize(ChunkSize)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classifyProviderError("youtube upload", err)
	}

	p.logger.Info("video uploaded", slog.String("account_id", accountID), slog.String("video_id", resp.Id))
	return &PostResult{PostID: resp.Id, Permalink: youtubeWatchBase + resp.Id}, nil
}

func (p *YoutubePlatform) DeletePost(ctx context.Context, accountID, postID string) error {
	svc, err := p.authorized(ctx, accountID)
	if err != nil {
		return err
	}
	if err := svc.Videos.Delete(postID).Context(ctx).Do(); err != nil {
		return classifyProviderError("youtube delete", err)
	}
	return nil
}

func (p *YoutubePlatform) AccessTokenStatus(ctx context.Context, accountID string) (*models.TokenStatus, error) {
	return p.credentials.TokenStatus(ctx, accountID)
}

// FetchProfile reads the authorizing user's own channel.
func (p *YoutubePlatform) FetchProfile(ctx context.Context, tok *oauth2.Token) (*models.RemoteProfile, error) {
	svc, err := p.service(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}
	resp, err := svc.Channels.List([]string{"snippet"}).Mine(true).Context(ctx).Do()
	if err != nil {
		return nil, classifyProviderError("youtube channel", err)
	}
	if len(resp.Items) == 0 {
		return nil, apperrors.NonRetryable("google account has no youtube channel", nil)
	}

	ch := resp.Items[0]
	profile := &models.RemoteProfile{ID: ch.Id}
	if ch.Snippet != nil {
		profile.Name = ch.Snippet.Title
		profile.Username = ch.Snippet.CustomUrl
		if ch.Snippet.Thumbnails != nil && ch.Snippet.Thumbnails.Default != nil {
			profile.ProfilePicture = ch.Snippet.Thumbnails.Default.Url
		}
	}
	return profile, nil
}

// GoogleRevoker revokes Google OAuth tokens.
type GoogleRevoker struct {
	client *providerClient
	url    string
}

func NewGoogleRevoker(httpClient *http.Client, logger *slog.Logger) *GoogleRevoker {
	return &GoogleRevoker{client: newProviderClient("google-oauth", httpClient, logger), url: googleRevokeURL}
}

func (r *GoogleRevoker) Revoke(ctx context.Context, token string) error {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, strings.NewReader(form.Encode()))
	if err != nil {
		return apperrors.Internal(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if err := r.client.doJSON("revoke google token", req, nil); err != nil {
		return classifyProviderError("revoke google token", err)
	}
	return nil
}

func firstLine(s string, limit int) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	if r := []rune(line); len(r) > limit {
		return string(r[:limit])
	}
	return line
}
