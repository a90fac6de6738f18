package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/maheshrc27/postflow/pkg/apperrors"
)

// TwitterAPI is a thin X API v2 client. Every call takes the bearer access
// token explicitly; credential handling lives in the platform.
type TwitterAPI struct {
	baseURL      string
	clientID     string
	clientSecret string
	client       *providerClient
}

func NewTwitterAPI(baseURL, clientID, clientSecret string, httpClient *http.Client, logger *slog.Logger) *TwitterAPI {
	return &TwitterAPI{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		client:       newProviderClient("twitter", httpClient, logger).withRateLimit(5, 10),
	}
}

func (a *TwitterAPI) newRequest(ctx context.Context, method, path, token string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (a *TwitterAPI) call(ctx context.Context, op, method, path, token string, body, out any) error {
	req, err := a.newRequest(ctx, method, path, token, body)
	if err != nil {
		return apperrors.Internal(fmt.Errorf("%s: %w", op, err))
	}
	if err := a.client.doJSON(op, req, out); err != nil {
		return classifyProviderError(op, err)
	}
	return nil
}

func (a *TwitterAPI) GetMe(ctx context.Context, token string) (*transfer.TwitterUser, error) {
	var resp transfer.TwitterUserResponse
	if err := a.call(ctx, "get user", http.MethodGet, "/users/me?user.fields=profile_image_url,username,name", token, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

func (a *TwitterAPI) InitUpload(ctx context.Context, token string, body transfer.TwitterMediaInitRequest) (string, error) {
	var resp transfer.TwitterMediaResponse
	if err := a.call(ctx, "media init", http.MethodPost, "/media/upload/initialize", token, body, &resp); err != nil {
		return "", err
	}
	if resp.Data.ID == "" {
		return "", apperrors.NonRetryable("media init: no media id returned", nil)
	}
	return resp.Data.ID, nil
}

// AppendUpload sends one segment as multipart form data.
func (a *TwitterAPI) AppendUpload(ctx context.Context, token, mediaID string, index int, chunk []byte) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("segment_index", strconv.Itoa(index)); err != nil {
		return apperrors.Internal(err)
	}
	part, err := w.CreateFormFile("media", "segment-"+strconv.Itoa(index))
	if err != nil {
		return apperrors.Internal(err)
	}
	if _, err := part.Write(chunk); err != nil {
		return apperrors.Internal(err)
	}
	if err := w.Close(); err != nil {
		return apperrors.Internal(err)
	}

	path := "/media/upload/" + url.PathEscape(mediaID) + "/append"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, &buf)
	if err != nil {
		return apperrors.Internal(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", w.FormDataContentType())

	if err := a.client.doJSON("media append", req, nil); err != nil {
		return classifyProviderError("media append", err)
	}
	return nil
}

func (a *TwitterAPI) FinalizeUpload(ctx context.Context, token, mediaID string) (*transfer.TwitterMediaData, error) {
	var resp transfer.TwitterMediaResponse
	path := "/media/upload/" + url.PathEscape(mediaID) + "/finalize"
	if err := a.call(ctx, "media finalize", http.MethodPost, path, token, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

func (a *TwitterAPI) UploadStatus(ctx context.Context, token, mediaID string) (*transfer.TwitterMediaData, error) {
	var resp transfer.TwitterMediaResponse
	q := url.Values{"command": {"STATUS"}, "media_id": {mediaID}}
	if err := a.call(ctx, "media status", http.MethodGet, "/media/upload?"+q.Encode(), token, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

func (a *TwitterAPI) CreatePost(ctx context.Context, token string, body transfer.TwitterCreatePostRequest) (string, error) {
	var resp transfer.TwitterCreatePostResponse
	if err := a.call(ctx, "create post", http.MethodPost, "/tweets", token, body, &resp); err != nil {
		return "", err
	}
	if resp.Data.ID == "" {
		return "", apperrors.NonRetryable("create post: no post id returned", nil)
	}
	return resp.Data.ID, nil
}

func (a *TwitterAPI) DeletePost(ctx context.Context, token, postID string) (bool, error) {
	var resp transfer.TwitterDeletePostResponse
	if err := a.call(ctx, "delete post", http.MethodDelete, "/tweets/"+url.PathEscape(postID), token, nil, &resp); err != nil {
		return false, err
	}
	return resp.Data.Deleted, nil
}

// Revoke invalidates a token. Confidential clients authenticate with Basic
// auth and also send client_id in the form.
func (a *TwitterAPI) Revoke(ctx context.Context, token string) error {
	form := url.Values{
		"token":     {token},
		"client_id": {a.clientID},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/oauth2/revoke", strings.NewReader(form.Encode()))
	if err != nil {
		return apperrors.Internal(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if a.clientSecret != "" {
		req.SetBasicAuth(url.QueryEscape(a.clientID), url.QueryEscape(a.clientSecret))
	}

	if err := a.client.doJSON("revoke token", req, nil); err != nil {
		return classifyProviderError("revoke token", err)
	}
	return nil
}

// twitterMediaState maps processing_info onto a MediaState. Media without
// processing_info is ready as soon as finalize returns.
func twitterMediaState(d *transfer.TwitterMediaData) MediaState {
	if d == nil || d.ProcessingInfo == nil {
		return MediaStateSucceeded
	}
	switch d.ProcessingInfo.State {
	case "succeeded":
		return MediaStateSucceeded
	case "failed":
		return MediaStateFailed
	case "in_progress":
		return MediaStateInProgress
	}
	return MediaStatePending
}

func twitterMediaCategory(category models.MediaCategory, mimeType string) string {
	switch {
	case category == models.MediaCategoryVideo:
		return "tweet_video"
	case mimeType == "image/gif":
		return "tweet_gif"
	}
	return "tweet_image"
}
