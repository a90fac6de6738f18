package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/api/middleware"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/maheshrc27/postflow/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// asUser stands in for the auth middleware.
func asUser(id int64) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(middleware.UserIDKey, id)
		return c.Next()
	}
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

type stubPublishing struct {
	service.PublishingService
	submitErr error
	gotUser   int64
	gotReq    *transfer.PublishRequest
}

func (s *stubPublishing) Submit(_ context.Context, userID int64, req *transfer.PublishRequest) (*models.PublishTask, error) {
	s.gotUser, s.gotReq = userID, req
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	return &models.PublishTask{ID: "task-1", Status: models.PublishStatusPending}, nil
}

func (s *stubPublishing) DeletePost(context.Context, int64, string) (bool, error) {
	return false, nil
}

func newPostApp(pub service.PublishingService) *fiber.App {
	app := fiber.New()
	h := NewPostHandler(pub, quietLogger())
	app.Post("/api/publish", asUser(7), h.CreatePost)
	app.Delete("/api/publish/:id/post", asUser(7), h.RemovePost)
	return app
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestPostHandler_CreatePostAccepted(t *testing.T) {
	pub := &stubPublishing{}
	resp, err := newPostApp(pub).Test(postJSON("/api/publish", `{"account_id":"acc-1","text":"hello"}`))
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "task-1", body["task_id"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, int64(7), pub.gotUser)
	assert.Equal(t, "acc-1", pub.gotReq.AccountID)
}

func TestPostHandler_ErrorMapping(t *testing.T) {
	cases := []struct {
		err     error
		status  int
		message string
	}{
		{apperrors.InvalidInput("field 'AccountID' is required"), fiber.StatusBadRequest, "field 'AccountID' is required"},
		{apperrors.NotFound("social account", "acc-9"), fiber.StatusNotFound, ""},
		{apperrors.Unsupported("platform myspace is not supported"), fiber.StatusNotImplemented, "platform myspace is not supported"},
		{errors.New("pq: connection refused"), fiber.StatusInternalServerError, "internal error"},
		{apperrors.Internal(errors.New("boom")), fiber.StatusInternalServerError, "internal error"},
	}
	for _, tc := range cases {
		resp, err := newPostApp(&stubPublishing{submitErr: tc.err}).
			Test(postJSON("/api/publish", `{"account_id":"acc-1","text":"hello"}`))
		require.NoError(t, err)

		assert.Equal(t, tc.status, resp.StatusCode, tc.err.Error())
		body := decodeBody(t, resp)
		if tc.message != "" {
			assert.Equal(t, tc.message, body["error"])
		}
		assert.NotContains(t, body["error"], "pq:")
	}
}

func TestPostHandler_BadBody(t *testing.T) {
	resp, err := newPostApp(&stubPublishing{}).Test(postJSON("/api/publish", `{"account_id":`))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestPostHandler_RemovePostUnsupported(t *testing.T) {
	resp, err := newPostApp(&stubPublishing{}).Test(httptest.NewRequest(http.MethodDelete, "/api/publish/task-1/post", nil))
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, false, body["supported"])
}

type stubOAuth struct {
	task     *models.AuthTask
	callback *transfer.CallbackResult
	scopes   []string
}

func (s *stubOAuth) GenerateAuthorizeURL(_ context.Context, platform string, _ int64, scopes []string, _ string) (*transfer.AuthorizeURLResponse, error) {
	s.scopes = scopes
	if platform != service.PlatformTwitter {
		return nil, apperrors.Unsupported("platform " + platform + " does not support oauth")
	}
	return &transfer.AuthorizeURLResponse{URL: "https://x.example.com/authorize?state=s1", TaskID: "s1"}, nil
}

func (s *stubOAuth) GetTaskStatus(context.Context, string, string) (*models.AuthTask, error) {
	return s.task, nil
}

func (s *stubOAuth) HandleCallback(context.Context, string, string, string) *transfer.CallbackResult {
	return s.callback
}

func newAuthApp(oauth service.OAuthService) *fiber.App {
	cfg := &config.Config{FrontendURL: "https://app.example.com"}
	h := NewAuthHandler(cfg, oauth, quietLogger())
	app := fiber.New()
	app.Get("/auth/:platform/url", asUser(7), h.AuthorizeURL)
	app.Get("/auth/:platform/task/:state", asUser(7), h.TaskStatus)
	app.Get("/auth/:platform/callback", h.Callback)
	return app
}

func TestAuthHandler_AuthorizeURL(t *testing.T) {
	oauth := &stubOAuth{}
	resp, err := newAuthApp(oauth).Test(httptest.NewRequest(http.MethodGet, "/auth/twitter/url?scopes=tweet.read,tweet.write", nil))
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "s1", body["taskId"])
	assert.Equal(t, []string{"tweet.read", "tweet.write"}, oauth.scopes)

	resp, err = newAuthApp(oauth).Test(httptest.NewRequest(http.MethodGet, "/auth/myspace/url", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotImplemented, resp.StatusCode)
}

func TestAuthHandler_TaskStatusHidesOtherUsers(t *testing.T) {
	oauth := &stubOAuth{task: &models.AuthTask{TaskID: "s1", UserID: 99, Platform: "twitter"}}
	resp, err := newAuthApp(oauth).Test(httptest.NewRequest(http.MethodGet, "/auth/twitter/task/s1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	oauth.task.UserID = 7
	oauth.task.Status = models.AuthTaskStatusCompleted
	oauth.task.AccountID = "acc-1"
	resp, err = newAuthApp(oauth).Test(httptest.NewRequest(http.MethodGet, "/auth/twitter/task/s1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "acc-1", body["accountId"])
}

func TestAuthHandler_CallbackRedirects(t *testing.T) {
	oauth := &stubOAuth{callback: &transfer.CallbackResult{Status: transfer.CallbackOK, Message: "authorized", AccountID: "acc-1"}}
	resp, err := newAuthApp(oauth).Test(httptest.NewRequest(http.MethodGet, "/auth/twitter/callback?code=c&state=s1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTemporaryRedirect, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/dashboard/accounts", loc.Path)
	assert.Equal(t, "ok", loc.Query().Get("status"))
	assert.Equal(t, "acc-1", loc.Query().Get("account_id"))

	resp, err = newAuthApp(oauth).Test(httptest.NewRequest(http.MethodGet, "/auth/twitter/callback?error=access_denied", nil))
	require.NoError(t, err)
	loc, _ = url.Parse(resp.Header.Get("Location"))
	assert.Equal(t, string(transfer.CallbackTokenExchangeFailed), loc.Query().Get("status"))
	assert.Equal(t, "access_denied", loc.Query().Get("message"))
}

type stubGeneration struct {
	service.GenerationService
	err error
}

func (s *stubGeneration) Register(_ context.Context, userID int64, req *transfer.RegisterGenerationRequest) (*models.GenerationTask, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.GenerationTask{ID: "g1", UserID: userID, TaskID: req.TaskID, Status: models.GenerationStatusGenerating}, nil
}

func TestGenerationHandler_Register(t *testing.T) {
	app := fiber.New()
	h := NewGenerationHandler(&stubGeneration{}, quietLogger())
	app.Post("/api/generation", asUser(7), h.Register)

	resp, err := app.Test(postJSON("/api/generation", `{"task_id":"p-1","model":"image-v2","points":10}`))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "g1", body["id"])
}

func TestGenerationHandler_RegisterConflict(t *testing.T) {
	app := fiber.New()
	h := NewGenerationHandler(&stubGeneration{err: apperrors.Conflict("insufficient points")}, quietLogger())
	app.Post("/api/generation", asUser(7), h.Register)

	resp, err := app.Test(postJSON("/api/generation", `{"task_id":"p-1","model":"image-v2","points":10}`))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}
