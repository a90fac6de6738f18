package handlers

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/maheshrc27/postflow/pkg/apperrors"
)

// AuthHandler serves the OAuth account-linking flow.
type AuthHandler struct {
	s      service.OAuthService
	cfg    *config.Config
	logger *slog.Logger
}

func NewAuthHandler(cfg *config.Config, service service.OAuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{s: service, cfg: cfg, logger: logger}
}

func (h *AuthHandler) AuthorizeURL(c *fiber.Ctx) error {
	var req transfer.AuthorizeURLRequest
	if err := c.QueryParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid query",
		})
	}
	scopes := make([]string, 0, len(req.Scopes))
	for _, s := range req.Scopes {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				scopes = append(scopes, part)
			}
		}
	}

	res, err := h.s.GenerateAuthorizeURL(c.UserContext(), c.Params("platform"), GetUserID(c), scopes, req.SpaceID)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

// TaskStatus reports a pending or completed task. An expired task, or one
// owned by another user, is a 404.
func (h *AuthHandler) TaskStatus(c *fiber.Ctx) error {
	state := c.Params("state")
	task, err := h.s.GetTaskStatus(c.UserContext(), c.Params("platform"), state)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	if task == nil || task.UserID != GetUserID(c) {
		return writeError(c, h.logger, apperrors.NotFound("auth task", state))
	}
	return c.Status(fiber.StatusOK).JSON(transfer.AuthTaskView{
		TaskID:    task.TaskID,
		Platform:  task.Platform,
		Status:    task.Status,
		AccountID: task.AccountID,
	})
}

// Callback completes the flow and sends the browser back to the frontend
// with the outcome.
func (h *AuthHandler) Callback(c *fiber.Ctx) error {
	platform := c.Params("platform")

	var res *transfer.CallbackResult
	if e := c.Query("error"); e != "" {
		msg := c.Query("error_description", e)
		res = &transfer.CallbackResult{Status: transfer.CallbackTokenExchangeFailed, Message: msg}
	} else {
		res = h.s.HandleCallback(c.UserContext(), platform, c.Query("code"), c.Query("state"))
	}

	params := url.Values{}
	params.Set("platform", platform)
	params.Set("status", string(res.Status))
	params.Set("message", res.Message)
	if res.AccountID != "" {
		params.Set("account_id", res.AccountID)
	}

	redirectURL := fmt.Sprintf("%s/dashboard/accounts?%s", h.cfg.FrontendURL, params.Encode())
	return c.Redirect(redirectURL, fiber.StatusTemporaryRedirect)
}
