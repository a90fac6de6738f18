package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/service"
)

// PlatformHandler exposes per-account credential operations.
type PlatformHandler struct {
	ps     service.PlatformService
	logger *slog.Logger
}

func NewPlatformHandler(ps service.PlatformService, logger *slog.Logger) *PlatformHandler {
	return &PlatformHandler{ps: ps, logger: logger}
}

func (h *PlatformHandler) TokenStatus(c *fiber.Ctx) error {
	status, err := h.ps.TokenStatus(c.UserContext(), GetUserID(c), c.Params("id"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.Status(fiber.StatusOK).JSON(status)
}

func (h *PlatformHandler) RevokeCredential(c *fiber.Ctx) error {
	if err := h.ps.RevokeCredential(c.UserContext(), GetUserID(c), c.Params("id")); err != nil {
		return writeError(c, h.logger, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
