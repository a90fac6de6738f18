package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/service"
)

type ApiKeyHandler struct {
	s      service.ApiKeyService
	logger *slog.Logger
}

func NewApiKeyHandler(service service.ApiKeyService, logger *slog.Logger) *ApiKeyHandler {
	return &ApiKeyHandler{s: service, logger: logger}
}

// CreateApiKey returns the new key including its secret, which is not
// retrievable afterwards.
func (h *ApiKeyHandler) CreateApiKey(c *fiber.Ctx) error {
	key, err := h.s.Create(c.UserContext(), GetUserID(c))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.Status(fiber.StatusCreated).JSON(key)
}

func (h *ApiKeyHandler) ListKeys(c *fiber.Ctx) error {
	keys, err := h.s.List(c.UserContext(), GetUserID(c))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.Status(fiber.StatusOK).JSON(keys)
}

func (h *ApiKeyHandler) RemoveAPIKey(c *fiber.Ctx) error {
	keyID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid key id",
		})
	}
	if err := h.s.RemoveAPIKey(c.UserContext(), GetUserID(c), int64(keyID)); err != nil {
		return writeError(c, h.logger, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
