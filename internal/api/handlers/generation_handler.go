package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/transfer"
)

type GenerationHandler struct {
	s      service.GenerationService
	logger *slog.Logger
}

func NewGenerationHandler(service service.GenerationService, logger *slog.Logger) *GenerationHandler {
	return &GenerationHandler{s: service, logger: logger}
}

// Register records a task already submitted to the provider and returns its
// local id immediately.
func (h *GenerationHandler) Register(c *fiber.Ctx) error {
	var req transfer.RegisterGenerationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unable to parse body",
		})
	}

	task, err := h.s.Register(c.UserContext(), GetUserID(c), &req)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":     task.ID,
		"status": task.Status,
	})
}

func (h *GenerationHandler) GetTask(c *fiber.Ctx) error {
	task, err := h.s.GetTask(c.UserContext(), GetUserID(c), c.Params("id"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.Status(fiber.StatusOK).JSON(task)
}
