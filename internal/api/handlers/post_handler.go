package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/transfer"
)

type PostHandler struct {
	s      service.PublishingService
	logger *slog.Logger
}

func NewPostHandler(service service.PublishingService, logger *slog.Logger) *PostHandler {
	return &PostHandler{s: service, logger: logger}
}

// CreatePost accepts a publish request and returns once it is queued.
func (h *PostHandler) CreatePost(c *fiber.Ctx) error {
	var req transfer.PublishRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unable to parse body",
		})
	}

	task, err := h.s.Submit(c.UserContext(), GetUserID(c), &req)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(transfer.PublishResult{
		TaskID: task.ID,
		Status: string(task.Status),
	})
}

func (h *PostHandler) GetPost(c *fiber.Ctx) error {
	task, err := h.s.GetTask(c.UserContext(), GetUserID(c), c.Params("id"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.Status(fiber.StatusOK).JSON(task)
}

func (h *PostHandler) RemovePost(c *fiber.Ctx) error {
	supported, err := h.s.DeletePost(c.UserContext(), GetUserID(c), c.Params("id"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.Status(fiber.StatusOK).JSON(transfer.DeletePostResult{Supported: supported, Deleted: supported})
}
