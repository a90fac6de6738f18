package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/api/middleware"
	"github.com/maheshrc27/postflow/pkg/apperrors"
)

func GetUserID(c *fiber.Ctx) int64 {
	userID, _ := c.Locals(middleware.UserIDKey).(int64)
	return userID
}

// writeError renders err with the status of its kind. Errors without a kind,
// and internal ones, are logged and hidden from the client.
func writeError(c *fiber.Ctx, logger *slog.Logger, err error) error {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Kind == apperrors.ErrInternal {
		logger.Error("request failed",
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Any("error", err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal error",
		})
	}

	return c.Status(appErr.Status).JSON(fiber.Map{
		"error": appErr.Message,
		"code":  appErr.Code,
	})
}
