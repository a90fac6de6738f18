package middleware

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/pkg/utils"
)

// UserIDKey is the fiber Locals key holding the authenticated user id.
const UserIDKey = "user_id"

const apiKeyPrefix = "pf_"

type AuthMiddleware struct {
	s      service.ApiKeyService
	cfg    *config.Config
	logger *slog.Logger
}

func NewAuthMiddleware(cfg *config.Config, service service.ApiKeyService, logger *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{s: service, cfg: cfg, logger: logger}
}

// AuthMiddleware accepts a session JWT from the cookie or a Bearer header, or
// an API key as the Bearer token.
func (m *AuthMiddleware) AuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := c.Cookies(m.cfg.CookieName)
		fromCookie := tokenString != ""
		if bearer, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer "); ok {
			tokenString, fromCookie = strings.TrimSpace(bearer), false
		}

		if tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing credentials",
			})
		}

		if strings.HasPrefix(tokenString, apiKeyPrefix) {
			userID, err := m.s.GetUserID(c.UserContext(), tokenString)
			if err != nil {
				m.logger.Info("api key rejected", slog.Any("error", err))
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "invalid api key",
				})
			}
			c.Locals(UserIDKey, userID)
			return c.Next()
		}

		claims, err := utils.ValidateToken(m.cfg.SecretKey, tokenString)
		var userID int64
		if err == nil {
			userID, err = strconv.ParseInt(claims.UserID, 10, 64)
		}
		if err != nil {
			if fromCookie {
				c.Cookie(&fiber.Cookie{
					Name:   m.cfg.CookieName,
					Value:  "",
					Path:   "/",
					MaxAge: -1,
				})
			}
			m.logger.Info("token validation failed", slog.Any("error", err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid or expired token",
			})
		}

		c.Locals(UserIDKey, userID)
		return c.Next()
	}
}
