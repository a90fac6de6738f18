package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/api/handlers"
	"github.com/maheshrc27/postflow/internal/api/middleware"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routeDeps struct {
	oauth      service.OAuthService
	publishing service.PublishingService
	generation service.GenerationService
	platforms  service.PlatformService
	apiKeys    service.ApiKeyService
}

func newApp(cfg *config.Config, logger *slog.Logger, deps routeDeps) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			if code >= fiber.StatusInternalServerError {
				logger.Error("unhandled error", slog.String("path", c.Path()), slog.Any("error", err))
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(recover.New())
	app.Use(requestLogger(logger))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.FrontendURL,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	authMiddleware := middleware.NewAuthMiddleware(cfg, deps.apiKeys, logger).AuthMiddleware()

	auth := handlers.NewAuthHandler(cfg, deps.oauth, logger)
	app.Get("/auth/:platform/url", authMiddleware, auth.AuthorizeURL)
	app.Get("/auth/:platform/task/:state", authMiddleware, auth.TaskStatus)
	app.Get("/auth/:platform/callback", auth.Callback)

	api := app.Group("/api", authMiddleware, limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return fmt.Sprint(handlers.GetUserID(c))
		},
	}))

	post := handlers.NewPostHandler(deps.publishing, logger)
	api.Post("/publish", post.CreatePost)
	api.Get("/publish/:id", post.GetPost)
	api.Delete("/publish/:id/post", post.RemovePost)

	generation := handlers.NewGenerationHandler(deps.generation, logger)
	api.Post("/generation", generation.Register)
	api.Get("/generation/:id", generation.GetTask)

	platform := handlers.NewPlatformHandler(deps.platforms, logger)
	api.Get("/accounts/:id/token-status", platform.TokenStatus)
	api.Delete("/accounts/:id/credential", platform.RevokeCredential)

	apiKeys := handlers.NewApiKeyHandler(deps.apiKeys, logger)
	api.Post("/keys", apiKeys.CreateApiKey)
	api.Get("/keys", apiKeys.ListKeys)
	api.Delete("/keys/:id", apiKeys.RemoveAPIKey)

	return app
}

// requestLogger logs one line per request through slog.
func requestLogger(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logger.Info("request",
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", c.Response().StatusCode()),
			slog.Duration("took", time.Since(start)),
		)
		return err
	}
}
