package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/croptalk-api/internal/config"
	"github.com/noah-isme/croptalk-api/internal/handler"
	"github.com/noah-isme/croptalk-api/internal/middleware"
	"github.com/noah-isme/croptalk-api/internal/observability"
	"github.com/noah-isme/croptalk-api/internal/service"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	MessageHandler *handler.MessageHandler
	StreamHandler  *handler.StreamHandler
	Broadcaster    service.BroadcastService
	JWTMiddleware  fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.Broadcaster))

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.MessageHandler != nil {
		messages := api.Group("/messages", jwtMiddleware, middleware.RequireUser())
		deps.MessageHandler.Register(messages, handler.MessageRouteGuards{
			Post:  middleware.RateLimit("messages", cfg.PostRateLimitPerMin, time.Minute),
			React: middleware.RateLimit("reactions", cfg.ReactionRateLimitPerMin, time.Minute),
		})
	}

	if deps.StreamHandler != nil {
		stream := api.Group("/stream", jwtMiddleware, middleware.RequireUser())
		deps.StreamHandler.Register(stream)
	}
}
