package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/croptalk-api/internal/config"
	"github.com/noah-isme/croptalk-api/internal/service"
	"github.com/noah-isme/croptalk-api/internal/utils"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status          string    `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
	Service         string    `json:"service"`
	Environment     string    `json:"environment"`
	FeedSubscribers int       `json:"feed_subscribers"`
}

// HealthCheck returns a handler that reports application health information.
func HealthCheck(cfg config.Config, broadcaster service.BroadcastService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
		}
		if broadcaster != nil {
			payload.FeedSubscribers = broadcaster.SubscriberCount(service.GlobalTopic)
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
