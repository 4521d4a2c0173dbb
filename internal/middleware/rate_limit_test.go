package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/croptalk-api/internal/middleware"
)

func TestRateLimitKeysByMember(t *testing.T) {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", c.Get("X-Member"))
		return c.Next()
	})
	app.Get("/", middleware.RateLimit("test", 1, time.Minute), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	request := func(member string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Member", member)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		if resp.StatusCode == fiber.StatusTooManyRequests {
			require.Equal(t, "60", resp.Header.Get(fiber.HeaderRetryAfter))
		}
		return resp.StatusCode
	}

	require.Equal(t, fiber.StatusOK, request("a"))
	require.Equal(t, fiber.StatusTooManyRequests, request("a"))
	require.Equal(t, fiber.StatusOK, request("b"))
}
