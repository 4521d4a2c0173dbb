package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/croptalk-api/internal/utils"
)

// UserID returns the authenticated member bound to the request, or "".
func UserID(c *fiber.Ctx) string {
	if value, ok := c.Locals("user_id").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

// RequireUser rejects requests that reached it without an authenticated member.
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if UserID(c) == "" {
			return utils.FailWithCode(c, fiber.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return c.Next()
	}
}
