package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/croptalk-api/internal/service"
	"github.com/noah-isme/croptalk-api/internal/utils"
)

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

var errorMappings = []errorMapping{
	{service.ErrNotFound, fiber.StatusNotFound, "not_found", "resource not found"},
	{service.ErrInvalidArgument, fiber.StatusBadRequest, "invalid_argument", ""},
	{service.ErrForbidden, fiber.StatusForbidden, "forbidden", "action not allowed for this member"},
	{service.ErrUnauthorized, fiber.StatusUnauthorized, "unauthorized", "authentication required"},
	{service.ErrConflict, fiber.StatusConflict, "conflict", "concurrent update, retry shortly"},
	{service.ErrTimeout, fiber.StatusGatewayTimeout, "timeout", "request timed out"},
	{service.ErrUnavailable, fiber.StatusServiceUnavailable, "unavailable", "service temporarily unavailable"},
}

// respondError maps service error kinds onto the HTTP error envelope. Only
// validation failures echo their detail; every other kind answers with fixed
// text and the cause stays in the log.
func respondError(c *fiber.Ctx, logger *zerolog.Logger, err error) error {
	for _, mapping := range errorMappings {
		if !errors.Is(err, mapping.target) {
			continue
		}
		if mapping.status == fiber.StatusConflict {
			c.Set(fiber.HeaderRetryAfter, "1")
		}
		message := mapping.message
		if message == "" {
			message = err.Error()
		}
		if mapping.status >= fiber.StatusInternalServerError {
			logger.Warn().Err(err).Str("path", c.Path()).Msg("request failed upstream")
		}
		return utils.FailWithCode(c, mapping.status, mapping.code, message, nil)
	}

	logger.Error().Err(err).Str("path", c.Path()).Msg("unhandled request error")
	return utils.FailWithCode(c, fiber.StatusInternalServerError, "internal", "internal server error", nil)
}

func badRequest(c *fiber.Ctx, message string) error {
	return utils.FailWithCode(c, fiber.StatusBadRequest, "invalid_argument", message, nil)
}
