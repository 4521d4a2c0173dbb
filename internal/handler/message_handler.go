package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/croptalk-api/internal/dto"
	"github.com/noah-isme/croptalk-api/internal/middleware"
	"github.com/noah-isme/croptalk-api/internal/models"
	"github.com/noah-isme/croptalk-api/internal/service"
	"github.com/noah-isme/croptalk-api/internal/utils"
)

// MessageRouteGuards holds optional per-route middleware, such as rate limiters.
type MessageRouteGuards struct {
	Post  fiber.Handler
	React fiber.Handler
}

// MessageHandler serves the community feed endpoints.
type MessageHandler struct {
	messages  service.MessageService
	feed      service.FeedService
	reactions service.ReactionService
	logger    zerolog.Logger
}

// NewMessageHandler constructs the message handler.
func NewMessageHandler(messages service.MessageService, feed service.FeedService, reactions service.ReactionService, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		messages:  messages,
		feed:      feed,
		reactions: reactions,
		logger:    logger.With().Str("component", "message_handler").Logger(),
	}
}

// Register binds the message routes under the provided router group.
func (h *MessageHandler) Register(router fiber.Router, guards MessageRouteGuards) {
	router.Get("/", h.list)
	router.Post("/", chain(guards.Post, h.create)...)
	router.Post("/:id/reactions", chain(guards.React, h.react)...)
	router.Post("/:id/replies", chain(guards.Post, h.reply)...)
}

func (h *MessageHandler) list(c *fiber.Ctx) error {
	since, err := parseQueryTime(c, "since")
	if err != nil {
		return badRequest(c, "since must be an RFC 3339 timestamp")
	}
	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return badRequest(c, "invalid limit")
	}

	query := dto.FeedQuery{Since: since, SinceID: c.Query("since_id"), Limit: limit}
	page, err := h.feed.ListFeed(requestContext(c), middleware.UserID(c), query)
	if err != nil {
		return respondError(c, requestLogger(h.logger, c), err)
	}

	return utils.OK(c, dto.FeedResponse{Messages: page.Messages}, "community feed", feedMeta(page))
}

func (h *MessageHandler) create(c *fiber.Ctx) error {
	var payload dto.MessageCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return badRequest(c, "invalid request body")
	}

	message, err := h.messages.Post(requestContext(c), middleware.UserID(c), payload)
	if err != nil {
		return respondError(c, requestLogger(h.logger, c), err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message posted", dto.MessageEnvelope{Message: message})
}

func (h *MessageHandler) react(c *fiber.Ctx) error {
	var payload dto.ReactionRequest
	if err := c.BodyParser(&payload); err != nil {
		return badRequest(c, "invalid request body")
	}

	kind, err := models.ParseReactionKind(payload.Kind)
	if err != nil {
		return badRequest(c, err.Error())
	}
	intent, err := models.ParseReactionIntent(payload.Intent)
	if err != nil {
		return badRequest(c, err.Error())
	}

	state, err := h.reactions.Apply(requestContext(c), c.Params("id"), middleware.UserID(c), kind, intent)
	if err != nil {
		return respondError(c, requestLogger(h.logger, c), err)
	}

	return utils.SendSuccess(c, "reaction updated", dto.ReactionToggleResponse{Reactions: state})
}

func (h *MessageHandler) reply(c *fiber.Ctx) error {
	var payload dto.ReplyCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return badRequest(c, "invalid request body")
	}

	reply, err := h.messages.Reply(requestContext(c), middleware.UserID(c), c.Params("id"), payload)
	if err != nil {
		return respondError(c, requestLogger(h.logger, c), err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "reply posted", dto.ReplyEnvelope{Reply: reply})
}

// feedMeta hands clients the (since, since_id) cursor for their next query.
func feedMeta(page dto.FeedPage) fiber.Map {
	meta := fiber.Map{"count": len(page.Messages), "has_more": page.HasMore}
	if n := len(page.Messages); n > 0 {
		last := page.Messages[n-1]
		meta["next_since"] = last.CreatedAt
		meta["next_since_id"] = last.ID
	}
	return meta
}

func chain(guard fiber.Handler, handler fiber.Handler) []fiber.Handler {
	if guard == nil {
		return []fiber.Handler{handler}
	}
	return []fiber.Handler{guard, handler}
}
