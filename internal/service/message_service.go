package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/croptalk-api/internal/dto"
	"github.com/noah-isme/croptalk-api/internal/models"
	"github.com/noah-isme/croptalk-api/internal/observability"
	"github.com/noah-isme/croptalk-api/internal/repository"
)

// MessageService handles posting to the community feed and replying to posts.
type MessageService interface {
	Post(ctx context.Context, authorID string, payload dto.MessageCreateRequest) (dto.EnrichedMessage, error)
	Reply(ctx context.Context, authorID, messageID string, payload dto.ReplyCreateRequest) (dto.ReplyResponse, error)
}

// defaultPublishTimeout bounds the relay fan-out of a post; local delivery never waits.
const defaultPublishTimeout = 2 * time.Second

type messageService struct {
	repo           repository.MessageRepository
	graph          SocialGraph
	broadcaster    BroadcastService
	validator      *validator.Validate
	sanitizer      *bluemonday.Policy
	logger         zerolog.Logger
	tracer         trace.Tracer
	publishTimeout time.Duration
}

// NewMessageService wires the posting workflow.
func NewMessageService(repo repository.MessageRepository, graph SocialGraph, broadcaster BroadcastService, validate *validator.Validate, logger zerolog.Logger) MessageService {
	return &messageService{
		repo:        repo,
		graph:       graph,
		broadcaster: broadcaster,
		validator:   validate,
		sanitizer:   bluemonday.UGCPolicy(),
		logger:      logger.With().Str("component", "message_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/croptalk-api/internal/service/messages"),

		publishTimeout: defaultPublishTimeout,
	}
}

func (s *messageService) Post(ctx context.Context, authorID string, payload dto.MessageCreateRequest) (dto.EnrichedMessage, error) {
	authorID = strings.TrimSpace(authorID)
	if authorID == "" {
		return dto.EnrichedMessage{}, fmt.Errorf("%w: author identity required", ErrUnauthorized)
	}
	if err := s.validator.Struct(payload); err != nil {
		return dto.EnrichedMessage{}, invalidArgument(err)
	}

	content := strings.TrimSpace(s.sanitizer.Sanitize(payload.Content))
	imageURL := strings.TrimSpace(payload.ImageURL())
	if content == "" && imageURL == "" {
		return dto.EnrichedMessage{}, fmt.Errorf("%w: message needs text or an image", ErrInvalidArgument)
	}

	spanCtx, span := s.tracer.Start(ctx, "messages.post", trace.WithAttributes(
		attribute.String("message.author_id", authorID),
		attribute.Bool("message.has_image", imageURL != ""),
	))
	defer span.End()

	identity, err := s.graph.Identity(spanCtx, authorID)
	if err != nil {
		span.RecordError(err)
		return dto.EnrichedMessage{}, s.identityError(ctx, authorID, err)
	}

	connected, err := s.graph.HasConnections(spanCtx, authorID)
	if err != nil {
		span.RecordError(err)
		return dto.EnrichedMessage{}, s.storeError(ctx, "count connections", err)
	}
	if !connected {
		return dto.EnrichedMessage{}, fmt.Errorf("%w: add a friend before posting to the community", ErrForbidden)
	}

	message := models.Message{
		Content:         content,
		AuthorID:        identity.ID,
		AuthorName:      identity.Username,
		AuthorEmail:     identity.Email,
		AuthorAvatarURL: identity.AvatarURL,
		ImageURL:        imageURL,
	}
	if location := payload.Location(); location != nil {
		lat, lng := location.Latitude, location.Longitude
		message.Latitude = &lat
		message.Longitude = &lng
	}

	if err := s.repo.Create(spanCtx, &message); err != nil {
		span.RecordError(err)
		return dto.EnrichedMessage{}, s.storeError(ctx, "create message", err)
	}

	enriched := dto.NewEnrichedMessage(message, authorFromIdentity(identity), authorID)
	observability.MessagesPosted().Inc()

	event := dto.FeedEvent{Type: dto.FeedEventNewMessage, Data: enriched}
	publishCtx, cancelPublish := context.WithTimeout(spanCtx, s.publishTimeout)
	defer cancelPublish()
	if err := s.broadcaster.Publish(publishCtx, GlobalTopic, event); err != nil {
		span.RecordError(err)
		s.logger.Warn().Err(err).Str("message_id", message.ID).Msg("failed to broadcast new message")
	}

	s.logger.Info().
		Str("message_id", message.ID).
		Str("author_id", authorID).
		Msg("community message posted")

	return enriched, nil
}

func (s *messageService) Reply(ctx context.Context, authorID, messageID string, payload dto.ReplyCreateRequest) (dto.ReplyResponse, error) {
	authorID = strings.TrimSpace(authorID)
	messageID = strings.TrimSpace(messageID)
	if authorID == "" {
		return dto.ReplyResponse{}, fmt.Errorf("%w: author identity required", ErrUnauthorized)
	}
	if messageID == "" {
		return dto.ReplyResponse{}, fmt.Errorf("%w: message id required", ErrInvalidArgument)
	}

	payload.Content = strings.TrimSpace(s.sanitizer.Sanitize(payload.Content))
	if err := s.validator.Struct(payload); err != nil {
		return dto.ReplyResponse{}, invalidArgument(err)
	}

	spanCtx, span := s.tracer.Start(ctx, "messages.reply", trace.WithAttributes(
		attribute.String("message.id", messageID),
		attribute.String("message.author_id", authorID),
	))
	defer span.End()

	identity, err := s.graph.Identity(spanCtx, authorID)
	if err != nil {
		span.RecordError(err)
		return dto.ReplyResponse{}, s.identityError(ctx, authorID, err)
	}

	reply := models.Reply{
		MessageID:  messageID,
		AuthorID:   identity.ID,
		AuthorName: identity.Username,
		Content:    payload.Content,
	}
	if err := s.repo.AppendReply(spanCtx, &reply); err != nil {
		span.RecordError(err)
		if errors.Is(err, repository.ErrMessageNotFound) {
			return dto.ReplyResponse{}, fmt.Errorf("%w: message %s", ErrNotFound, messageID)
		}
		return dto.ReplyResponse{}, s.storeError(ctx, "append reply", err)
	}

	return dto.NewReplyResponse(reply), nil
}

func (s *messageService) identityError(ctx context.Context, authorID string, err error) error {
	if errors.Is(err, repository.ErrUserNotFound) {
		return fmt.Errorf("%w: unknown member %s", ErrUnauthorized, authorID)
	}
	return s.storeError(ctx, "resolve author", err)
}

func (s *messageService) storeError(ctx context.Context, op string, err error) error {
	if classified := classifyStoreError(ctx, err); classified != nil {
		s.logger.Warn().Err(err).Str("op", op).Msg("message store unavailable")
		return classified
	}
	s.logger.Error().Err(err).Str("op", op).Msg("message store operation failed")
	return fmt.Errorf("%s: %w", op, err)
}
