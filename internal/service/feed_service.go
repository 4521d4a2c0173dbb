package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/croptalk-api/internal/dto"
	"github.com/noah-isme/croptalk-api/internal/models"
	"github.com/noah-isme/croptalk-api/internal/observability"
	"github.com/noah-isme/croptalk-api/internal/repository"
)

const (
	defaultFeedTimeout = 5 * time.Second
	unknownAuthorName  = "unknown member"
)

// FeedService assembles the community feed for a viewer.
type FeedService interface {
	ListFeed(ctx context.Context, viewerID string, query dto.FeedQuery) (dto.FeedPage, error)
}

type feedService struct {
	repo      repository.MessageRepository
	graph     SocialGraph
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
	timeout   time.Duration
}

// NewFeedService constructs the feed assembler.
func NewFeedService(repo repository.MessageRepository, graph SocialGraph, validate *validator.Validate, timeout time.Duration, logger zerolog.Logger) FeedService {
	if timeout <= 0 {
		timeout = defaultFeedTimeout
	}
	return &feedService{
		repo:      repo,
		graph:     graph,
		validator: validate,
		logger:    logger.With().Str("component", "feed_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/croptalk-api/internal/service/feed"),
		timeout:   timeout,
	}
}

func (s *feedService) ListFeed(ctx context.Context, viewerID string, query dto.FeedQuery) (dto.FeedPage, error) {
	start := time.Now()
	defer func() {
		observability.FeedLatency().Observe(time.Since(start).Seconds())
	}()

	viewerID = strings.TrimSpace(viewerID)
	if viewerID == "" {
		return dto.FeedPage{}, fmt.Errorf("%w: viewer identity required", ErrUnauthorized)
	}
	if err := s.validator.Struct(query); err != nil {
		return dto.FeedPage{}, invalidArgument(err)
	}
	query.SinceID = strings.TrimSpace(query.SinceID)
	if query.SinceID != "" && query.Since == nil {
		return dto.FeedPage{}, fmt.Errorf("%w: since_id requires since", ErrInvalidArgument)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	spanCtx, span := s.tracer.Start(ctx, "feed.list", trace.WithAttributes(
		attribute.String("feed.viewer_id", viewerID),
	))
	defer span.End()

	connections, err := s.graph.ConnectionIDs(spanCtx, viewerID)
	if err != nil {
		span.RecordError(err)
		return dto.FeedPage{}, s.collaboratorError(ctx, "load connections", err)
	}

	filter := repository.MessageFeedFilter{
		AuthorIDs: append(connections, viewerID),
	}
	if query.Since != nil {
		filter.Since = query.Since.UTC()
		filter.SinceID = query.SinceID
	}
	if query.Limit > 0 {
		// one extra row tells whether the page was cut short
		filter.Limit = query.Limit + 1
	}

	messages, err := s.repo.ListFeed(spanCtx, filter)
	if err != nil {
		span.RecordError(err)
		return dto.FeedPage{}, s.collaboratorError(ctx, "list messages", err)
	}

	sortFeed(messages)
	hasMore := query.Limit > 0 && len(messages) > query.Limit
	if hasMore {
		messages = messages[:query.Limit]
	}

	authorIDs := make([]string, 0, len(messages))
	for _, message := range messages {
		authorIDs = append(authorIDs, message.AuthorID)
	}

	identities, err := s.graph.ResolveIdentities(spanCtx, authorIDs)
	if err != nil {
		if timeoutErr := deadlineError(ctx, err); errors.Is(timeoutErr, ErrTimeout) {
			s.logger.Warn().Err(err).Msg("author lookup exceeded the feed deadline")
			return dto.FeedPage{}, timeoutErr
		}
		s.logger.Warn().Err(err).Msg("author lookup failed, using snapshot identities")
		identities = map[string]Identity{}
	}

	out := make([]dto.EnrichedMessage, 0, len(messages))
	for _, message := range messages {
		out = append(out, dto.NewEnrichedMessage(message, authorFor(message, identities), viewerID))
	}

	span.SetAttributes(attribute.Int("feed.messages", len(out)), attribute.Bool("feed.has_more", hasMore))
	return dto.FeedPage{Messages: out, HasMore: hasMore}, nil
}

func (s *feedService) collaboratorError(ctx context.Context, op string, err error) error {
	if classified := classifyStoreError(ctx, err); classified != nil {
		s.logger.Warn().Err(err).Str("op", op).Msg("feed collaborator unavailable")
		return classified
	}
	s.logger.Error().Err(err).Str("op", op).Msg("feed collaborator failed")
	return fmt.Errorf("%s: %w", op, err)
}

// sortFeed orders by creation time with the id as a stable tie-break.
func sortFeed(messages []models.Message) {
	slices.SortStableFunc(messages, func(a, b models.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func authorFor(message models.Message, identities map[string]Identity) dto.AuthorResponse {
	if identity, ok := identities[message.AuthorID]; ok {
		return authorFromIdentity(identity)
	}
	return placeholderAuthor(message)
}

func authorFromIdentity(identity Identity) dto.AuthorResponse {
	return dto.AuthorResponse{
		ID:        identity.ID,
		Username:  identity.Username,
		AvatarURL: identity.AvatarURL,
		Resolved:  true,
	}
}

// placeholderAuthor rebuilds a display identity from the snapshot captured at post time.
func placeholderAuthor(message models.Message) dto.AuthorResponse {
	name := strings.TrimSpace(message.AuthorName)
	if name == "" {
		if local, _, ok := strings.Cut(message.AuthorEmail, "@"); ok && local != "" {
			name = local
		}
	}
	if name == "" {
		name = unknownAuthorName
	}
	return dto.AuthorResponse{
		ID:        message.AuthorID,
		Username:  name,
		AvatarURL: message.AuthorAvatarURL,
		Resolved:  false,
	}
}
