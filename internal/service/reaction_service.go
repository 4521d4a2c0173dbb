package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

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
	defaultReactionAttempts = 5
	defaultReactionTimeout  = 3 * time.Second
	defaultReactionBackoff  = 5 * time.Millisecond
)

// ReactionServiceConfig tunes the conditional update loop.
type ReactionServiceConfig struct {
	MaxAttempts int
	Timeout     time.Duration
	Backoff     time.Duration
}

// ReactionService applies reaction toggles to messages.
type ReactionService interface {
	Apply(ctx context.Context, messageID, userID string, kind models.ReactionKind, intent models.ReactionIntent) (dto.ReactionStateResponse, error)
}

type reactionService struct {
	repo        repository.MessageRepository
	logger      zerolog.Logger
	tracer      trace.Tracer
	maxAttempts int
	timeout     time.Duration
	backoff     time.Duration
}

// NewReactionService constructs the reaction aggregator.
func NewReactionService(repo repository.MessageRepository, cfg ReactionServiceConfig, logger zerolog.Logger) ReactionService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultReactionAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultReactionTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultReactionBackoff
	}

	return &reactionService{
		repo:        repo,
		logger:      logger.With().Str("component", "reaction_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/croptalk-api/internal/service/reactions"),
		maxAttempts: cfg.MaxAttempts,
		timeout:     cfg.Timeout,
		backoff:     cfg.Backoff,
	}
}

func (s *reactionService) Apply(ctx context.Context, messageID, userID string, kind models.ReactionKind, intent models.ReactionIntent) (dto.ReactionStateResponse, error) {
	userID = strings.TrimSpace(userID)
	messageID = strings.TrimSpace(messageID)

	if userID == "" {
		return dto.ReactionStateResponse{}, fmt.Errorf("%w: user identity required", ErrUnauthorized)
	}
	if messageID == "" {
		return dto.ReactionStateResponse{}, fmt.Errorf("%w: message id required", ErrInvalidArgument)
	}
	kind, err := models.ParseReactionKind(string(kind))
	if err != nil {
		observability.ReactionUpdates().WithLabelValues("invalid", intent.String(), "invalid").Inc()
		return dto.ReactionStateResponse{}, invalidArgument(err)
	}
	if intent != models.ReactionEngage && intent != models.ReactionWithdraw {
		observability.ReactionUpdates().WithLabelValues(string(kind), "invalid", "invalid").Inc()
		return dto.ReactionStateResponse{}, fmt.Errorf("%w: unsupported reaction intent", ErrInvalidArgument)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	spanCtx, span := s.tracer.Start(ctx, "reactions.apply", trace.WithAttributes(
		attribute.String("reaction.message_id", messageID),
		attribute.String("reaction.user_id", userID),
		attribute.String("reaction.kind", string(kind)),
		attribute.String("reaction.intent", intent.String()),
	))
	defer span.End()

	state, changed, err := s.apply(spanCtx, messageID, userID, kind, intent)
	observability.ReactionUpdates().WithLabelValues(string(kind), intent.String(), reactionOutcome(changed, err)).Inc()
	if err != nil {
		span.RecordError(err)
		return dto.ReactionStateResponse{}, err
	}

	return dto.NewReactionStateResponse(messageID, userID, state), nil
}

// apply runs read, decide and conditional write until the write lands or the
// attempt budget is spent. The version guard makes the decision and the
// mutation a single atomic step from the store's point of view.
func (s *reactionService) apply(ctx context.Context, messageID, userID string, kind models.ReactionKind, intent models.ReactionIntent) (models.ReactionState, bool, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		message, err := s.repo.Get(ctx, messageID)
		if err != nil {
			return models.ReactionState{}, false, s.storeError(ctx, messageID, err)
		}

		next, changed := message.ReactionState(kind).Apply(userID, intent)
		if !changed {
			return next, false, nil
		}

		counts, users := message.ReactionColumns(next)
		err = s.repo.UpdateReactions(ctx, messageID, message.Version, counts, users)
		if err == nil {
			fresh, err := s.repo.Get(ctx, messageID)
			if err != nil {
				return models.ReactionState{}, true, s.storeError(ctx, messageID, err)
			}
			return fresh.ReactionState(kind).Normalize(), true, nil
		}

		if !errors.Is(err, repository.ErrVersionConflict) {
			return models.ReactionState{}, false, s.storeError(ctx, messageID, err)
		}

		observability.ReactionConflicts().WithLabelValues(string(kind)).Inc()
		s.logger.Debug().
			Str("message_id", messageID).
			Str("user_id", userID).
			Int("attempt", attempt).
			Msg("reaction update lost version race")

		if attempt < s.maxAttempts {
			if err := s.wait(ctx, attempt); err != nil {
				return models.ReactionState{}, false, deadlineError(ctx, err)
			}
		}
	}

	s.logger.Warn().Str("message_id", messageID).Int("attempts", s.maxAttempts).Msg("reaction update gave up after repeated conflicts")
	return models.ReactionState{}, false, fmt.Errorf("%w: message %s is being updated concurrently", ErrConflict, messageID)
}

func (s *reactionService) wait(ctx context.Context, attempt int) error {
	delay := s.backoff*time.Duration(attempt) + rand.N(s.backoff)
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *reactionService) storeError(ctx context.Context, messageID string, err error) error {
	if errors.Is(err, repository.ErrMessageNotFound) {
		return fmt.Errorf("%w: message %s", ErrNotFound, messageID)
	}
	if classified := classifyStoreError(ctx, err); classified != nil {
		s.logger.Warn().Err(err).Str("message_id", messageID).Msg("reaction store unavailable")
		return classified
	}
	s.logger.Error().Err(err).Str("message_id", messageID).Msg("reaction store operation failed")
	return fmt.Errorf("reaction store: %w", err)
}

func reactionOutcome(changed bool, err error) string {
	switch {
	case err == nil && changed:
		return "applied"
	case err == nil:
		return "noop"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}
