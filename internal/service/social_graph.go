package service

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/croptalk-api/internal/models"
	"github.com/noah-isme/croptalk-api/internal/repository"
)

const (
	identityCachePrefix     = "croptalk:identity:v1"
	defaultIdentityCacheTTL = 5 * time.Minute
)

// Identity is the display identity of a community member.
type Identity struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// SocialGraph answers relationship and identity questions owned by the account service.
type SocialGraph interface {
	HasConnections(ctx context.Context, userID string) (bool, error)
	ConnectionIDs(ctx context.Context, userID string) ([]string, error)
	Identity(ctx context.Context, userID string) (Identity, error)
	ResolveIdentities(ctx context.Context, userIDs []string) (map[string]Identity, error)
}

type socialGraph struct {
	users  repository.UserRepository
	cache  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewSocialGraph builds the social graph reader. cache may be nil.
func NewSocialGraph(users repository.UserRepository, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) SocialGraph {
	if ttl <= 0 {
		ttl = defaultIdentityCacheTTL
	}
	return &socialGraph{
		users:  users,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With().Str("component", "social_graph").Logger(),
	}
}

func (g *socialGraph) HasConnections(ctx context.Context, userID string) (bool, error) {
	count, err := g.users.CountFriends(ctx, userID)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (g *socialGraph) ConnectionIDs(ctx context.Context, userID string) ([]string, error) {
	return g.users.ListFriendIDs(ctx, userID)
}

func (g *socialGraph) Identity(ctx context.Context, userID string) (Identity, error) {
	identities, err := g.ResolveIdentities(ctx, []string{userID})
	if err != nil {
		return Identity{}, err
	}
	identity, ok := identities[userID]
	if !ok {
		return Identity{}, repository.ErrUserNotFound
	}
	return identity, nil
}

// ResolveIdentities looks every id up once: cached entries first, then a
// single batch query for the rest. Unknown ids are absent from the result.
func (g *socialGraph) ResolveIdentities(ctx context.Context, userIDs []string) (map[string]Identity, error) {
	ids := distinct(userIDs)
	resolved := make(map[string]Identity, len(ids))
	if len(ids) == 0 {
		return resolved, nil
	}

	missing := g.readCache(ctx, ids, resolved)
	if len(missing) == 0 {
		return resolved, nil
	}

	users, err := g.users.FindByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}

	fetched := make([]Identity, 0, len(users))
	for _, user := range users {
		identity := identityFromUser(user)
		resolved[identity.ID] = identity
		fetched = append(fetched, identity)
	}
	g.writeCache(ctx, fetched)

	return resolved, nil
}

func (g *socialGraph) readCache(ctx context.Context, ids []string, into map[string]Identity) []string {
	if g.cache == nil {
		return ids
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = identityCacheKey(id)
	}

	values, err := g.cache.MGet(ctx, keys...).Result()
	if err != nil {
		g.logger.Warn().Err(err).Msg("failed to read identity cache")
		return ids
	}

	missing := make([]string, 0, len(ids))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok || raw == "" {
			missing = append(missing, ids[i])
			continue
		}
		var identity Identity
		if err := json.Unmarshal([]byte(raw), &identity); err != nil || identity.ID == "" {
			missing = append(missing, ids[i])
			continue
		}
		into[identity.ID] = identity
	}
	return missing
}

func (g *socialGraph) writeCache(ctx context.Context, identities []Identity) {
	if g.cache == nil || len(identities) == 0 {
		return
	}

	pipe := g.cache.Pipeline()
	for _, identity := range identities {
		payload, err := json.Marshal(identity)
		if err != nil {
			continue
		}
		pipe.Set(ctx, identityCacheKey(identity.ID), payload, g.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		g.logger.Warn().Err(err).Msg("failed to write identity cache")
	}
}

func identityCacheKey(userID string) string {
	return fmt.Sprintf("%s:%s", identityCachePrefix, userID)
}

func identityFromUser(user models.User) Identity {
	return Identity{
		ID:        user.ID,
		Username:  user.DisplayName(),
		Email:     user.Email,
		AvatarURL: user.AvatarURL,
	}
}

func distinct(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
