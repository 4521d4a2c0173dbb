package handler_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/croptalk-api/internal/config"
	"github.com/noah-isme/croptalk-api/internal/database"
	"github.com/noah-isme/croptalk-api/internal/dto"
	"github.com/noah-isme/croptalk-api/internal/handler"
	"github.com/noah-isme/croptalk-api/internal/middleware"
	"github.com/noah-isme/croptalk-api/internal/models"
	"github.com/noah-isme/croptalk-api/internal/repository"
	"github.com/noah-isme/croptalk-api/internal/router"
	"github.com/noah-isme/croptalk-api/internal/service"
)

const testSecret = "handler-secret"

type communityServer struct {
	app         *fiber.App
	db          *gorm.DB
	broadcaster service.BroadcastService
}

func newCommunityServer(t *testing.T) *communityServer {
	t.Helper()
	return newCommunityServerWithStore(t, nil)
}

// newCommunityServerWithStore lets a test wrap the message store, e.g. to inject failures.
func newCommunityServerWithStore(t *testing.T, wrap func(repository.MessageRepository) repository.MessageRepository) *communityServer {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := database.ConnectSQLite(dsn)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	logger := zerolog.Nop()
	validate := validator.New(validator.WithRequiredStructEnabled())
	messages := repository.NewMessageRepository(db)
	if wrap != nil {
		messages = wrap(messages)
	}
	graph := service.NewSocialGraph(repository.NewUserRepository(db), nil, time.Minute, logger)
	broadcaster := service.NewBroadcastService(service.BroadcastOptions{}, logger)

	cfg := config.Config{
		AppName:                 "CropTalk Test",
		ReactionRateLimitPerMin: 1000,
		PostRateLimitPerMin:     1000,
	}

	app := fiber.New(fiber.Config{JSONEncoder: json.Marshal, JSONDecoder: json.Unmarshal})
	middleware.Register(app, middleware.Config{})
	router.Register(app, cfg, router.Dependencies{
		MessageHandler: handler.NewMessageHandler(
			service.NewMessageService(messages, graph, broadcaster, validate, logger),
			service.NewFeedService(messages, graph, validate, time.Second, logger),
			service.NewReactionService(messages, service.ReactionServiceConfig{Timeout: 500 * time.Millisecond}, logger),
			logger,
		),
		StreamHandler: handler.NewStreamHandler(broadcaster, time.Second, logger),
		Broadcaster:   broadcaster,
		JWTMiddleware: middleware.JWTProtected(testSecret),
	})

	return &communityServer{app: app, db: db, broadcaster: broadcaster}
}

func (s *communityServer) member(t *testing.T, id string, friends ...string) string {
	t.Helper()
	require.NoError(t, s.db.Create(&models.User{ID: id, Username: id, Email: id + "@example.com"}).Error)
	for _, friend := range friends {
		require.NoError(t, s.db.Create(&models.Friendship{UserID: id, FriendID: friend, Status: models.FriendshipAccepted}).Error)
	}
	return tokenFor(t, id)
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func (s *communityServer) do(t *testing.T, method, target, token string, body interface{}) (*http.Response, map[string]json.RawMessage) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp, envelope
}

func decodeData(t *testing.T, envelope map[string]json.RawMessage, target interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(envelope["data"], target))
}

func TestPostMessageEndpoint(t *testing.T) {
	server := newCommunityServer(t)
	token := server.member(t, "amina", "bo")

	resp, envelope := server.do(t, http.MethodPost, "/api/v1/messages", token, fiber.Map{"content": "first rains arrived"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var payload dto.MessageEnvelope
	decodeData(t, envelope, &payload)
	require.Equal(t, "first rains arrived", payload.Message.Content)
	require.Equal(t, "amina", payload.Message.Author.ID)
	require.NotEmpty(t, resp.Header.Get("X-Correlation-ID"))
}

func TestPostMessageEndpointErrors(t *testing.T) {
	server := newCommunityServer(t)
	token := server.member(t, "amina", "bo")
	loner := server.member(t, "loner")

	resp, _ := server.do(t, http.MethodPost, "/api/v1/messages", "", fiber.Map{"content": "hi"})
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, envelope := server.do(t, http.MethodPost, "/api/v1/messages", token, fiber.Map{"content": "   "})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.JSONEq(t, `"invalid_argument"`, string(envelope["code"]))

	resp, envelope = server.do(t, http.MethodPost, "/api/v1/messages", loner, fiber.Map{"content": "anyone?"})
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	require.JSONEq(t, `"forbidden"`, string(envelope["code"]))

	var count int64
	require.NoError(t, server.db.Model(&models.Message{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestListMessagesEndpoint(t *testing.T) {
	server := newCommunityServer(t)
	token := server.member(t, "amina", "bo")

	for _, content := range []string{"one", "two", "three"} {
		resp, _ := server.do(t, http.MethodPost, "/api/v1/messages", token, fiber.Map{"content": content})
		require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	}

	resp, envelope := server.do(t, http.MethodGet, "/api/v1/messages", token, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var feed dto.FeedResponse
	decodeData(t, envelope, &feed)
	require.Len(t, feed.Messages, 3)
	require.Equal(t, "one", feed.Messages[0].Content)
	require.Equal(t, "three", feed.Messages[2].Content)

	since := feed.Messages[0].CreatedAt.Format(time.RFC3339Nano)
	resp, envelope = server.do(t, http.MethodGet, "/api/v1/messages?since="+url.QueryEscape(since), token, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeData(t, envelope, &feed)
	require.Len(t, feed.Messages, 2)

	resp, _ = server.do(t, http.MethodGet, "/api/v1/messages?since=yesterday", token, nil)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = server.do(t, http.MethodGet, "/api/v1/messages?limit=100000", token, nil)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

type feedMetaBody struct {
	Count       int       `json:"count"`
	HasMore     bool      `json:"has_more"`
	NextSince   time.Time `json:"next_since"`
	NextSinceID string    `json:"next_since_id"`
}

func TestListMessagesEndpointPagesWithCursor(t *testing.T) {
	server := newCommunityServer(t)
	token := server.member(t, "amina", "bo")

	for i := 0; i < 5; i++ {
		resp, _ := server.do(t, http.MethodPost, "/api/v1/messages", token, fiber.Map{"content": fmt.Sprintf("msg %d", i)})
		require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	}

	var contents []string
	target := "/api/v1/messages?limit=2"
	for pages := 0; pages < 5; pages++ {
		resp, envelope := server.do(t, http.MethodGet, target, token, nil)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)

		var feed dto.FeedResponse
		decodeData(t, envelope, &feed)
		for _, message := range feed.Messages {
			contents = append(contents, message.Content)
		}

		var meta feedMetaBody
		require.NoError(t, json.Unmarshal(envelope["meta"], &meta))
		require.Equal(t, len(feed.Messages), meta.Count)
		if !meta.HasMore {
			break
		}
		target = "/api/v1/messages?limit=2&since=" + url.QueryEscape(meta.NextSince.Format(time.RFC3339Nano)) +
			"&since_id=" + url.QueryEscape(meta.NextSinceID)
	}
	require.Equal(t, []string{"msg 0", "msg 1", "msg 2", "msg 3", "msg 4"}, contents)

	resp, envelope := server.do(t, http.MethodGet, "/api/v1/messages", token, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var meta feedMetaBody
	require.NoError(t, json.Unmarshal(envelope["meta"], &meta))
	require.Equal(t, 5, meta.Count)
	require.False(t, meta.HasMore)
}

type failingStore struct {
	repository.MessageRepository
	getErr func(ctx context.Context) error
}

func (s *failingStore) Get(ctx context.Context, _ string) (models.Message, error) {
	return models.Message{}, s.getErr(ctx)
}

func TestReactionEndpointReportsStoreFailures(t *testing.T) {
	cases := []struct {
		name   string
		getErr func(ctx context.Context) error
		status int
		code   string
	}{
		{
			name: "unreachable store",
			getErr: func(context.Context) error {
				return fmt.Errorf("SECRET-host: %w", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED})
			},
			status: fiber.StatusServiceUnavailable,
			code:   "unavailable",
		},
		{
			name: "deadline exceeded",
			getErr: func(ctx context.Context) error {
				<-ctx.Done()
				return fmt.Errorf("pgconn: SECRET-host db-primary.internal:5432 canceling statement: %w", ctx.Err())
			},
			status: fiber.StatusGatewayTimeout,
			code:   "timeout",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := newCommunityServerWithStore(t, func(inner repository.MessageRepository) repository.MessageRepository {
				return &failingStore{MessageRepository: inner, getErr: tc.getErr}
			})
			token := server.member(t, "amina", "bo")

			resp, envelope := server.do(t, http.MethodPost, "/api/v1/messages/m1/reactions", token, fiber.Map{"kind": "like", "intent": "engage"})
			require.Equal(t, tc.status, resp.StatusCode)

			var code, message string
			require.NoError(t, json.Unmarshal(envelope["code"], &code))
			require.NoError(t, json.Unmarshal(envelope["message"], &message))
			require.Equal(t, tc.code, code)
			require.NotContains(t, message, "SECRET-host")
		})
	}
}

func TestReactionEndpoint(t *testing.T) {
	server := newCommunityServer(t)
	amina := server.member(t, "amina", "bo")
	bo := server.member(t, "bo")

	resp, envelope := server.do(t, http.MethodPost, "/api/v1/messages", amina, fiber.Map{"content": "tomato blight spotted"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var posted dto.MessageEnvelope
	decodeData(t, envelope, &posted)
	path := "/api/v1/messages/" + posted.Message.ID + "/reactions"

	resp, envelope = server.do(t, http.MethodPost, path, amina, fiber.Map{"kind": "like", "intent": "engage"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp, envelope = server.do(t, http.MethodPost, path, bo, fiber.Map{"kind": "like", "intent": "engage"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var toggled dto.ReactionToggleResponse
	decodeData(t, envelope, &toggled)
	require.Equal(t, 2, toggled.Reactions.Count)
	require.True(t, toggled.Reactions.ViewerHasReacted)

	resp, envelope = server.do(t, http.MethodPost, path, amina, fiber.Map{"kind": "like", "intent": "withdraw"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeData(t, envelope, &toggled)
	require.Equal(t, 1, toggled.Reactions.Count)
	require.Equal(t, []string{"bo"}, toggled.Reactions.Reactors)

	resp, _ = server.do(t, http.MethodPost, path, amina, fiber.Map{"kind": "angry", "intent": "engage"})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = server.do(t, http.MethodPost, "/api/v1/messages/missing/reactions", amina, fiber.Map{"kind": "like", "intent": "engage"})
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestReplyEndpoint(t *testing.T) {
	server := newCommunityServer(t)
	amina := server.member(t, "amina", "bo")
	bo := server.member(t, "bo")

	_, envelope := server.do(t, http.MethodPost, "/api/v1/messages", amina, fiber.Map{"content": "best time to plant cassava?"})
	var posted dto.MessageEnvelope
	decodeData(t, envelope, &posted)

	resp, envelope := server.do(t, http.MethodPost, "/api/v1/messages/"+posted.Message.ID+"/replies", bo, fiber.Map{"content": "start of the long rains"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var reply dto.ReplyEnvelope
	decodeData(t, envelope, &reply)
	require.Equal(t, "bo", reply.Reply.AuthorID)

	resp, _ = server.do(t, http.MethodPost, "/api/v1/messages/missing/replies", bo, fiber.Map{"content": "hello"})
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	server := newCommunityServer(t)

	resp, envelope := server.do(t, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "CropTalk Test", resp.Header.Get("X-Application"))

	var health handler.HealthResponse
	decodeData(t, envelope, &health)
	require.Equal(t, "ok", health.Status)
	require.Zero(t, health.FeedSubscribers)
}

func TestMetricsEndpoint(t *testing.T) {
	server := newCommunityServer(t)

	resp, err := server.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "go_goroutines")
}
