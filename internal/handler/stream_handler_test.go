package handler_test

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/croptalk-api/internal/dto"
	"github.com/noah-isme/croptalk-api/internal/service"
)

func TestStreamWebsocketDeliversNewMessages(t *testing.T) {
	server := newCommunityServer(t)
	amina := server.member(t, "amina", "bo")
	bo := server.member(t, "bo")

	baseURL, shutdown := startFiberServer(t, server.app)
	defer shutdown()

	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/api/v1/stream?access_token=" + bo
	dialer := websocket.Dialer{HandshakeTimeout: 3 * time.Second}
	conn, resp, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()

	require.Eventually(t, func() bool {
		return server.broadcaster.SubscriberCount(service.GlobalTopic) == 1
	}, 2*time.Second, 10*time.Millisecond)

	created, _ := server.do(t, http.MethodPost, "/api/v1/messages", amina, fiber.Map{"content": "market opens at dawn"})
	require.Equal(t, fiber.StatusCreated, created.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	var event dto.FeedEvent
	require.NoError(t, json.Unmarshal(frame, &event))
	require.Equal(t, dto.FeedEventNewMessage, event.Type)
	require.Equal(t, "market opens at dawn", event.Data.Content)
	require.Equal(t, "amina", event.Data.Author.ID)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return server.broadcaster.SubscriberCount(service.GlobalTopic) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamWebsocketRequiresToken(t *testing.T) {
	server := newCommunityServer(t)

	baseURL, shutdown := startFiberServer(t, server.app)
	defer shutdown()

	dialer := websocket.Dialer{HandshakeTimeout: 3 * time.Second}
	_, resp, err := dialer.Dial("ws"+strings.TrimPrefix(baseURL, "http")+"/api/v1/stream", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStreamEventsFallbackDeliversNewMessages(t *testing.T) {
	server := newCommunityServer(t)
	amina := server.member(t, "amina", "bo")
	bo := server.member(t, "bo")

	baseURL, shutdown := startFiberServer(t, server.app)
	defer shutdown()

	req, err := http.NewRequest(http.MethodGet, baseURL+"/api/v1/stream/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+bo)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool {
		return server.broadcaster.SubscriberCount(service.GlobalTopic) == 1
	}, 2*time.Second, 10*time.Millisecond)

	created, _ := server.do(t, http.MethodPost, "/api/v1/messages", amina, fiber.Map{"content": "seed swap on saturday"})
	require.Equal(t, fiber.StatusCreated, created.StatusCode)

	reader := bufio.NewReader(resp.Body)
	var eventName string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "event:") {
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if strings.HasPrefix(line, "data:") {
			var event dto.FeedEvent
			require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &event))
			require.Equal(t, dto.FeedEventNewMessage, eventName)
			require.Equal(t, "seed swap on saturday", event.Data.Content)
			return
		}
	}
}

func startFiberServer(t *testing.T, app *fiber.App) (string, func()) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		if err := app.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("fiber listener stopped: %v", err)
		}
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)

	shutdown := func() {
		_ = app.ShutdownWithTimeout(time.Second)
		_ = listener.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}

	return "http://" + listener.Addr().String(), shutdown
}
