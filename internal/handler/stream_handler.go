package handler

import (
	"bufio"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/croptalk-api/internal/middleware"
	"github.com/noah-isme/croptalk-api/internal/service"
)

const defaultKeepAlive = 30 * time.Second

// StreamHandler pushes new community messages to connected clients over
// WebSocket, with Server-Sent Events as a fallback transport.
type StreamHandler struct {
	broadcaster service.BroadcastService
	logger      zerolog.Logger
	keepAlive   time.Duration
}

// NewStreamHandler creates a stream handler instance.
func NewStreamHandler(broadcaster service.BroadcastService, keepAlive time.Duration, logger zerolog.Logger) *StreamHandler {
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	return &StreamHandler{
		broadcaster: broadcaster,
		logger:      logger.With().Str("component", "stream_handler").Logger(),
		keepAlive:   keepAlive,
	}
}

// Register binds the stream routes. The group must already authenticate the caller.
func (h *StreamHandler) Register(router fiber.Router) {
	router.Get("/", requireUpgrade, websocket.New(h.serveWebsocket))
	router.Get("/events", h.events)
}

func requireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("correlation_id", middleware.GetCorrelationID(c))
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (h *StreamHandler) serveWebsocket(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(string)
	if userID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication required"))
		_ = conn.Close()
		return
	}

	correlation, _ := conn.Locals("correlation_id").(string)
	log := h.logger.With().Str("user_id", userID).Str("correlation_id", correlation).Logger()

	events, cancel := h.broadcaster.Subscribe(service.GlobalTopic)
	defer cancel()

	log.Info().Msg("feed websocket connected")
	defer log.Info().Msg("feed websocket disconnected")

	// Inbound frames carry nothing; reading keeps control frames flowing and
	// notices when the client goes away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber fell behind, resync from the feed"))
				_ = conn.Close()
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				log.Warn().Err(err).Msg("failed to encode feed event")
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Debug().Err(err).Msg("feed websocket write failed")
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				log.Debug().Err(err).Msg("feed websocket ping failed")
				_ = conn.Close()
				return
			}
		case <-closed:
			_ = conn.Close()
			return
		}
	}
}

func (h *StreamHandler) events(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == "" {
		return respondError(c, requestLogger(h.logger, c), service.ErrUnauthorized)
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	events, cancel := h.broadcaster.Subscribe(service.GlobalTopic)
	log := requestLogger(h.logger, c).With().Str("user_id", userID).Logger()
	keepAlive := h.keepAlive

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		if err := writeKeepAlive(w); err != nil {
			return
		}

		for {
			select {
			case event, ok := <-events:
				if !ok {
					_ = writeSSE(w, "resync", fiber.Map{"reason": "subscriber fell behind"})
					return
				}
				if err := writeSSE(w, event.Type, event); err != nil {
					log.Debug().Err(err).Msg("failed to write feed event")
					return
				}
			case <-ticker.C:
				if err := writeKeepAlive(w); err != nil {
					log.Debug().Err(err).Msg("failed to write feed keepalive")
					return
				}
			}
		}
	})

	return nil
}

func writeSSE(w *bufio.Writer, name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	return w.Flush()
}

func writeKeepAlive(w *bufio.Writer) error {
	if _, err := fmt.Fprintf(w, ": keep-alive %s\n\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return w.Flush()
}
