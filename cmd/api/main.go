package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/croptalk-api/internal/config"
	"github.com/noah-isme/croptalk-api/internal/database"
	"github.com/noah-isme/croptalk-api/internal/handler"
	"github.com/noah-isme/croptalk-api/internal/middleware"
	"github.com/noah-isme/croptalk-api/internal/repository"
	"github.com/noah-isme/croptalk-api/internal/router"
	"github.com/noah-isme/croptalk-api/internal/service"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.AppEnv == "production" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	logger = logger.With().Str("service", cfg.AppName).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	var relays []service.FeedRelay

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		relays = append(relays, service.NewRedisFeedRelay(redisClient, cfg.RealtimeChannelBase))
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer natsConn.Drain()
		relays = append(relays, service.NewNATSFeedRelay(natsConn, cfg.RealtimeChannelBase))
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	messageRepo := repository.NewMessageRepository(db)
	userRepo := repository.NewUserRepository(db)

	graph := service.NewSocialGraph(userRepo, redisClient, cfg.IdentityCacheTTL, logger)
	broadcaster := service.NewBroadcastService(service.BroadcastOptions{
		Buffer: cfg.BroadcastBuffer,
		Relays: relays,
	}, logger)
	broadcaster.Start(ctx)

	reactionService := service.NewReactionService(messageRepo, service.ReactionServiceConfig{
		MaxAttempts: cfg.ReactionMaxAttempts,
		Timeout:     cfg.ReactionTimeout,
	}, logger)
	feedService := service.NewFeedService(messageRepo, graph, validate, cfg.FeedTimeout, logger)
	messageService := service.NewMessageService(messageRepo, graph, broadcaster, validate, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigin: cfg.CORSAllowOrigins})
	router.Register(app, cfg, router.Dependencies{
		MessageHandler: handler.NewMessageHandler(messageService, feedService, reactionService, logger),
		StreamHandler:  handler.NewStreamHandler(broadcaster, cfg.StreamKeepAliveInterval, logger),
		Broadcaster:    broadcaster,
		JWTMiddleware:  middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(ctx, app, logger)
}

func waitForShutdown(ctx context.Context, app *fiber.App, logger zerolog.Logger) {
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
