package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName                 string
	AppEnv                  string
	AppPort                 string
	DatabaseDriver          string
	DatabaseURL             string
	RedisURL                string
	NATSURL                 string
	RealtimeChannelBase     string
	JWTSecret               string
	ReactionMaxAttempts     int
	ReactionTimeout         time.Duration
	FeedTimeout             time.Duration
	IdentityCacheTTL        time.Duration
	BroadcastBuffer         int
	ReactionRateLimitPerMin int
	PostRateLimitPerMin     int
	StreamKeepAliveInterval time.Duration
	CORSAllowOrigins        string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CROPTALK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "CropTalk API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("realtime.channel_base", "croptalk")
	v.SetDefault("reaction.max_attempts", 5)
	v.SetDefault("reaction.timeout", "3s")
	v.SetDefault("feed.timeout", "5s")
	v.SetDefault("feed.identity_cache_ttl", "5m")
	v.SetDefault("broadcast.buffer", 32)
	v.SetDefault("rate_limit.reactions_per_minute", 120)
	v.SetDefault("rate_limit.posts_per_minute", 30)
	v.SetDefault("http.cors_allow_origins", "*")
	v.SetDefault("stream.keepalive", "30s")

	reactionTimeout, err := parseDuration(v, "reaction.timeout")
	if err != nil {
		return Config{}, err
	}
	feedTimeout, err := parseDuration(v, "feed.timeout")
	if err != nil {
		return Config{}, err
	}
	identityTTL, err := parseDuration(v, "feed.identity_cache_ttl")
	if err != nil {
		return Config{}, err
	}
	keepAlive, err := parseDuration(v, "stream.keepalive")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:                 v.GetString("app.name"),
		AppEnv:                  v.GetString("app.env"),
		AppPort:                 v.GetString("app.port"),
		DatabaseDriver:          strings.ToLower(v.GetString("database.driver")),
		DatabaseURL:             v.GetString("database.url"),
		RedisURL:                v.GetString("redis.url"),
		NATSURL:                 v.GetString("nats.url"),
		RealtimeChannelBase:     v.GetString("realtime.channel_base"),
		JWTSecret:               v.GetString("jwt.secret"),
		ReactionMaxAttempts:     v.GetInt("reaction.max_attempts"),
		ReactionTimeout:         reactionTimeout,
		FeedTimeout:             feedTimeout,
		IdentityCacheTTL:        identityTTL,
		BroadcastBuffer:         v.GetInt("broadcast.buffer"),
		ReactionRateLimitPerMin: v.GetInt("rate_limit.reactions_per_minute"),
		PostRateLimitPerMin:     v.GetInt("rate_limit.posts_per_minute"),
		StreamKeepAliveInterval: keepAlive,
		CORSAllowOrigins:        v.GetString("http.cors_allow_origins"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return Config{}, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}

	if cfg.ReactionMaxAttempts <= 0 {
		cfg.ReactionMaxAttempts = 5
	}

	if cfg.BroadcastBuffer <= 0 {
		cfg.BroadcastBuffer = 32
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return parsed, nil
}
