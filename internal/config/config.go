// config.go

// Environment variable loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all env configuration vars for growbot.
type Config struct {
	// Twitter/X OAuth2 app credentials.
	TwitterClientID     string
	TwitterClientSecret string
	TwitterRedirectURI  string

	// Anthropic completion API.
	AnthropicAPIKey string
	AnthropicModel  string // defaults to claude-3-sonnet-20240229

	RedisURL string
	Port     string
	LogLevel slog.Level

	// BotUserID keys the stored token pair. A single-account bot never
	// changes this; it exists so a second account doesn't collide.
	BotUserID string
}

// LoadConfig reads a .env file (if present) plus environment variables and
// returns a validated Config. Returns an error if required variables
// (TWITTER_CLIENT_ID, TWITTER_CLIENT_SECRET, TWITTER_REDIRECT_URI,
// ANTHROPIC_API_KEY, REDIS_URL) are missing.
func LoadConfig() (*Config, error) {
	// Missing .env is fine -- real env vars are the production path.
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.TwitterClientID = os.Getenv("TWITTER_CLIENT_ID")
	if cfg.TwitterClientID == "" {
		return nil, fmt.Errorf("TWITTER_CLIENT_ID is required")
	}

	cfg.TwitterClientSecret = os.Getenv("TWITTER_CLIENT_SECRET")
	if cfg.TwitterClientSecret == "" {
		return nil, fmt.Errorf("TWITTER_CLIENT_SECRET is required")
	}

	cfg.TwitterRedirectURI = os.Getenv("TWITTER_REDIRECT_URI")
	if cfg.TwitterRedirectURI == "" {
		return nil, fmt.Errorf("TWITTER_REDIRECT_URI is required")
	}

	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	if cfg.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	cfg.AnthropicModel = os.Getenv("ANTHROPIC_MODEL")
	if cfg.AnthropicModel == "" {
		cfg.AnthropicModel = "claude-3-sonnet-20240229"
	}

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "8000"
	}

	cfg.BotUserID = os.Getenv("BOT_USER_ID")
	if cfg.BotUserID == "" {
		cfg.BotUserID = "bot_user"
	}

	// Parse log level, default to info
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	return cfg, nil
}
