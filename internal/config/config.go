package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

const (
	StoreBackendMemory   = "memory"
	StoreBackendRedis    = "redis"
	StoreBackendPostgres = "postgres"
)

// DefaultCanvasScopes limits the developer key to the calls the card makes.
var DefaultCanvasScopes = []string{
	"url:GET|/api/v1/users/:user_id/todo",
	"url:GET|/api/v1/planner/items",
	"url:GET|/api/v1/courses",
	"url:PUT|/api/v1/planner_notes/:id",
}

type Config struct {
	Port                   int      `env:"PORT" envDefault:"8080"`
	PublicBaseURL          string   `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	CanvasBaseURL          string   `env:"CANVAS_BASE_URL,required"`
	CanvasClientID         string   `env:"CANVAS_CLIENT_ID,required"`
	CanvasScopes           []string `env:"CANVAS_SCOPES" envSeparator:" "`
	StoreBackend           string   `env:"STORE_BACKEND" envDefault:"memory"`
	RedisURL               string   `env:"REDIS_URL"`
	DatabaseURL            string   `env:"DATABASE_URL"`
	EncryptionKey          string   `env:"ENCRYPTION_KEY"`
	ProfileSigningKey      string   `env:"PROFILE_SIGNING_KEY,required"`
	RefreshIntervalSeconds int      `env:"REFRESH_INTERVAL_SECONDS" envDefault:"60"`
	MaxTasks               int      `env:"MAX_TASKS" envDefault:"20"`
	RateLimitPerMin        int      `env:"RATE_LIMIT_PER_MIN" envDefault:"60"`
	FrameAncestors         []string `env:"FRAME_ANCESTORS" envSeparator:" "`
	LogLevel               string   `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Scopes() []string {
	if len(c.CanvasScopes) == 0 {
		return DefaultCanvasScopes
	}
	return c.CanvasScopes
}

// ProfileURL is the dashboard URL of a profile's card. Canvas redirects back to it.
func (c *Config) ProfileURL(profileID string) string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/v1/profiles/" + url.PathEscape(profileID) + "/"
}

func (c *Config) Validate(isProduction bool) error {
	if _, err := url.ParseRequestURI(c.CanvasBaseURL); err != nil {
		return fmt.Errorf("CANVAS_BASE_URL must be an absolute URL: %w", err)
	}
	if _, err := url.ParseRequestURI(c.PublicBaseURL); err != nil {
		return fmt.Errorf("PUBLIC_BASE_URL must be an absolute URL: %w", err)
	}

	switch c.StoreBackend {
	case StoreBackendMemory:
		if isProduction {
			log.Warn().Msg("STORE_BACKEND=memory in production: sessions are lost on restart")
		}
	case StoreBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when STORE_BACKEND=redis")
		}
	case StoreBackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q (memory, redis, postgres)", c.StoreBackend)
	}

	if c.ProfileSigningKey == "" {
		return fmt.Errorf("PROFILE_SIGNING_KEY is required")
	}

	if c.MaxTasks <= 0 {
		return fmt.Errorf("MAX_TASKS must be positive")
	}
	if c.RefreshIntervalSeconds <= 0 {
		return fmt.Errorf("REFRESH_INTERVAL_SECONDS must be positive")
	}

	if isProduction {
		if c.EncryptionKey == "" {
			log.Warn().Msg("ENCRYPTION_KEY is empty in production: Canvas tokens will not be encrypted at rest")
		} else if len(c.EncryptionKey) < 32 {
			return fmt.Errorf("ENCRYPTION_KEY must be at least 32 characters in production (generate with: openssl rand -base64 32)")
		}
		if len(c.ProfileSigningKey) < 32 {
			return fmt.Errorf("PROFILE_SIGNING_KEY must be at least 32 characters in production")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if strings.HasPrefix(c.PublicBaseURL, "http://") {
			log.Warn().Msg("PUBLIC_BASE_URL is not https in production: Canvas may reject the redirect URI")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
