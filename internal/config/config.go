package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the AdScope server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Engine    EngineConfig
	Poll      PollConfig
	Scheduler SchedulerConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
	// SessionTTL bounds how long an idle workspace's history survives.
	SessionTTL time.Duration
}

// EngineConfig points at the async scrape/analysis engine.
type EngineConfig struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
}

// PollConfig tunes task watches. Zero values fall back to the poll
// package defaults.
type PollConfig struct {
	Interval             time.Duration
	MaxWait              time.Duration
	MaxAttempts          int
	MaxConsecutiveErrors int
}

// SchedulerConfig controls the recurring scrape refresh for tracked
// competitors.
type SchedulerConfig struct {
	Enabled  bool
	CronSpec string
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("ADSCOPE_PORT", 8080),
			Env:  envString("ADSCOPE_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:        os.Getenv("REDIS_URL"),
			SessionTTL: envDuration("SESSION_TTL", 7*24*time.Hour),
		},
		Engine: EngineConfig{
			BaseURL:   os.Getenv("ENGINE_BASE_URL"),
			AuthToken: os.Getenv("ENGINE_AUTH_TOKEN"),
			Timeout:   envDuration("ENGINE_TIMEOUT", 30*time.Second),
		},
		Poll: PollConfig{
			Interval:             envDuration("POLL_INTERVAL", 2*time.Second),
			MaxWait:              envDuration("POLL_MAX_WAIT", 5*time.Minute),
			MaxAttempts:          envInt("POLL_MAX_ATTEMPTS", 120),
			MaxConsecutiveErrors: envInt("POLL_MAX_CONSECUTIVE_ERRORS", 3),
		},
		Scheduler: SchedulerConfig{
			Enabled:  envBool("SCRAPE_REFRESH_ENABLED", true),
			CronSpec: envString("SCRAPE_REFRESH_CRON", "0 */6 * * *"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 120),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Engine.BaseURL == "" {
		return fmt.Errorf("ENGINE_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Engine.BaseURL, "http://") && !strings.HasPrefix(c.Engine.BaseURL, "https://") {
		return fmt.Errorf("ENGINE_BASE_URL must start with http:// or https://, got %q", c.Engine.BaseURL)
	}

	if c.Poll.Interval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.Poll.Interval)
	}
	if c.Poll.MaxWait < c.Poll.Interval {
		return fmt.Errorf("POLL_MAX_WAIT (%s) must not be shorter than POLL_INTERVAL (%s)",
			c.Poll.MaxWait, c.Poll.Interval)
	}

	if c.Scheduler.Enabled && c.Scheduler.CronSpec == "" {
		return fmt.Errorf("SCRAPE_REFRESH_CRON is required when SCRAPE_REFRESH_ENABLED is true")
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive, got %d", c.RateLimit.RequestsPerMinute)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
