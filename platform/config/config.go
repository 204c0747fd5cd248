// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
}

// CacheConfig provides settings for the result cache.
type CacheConfig interface {
	GetRedisURL() string
	GetResultCacheTTL() time.Duration
}

// SchedulerConfig provides settings for the asynq scheduler/worker.
type SchedulerConfig interface {
	GetRedisURL() string
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// RealtimeConfig provides settings for the realtime transport.
type RealtimeConfig interface {
	GetRealtimeHeartbeatInterval() time.Duration
	GetRealtimeReconnectBase() time.Duration
	GetRealtimeReconnectCeiling() time.Duration
	GetRealtimeReconnectMaxAttempts() int
}

// FunnelConfig provides settings for conversion event persistence retries.
type FunnelConfig interface {
	GetEventWriteMaxAttempts() int
	GetEventWriteBaseBackoff() time.Duration
}

// ScoringConfig provides settings for lead score profiles.
type ScoringConfig interface {
	GetScoreProfileTTL() time.Duration
}

// ExportsConfig provides settings for analytics export jobs.
type ExportsConfig interface {
	GetExportDir() string
}

// Config holds all application configuration loaded from the environment.
type Config struct {
	Env      string
	HTTPAddr string

	CORSAllowAll bool
	CORSOrigins  []string

	DatabaseURL string

	RedisURL         string
	ResultCacheTTL   time.Duration
	AsynqQueueName   string
	AsynqConcurrency int

	HeartbeatInterval    time.Duration
	ReconnectBase        time.Duration
	ReconnectCeiling     time.Duration
	ReconnectMaxAttempts int

	EventWriteMaxAttempts int
	EventWriteBaseBackoff time.Duration

	ScoreProfileTTL time.Duration

	ExportDir string
}

// Load reads configuration from the environment, with .env support for
// local development. Missing required values return an error.
func Load() (*Config, error) {
	// Ignore error: .env is optional, real env vars take precedence.
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("APP_ENV", "development"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		CORSAllowAll: getEnvBool("CORS_ALLOW_ALL", false),
		CORSOrigins:  splitList(getEnv("CORS_ORIGINS", "")),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
		ResultCacheTTL:   getEnvDuration("RESULT_CACHE_TTL", 30*time.Minute),
		AsynqQueueName:   getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency: getEnvInt("ASYNQ_CONCURRENCY", 10),

		HeartbeatInterval:    getEnvDuration("REALTIME_HEARTBEAT_INTERVAL", 30*time.Second),
		ReconnectBase:        getEnvDuration("REALTIME_RECONNECT_BASE", 1*time.Second),
		ReconnectCeiling:     getEnvDuration("REALTIME_RECONNECT_CEILING", 30*time.Second),
		ReconnectMaxAttempts: getEnvInt("REALTIME_RECONNECT_MAX_ATTEMPTS", 10),

		EventWriteMaxAttempts: getEnvInt("EVENT_WRITE_MAX_ATTEMPTS", 5),
		EventWriteBaseBackoff: getEnvDuration("EVENT_WRITE_BASE_BACKOFF", 200*time.Millisecond),

		ScoreProfileTTL: getEnvDuration("SCORE_PROFILE_TTL", 24*time.Hour),

		ExportDir: getEnv("EXPORT_DIR", "./exports"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

// =============================================================================
// Interface implementations
// =============================================================================

func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }

func (c *Config) GetRedisURL() string              { return c.RedisURL }
func (c *Config) GetResultCacheTTL() time.Duration { return c.ResultCacheTTL }
func (c *Config) GetAsynqQueueName() string        { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int         { return c.AsynqConcurrency }

func (c *Config) GetRealtimeHeartbeatInterval() time.Duration { return c.HeartbeatInterval }
func (c *Config) GetRealtimeReconnectBase() time.Duration     { return c.ReconnectBase }
func (c *Config) GetRealtimeReconnectCeiling() time.Duration  { return c.ReconnectCeiling }
func (c *Config) GetRealtimeReconnectMaxAttempts() int        { return c.ReconnectMaxAttempts }

func (c *Config) GetEventWriteMaxAttempts() int           { return c.EventWriteMaxAttempts }
func (c *Config) GetEventWriteBaseBackoff() time.Duration { return c.EventWriteBaseBackoff }

func (c *Config) GetScoreProfileTTL() time.Duration { return c.ScoreProfileTTL }

func (c *Config) GetExportDir() string { return c.ExportDir }

// =============================================================================
// Env helpers
// =============================================================================

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
