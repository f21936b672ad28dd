package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServerPort  string
	GatewayPort string
	DatabaseURL string
	RedisURL    string
	RedisIPv6   bool
	JWTSecret   string

	FanoutThreshold int
	FanoutPageSize  int
	FanoutBatchSize int
	FanoutWorkers   int
	JobTimeout      time.Duration
	JobMaxAttempts  int
	TimelineTTL     time.Duration
	FollowStatsTTL  time.Duration

	RateLimitTimeline int
	RateLimitConnect  int
	TypingMinInterval time.Duration
	CORSOrigins       []string

	LogLevel string
	LogJSON  bool

	OTELEndpoint    string
	OTELServiceName string
	OTELSampleRatio float64
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		GatewayPort:     getEnv("GATEWAY_PORT", "8081"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		OTELEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTELServiceName: os.Getenv("OTEL_SERVICE_NAME"),
	}

	var err error

	// Fly.io private networking is IPv6 only
	if cfg.RedisIPv6, err = getBool("REDIS_IPV6", os.Getenv("FLY_APP_NAME") != ""); err != nil {
		return nil, err
	}
	if cfg.LogJSON, err = getBool("LOG_JSON", false); err != nil {
		return nil, err
	}

	if cfg.FanoutThreshold, err = getInt("FANOUT_THRESHOLD", 5000); err != nil {
		return nil, err
	}
	if cfg.FanoutPageSize, err = getInt("FANOUT_PAGE_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.FanoutBatchSize, err = getInt("FANOUT_BATCH_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.FanoutWorkers, err = getInt("FANOUT_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.JobMaxAttempts, err = getInt("JOB_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.RateLimitTimeline, err = getInt("RATE_LIMIT_TIMELINE", 120); err != nil {
		return nil, err
	}
	if cfg.RateLimitConnect, err = getInt("RATE_LIMIT_CONNECT", 30); err != nil {
		return nil, err
	}

	if cfg.JobTimeout, err = getDuration("JOB_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.TimelineTTL, err = getDuration("TIMELINE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.FollowStatsTTL, err = getDuration("FOLLOW_STATS_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.TypingMinInterval, err = getDuration("TYPING_MIN_INTERVAL", 2*time.Second); err != nil {
		return nil, err
	}

	cfg.CORSOrigins = splitList(getEnv("CORS_ORIGINS", "http://localhost:3000"))

	cfg.OTELSampleRatio = 1.0
	if s := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); s != "" {
		ratio, err := strconv.ParseFloat(s, 64)
		if err != nil || ratio < 0 || ratio > 1 {
			return nil, errors.New("invalid OTEL_TRACES_SAMPLER_ARG, expected a ratio between 0 and 1")
		}
		cfg.OTELSampleRatio = ratio
	}

	// Validate required fields
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.FanoutPageSize <= 0 || cfg.FanoutBatchSize <= 0 || cfg.FanoutWorkers <= 0 || cfg.JobMaxAttempts <= 0 {
		return nil, errors.New("fan-out page size, batch size, workers and job attempts must be positive")
	}

	return cfg, nil
}

// RequireDatabase is checked by commands that read authoritative storage.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	return nil
}

// RequireJWTSecret is checked by commands that authenticate callers.
func (c *Config) RequireJWTSecret() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	return nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format: %w", key, err)
	}
	return n, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s format: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format: %w", key, err)
	}
	return d, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
