package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("FLY_APP_NAME", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "8081", cfg.GatewayPort)
	assert.Equal(t, 5000, cfg.FanoutThreshold)
	assert.Equal(t, 100, cfg.FanoutPageSize)
	assert.Equal(t, 100, cfg.FanoutBatchSize)
	assert.Equal(t, 5*time.Minute, cfg.JobTimeout)
	assert.Equal(t, 5*time.Minute, cfg.TimelineTTL)
	assert.Equal(t, 10*time.Minute, cfg.FollowStatsTTL)
	assert.Equal(t, 1.0, cfg.OTELSampleRatio)
	assert.False(t, cfg.RedisIPv6)
}

func TestLoadConfig_RedisRequired(t *testing.T) {
	t.Setenv("REDIS_URL", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_URL")
}

func TestLoadConfig_FlyImpliesIPv6(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("FLY_APP_NAME", "nebula-timeline")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.RedisIPv6)

	t.Setenv("REDIS_IPV6", "false")
	cfg, err = LoadConfig()
	require.NoError(t, err)
	assert.False(t, cfg.RedisIPv6)
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	t.Setenv("JOB_TIMEOUT", "five minutes")
	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JOB_TIMEOUT")

	t.Setenv("JOB_TIMEOUT", "")
	t.Setenv("FANOUT_THRESHOLD", "lots")
	_, err = LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FANOUT_THRESHOLD")

	t.Setenv("FANOUT_THRESHOLD", "")
	t.Setenv("FANOUT_BATCH_SIZE", "0")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestConfig_Requirements(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.RequireDatabase())
	assert.Error(t, cfg.RequireJWTSecret())

	cfg.DatabaseURL = "postgres://localhost/nebula"
	cfg.JWTSecret = "secret"
	assert.NoError(t, cfg.RequireDatabase())
	assert.NoError(t, cfg.RequireJWTSecret())
}

func TestLoadConfig_CORSOrigins(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOrigins)

	t.Setenv("CORS_ORIGINS", "https://nebula.app, https://www.nebula.app,")
	cfg, err = LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://nebula.app", "https://www.nebula.app"}, cfg.CORSOrigins)
}
